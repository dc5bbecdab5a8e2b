package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/failfast"
)

// AcceptorConfig configures an Acceptor.
type AcceptorConfig struct {
	Addr string

	// MaxConns bounds connections that are queued or being handled.
	// 0 means unlimited.
	MaxConns int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultAcceptorConfig returns a sensible default configuration.
func DefaultAcceptorConfig(addr string) AcceptorConfig {
	if addr == "" {
		addr = "127.0.0.1:7878"
	}
	return AcceptorConfig{
		Addr:         addr,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
}

// Acceptor binds a listening socket and turns every accepted connection into
// one job on an Executor. The accept loop itself never runs a handler.
type Acceptor struct {
	config   AcceptorConfig
	exec     Executor
	handler  ConnHandler
	logger   core.Logger
	observer Observer
	baseCtx  context.Context

	mu        sync.Mutex
	listener  net.Listener
	ready     chan struct{}
	readyOnce sync.Once
	stopping  atomic.Bool

	activeConns         atomic.Int64
	totalAccepted       atomic.Int64
	rejectedConnections atomic.Int64
	handledConnections  atomic.Int64
	errorConnections    atomic.Int64
}

// AcceptorOption configures an Acceptor.
type AcceptorOption func(*Acceptor)

// WithLogger sets the acceptor logger.
func WithLogger(logger core.Logger) AcceptorOption {
	return func(a *Acceptor) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver registers a connection observer.
func WithObserver(observer Observer) AcceptorOption {
	return func(a *Acceptor) {
		if observer != nil {
			a.observer = observer
		}
	}
}

// WithBaseContext sets the parent context of every ConnContext.
func WithBaseContext(ctx context.Context) AcceptorOption {
	return func(a *Acceptor) {
		if ctx != nil {
			a.baseCtx = ctx
		}
	}
}

// NewAcceptor creates an acceptor. It panics on a nil executor or handler.
func NewAcceptor(config AcceptorConfig, exec Executor, handler ConnHandler, opts ...AcceptorOption) *Acceptor {
	failfast.NotNil(exec, "executor")
	failfast.NotNil(handler, "handler")

	if config.Addr == "" {
		config.Addr = DefaultAcceptorConfig("").Addr
	}
	if config.MaxConns < 0 {
		config.MaxConns = 0
	}

	a := &Acceptor{
		config:   config,
		exec:     exec,
		handler:  handler,
		logger:   core.NewDefaultLogger(),
		observer: nopObserver{},
		baseCtx:  context.Background(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Listen binds the configured address. Serve calls it when needed; calling
// it first lets callers learn the address before the loop starts.
func (a *Acceptor) Listen() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener != nil {
		return nil
	}
	if a.stopping.Load() {
		return net.ErrClosed
	}
	ln, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.config.Addr, err)
	}
	a.listener = ln
	a.readyOnce.Do(func() { close(a.ready) })
	return nil
}

// Ready is closed once the acceptor is listening.
func (a *Acceptor) Ready() <-chan struct{} {
	return a.ready
}

// ListeningAddr returns the bound address (useful with ":0"), or "".
func (a *Acceptor) ListeningAddr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Serve runs the accept loop until Stop is called. It returns nil after a
// clean stop and the accept error otherwise.
func (a *Acceptor) Serve() error {
	if err := a.Listen(); err != nil {
		if a.stopping.Load() {
			return nil
		}
		return err
	}

	a.mu.Lock()
	ln := a.listener
	a.mu.Unlock()
	if ln == nil {
		// Stop ran between Listen and here.
		return nil
	}

	a.logger.Infof("accepting connections on %s", ln.Addr())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if a.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				a.logger.Warnf("accept timeout: %v", err)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		a.dispatch(conn)
	}
}

// Stop closes the listener so Serve returns. Connections already handed to
// the executor are unaffected.
func (a *Acceptor) Stop() error {
	a.stopping.Store(true)

	a.mu.Lock()
	ln := a.listener
	a.listener = nil
	a.mu.Unlock()

	if ln == nil {
		return nil
	}
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Metrics returns current acceptor counters.
func (a *Acceptor) Metrics() AcceptorMetrics {
	return AcceptorMetrics{
		TotalAccepted:       a.totalAccepted.Load(),
		RejectedConnections: a.rejectedConnections.Load(),
		HandledConnections:  a.handledConnections.Load(),
		ErrorConnections:    a.errorConnections.Load(),
		ActiveConnections:   a.activeConns.Load(),
		MaxConns:            a.config.MaxConns,
	}
}

func (a *Acceptor) dispatch(conn net.Conn) {
	a.totalAccepted.Add(1)
	a.observer.ConnAccepted()

	if !a.tryAcquireConnSlot() {
		a.reject(conn, "connection limit reached")
		return
	}

	id := core.GenerateConnID()
	accepted := time.Now()
	err := a.exec.Execute(func() {
		a.handle(id, conn, accepted)
	})
	if err != nil {
		a.releaseConnSlot()
		a.reject(conn, err.Error())
	}
}

func (a *Acceptor) reject(conn net.Conn, reason string) {
	a.rejectedConnections.Add(1)
	a.observer.ConnRejected()
	a.logger.Warnf("rejecting connection from %s: %s", conn.RemoteAddr(), reason)
	_ = conn.Close()
}

// handle runs on a pool worker.
func (a *Acceptor) handle(id string, conn net.Conn, accepted time.Time) {
	defer a.releaseConnSlot()
	defer conn.Close()

	now := time.Now()
	if a.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(now.Add(a.config.ReadTimeout))
	}
	if a.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(now.Add(a.config.WriteTimeout))
	}

	cctx := &ConnContext{
		Context:    core.WithConnID(a.baseCtx, id),
		ID:         id,
		Conn:       conn,
		LocalAddr:  conn.LocalAddr(),
		RemoteAddr: conn.RemoteAddr(),
		AcceptedAt: accepted,
	}

	// Isolate handler panics here as well so the connection is always
	// closed and counted, independent of the executor's own recovery.
	var herr error
	if perr := failfast.Capture(func() { herr = a.handler(cctx) }); perr != nil {
		herr = perr
	}

	a.handledConnections.Add(1)
	if herr != nil {
		a.errorConnections.Add(1)
		a.logger.With("conn_id", id).Errorf("connection handler failed: %v", herr)
	}
	a.observer.ConnFinished(time.Since(accepted), herr)
}

func (a *Acceptor) tryAcquireConnSlot() bool {
	if a.config.MaxConns <= 0 {
		a.activeConns.Add(1)
		return true
	}
	for {
		cur := a.activeConns.Load()
		if int(cur) >= a.config.MaxConns {
			return false
		}
		if a.activeConns.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (a *Acceptor) releaseConnSlot() {
	a.activeConns.Add(-1)
}
