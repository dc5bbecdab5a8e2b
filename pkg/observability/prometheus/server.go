package prometheus

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/webpool/pkg/core"
)

// MetricsServer exposes a gatherer over fasthttp.
type MetricsServer struct {
	addr    string
	path    string
	logger  core.Logger
	server  *fasthttp.Server
	metrics fasthttp.RequestHandler

	mu   sync.Mutex
	ln   net.Listener
	done chan struct{}
}

// NewMetricsServer serves gatherer at path on addr.
func NewMetricsServer(addr, path string, gatherer prometheus.Gatherer, logger core.Logger) *MetricsServer {
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	s := &MetricsServer{
		addr:   addr,
		path:   path,
		logger: logger,
		metrics: fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorLog: promLogger{logger}}),
		),
	}
	s.server = &fasthttp.Server{
		Handler: s.Handler(),
		Name:    "webpool-metrics",
	}
	return s
}

// Handler returns the request handler, for use with a custom listener.
func (s *MetricsServer) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != s.path {
			ctx.Error("not found", fasthttp.StatusNotFound)
			return
		}
		if !ctx.IsGet() && !ctx.IsHead() {
			ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
			return
		}
		s.metrics(ctx)
	}
}

// Start binds addr and serves in the background.
func (s *MetricsServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return errors.New("metrics server already started")
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil {
			s.logger.Errorf("metrics server stopped: %v", err)
		}
	}()
	s.logger.Infof("serving metrics on http://%s%s", ln.Addr(), s.path)
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the server down and waits for Serve to return.
func (s *MetricsServer) Stop() error {
	s.mu.Lock()
	ln, done := s.ln, s.done
	s.ln = nil
	s.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := s.server.Shutdown()
	<-done
	return err
}

// promLogger routes promhttp errors to the server logger.
type promLogger struct {
	logger core.Logger
}

func (l promLogger) Println(v ...interface{}) {
	l.logger.Error(fmt.Sprint(v...))
}
