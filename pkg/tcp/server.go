package tcp

import (
	"context"
	"net"
	"time"

	"github.com/fluxorio/webpool/pkg/core/concurrency"
)

// Executor runs connection jobs off the accept loop.
// *concurrency.ThreadPool satisfies it.
type Executor interface {
	Execute(job concurrency.Job) error
}

// ConnHandler handles a single TCP connection on a pool worker.
// The acceptor closes the connection after the handler returns.
type ConnHandler func(ctx *ConnContext) error

// ConnContext carries one accepted connection to its handler.
type ConnContext struct {
	// Context carries the connection ID (see core.ConnID).
	Context context.Context
	ID      string
	Conn    net.Conn

	LocalAddr  net.Addr
	RemoteAddr net.Addr
	AcceptedAt time.Time
}

// Observer receives connection lifecycle events.
type Observer interface {
	ConnAccepted()
	ConnRejected()
	ConnFinished(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ConnAccepted() {}
func (nopObserver) ConnRejected() {}
func (nopObserver) ConnFinished(time.Duration, error) {}

// AcceptorMetrics is a snapshot of acceptor counters.
type AcceptorMetrics struct {
	TotalAccepted       int64 // Connections returned by Accept
	RejectedConnections int64 // Closed without being handled (limit or pool closed)
	HandledConnections  int64 // Connections whose handler ran
	ErrorConnections    int64 // Handlers that returned an error or panicked
	ActiveConnections   int64 // Queued plus in-flight
	MaxConns            int   // 0 means unlimited
}
