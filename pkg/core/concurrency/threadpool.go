package concurrency

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/failfast"
)

// ThreadPool runs jobs on a fixed set of long-lived workers.
//
// Jobs submitted with Execute go onto one shared FIFO queue and are picked up
// by whichever idle worker receives them first. Shutdown sends one Terminate
// per worker behind any queued jobs and then joins every worker, so jobs
// accepted before Shutdown still run.
type ThreadPool struct {
	name     string
	workers  []*Worker
	queue    *JobQueue
	logger   core.Logger
	observer Observer

	// mu serialises Execute against Shutdown so no job can land behind the
	// Terminate messages.
	mu     sync.RWMutex
	closed bool

	counters poolCounters
}

type poolCounters struct {
	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	busy      atomic.Int64
}

// PoolStats is a point-in-time snapshot of pool activity.
type PoolStats struct {
	Workers     int   // Configured pool size
	LiveWorkers int   // Workers that have not reached WorkerStopped
	BusyWorkers int64 // Workers currently running a job
	Queued      int   // Messages waiting on the queue
	Submitted   int64 // Jobs accepted by Execute
	Completed   int64 // Jobs that returned normally
	Failed      int64 // Jobs that panicked
}

// Option configures a ThreadPool.
type Option func(*ThreadPool)

// WithLogger sets the pool logger. nil is ignored.
func WithLogger(logger core.Logger) Option {
	return func(p *ThreadPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithObserver registers a job lifecycle observer. nil is ignored.
func WithObserver(observer Observer) Option {
	return func(p *ThreadPool) {
		if observer != nil {
			p.observer = observer
		}
	}
}

// WithName names the pool in log output.
func WithName(name string) Option {
	return func(p *ThreadPool) {
		if name != "" {
			p.name = name
		}
	}
}

// NewThreadPool starts a pool with size workers.
// It returns ErrInvalidPoolSize, and starts nothing, when size < 1.
func NewThreadPool(size int, opts ...Option) (*ThreadPool, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPoolSize, size)
	}

	p := &ThreadPool{
		name:     "pool",
		queue:    NewJobQueue(),
		logger:   core.NewDefaultLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("pool", p.name)

	p.workers = make([]*Worker, 0, size)
	for id := 0; id < size; id++ {
		p.workers = append(p.workers, newWorker(id, p.queue, p.logger, p.observer, &p.counters))
	}
	p.logger.Debugf("started %d workers", size)

	return p, nil
}

// Execute queues job and returns without waiting for it to run.
// It returns ErrPoolClosed once Shutdown has begun and ErrNilJob for nil.
func (p *ThreadPool) Execute(job Job) error {
	if job == nil {
		return ErrNilJob
	}
	return p.submit(NewJobMessage(job))
}

// ExecuteWithWorker is Execute for jobs that want to know which worker runs them.
func (p *ThreadPool) ExecuteWithWorker(job WorkerJob) error {
	if job == nil {
		return ErrNilJob
	}
	return p.submit(NewWorkerJobMessage(job))
}

func (p *ThreadPool) submit(msg Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	// Count before sending so a fast worker never reports more completions
	// than submissions.
	p.counters.submitted.Add(1)
	if err := p.queue.Send(msg); err != nil {
		p.counters.submitted.Add(-1)
		return fmt.Errorf("%w: %w", ErrPoolClosed, err)
	}
	p.observer.JobQueued()
	return nil
}

// MustExecute is Execute for callers that treat submission failure as a bug.
func (p *ThreadPool) MustExecute(job Job) {
	failfast.Err(p.Execute(job))
}

// Shutdown stops accepting jobs, tells every worker to terminate and waits,
// without a timeout, for all of them to finish their current job and exit.
// Calling Shutdown a second time panics.
func (p *ThreadPool) Shutdown() {
	p.mu.Lock()
	already := p.closed
	p.closed = true
	p.mu.Unlock()

	failfast.If(!already, "thread pool %q already shut down", p.name)

	p.logger.Infof("sending terminate message to %d workers", len(p.workers))
	for range p.workers {
		if err := p.queue.Send(TerminateMessage()); err != nil {
			// Every worker is already gone; nothing left to signal.
			p.logger.Debugf("terminate not delivered: %v", err)
			break
		}
	}
	p.queue.Close()

	for _, w := range p.workers {
		p.logger.Infof("shutting down worker %d", w.id)
		w.Join()
	}
}

// Size returns the number of workers the pool was built with.
func (p *ThreadPool) Size() int {
	return len(p.workers)
}

// Workers returns the pool's workers in index order.
func (p *ThreadPool) Workers() []*Worker {
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// LiveWorkers counts workers that have not stopped.
func (p *ThreadPool) LiveWorkers() int {
	n := 0
	for _, w := range p.workers {
		if w.State() != WorkerStopped {
			n++
		}
	}
	return n
}

// IsClosed reports whether Shutdown has been called.
func (p *ThreadPool) IsClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Stats returns a snapshot of pool counters.
func (p *ThreadPool) Stats() PoolStats {
	return PoolStats{
		Workers:     len(p.workers),
		LiveWorkers: p.LiveWorkers(),
		BusyWorkers: p.counters.busy.Load(),
		Queued:      p.queue.Len(),
		Submitted:   p.counters.submitted.Load(),
		Completed:   p.counters.completed.Load(),
		Failed:      p.counters.failed.Load(),
	}
}
