package concurrency

import (
	"sync/atomic"
	"time"

	"github.com/fluxorio/webpool/pkg/core"
	"github.com/fluxorio/webpool/pkg/core/failfast"
)

// WorkerState is the position of a worker in its run loop.
type WorkerState int32

const (
	// WorkerIdle means the worker is waiting on the queue.
	WorkerIdle WorkerState = iota
	// WorkerRunning means the worker is executing a job.
	WorkerRunning
	// WorkerStopped is terminal: the goroutine has left its loop.
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerRunning:
		return "running"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Worker owns one goroutine that pulls messages from a shared JobQueue and
// runs jobs one at a time until it receives Terminate or the queue disconnects.
type Worker struct {
	id       int
	queue    *JobQueue
	logger   core.Logger
	observer Observer
	counters *poolCounters

	state atomic.Int32
	done  chan struct{}
}

// newWorker registers the worker as a queue receiver and starts its goroutine.
func newWorker(id int, queue *JobQueue, logger core.Logger, observer Observer, counters *poolCounters) *Worker {
	w := &Worker{
		id:       id,
		queue:    queue,
		logger:   logger.With("worker", id),
		observer: observer,
		counters: counters,
		done:     make(chan struct{}),
	}
	queue.AddReceiver()
	go w.run()
	return w
}

// ID returns the worker index inside its pool.
func (w *Worker) ID() int {
	return w.id
}

// State returns the worker's current state.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Join blocks until the worker goroutine has exited.
func (w *Worker) Join() {
	<-w.done
}

// run serves the queue until Terminate or disconnect. A job that exits the
// goroutine (runtime.Goexit) unwinds through here; the loop is restarted on a
// fresh goroutine so the pool keeps its size.
func (w *Worker) run() {
	returned := true
	defer func() {
		if !returned {
			w.logger.Errorf("worker %d: job exited its goroutine; restarting loop", w.id)
			go w.run()
			return
		}
		w.state.Store(int32(WorkerStopped))
		w.queue.ReleaseReceiver()
		close(w.done)
	}()

	for {
		msg, ok := w.queue.Receive()
		if !ok {
			w.logger.Debugf("worker %d disconnected; shutting down", w.id)
			return
		}
		if msg.IsTerminate() {
			w.logger.Debugf("worker %d received terminate; shutting down", w.id)
			return
		}
		returned = false
		w.runJob(msg)
		returned = true
	}
}

// runJob executes one job to completion. A panicking or exiting job is
// counted as failed; the worker keeps serving the queue.
func (w *Worker) runJob(msg Message) {
	w.state.Store(int32(WorkerRunning))
	w.counters.busy.Add(1)
	w.observer.JobStarted(w.id)
	w.logger.Debugf("worker %d got a job; executing", w.id)

	start := time.Now()
	var err error
	returned := false
	defer func() {
		elapsed := time.Since(start)
		if !returned {
			err = ErrJobExited
		}
		if err != nil {
			w.counters.failed.Add(1)
			w.logger.Errorf("worker %d: job failed after %v: %v", w.id, elapsed, err)
		} else {
			w.counters.completed.Add(1)
		}
		w.observer.JobFinished(w.id, elapsed, err)
		w.counters.busy.Add(-1)
		w.state.Store(int32(WorkerIdle))
	}()

	err = failfast.Capture(func() { msg.Run(w.id) })
	returned = true
}
