package concurrency

import "errors"

var (
	// ErrInvalidPoolSize is returned when a pool is built with fewer than one worker.
	ErrInvalidPoolSize = errors.New("thread pool size must be at least 1")

	// ErrQueueDisconnected is returned by Send when the queue is closed or
	// no receiver is left to drain it.
	ErrQueueDisconnected = errors.New("job queue disconnected")

	// ErrPoolClosed is returned by Execute once shutdown has begun.
	ErrPoolClosed = errors.New("thread pool is shut down")

	// ErrNilJob is returned by Execute for a nil job.
	ErrNilJob = errors.New("job cannot be nil")

	// ErrJobExited is reported to the observer for a job that called
	// runtime.Goexit instead of returning.
	ErrJobExited = errors.New("job exited its worker goroutine")
)
