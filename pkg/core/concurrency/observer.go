package concurrency

import "time"

// Observer receives job lifecycle events. Calls come from Execute callers
// and from worker goroutines concurrently.
type Observer interface {
	// JobQueued is called once a job has been accepted by Execute.
	JobQueued()

	// JobStarted is called by a worker right before it runs a job.
	JobStarted(workerID int)

	// JobFinished is called after a job returns or panics. err is a
	// *failfast.PanicError for panicking jobs and nil otherwise.
	JobFinished(workerID int, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) JobQueued() {}
func (nopObserver) JobStarted(int) {}
func (nopObserver) JobFinished(int, time.Duration, error) {}
