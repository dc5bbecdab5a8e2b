package concurrency

// Job is a single unit of work. The pool hands it to exactly one worker,
// which runs it once and discards it. Jobs share nothing with the pool
// beyond what they close over.
type Job func()

// WorkerJob is a Job that is told the index of the worker running it.
type WorkerJob func(workerID int)

type messageKind uint8

const (
	kindNewJob messageKind = iota
	kindTerminate
)

// Message is what travels on a JobQueue: either a job to run or a request
// for the receiving worker to stop.
type Message struct {
	kind messageKind
	job  WorkerJob
}

// NewJobMessage wraps job for delivery to a worker.
func NewJobMessage(job Job) Message {
	return Message{kind: kindNewJob, job: func(int) { job() }}
}

// NewWorkerJobMessage wraps a worker-aware job for delivery.
func NewWorkerJobMessage(job WorkerJob) Message {
	return Message{kind: kindNewJob, job: job}
}

// TerminateMessage tells the one worker that receives it to stop.
func TerminateMessage() Message {
	return Message{kind: kindTerminate}
}

// IsTerminate reports whether m is a stop request.
func (m Message) IsTerminate() bool {
	return m.kind == kindTerminate
}

// Run invokes the wrapped job on behalf of workerID. It is a no-op for
// terminate messages.
func (m Message) Run(workerID int) {
	if m.job != nil {
		m.job(workerID)
	}
}
