package concurrency

import "sync"

// JobQueue is an unbounded FIFO shared by every worker of a pool.
// Send never blocks on capacity. Receive blocks until a message is available.
// One mutex guards the buffer, so each message is handed to exactly one receiver.
type JobQueue struct {
	mu        sync.Mutex
	ready     *sync.Cond
	items     []Message
	closed    bool
	receivers int
}

// NewJobQueue returns an open, empty queue with no receivers.
func NewJobQueue() *JobQueue {
	q := &JobQueue{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Send appends msg to the queue and wakes one waiting receiver.
// It returns ErrQueueDisconnected if the queue is closed or has no receivers.
func (q *JobQueue) Send(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.receivers == 0 {
		return ErrQueueDisconnected
	}
	q.items = append(q.items, msg)
	q.ready.Signal()
	return nil
}

// Receive removes the oldest message. It blocks while the queue is empty and
// open. ok is false once the queue is closed and fully drained.
func (q *JobQueue) Receive() (msg Message, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return Message{}, false
		}
		q.ready.Wait()
	}

	msg = q.items[0]
	q.items[0] = Message{} // drop the job reference
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return msg, true
}

// Close stops further sends. Buffered messages are still delivered; after
// that every receiver sees a disconnect. Close is idempotent.
func (q *JobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.ready.Broadcast()
}

// AddReceiver registers one more consumer.
func (q *JobQueue) AddReceiver() {
	q.mu.Lock()
	q.receivers++
	q.mu.Unlock()
}

// ReleaseReceiver unregisters a consumer. Once the count drops to zero,
// Send fails with ErrQueueDisconnected.
func (q *JobQueue) ReleaseReceiver() {
	q.mu.Lock()
	if q.receivers > 0 {
		q.receivers--
	}
	q.mu.Unlock()
}

// Len returns the number of buffered messages.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Receivers returns the number of registered consumers.
func (q *JobQueue) Receivers() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.receivers
}
