package repl

import (
	"sync"

	"github.com/dd0wney/cluso-docstore/pkg/oplog"
)

// OpQueue is the bounded FIFO between the producer and the applier.
// There is exactly one producer and one consumer, so insertion order is
// application order. Flow control is two watermarks: Push blocks once
// the queue holds high entries and resumes when the applier drains it
// to low.
type OpQueue struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond // empty -> non-empty transitions
	drained  *sync.Cond // crossing down to the low watermark
	done     *sync.Cond // queue became empty

	entries []oplog.Entry
	high    int
	low     int
	closed  bool
}

// NewOpQueue creates a queue with the given watermarks.
func NewOpQueue(high, low int) *OpQueue {
	q := &OpQueue{high: high, low: low}
	q.nonEmpty = sync.NewCond(&q.mu)
	q.drained = sync.NewCond(&q.mu)
	q.done = sync.NewCond(&q.mu)
	return q
}

// Push appends an entry. If the queue reaches the high watermark the
// call blocks until the applier drains it to the low watermark or the
// queue is closed.
func (q *OpQueue) Push(e oplog.Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.entries) == 0 {
		q.nonEmpty.Broadcast()
	}
	q.entries = append(q.entries, e)

	if len(q.entries) >= q.high {
		for len(q.entries) > q.low && !q.closed {
			q.drained.Wait()
		}
		if q.closed {
			return ErrQueueClosed
		}
	}
	return nil
}

// Front blocks until an entry is available and returns it without
// removing it. ok is false when the queue is closed and empty.
func (q *OpQueue) Front() (oplog.Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.entries) == 0 && !q.closed {
		q.done.Broadcast()
		q.nonEmpty.Wait()
	}
	if len(q.entries) == 0 {
		return oplog.Entry{}, false
	}
	return q.entries[0], true
}

// PopFront removes the front entry. It signals the producer when the
// drain crosses the low watermark and broadcasts done when the queue
// becomes empty.
func (q *OpQueue) PopFront() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return
	}
	q.entries = q.entries[1:]

	if len(q.entries) == q.low {
		q.drained.Broadcast()
	}
	if len(q.entries) == 0 {
		q.entries = nil
		q.done.Broadcast()
	}
}

// Len returns the number of queued entries.
func (q *OpQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// WaitUntilDrained blocks until the queue is empty or closed.
func (q *OpQueue) WaitUntilDrained() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.entries) > 0 && !q.closed {
		q.done.Wait()
	}
}

// Close wakes every waiter. Entries still queued remain poppable via
// Front/PopFront so the applier can finish its drain if it wants to.
func (q *OpQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.nonEmpty.Broadcast()
	q.drained.Broadcast()
	q.done.Broadcast()
}
