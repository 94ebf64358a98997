package relay

import (
	"context"
	"errors"
	"sync"
)

var ErrQueueClosed = errors.New("relay: queue closed")

// Queue is an in-memory FIFO between intake and the dispatcher.
//
// Push never blocks. Pop suspends until an item is available, the context is
// done or the queue is closed and drained. A max of 0 means unbounded.
type Queue struct {
	mu     sync.Mutex
	items  []QueuedEvent
	max    int
	seq    uint64
	closed bool

	// wake is closed (and cleared) by the next Push or Close.
	wake chan struct{}
}

func NewQueue(max int) *Queue {
	if max < 0 {
		max = 0
	}
	return &Queue{max: max}
}

// Push appends ev, stamping it with the next arrival sequence number.
// It returns false when the queue is closed or at capacity.
func (q *Queue) Push(ev QueuedEvent) (QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ev, false
	}
	if q.max > 0 && len(q.items) >= q.max {
		return ev, false
	}
	q.seq++
	ev.Seq = q.seq
	q.items = append(q.items, ev)
	q.signalLocked()
	return ev, true
}

// Pop removes and returns the oldest item, waiting for one if needed.
func (q *Queue) Pop(ctx context.Context) (QueuedEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = QueuedEvent{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.mu.Unlock()
			return ev, nil
		}
		if q.closed {
			q.mu.Unlock()
			return QueuedEvent{}, ErrQueueClosed
		}
		if q.wake == nil {
			q.wake = make(chan struct{})
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return QueuedEvent{}, ctx.Err()
		case <-wake:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// SetMax changes the capacity for future pushes. Items already queued stay.
func (q *Queue) SetMax(max int) {
	if max < 0 {
		max = 0
	}
	q.mu.Lock()
	q.max = max
	q.mu.Unlock()
}

// Close stops intake. Pending items can still be popped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signalLocked()
}

func (q *Queue) signalLocked() {
	if q.wake != nil {
		close(q.wake)
		q.wake = nil
	}
}
