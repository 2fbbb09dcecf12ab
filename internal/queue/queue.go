// Package queue implements the bounded FIFO hand-off between the capture
// task and the format task.
//
// The queue decouples capture timing from formatting timing. It never blocks
// the producer beyond the caller's timeout: a full queue is a drop signal,
// not a stall. Frames travel by value and are dequeued in exact capture
// order.
package queue

import (
	"fmt"
	"time"

	"github.com/visiona/canlogd/internal/canbus"
)

// Queue is a bounded FIFO of captured frames.
//
// Safe for any number of producers and consumers; the common configuration
// is one of each. Backed by a buffered channel, so FIFO order and mutual
// exclusion on the internal indices come from the runtime rather than a
// coarse lock that could stall the producer behind the consumer.
type Queue struct {
	ch chan canbus.Captured
}

// New creates a queue with the given fixed capacity.
func New(capacity int) (*Queue, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", capacity)
	}
	return &Queue{ch: make(chan canbus.Captured, capacity)}, nil
}

// Push enqueues f, waiting up to timeout for space. It reports false when
// the queue stayed full; the frame is then gone and the caller counts a
// drop. A zero or negative timeout makes Push strictly non-blocking.
func (q *Queue) Push(f canbus.Captured, timeout time.Duration) bool {
	select {
	case q.ch <- f:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case q.ch <- f:
		return true
	case <-t.C:
		return false
	}
}

// Pop dequeues the oldest frame, waiting up to timeout for one to arrive.
// The second result is false on timeout. A zero or negative timeout makes
// Pop strictly non-blocking.
func (q *Queue) Pop(timeout time.Duration) (canbus.Captured, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
	}
	if timeout <= 0 {
		return canbus.Captured{}, false
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case f := <-q.ch:
		return f, true
	case <-t.C:
		return canbus.Captured{}, false
	}
}

// Len returns the number of enqueued-but-undequeued frames.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the fixed capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
