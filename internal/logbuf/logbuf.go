// Package logbuf implements the double buffer between the format task and
// the persistence task.
//
// Two equally sized byte buffers exchange roles:
//
//	Active      — the format task may append
//	ReadyToSwap — full (or forced), untouchable until swapped
//	Writing     — owned exclusively by the persistence task
//	Free        — available to become Active on the next swap
//
// At any instant at most one buffer is Active and at most one is Writing,
// and they are never the same buffer. The swap exchanges ownership flags;
// no data is ever copied between buffers.
package logbuf

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoActive is returned by Append when no buffer holds the Active
	// role (the previous one was marked ready and the swap has not
	// happened yet).
	ErrNoActive = errors.New("logbuf: no active buffer")

	// ErrOverflow is returned by Append when the data would not fit.
	// Callers are expected to check Fits first.
	ErrOverflow = errors.New("logbuf: append exceeds capacity")
)

const none = -1

// DoubleBuffer owns the two buffers and their role tags.
type DoubleBuffer struct {
	mu   sync.Mutex
	bufs [2][]byte
	used [2]int
	size int

	// Role tags: index of the buffer currently holding each role, or none.
	// A buffer holding no role is Free.
	active  int
	ready   int
	writing int

	// Edge-triggered wakeups, capacity 1. readyCh wakes the persistence
	// task when a buffer turns ReadyToSwap; swapCh wakes the format task
	// when a swap installs a fresh Active buffer.
	readyCh chan struct{}
	swapCh  chan struct{}
}

// New allocates both buffers for the process lifetime. Buffer zero starts
// Active, buffer one starts Free.
func New(size int) (*DoubleBuffer, error) {
	if size < 1 {
		return nil, fmt.Errorf("logbuf: buffer size must be positive, got %d", size)
	}
	db := &DoubleBuffer{
		size:    size,
		active:  0,
		ready:   none,
		writing: none,
		readyCh: make(chan struct{}, 1),
		swapCh:  make(chan struct{}, 1),
	}
	db.bufs[0] = make([]byte, size)
	db.bufs[1] = make([]byte, size)
	return db, nil
}

// Fits reports whether n more bytes can be appended to the Active buffer
// without reaching capacity. It is false while no buffer is Active.
func (db *DoubleBuffer) Fits(n int) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.active != none && db.used[db.active]+n < db.size
}

// Append copies p into the Active buffer and advances its used-length
// cursor. Only the format task calls Append.
func (db *DoubleBuffer) Append(p []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.active == none {
		return ErrNoActive
	}
	if db.used[db.active]+len(p) > db.size {
		return ErrOverflow
	}
	db.used[db.active] += copy(db.bufs[db.active][db.used[db.active]:], p)
	return nil
}

// MarkReady moves the Active buffer to ReadyToSwap and wakes the
// persistence task. Until the swap completes there is no Active buffer and
// Append fails. No-op when nothing is Active.
func (db *DoubleBuffer) MarkReady() {
	db.mu.Lock()
	if db.active == none {
		db.mu.Unlock()
		return
	}
	db.ready = db.active
	db.active = none
	db.mu.Unlock()
	signal(db.readyCh)
}

// ForceReady is MarkReady that skips empty buffers; used by the shutdown
// drain so the final partial buffer reaches storage.
func (db *DoubleBuffer) ForceReady() {
	db.mu.Lock()
	if db.active == none || db.used[db.active] == 0 {
		db.mu.Unlock()
		return
	}
	db.ready = db.active
	db.active = none
	db.mu.Unlock()
	signal(db.readyCh)
}

// Swap performs the atomic role exchange: the ReadyToSwap buffer becomes
// Writing and the Free buffer becomes the new Active with its used-length
// reset. It returns the Writing buffer's contents, exactly the bytes the
// format task appended before MarkReady.
//
// Swap reports false when no buffer is ready or when the previous Writing
// buffer has not been released yet; the roles are then unchanged.
func (db *DoubleBuffer) Swap() ([]byte, bool) {
	db.mu.Lock()
	if db.ready == none || db.writing != none {
		db.mu.Unlock()
		return nil, false
	}
	db.writing = db.ready
	db.ready = none
	db.active = 1 - db.writing
	db.used[db.active] = 0
	out := db.bufs[db.writing][:db.used[db.writing]]
	db.mu.Unlock()
	signal(db.swapCh)
	return out, true
}

// Release returns the Writing buffer to Free once the write attempt has
// completed, regardless of the write's outcome, so the format task is never
// starved waiting for a slot.
func (db *DoubleBuffer) Release() {
	db.mu.Lock()
	db.writing = none
	db.mu.Unlock()
}

// AwaitActive blocks until a buffer holds the Active role, up to timeout.
// The format task parks here while a forced swap is in flight; this is the
// deliberate backpressure point where formatting pauses instead of losing
// data.
func (db *DoubleBuffer) AwaitActive(timeout time.Duration) bool {
	return db.await(db.swapCh, timeout, func() bool { return db.active != none })
}

// AwaitReady blocks until a buffer holds the ReadyToSwap role, up to
// timeout. The persistence task idles here between swaps.
func (db *DoubleBuffer) AwaitReady(timeout time.Duration) bool {
	return db.await(db.readyCh, timeout, func() bool { return db.ready != none })
}

// Used returns the Active buffer's used-length, or zero when none is
// Active. Stats only.
func (db *DoubleBuffer) Used() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.active == none {
		return 0
	}
	return db.used[db.active]
}

// Size returns the fixed per-buffer capacity.
func (db *DoubleBuffer) Size() int { return db.size }

// await waits on ch until cond holds under the lock or the deadline passes.
// Signals are edge-triggered and may be stale, so cond is re-checked after
// every wakeup.
func (db *DoubleBuffer) await(ch chan struct{}, timeout time.Duration, cond func() bool) bool {
	check := func() bool {
		db.mu.Lock()
		defer db.mu.Unlock()
		return cond()
	}
	if check() {
		return true
	}
	if timeout <= 0 {
		return false
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ch:
			if check() {
				return true
			}
		case <-deadline.C:
			return check()
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
