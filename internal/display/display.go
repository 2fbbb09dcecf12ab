// Package display renders the running message count and rate. This is the
// whole UI: a number and a per-second figure.
package display

import (
	"fmt"
	"io"
	"sync"
)

// Display receives one update per reporting interval.
type Display interface {
	Render(total uint64, perSecond uint64)
}

// Terminal rewrites a single status line in place.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Render(total, perSecond uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "\r%9d msgs  %5d/s", total, perSecond)
}

// Discard ignores updates; used when the daemon runs headless.
type Discard struct{}

func (Discard) Render(total, perSecond uint64) {}
