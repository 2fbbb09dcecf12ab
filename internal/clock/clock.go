// Package clock provides the wall-clock source used to timestamp captured
// frames. Timestamps are fractional seconds since the Unix epoch.
package clock

import (
	"errors"
	"sync"
	"time"
)

// ErrUnavailable indicates the wall clock is not usable at startup (for
// example a device whose RTC was never set).
var ErrUnavailable = errors.New("clock: wall clock unavailable")

// Clock yields capture timestamps.
type Clock interface {
	// Now returns the current time as fractional seconds since the epoch.
	Now() float64
}

// System anchors a wall-clock reading taken once at construction to the
// process monotonic clock. Every Now() call is the anchor plus a monotonic
// offset, so timestamps stay strictly ordered even if the wall clock steps
// mid-run; a stepped clock only shifts the anchor error, it never reorders
// frames.
type System struct {
	anchor     float64
	anchorWall time.Time
	started    time.Time
}

// earliestSaneYear guards against an unset RTC reporting its power-on epoch.
const earliestSaneYear = 2020

// NewSystem captures the anchor. It fails with ErrUnavailable when the wall
// clock is obviously unset; callers treat that as fatal at startup.
func NewSystem() (*System, error) {
	now := time.Now()
	if now.Year() < earliestSaneYear {
		return nil, ErrUnavailable
	}
	return &System{
		anchor:     float64(now.UnixMicro()) / 1e6,
		anchorWall: now,
		started:    now,
	}, nil
}

func (s *System) Now() float64 {
	return s.anchor + time.Since(s.started).Seconds()
}

// WallStart returns the wall-clock time captured at construction, used for
// session log naming.
func (s *System) WallStart() time.Time {
	return s.anchorWall
}

// Fake is a settable clock for tests.
type Fake struct {
	mu  sync.Mutex
	now float64
}

func NewFake(start float64) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d seconds.
func (f *Fake) Advance(d float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now += d
}
