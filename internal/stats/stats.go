// Package stats holds the process-wide pipeline counters.
//
// Each counter has exactly one writing task; readers (reporter, persistence
// flush cadence, health endpoint) tolerate stale-by-one values. Nothing
// about what gets persisted ever depends on a counter read.
package stats

import "sync/atomic"

// Counters is the shared counter set. The zero value is ready to use.
type Counters struct {
	captured    atomic.Uint64 // lines appended (format task)
	dropped     atomic.Uint64 // queue-full drops (capture task)
	busErrors   atomic.Uint64 // malformed bus reads (capture task)
	swapDrops   atomic.Uint64 // lines dropped on swap-wait timeout (format task)
	writeErrors atomic.Uint64 // failed or short storage writes (persistence task)
	flushes     atomic.Uint64 // storage flushes (persistence task)
	bytesOut    atomic.Uint64 // bytes persisted (persistence task)
}

func (c *Counters) MessageCaptured()     { c.captured.Add(1) }
func (c *Counters) FrameDropped()        { c.dropped.Add(1) }
func (c *Counters) BusError()            { c.busErrors.Add(1) }
func (c *Counters) SwapWaitDropped()     { c.swapDrops.Add(1) }
func (c *Counters) WriteError()          { c.writeErrors.Add(1) }
func (c *Counters) FlushDone()           { c.flushes.Add(1) }
func (c *Counters) BytesPersisted(n int) { c.bytesOut.Add(uint64(n)) }

// Captured returns the monotonic total-message counter.
func (c *Counters) Captured() uint64 { return c.captured.Load() }

// Dropped returns the dropped-frame counter.
func (c *Counters) Dropped() uint64 { return c.dropped.Load() }

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Captured    uint64 `json:"captured"`
	Dropped     uint64 `json:"dropped"`
	BusErrors   uint64 `json:"bus_errors"`
	SwapDrops   uint64 `json:"swap_drops"`
	WriteErrors uint64 `json:"write_errors"`
	Flushes     uint64 `json:"flushes"`
	BytesOut    uint64 `json:"bytes_persisted"`
}

// Snapshot reads all counters. Values may be mutually stale by one; that is
// acceptable for display and flush-cadence purposes.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Captured:    c.captured.Load(),
		Dropped:     c.dropped.Load(),
		BusErrors:   c.busErrors.Load(),
		SwapDrops:   c.swapDrops.Load(),
		WriteErrors: c.writeErrors.Load(),
		Flushes:     c.flushes.Load(),
		BytesOut:    c.bytesOut.Load(),
	}
}
