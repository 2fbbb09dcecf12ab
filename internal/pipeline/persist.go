package pipeline

import (
	"log/slog"
	"sync"
)

// persistLoop waits for a buffer to turn ReadyToSwap, performs the swap,
// writes exactly the recorded used-length to storage, and releases the
// buffer regardless of the write's outcome so the format task is never
// starved of a slot. Failed or short writes are counted, never retried.
//
// The loop keeps running after ctx-driven cancellation of the front tasks;
// it exits through stop, after the orchestrator has forced the final swap.
func (p *Pipeline) persistLoop(stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	slog.Info("persistence task started",
		"log", p.store.Name(),
		"flush_every", p.cfg.FlushEvery,
	)

	var lastFlush uint64
	for {
		select {
		case <-stop:
			// Final drain: the orchestrator already forced the active
			// buffer ready; write whatever is pending, then flush once.
			for p.writeReady(&lastFlush) {
			}
			if err := p.store.Flush(); err != nil {
				p.counters.WriteError()
				slog.Error("final flush failed", "error", err)
			} else {
				p.counters.FlushDone()
			}
			slog.Info("persistence task stopping",
				"bytes_persisted", p.Stats().BytesOut,
			)
			return
		default:
		}

		if p.buf.AwaitReady(p.cfg.PersistPoll) {
			p.writeReady(&lastFlush)
		}
	}
}

// writeReady swaps and writes one pending buffer. Returns false when no
// buffer was ready.
func (p *Pipeline) writeReady(lastFlush *uint64) bool {
	data, ok := p.buf.Swap()
	if !ok {
		return false
	}

	n, err := p.store.Write(data)
	switch {
	case err != nil:
		p.counters.WriteError()
		slog.Error("log write failed", "error", err, "len", len(data))
	case n != len(data):
		p.counters.WriteError()
		slog.Error("short log write", "wrote", n, "len", len(data))
		p.counters.BytesPersisted(n)
	default:
		p.counters.BytesPersisted(n)
	}

	// Writing → Free happens regardless of the outcome above.
	p.buf.Release()

	p.maybeFlush(lastFlush)
	return true
}

// maybeFlush flushes the storage handle every FlushEvery total messages to
// bound data loss on power failure. The counter read may be stale by one;
// the cadence only has to be approximate.
func (p *Pipeline) maybeFlush(lastFlush *uint64) {
	if p.cfg.FlushEvery <= 0 {
		return
	}
	total := p.counters.Captured()
	if total-*lastFlush < uint64(p.cfg.FlushEvery) {
		return
	}
	if err := p.store.Flush(); err != nil {
		p.counters.WriteError()
		slog.Error("log flush failed", "error", err)
		return
	}
	p.counters.FlushDone()
	*lastFlush = total
}
