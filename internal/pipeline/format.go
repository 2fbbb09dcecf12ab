package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/visiona/canlogd/internal/candump"
	"github.com/visiona/canlogd/internal/canbus"
)

// formatLoop drains the queue in capture order and appends rendered lines
// to the active buffer. On cancellation it first empties what the capture
// task already queued, so every frame that made it into the queue makes it
// into a buffer (or the diagnostic sink).
func (p *Pipeline) formatLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	slog.Info("format task started", "degraded", p.store == nil)

	// Rendering scratch space is task-local; it never crosses a task
	// boundary.
	scratch := make([]byte, 0, 64)

	for {
		captured, ok := p.q.Pop(p.cfg.PopTimeout)
		if !ok {
			if ctx.Err() != nil {
				p.drainQueue(scratch)
				slog.Info("format task stopping", "captured", p.counters.Captured())
				return
			}
			continue
		}
		scratch = p.emitLine(scratch, captured)
	}
}

// drainQueue empties remaining frames without waiting; the producer has
// already stopped by the time this runs.
func (p *Pipeline) drainQueue(scratch []byte) {
	for {
		captured, ok := p.q.Pop(0)
		if !ok {
			return
		}
		scratch = p.emitLine(scratch, captured)
	}
}

// emitLine renders one frame and appends it to the active buffer, swapping
// first when the line would not fit. Returns the reusable scratch slice.
func (p *Pipeline) emitLine(scratch []byte, captured canbus.Captured) []byte {
	scratch = candump.AppendLine(scratch[:0], captured.Frame, captured.Timestamp)

	if p.store == nil {
		// Degraded mode: no buffers, no queue pressure, straight to the
		// diagnostic sink.
		if _, err := p.diag.Write(scratch); err != nil {
			slog.Debug("diagnostic sink write failed", "error", err)
		}
		p.counters.MessageCaptured()
		return scratch
	}

	if !p.buf.Fits(len(scratch)) {
		// Deliberate backpressure: storage throughput, not bus
		// throughput, is the bottleneck resource. Formatting pauses here
		// until the persistence task completes the swap.
		p.buf.MarkReady()
		if !p.buf.AwaitActive(p.cfg.SwapTimeout) {
			// Storage is stalled past the bound. Drop this line and keep
			// the capture path alive rather than wedging the pipeline.
			p.counters.SwapWaitDropped()
			slog.Error("swap wait timed out, dropped line",
				"timeout", p.cfg.SwapTimeout,
			)
			return scratch
		}
	}

	if err := p.buf.Append(scratch); err != nil {
		p.counters.SwapWaitDropped()
		slog.Error("buffer append failed, dropped line", "error", err)
		return scratch
	}
	p.counters.MessageCaptured()
	return scratch
}
