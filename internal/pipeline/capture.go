package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/visiona/canlogd/internal/canbus"
)

// captureLoop is the only producer on the queue's tail. It reads frames
// while the driver reports them pending, stamps each at the moment of read,
// and hands it off with a short bounded wait. A full queue costs exactly
// that one frame; the loop never blocks indefinitely and never retries.
func (p *Pipeline) captureLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	slog.Info("capture task started",
		"queue_capacity", p.cfg.QueueCapacity,
		"push_timeout", p.cfg.PushTimeout,
	)

	for {
		if ctx.Err() != nil {
			slog.Info("capture task stopping",
				"captured", p.counters.Captured(),
				"dropped", p.counters.Dropped(),
			)
			return
		}

		if !p.bus.HasPending() {
			p.idle(ctx)
			continue
		}

		frame, err := p.bus.Read()
		if err != nil {
			if errors.Is(err, canbus.ErrClosed) {
				slog.Info("bus closed, capture task stopping")
				return
			}
			// Malformed frame: discard, count, keep going.
			p.counters.BusError()
			slog.Debug("bus read failed", "error", err)
			continue
		}

		captured := canbus.Captured{Frame: frame, Timestamp: p.clk.Now()}
		if !p.q.Push(captured, p.cfg.PushTimeout) {
			p.counters.FrameDropped()
			slog.Warn("frame queue full, dropped frame",
				"id", frame.ID,
				"dropped_total", p.counters.Dropped(),
			)
		}
	}
}

// idle yields briefly so a quiet bus does not saturate the scheduler.
func (p *Pipeline) idle(ctx context.Context) {
	yield := p.cfg.IdleYield
	if yield <= 0 {
		yield = time.Millisecond
	}
	t := time.NewTimer(yield)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
