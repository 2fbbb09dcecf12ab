package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// reporterLoop computes the per-second message rate from the monotonic
// counter once per interval and hands it to the display. It only reads
// shared state; a stale-by-one counter value is fine here.
func (p *Pipeline) reporterLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	interval := p.cfg.ReportInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastTotal uint64
	lastTick := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			snap := p.counters.Snapshot()
			elapsed := now.Sub(lastTick).Seconds()
			var rate uint64
			if elapsed > 0 && snap.Captured >= lastTotal {
				rate = uint64(float64(snap.Captured-lastTotal) / elapsed)
			}
			lastTotal = snap.Captured
			lastTick = now

			p.disp.Render(snap.Captured, rate)
			if p.onReport != nil {
				p.onReport(snap, rate)
			}

			slog.Debug("pipeline stats",
				"captured", snap.Captured,
				"rate_per_s", rate,
				"queue_len", p.q.Len(),
				"buffer_used", p.buf.Used(),
				"dropped", snap.Dropped,
				"swap_drops", snap.SwapDrops,
				"write_errors", snap.WriteErrors,
			)
		}
	}
}
