package stats

import "github.com/prometheus/client_golang/prometheus"

// Register exposes the counter set through a Prometheus registerer. The
// collectors read the atomics directly, so there is no second bookkeeping
// path to keep in sync.
func Register(reg prometheus.Registerer, c *Counters) error {
	collectors := []prometheus.Collector{
		counterFunc("frames_captured_total", "Frames formatted and appended to the log buffer", c.Captured),
		counterFunc("frames_dropped_total", "Frames dropped because the capture queue was full", c.Dropped),
		counterFunc("bus_read_errors_total", "Malformed reads reported by the CAN driver", func() uint64 { return c.busErrors.Load() }),
		counterFunc("swap_wait_drops_total", "Rendered lines dropped after a swap-wait timeout", func() uint64 { return c.swapDrops.Load() }),
		counterFunc("storage_write_errors_total", "Failed or short writes to the session log", func() uint64 { return c.writeErrors.Load() }),
		counterFunc("storage_flushes_total", "Flushes of the session log handle", func() uint64 { return c.flushes.Load() }),
		counterFunc("bytes_persisted_total", "Bytes written to the session log", func() uint64 { return c.bytesOut.Load() }),
	}

	for _, col := range collectors {
		if err := reg.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func counterFunc(name, help string, read func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "canlogd",
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(read()) })
}
