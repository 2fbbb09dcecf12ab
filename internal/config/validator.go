package config

import (
	"errors"
	"fmt"
)

// minBufferSize keeps a single rendered line (at most a few dozen bytes)
// from being able to exceed a whole buffer, which would make the forced
// swap loop unsatisfiable.
const minBufferSize = 512

// Validate rejects configurations the pipeline cannot run with.
func Validate(cfg Config) error {
	var errs []error

	if cfg.Interface == "" {
		errs = append(errs, errors.New("interface must be set"))
	}
	if cfg.LogDir == "" {
		errs = append(errs, errors.New("log_dir must be set"))
	}
	if cfg.Queue.Capacity < 1 {
		errs = append(errs, fmt.Errorf("queue.capacity must be positive, got %d", cfg.Queue.Capacity))
	}
	if cfg.Queue.PushTimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("queue.push_timeout_ms must not be negative, got %d", cfg.Queue.PushTimeoutMS))
	}
	if cfg.Queue.PopTimeoutMS < 1 {
		errs = append(errs, fmt.Errorf("queue.pop_timeout_ms must be positive, got %d", cfg.Queue.PopTimeoutMS))
	}
	if cfg.Buffer.Size < minBufferSize {
		errs = append(errs, fmt.Errorf("buffer.size must be at least %d, got %d", minBufferSize, cfg.Buffer.Size))
	}
	if cfg.Buffer.SwapTimeoutMS < 1 {
		errs = append(errs, fmt.Errorf("buffer.swap_timeout_ms must be positive, got %d", cfg.Buffer.SwapTimeoutMS))
	}
	if cfg.Buffer.PersistPollMS < 1 {
		errs = append(errs, fmt.Errorf("buffer.persist_poll_ms must be positive, got %d", cfg.Buffer.PersistPollMS))
	}
	if cfg.Storage.FlushEvery < 1 {
		errs = append(errs, fmt.Errorf("storage.flush_every must be positive, got %d", cfg.Storage.FlushEvery))
	}
	if cfg.Report.IntervalMS < 1 {
		errs = append(errs, fmt.Errorf("report.interval_ms must be positive, got %d", cfg.Report.IntervalMS))
	}
	if cfg.MQTT != nil {
		if cfg.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker must be set when mqtt is configured"))
		}
		if cfg.MQTT.StatsTopic == "" {
			errs = append(errs, errors.New("mqtt.stats_topic must be set when mqtt is configured"))
		}
	}

	return errors.Join(errs...)
}
