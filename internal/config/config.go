// Package config loads and validates the canlogd YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete daemon configuration. Intervals are plain
// millisecond integers so YAML stays obvious.
type Config struct {
	Interface  string        `yaml:"interface"`   // CAN interface name (e.g. can0)
	LogDir     string        `yaml:"log_dir"`     // session log directory
	HealthAddr string        `yaml:"health_addr"` // HTTP health/metrics listen address, empty disables
	Queue      QueueConfig   `yaml:"queue"`
	Buffer     BufferConfig  `yaml:"buffer"`
	Storage    StorageConfig `yaml:"storage"`
	Report     ReportConfig  `yaml:"report"`
	MQTT       *MQTTConfig   `yaml:"mqtt,omitempty"` // optional stats publishing
}

// QueueConfig shapes the capture→format hand-off.
type QueueConfig struct {
	Capacity      int `yaml:"capacity"`        // frames held between capture and format
	PushTimeoutMS int `yaml:"push_timeout_ms"` // bounded wait before a drop
	PopTimeoutMS  int `yaml:"pop_timeout_ms"`  // consumer wait per attempt
	IdleYieldMS   int `yaml:"idle_yield_ms"`   // capture sleep when bus is quiet
}

// BufferConfig shapes the double buffer between format and persistence.
type BufferConfig struct {
	Size          int `yaml:"size"`            // bytes per buffer
	SwapTimeoutMS int `yaml:"swap_timeout_ms"` // bound on the forced-swap wait; expiry drops the line
	PersistPollMS int `yaml:"persist_poll_ms"` // persistence idle wait per attempt
}

// StorageConfig shapes persistence.
type StorageConfig struct {
	FlushEvery int `yaml:"flush_every"` // flush cadence in total messages
}

// ReportConfig shapes the rate reporter.
type ReportConfig struct {
	IntervalMS int `yaml:"interval_ms"`
}

// MQTTConfig configures the optional stats emitter.
type MQTTConfig struct {
	Broker     string `yaml:"broker"`
	ClientID   string `yaml:"client_id"`
	StatsTopic string `yaml:"stats_topic"`
}

func (q QueueConfig) PushTimeout() time.Duration { return time.Duration(q.PushTimeoutMS) * time.Millisecond }
func (q QueueConfig) PopTimeout() time.Duration  { return time.Duration(q.PopTimeoutMS) * time.Millisecond }
func (q QueueConfig) IdleYield() time.Duration   { return time.Duration(q.IdleYieldMS) * time.Millisecond }

func (b BufferConfig) SwapTimeout() time.Duration { return time.Duration(b.SwapTimeoutMS) * time.Millisecond }
func (b BufferConfig) PersistPoll() time.Duration { return time.Duration(b.PersistPollMS) * time.Millisecond }

func (r ReportConfig) Interval() time.Duration { return time.Duration(r.IntervalMS) * time.Millisecond }

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Interface: "can0",
		LogDir:    "logs",
		Queue: QueueConfig{
			Capacity:      256,
			PushTimeoutMS: 10,
			PopTimeoutMS:  100,
			IdleYieldMS:   1,
		},
		Buffer: BufferConfig{
			Size:          8192,
			SwapTimeoutMS: 5000,
			PersistPollMS: 5,
		},
		Storage: StorageConfig{FlushEvery: 400},
		Report:  ReportConfig{IntervalMS: 1000},
	}
}

// Load reads and parses a YAML configuration file, filling unset fields
// from Default and validating the result.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}
