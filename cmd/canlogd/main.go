// Command canlogd captures CAN bus frames and persists them as candump
// text, surviving slow storage without ever blocking the capture path.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/visiona/canlogd/internal/canbus"
	"github.com/visiona/canlogd/internal/clock"
	"github.com/visiona/canlogd/internal/config"
	"github.com/visiona/canlogd/internal/display"
	"github.com/visiona/canlogd/internal/emitter"
	"github.com/visiona/canlogd/internal/health"
	"github.com/visiona/canlogd/internal/pipeline"
	"github.com/visiona/canlogd/internal/stats"
	"github.com/visiona/canlogd/internal/storage"
)

const (
	busInitRetries    = 3
	busInitRetryDelay = 100 * time.Millisecond
	shutdownTimeout   = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration (defaults apply when empty)")
	debug := flag.Bool("debug", false, "enable debug logging")
	mock := flag.Bool("mock", false, "run against a synthetic frame source instead of a CAN interface")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("starting canlogd", "interface", cfg.Interface, "log_dir", cfg.LogDir, "mock", *mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Clock unavailability is fatal only here at startup; mid-run the
	// system clock keeps timestamps ordered via its monotonic anchor.
	clk, err := clock.NewSystem()
	if err != nil {
		slog.Error("wall clock unavailable", "error", err)
		os.Exit(1)
	}

	bus, err := openBus(ctx, cfg.Interface, *mock)
	if err != nil {
		slog.Error("bus init failed after retries", "interface", cfg.Interface, "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	// Storage failure is not fatal: the pipeline degrades to the
	// diagnostic sink and the counter display keeps working.
	var store storage.Store
	sessionID := ""
	fileStore, err := storage.OpenSession(cfg.LogDir, clk.WallStart())
	if err != nil {
		slog.Warn("storage unavailable, running degraded", "error", err)
	} else {
		store = fileStore
		defer fileStore.Close()

		manifest := storage.NewManifest(cfg.Interface, fileStore.Name(), clk.WallStart())
		manifest.QueueCapacity = cfg.Queue.Capacity
		manifest.BufferSize = cfg.Buffer.Size
		manifest.FlushEvery = cfg.Storage.FlushEvery
		sessionID = manifest.SessionID
		if err := manifest.WriteManifest(storage.ManifestPath(fileStore.Name())); err != nil {
			slog.Warn("manifest write failed", "error", err)
		}
		slog.Info("logging session opened", "log", fileStore.Name(), "session_id", sessionID)
	}

	var em *emitter.MQTTEmitter
	if cfg.MQTT != nil {
		clientID := cfg.MQTT.ClientID
		if clientID == "" {
			clientID = "canlogd-" + cfg.Interface
		}
		em = emitter.New(cfg.MQTT.Broker, clientID, cfg.MQTT.StatsTopic, sessionID, cfg.Interface)
		if err := em.Connect(); err != nil {
			slog.Warn("mqtt connect failed, retrying in background", "error", err)
		}
		defer em.Close()
	}

	deps := pipeline.Deps{
		Bus:     bus,
		Clock:   clk,
		Store:   store,
		Diag:    os.Stdout,
		Display: display.NewTerminal(os.Stderr),
	}
	if em != nil {
		deps.OnReport = em.PublishStats
	}

	pl, err := pipeline.New(pipelineConfig(cfg), deps)
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	var healthSrv *health.Server
	if cfg.HealthAddr != "" {
		reg := prometheus.NewRegistry()
		if err := stats.Register(reg, pl.Counters()); err != nil {
			slog.Warn("metrics registration failed", "error", err)
		}
		healthSrv = health.New(cfg.HealthAddr, pl, reg, sessionID, cfg.Interface)
		healthSrv.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- pl.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			slog.Error("pipeline stopped", "error", err)
		}
	}

	if healthSrv != nil {
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		if err := healthSrv.Shutdown(shCtx); err != nil {
			slog.Warn("health server shutdown failed", "error", err)
		}
	}

	snap := pl.Stats()
	slog.Info("canlogd stopped",
		"captured", snap.Captured,
		"dropped", snap.Dropped,
		"bytes_persisted", snap.BytesOut,
		"write_errors", snap.WriteErrors,
	)
}

func pipelineConfig(cfg config.Config) pipeline.Config {
	return pipeline.Config{
		QueueCapacity:  cfg.Queue.Capacity,
		PushTimeout:    cfg.Queue.PushTimeout(),
		PopTimeout:     cfg.Queue.PopTimeout(),
		IdleYield:      cfg.Queue.IdleYield(),
		BufferSize:     cfg.Buffer.Size,
		SwapTimeout:    cfg.Buffer.SwapTimeout(),
		PersistPoll:    cfg.Buffer.PersistPoll(),
		FlushEvery:     cfg.Storage.FlushEvery,
		ReportInterval: cfg.Report.Interval(),
	}
}

// openBus dials the CAN interface with bounded retries, or starts the
// synthetic source in mock mode.
func openBus(ctx context.Context, iface string, mock bool) (canbus.Bus, error) {
	if mock {
		m := canbus.NewMock()
		go feedMock(ctx, m)
		return m, nil
	}

	var lastErr error
	for i := 0; i < busInitRetries; i++ {
		bus, err := canbus.DialSocketCAN(iface)
		if err == nil {
			return bus, nil
		}
		lastErr = err
		slog.Warn("bus init failed, retrying", "attempt", i+1, "error", err)
		time.Sleep(busInitRetryDelay)
	}
	return nil, lastErr
}

// feedMock generates a steady synthetic frame load for demos and soak runs.
func feedMock(ctx context.Context, m *canbus.Mock) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f := canbus.Frame{ID: uint32(0x100 + seq%0x10), Len: 8}
			for i := range f.Data {
				f.Data[i] = byte(seq >> (8 * uint(i%8)))
			}
			m.Feed(f)
			seq++
		}
	}
}
