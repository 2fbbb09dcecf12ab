// Package pipeline wires the capture, format and persistence tasks around
// the bounded frame queue and the double buffer.
//
// Control flow: bus → capture task → frame queue → format task → active
// buffer → (swap) → write buffer → persistence task → storage. Formatting
// applies backpressure to itself when storage lags (the forced-swap wait);
// the capture path is never blocked by a storage write.
package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/visiona/canlogd/internal/canbus"
	"github.com/visiona/canlogd/internal/clock"
	"github.com/visiona/canlogd/internal/display"
	"github.com/visiona/canlogd/internal/logbuf"
	"github.com/visiona/canlogd/internal/queue"
	"github.com/visiona/canlogd/internal/stats"
	"github.com/visiona/canlogd/internal/storage"
)

// Config carries the pipeline tuning knobs. All fields must be set; the
// daemon derives them from its validated YAML config.
type Config struct {
	QueueCapacity int
	PushTimeout   time.Duration // capture's bounded wait before dropping a frame
	PopTimeout    time.Duration // format's wait per dequeue attempt
	IdleYield     time.Duration // capture's sleep when the bus is quiet

	BufferSize  int
	SwapTimeout time.Duration // bound on the forced-swap wait; expiry drops the line
	PersistPoll time.Duration // persistence idle wait per attempt

	FlushEvery     int // flush cadence in total messages
	ReportInterval time.Duration
}

// Deps are the pipeline's external collaborators.
type Deps struct {
	Bus   canbus.Bus
	Clock clock.Clock

	// Store is the session log. Nil runs the pipeline degraded: no
	// buffers, no persistence task, every rendered line goes to Diag.
	Store storage.Store

	// Diag receives rendered lines in degraded mode. Defaults to
	// io.Discard.
	Diag io.Writer

	// Display receives one count/rate update per report interval.
	// Defaults to a no-op.
	Display display.Display

	// OnReport, when set, observes each reporter tick (stats snapshot
	// plus the computed per-second rate). Used for MQTT publishing.
	OnReport func(stats.Snapshot, uint64)
}

// Pipeline owns the shared state and the task goroutines. All cross-task
// state is constructor-owned and passed in here; nothing is ambient.
type Pipeline struct {
	cfg      Config
	bus      canbus.Bus
	clk      clock.Clock
	store    storage.Store
	diag     io.Writer
	disp     display.Display
	onReport func(stats.Snapshot, uint64)

	q        *queue.Queue
	buf      *logbuf.DoubleBuffer
	counters stats.Counters

	mu        sync.Mutex
	started   bool
	startedAt time.Time
}

// New builds a pipeline. A nil Store selects degraded mode; the double
// buffer is still allocated (it is two fixed slices) but no persistence
// task will run and the format task bypasses it entirely.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Bus == nil {
		return nil, errors.New("pipeline: nil bus")
	}
	if deps.Clock == nil {
		return nil, errors.New("pipeline: nil clock")
	}

	q, err := queue.New(cfg.QueueCapacity)
	if err != nil {
		return nil, err
	}
	buf, err := logbuf.New(cfg.BufferSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:      cfg,
		bus:      deps.Bus,
		clk:      deps.Clock,
		store:    deps.Store,
		diag:     deps.Diag,
		disp:     deps.Display,
		onReport: deps.OnReport,
		q:        q,
		buf:      buf,
	}
	if p.diag == nil {
		p.diag = io.Discard
	}
	if p.disp == nil {
		p.disp = display.Discard{}
	}
	return p, nil
}

// Run starts the tasks and blocks until ctx is cancelled and the shutdown
// drain has completed: capture and format stop, the active buffer is force
// swapped, and the persistence task writes and flushes what remains before
// Run returns. The storage handle itself stays with the caller.
//
// Run may be called once per Pipeline.
func (p *Pipeline) Run(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return errors.New("pipeline: already started")
	}
	p.started = true
	p.startedAt = time.Now()
	p.mu.Unlock()

	var frontWG sync.WaitGroup
	frontWG.Add(2)
	go p.captureLoop(ctx, &frontWG)
	go p.formatLoop(ctx, &frontWG)

	var reportWG sync.WaitGroup
	reportWG.Add(1)
	go p.reporterLoop(ctx, &reportWG)

	persistStop := make(chan struct{})
	var persistWG sync.WaitGroup
	if p.store != nil {
		persistWG.Add(1)
		go p.persistLoop(persistStop, &persistWG)
	}

	frontWG.Wait()

	if p.store != nil {
		// Drain: whatever the format task accumulated since the last
		// swap still has to reach storage.
		p.buf.ForceReady()
		close(persistStop)
		persistWG.Wait()
	}
	reportWG.Wait()
	return nil
}

// Stats returns a counter snapshot.
func (p *Pipeline) Stats() stats.Snapshot {
	return p.counters.Snapshot()
}

// Counters exposes the live counter set for metrics registration.
func (p *Pipeline) Counters() *stats.Counters {
	return &p.counters
}

// Degraded reports whether the pipeline runs without persistent storage.
func (p *Pipeline) Degraded() bool {
	return p.store == nil
}

// Uptime returns the time since Run started, zero before that.
func (p *Pipeline) Uptime() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return 0
	}
	return time.Since(p.startedAt)
}
