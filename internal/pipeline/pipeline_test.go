package pipeline_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/visiona/canlogd/internal/canbus"
	"github.com/visiona/canlogd/internal/candump"
	"github.com/visiona/canlogd/internal/pipeline"
	"github.com/visiona/canlogd/internal/stats"
)

// stepClock hands out strictly increasing timestamps in 1ms steps, so test
// expectations can recompute the exact value of each frame's stamp.
type stepClock struct {
	mu   sync.Mutex
	base float64
	n    int
}

func (c *stepClock) Now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.base + float64(c.n)*0.001
}

// memStore is an in-memory storage.Store.
type memStore struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (s *memStore) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *memStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *memStore) Close() error { return nil }
func (s *memStore) Name() string { return "mem" }

func (s *memStore) content() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

func (s *memStore) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// shortStore persists one byte short of every request.
type shortStore struct{ memStore }

func (s *shortStore) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return s.memStore.Write(p[:len(p)-1])
}

// blockStore blocks every Write until released.
type blockStore struct {
	memStore
	release chan struct{}
}

func (s *blockStore) Write(p []byte) (int, error) {
	<-s.release
	return s.memStore.Write(p)
}

// lockedBuffer is a goroutine-safe diagnostic sink.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) content() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func testConfig() pipeline.Config {
	return pipeline.Config{
		QueueCapacity:  32,
		PushTimeout:    5 * time.Millisecond,
		PopTimeout:     10 * time.Millisecond,
		IdleYield:      200 * time.Microsecond,
		BufferSize:     4096,
		SwapTimeout:    time.Second,
		PersistPoll:    time.Millisecond,
		FlushEvery:     1000,
		ReportInterval: 50 * time.Millisecond,
	}
}

func testFrame(i int) canbus.Frame {
	var f canbus.Frame
	f.ID = uint32(0x100 + i%0x10)
	f.Len = uint8(1 + i%8)
	for j := 0; j < int(f.Len); j++ {
		f.Data[j] = byte(i + j)
	}
	return f
}

// expectedLines renders what the pipeline should emit for frames stamped by
// a stepClock, one tick per frame.
func expectedLines(base float64, frames []canbus.Frame) []byte {
	var out []byte
	for i, f := range frames {
		ts := base + float64(i+1)*0.001
		out = candump.AppendLine(out, f, ts)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startPipeline(t *testing.T, pl *pipeline.Pipeline) (cancel func(), done chan error) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done = make(chan error, 1)
	go func() { done <- pl.Run(ctx) }()
	return cancelCtx, done
}

func stopPipeline(t *testing.T, cancel func(), done chan error) {
	t.Helper()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not shut down")
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	clk := &stepClock{base: 1}
	if _, err := pipeline.New(testConfig(), pipeline.Deps{Clock: clk}); err == nil {
		t.Fatal("New without bus should fail")
	}
	if _, err := pipeline.New(testConfig(), pipeline.Deps{Bus: canbus.NewMock()}); err == nil {
		t.Fatal("New without clock should fail")
	}
}

func TestRunTwiceFails(t *testing.T) {
	pl, err := pipeline.New(testConfig(), pipeline.Deps{Bus: canbus.NewMock(), Clock: &stepClock{base: 1}})
	if err != nil {
		t.Fatal(err)
	}
	cancel, done := startPipeline(t, pl)
	defer stopPipeline(t, cancel, done)

	waitFor(t, "pipeline to start", func() bool { return pl.Uptime() > 0 })
	if err := pl.Run(context.Background()); err == nil {
		t.Fatal("second Run should fail")
	}
}

// Every frame read from the bus reaches the persisted log, byte for byte,
// in capture order.
func TestPersistsAllFramesInOrder(t *testing.T) {
	const n = 100
	base := 1699999999.0

	bus := canbus.NewMock()
	frames := make([]canbus.Frame, n)
	for i := range frames {
		frames[i] = testFrame(i)
		bus.Feed(frames[i])
	}

	store := &memStore{}
	pl, err := pipeline.New(testConfig(), pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: base},
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "all frames formatted", func() bool { return pl.Stats().Captured == n })
	stopPipeline(t, cancel, done)

	want := expectedLines(base, frames)
	got := store.content()
	if !bytes.Equal(got, want) {
		t.Fatalf("persisted log mismatch:\n got %d bytes\nwant %d bytes\nfirst got line: %q",
			len(got), len(want), firstLine(got))
	}

	snap := pl.Stats()
	if snap.Dropped != 0 || snap.SwapDrops != 0 || snap.WriteErrors != 0 {
		t.Fatalf("unexpected loss counters: %+v", snap)
	}
	if snap.BytesOut != uint64(len(want)) {
		t.Fatalf("bytes persisted %d, appended %d", snap.BytesOut, len(want))
	}
	if store.flushCount() == 0 {
		t.Fatal("shutdown drain should flush at least once")
	}
}

// Storage unavailable at startup: zero persisted bytes, the diagnostic sink
// receives every rendered line, and the message counter still increments.
func TestDegradedModeDiagnosticSink(t *testing.T) {
	const n = 10
	base := 1699999999.0

	bus := canbus.NewMock()
	frames := make([]canbus.Frame, n)
	for i := range frames {
		frames[i] = testFrame(i)
		bus.Feed(frames[i])
	}

	diag := &lockedBuffer{}
	pl, err := pipeline.New(testConfig(), pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: base},
		Diag:  diag,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !pl.Degraded() {
		t.Fatal("pipeline with nil store should report degraded")
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "all frames formatted", func() bool { return pl.Stats().Captured == n })
	stopPipeline(t, cancel, done)

	if got, want := diag.content(), expectedLines(base, frames); !bytes.Equal(got, want) {
		t.Fatalf("diagnostic sink mismatch:\n got %q\nwant %q", got, want)
	}
	if snap := pl.Stats(); snap.BytesOut != 0 {
		t.Fatalf("degraded mode persisted %d bytes", snap.BytesOut)
	}
}

// Malformed bus reads are discarded and counted; the surrounding frames
// still arrive in order.
func TestBusReadErrorsDiscarded(t *testing.T) {
	base := 1699999999.0
	bus := canbus.NewMock()

	good := []canbus.Frame{testFrame(1), testFrame(2), testFrame(3)}
	bus.Feed(good[0])
	bus.FeedError(canbus.ErrBusRead)
	bus.Feed(good[1])
	bus.FeedError(canbus.ErrBusRead)
	bus.Feed(good[2])

	store := &memStore{}
	pl, err := pipeline.New(testConfig(), pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: base},
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "good frames formatted", func() bool { return pl.Stats().Captured == 3 })
	stopPipeline(t, cancel, done)

	if snap := pl.Stats(); snap.BusErrors != 2 {
		t.Fatalf("bus errors: got %d, want 2", snap.BusErrors)
	}
	if got, want := store.content(), expectedLines(base, good); !bytes.Equal(got, want) {
		t.Fatalf("log mismatch after discarded reads:\n got %q\nwant %q", got, want)
	}
}

// A short write is counted as a storage error and never retried; the
// buffer is released and the pipeline shuts down cleanly.
func TestShortWriteCountedNotRetried(t *testing.T) {
	bus := canbus.NewMock()
	for i := 0; i < 5; i++ {
		bus.Feed(testFrame(i))
	}

	store := &shortStore{}
	pl, err := pipeline.New(testConfig(), pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: 1},
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "frames formatted", func() bool { return pl.Stats().Captured == 5 })
	stopPipeline(t, cancel, done)

	snap := pl.Stats()
	if snap.WriteErrors == 0 {
		t.Fatal("short write not counted")
	}
	// One short write per swap, no retries: persisted bytes stay exactly
	// one short of each attempt.
	if snap.BytesOut >= uint64(len(store.content())+2) {
		t.Fatalf("retry suspected: bytes_out=%d persisted=%d", snap.BytesOut, len(store.content()))
	}
}

// The storage flush cadence fires every FlushEvery messages.
func TestFlushCadence(t *testing.T) {
	const n = 50
	bus := canbus.NewMock()
	for i := 0; i < n; i++ {
		bus.Feed(testFrame(i))
	}

	cfg := testConfig()
	cfg.BufferSize = 128 // force frequent swaps so the cadence check runs
	cfg.FlushEvery = 10

	store := &memStore{}
	pl, err := pipeline.New(cfg, pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: 1},
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "frames formatted", func() bool { return pl.Stats().Captured == n })
	stopPipeline(t, cancel, done)

	// At least every-10th-message flushes plus the final drain flush, with
	// slack for counter staleness.
	if flushes := store.flushCount(); flushes < 3 {
		t.Fatalf("flush cadence too sparse: %d flushes for %d messages", flushes, n)
	}
	if snap := pl.Stats(); snap.Flushes != uint64(store.flushCount()) {
		t.Fatalf("flush counter %d disagrees with store %d", snap.Flushes, store.flushCount())
	}
}

// A storage stall past the swap-wait bound drops lines instead of wedging
// the pipeline, and capture-side queue overflow drops frames instead of
// blocking the capture task.
func TestStalledStorageStaysLossyNotStuck(t *testing.T) {
	const n = 60
	bus := canbus.NewMock()
	for i := 0; i < n; i++ {
		bus.Feed(testFrame(i))
	}

	cfg := testConfig()
	cfg.BufferSize = 128
	cfg.SwapTimeout = 30 * time.Millisecond
	cfg.QueueCapacity = 4
	cfg.PushTimeout = time.Millisecond

	store := &blockStore{release: make(chan struct{})}
	pl, err := pipeline.New(cfg, pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: 1},
		Store: store,
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "swap-wait drops under stalled storage", func() bool {
		return pl.Stats().SwapDrops > 0
	})

	close(store.release)
	stopPipeline(t, cancel, done)

	snap := pl.Stats()
	if snap.SwapDrops == 0 {
		t.Fatal("stalled storage produced no swap-wait drops")
	}
	// Everything that was appended still adds up: persisted bytes equal
	// captured minus dropped lines, byte for byte.
	if snap.BytesOut != uint64(len(store.content())) {
		t.Fatalf("bytes_out=%d store=%d", snap.BytesOut, len(store.content()))
	}
}

// The reporter ticks with a rate derived from the monotonic counter.
func TestReporterPublishesSnapshots(t *testing.T) {
	bus := canbus.NewMock()
	for i := 0; i < 20; i++ {
		bus.Feed(testFrame(i))
	}

	var mu sync.Mutex
	var reports []stats.Snapshot
	cfg := testConfig()
	cfg.ReportInterval = 10 * time.Millisecond

	pl, err := pipeline.New(cfg, pipeline.Deps{
		Bus:   bus,
		Clock: &stepClock{base: 1},
		OnReport: func(s stats.Snapshot, rate uint64) {
			mu.Lock()
			reports = append(reports, s)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	cancel, done := startPipeline(t, pl)
	waitFor(t, "reporter ticks", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) >= 2 && reports[len(reports)-1].Captured == 20
	})
	stopPipeline(t, cancel, done)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(reports); i++ {
		if reports[i].Captured < reports[i-1].Captured {
			t.Fatalf("captured counter went backwards: %d then %d",
				reports[i-1].Captured, reports[i].Captured)
		}
	}
}

func firstLine(b []byte) []byte {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		return b[:i+1]
	}
	return b
}
