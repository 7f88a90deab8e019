package scraper

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/tributolabs/iptu-scraper/internal/progress"
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type stubSession struct{ id int }

func (s stubSession) ID() int                  { return s.id }
func (s stubSession) UserAgent() string        { return "test-agent" }
func (s stubSession) Context() context.Context { return context.Background() }

type stubPool struct {
	size int

	mu        sync.Mutex
	borrowed  []int
	discarded []int
}

func (p *stubPool) Size() int { return p.size }

func (p *stubPool) Borrow(_ context.Context, slot int) (Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.borrowed = append(p.borrowed, slot)
	return stubSession{id: slot}, nil
}

func (p *stubPool) Discard(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discarded = append(p.discarded, slot)
}

func (p *stubPool) Shutdown(context.Context) {}

// scriptExtractor maps contributor numbers to scripted outcomes.
type scriptExtractor struct {
	fail map[string]error
	html []byte

	mu    sync.Mutex
	calls int
}

func (x *scriptExtractor) Extract(_ context.Context, _ Session, job Job) (Extraction, error) {
	x.mu.Lock()
	x.calls++
	x.mu.Unlock()

	if err, ok := x.fail[job.ContributorNumber]; ok {
		return Extraction{HTML: x.html}, err
	}
	return Extraction{Record: &Record{ContributorNumber: job.ContributorNumber}}, nil
}

// signalingExtractor cancels the run context mid-extraction, the way a
// shutdown signal arrives while a job is in flight.
type signalingExtractor struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	ctxErrs []error
}

func (x *signalingExtractor) Extract(ctx context.Context, _ Session, job Job) (Extraction, error) {
	x.cancel()
	x.mu.Lock()
	x.ctxErrs = append(x.ctxErrs, ctx.Err())
	x.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	return Extraction{Record: &Record{ContributorNumber: job.ContributorNumber}}, nil
}

// zeroPacer removes all waits so multi-slot chunks can be tested fast.
type zeroPacer struct{}

func (zeroPacer) Stagger(int) time.Duration                 { return 0 }
func (zeroPacer) Between(lo, _ time.Duration) time.Duration { return lo }

type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, Session, Job) (Extraction, error) {
	panic("browser exploded")
}

type memSource struct {
	mu       sync.Mutex
	released []ScrapeResult
	ctxErrs  []error
}

func (s *memSource) ClaimPending(context.Context, int) ([]Job, error) { return nil, nil }

func (s *memSource) Release(ctx context.Context, _ Job, result ScrapeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, result)
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	return nil
}

type memSink struct {
	mu      sync.Mutex
	uploads []ScrapeResult
	err     error
}

func (s *memSink) Upload(_ context.Context, result ScrapeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.uploads = append(s.uploads, result)
	return nil
}

type memBatchStore struct {
	mu        sync.Mutex
	created   []BatchSnapshot
	updated   []BatchSnapshot
	createErr error
}

func (s *memBatchStore) CreateBatch(_ context.Context, snap BatchSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, snap)
	return nil
}

func (s *memBatchStore) UpdateBatch(_ context.Context, snap BatchSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updated = append(s.updated, snap)
	return nil
}

type memSnapshots struct {
	mu   sync.Mutex
	keys []string
}

func (s *memSnapshots) PutSnapshot(_ context.Context, contributorNumber string, _ []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, contributorNumber)
	return "mem://" + contributorNumber, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *captureEmitter) Emit(evt progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) stages() []progress.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]progress.Stage, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.Stage)
	}
	return out
}

type engineFixture struct {
	engine  *Engine
	pool    *stubPool
	source  *memSource
	sink    *memSink
	batches *memBatchStore
	snaps   *memSnapshots
	emitter *captureEmitter
	tracker *FailureTracker
}

func newEngineFixture(t *testing.T, cfg EngineConfig, extractor Extractor, tracker *FailureTracker) *engineFixture {
	t.Helper()

	if tracker == nil {
		tracker = NewFailureTracker(TrackerConfig{})
	}
	fx := &engineFixture{
		pool:    &stubPool{size: 1},
		source:  &memSource{},
		sink:    &memSink{},
		batches: &memBatchStore{},
		snaps:   &memSnapshots{},
		emitter: &captureEmitter{},
		tracker: tracker,
	}
	if cfg.ChunkDelayMin == 0 {
		cfg.ChunkDelayMin = time.Millisecond
		cfg.ChunkDelayMax = 2 * time.Millisecond
	}
	engine, err := NewEngine(cfg, Deps{
		Pool:      fx.pool,
		Extractor: extractor,
		Source:    fx.source,
		Sink:      fx.sink,
		Batches:   fx.batches,
		Snapshots: fx.snaps,
		Tracker:   tracker,
		Pacer:     NewPacer(rand.NewSource(1)),
		Clock:     realClock{},
		Emitter:   fx.emitter,
	})
	require.NoError(t, err)
	fx.engine = engine
	return fx
}

func testJobs(batchID string, numbers ...string) []Job {
	jobs := make([]Job, 0, len(numbers))
	for _, n := range numbers {
		jobs = append(jobs, Job{ContributorNumber: n, Status: JobClaimed, BatchID: batchID})
	}
	return jobs
}

func TestProcessBatchAllSucceed(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, EngineConfig{Concurrency: 1, WorkerID: "w1"}, &scriptExtractor{}, nil)
	batchID := uuid.NewString()

	stats, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1", "2", "3"))
	require.NoError(t, err)
	require.Equal(t, Stats{Total: 3, Succeeded: 3, Failed: 0, Elapsed: stats.Elapsed}, stats)

	require.Len(t, fx.source.released, 3)
	require.Len(t, fx.sink.uploads, 3)
	require.Len(t, fx.batches.created, 1)
	for _, res := range fx.sink.uploads {
		require.True(t, res.Success)
		require.Equal(t, "w1", res.WorkerID)
		require.NotNil(t, res.Record)
	}

	stages := fx.emitter.stages()
	counts := map[progress.Stage]int{}
	for _, s := range stages {
		counts[s]++
	}
	require.Equal(t, 3, counts[progress.StageScrapeStart])
	require.Equal(t, 3, counts[progress.StageScrapeDone])
	require.Equal(t, 3, counts[progress.StageBatchProgress])
}

func TestProcessBatchFailuresTriggerCooldown(t *testing.T) {
	t.Parallel()

	tracker := NewFailureTracker(TrackerConfig{
		Window:    time.Minute,
		Threshold: 2,
		Cooldown:  80 * time.Millisecond,
	})
	extractor := &scriptExtractor{fail: map[string]error{
		"1": errors.New("boom"),
		"2": errors.New("boom"),
	}}
	fx := newEngineFixture(t, EngineConfig{
		Concurrency:         1,
		CooldownNotifyEvery: 20 * time.Millisecond,
	}, extractor, tracker)
	batchID := uuid.NewString()

	start := time.Now()
	stats, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1", "2", "3"))
	require.NoError(t, err)
	require.Equal(t, 2, stats.Failed)
	require.Equal(t, 1, stats.Succeeded)

	// The gate before the third chunk must have waited out the cooldown.
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	stages := fx.emitter.stages()
	require.Contains(t, stages, progress.StageCooldownStart)
	require.Contains(t, stages, progress.StageCooldownEnd)
}

func TestProcessBatchSuccessResetsTracker(t *testing.T) {
	t.Parallel()

	tracker := NewFailureTracker(TrackerConfig{
		Window:    time.Minute,
		Threshold: 2,
		Cooldown:  time.Hour,
	})
	// A success between the two failures keeps the threshold out of reach.
	extractor := &scriptExtractor{fail: map[string]error{
		"1": errors.New("boom"),
		"3": errors.New("boom"),
	}}
	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, extractor, tracker)
	batchID := uuid.NewString()

	done := make(chan struct{})
	go func() {
		defer close(done)
		stats, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1", "2", "3"))
		require.NoError(t, err)
		require.Equal(t, 2, stats.Failed)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("batch stalled, cooldown should never have armed")
	}
	require.False(t, tracker.State(time.Now()).Active)
}

func TestSessionUnusableDiscardsSlot(t *testing.T) {
	t.Parallel()

	extractor := &scriptExtractor{fail: map[string]error{
		"1": fmt.Errorf("tab crashed: %w", ErrSessionUnusable),
	}}
	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, extractor, nil)
	batchID := uuid.NewString()

	_, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1"))
	require.NoError(t, err)
	require.Equal(t, []int{0}, fx.pool.discarded)
}

func TestFailedPageIsSnapshotted(t *testing.T) {
	t.Parallel()

	extractor := &scriptExtractor{
		fail: map[string]error{"1": errors.New("fields missing")},
		html: []byte("<html>blocked</html>"),
	}
	fx := newEngineFixture(t, EngineConfig{Concurrency: 1, SnapshotOnFailure: true}, extractor, nil)
	batchID := uuid.NewString()

	_, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1"))
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, fx.snaps.keys)
}

func TestExtractorPanicBecomesFailedResult(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, panicExtractor{}, nil)
	batchID := uuid.NewString()

	stats, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1"))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Failed)
	require.Len(t, fx.source.released, 1)
	require.True(t, strings.HasPrefix(fx.source.released[0].Error, "panic:"))
}

func TestRateLimitedErrorIsTagged(t *testing.T) {
	t.Parallel()

	extractor := &scriptExtractor{fail: map[string]error{
		"1": fmt.Errorf("result fields absent: %w", ErrRateLimited),
	}}
	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, extractor, nil)
	batchID := uuid.NewString()

	_, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1"))
	require.NoError(t, err)
	require.Len(t, fx.source.released, 1)
	require.True(t, fx.source.released[0].RateLimited)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, &scriptExtractor{}, nil)
	batchID := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fx.engine.ProcessBatch(ctx, batchID, testJobs(batchID, "1", "2"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestShutdownSignalLetsChunkFinish(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	extractor := &signalingExtractor{cancel: cancel}
	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, extractor, nil)
	batchID := uuid.NewString()

	stats, err := fx.engine.ProcessBatch(ctx, batchID, testJobs(batchID, "1", "2"))

	// The signal lands while job 1 is in flight: that job still runs to
	// completion and is released on a live context; job 2's chunk is
	// never dispatched.
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, stats.Succeeded)
	require.Equal(t, 0, stats.Failed)
	require.Equal(t, []error{nil}, extractor.ctxErrs)
	require.Len(t, fx.source.released, 1)
	require.True(t, fx.source.released[0].Success)
	require.Equal(t, []error{nil}, fx.source.ctxErrs)
}

func TestChunkedDispatchUsesDistinctSlots(t *testing.T) {
	t.Parallel()

	pool := &stubPool{size: 3}
	source := &memSource{}
	batches := &memBatchStore{}
	engine, err := NewEngine(EngineConfig{
		Concurrency:   3,
		ChunkDelayMin: time.Millisecond,
		ChunkDelayMax: 2 * time.Millisecond,
	}, Deps{
		Pool:      pool,
		Extractor: &scriptExtractor{},
		Source:    source,
		Batches:   batches,
		Tracker:   NewFailureTracker(TrackerConfig{}),
		Pacer:     zeroPacer{},
		Clock:     realClock{},
	})
	require.NoError(t, err)

	batchID := uuid.NewString()
	jobs := testJobs(batchID, "0", "1", "2", "3", "4", "5", "6", "7", "8", "9")

	stats, err := engine.ProcessBatch(context.Background(), batchID, jobs)
	require.NoError(t, err)
	require.Equal(t, 10, stats.Total)
	require.Equal(t, 10, stats.Succeeded)
	require.Len(t, source.released, 10)

	// Chunks of [3,3,3,1]: each full chunk covers slots {0,1,2} with no
	// slot borrowed twice inside a chunk, and the tail lands on slot 0.
	require.Len(t, pool.borrowed, 10)
	for offset := 0; offset < 9; offset += 3 {
		require.ElementsMatch(t, []int{0, 1, 2}, pool.borrowed[offset:offset+3])
	}
	require.Equal(t, 0, pool.borrowed[9])

	require.Len(t, batches.created, 1)
	require.Equal(t, 10, batches.created[0].Total)
}

func TestCreateBatchFailureIsFatal(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, EngineConfig{Concurrency: 1}, &scriptExtractor{}, nil)
	fx.batches.createErr = errors.New("db down")
	batchID := uuid.NewString()

	_, err := fx.engine.ProcessBatch(context.Background(), batchID, testJobs(batchID, "1"))
	require.ErrorContains(t, err, "create batch")
	require.Empty(t, fx.source.released)
}

func TestNewEngineRequiresCoreDeps(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(EngineConfig{}, Deps{})
	require.Error(t, err)
}
