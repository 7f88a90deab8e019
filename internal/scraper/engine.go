package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tributolabs/iptu-scraper/internal/progress"
	"github.com/tributolabs/iptu-scraper/internal/telemetry"
)

// EngineConfig tunes batch dispatch.
type EngineConfig struct {
	// Concurrency caps how many jobs run per chunk.
	Concurrency int
	// RateLimitPerHour caps dispatched jobs per hour; 0 disables the cap.
	RateLimitPerHour int
	// WorkerID tags results with the process identity.
	WorkerID string
	// CooldownNotifyEvery spaces progress notifications while waiting out
	// a cooldown (default 2m).
	CooldownNotifyEvery time.Duration
	// ChunkDelayMin/Max bound the pause between chunks (default 8s-12s).
	ChunkDelayMin time.Duration
	ChunkDelayMax time.Duration
	// SnapshotOnFailure archives page HTML for failed extractions when a
	// snapshot store is wired.
	SnapshotOnFailure bool
}

// Deps collects the engine's collaborators.
type Deps struct {
	Pool      SessionPool
	Extractor Extractor
	Source    JobSource
	Sink      ResultSink
	Batches   BatchStore
	Snapshots SnapshotStore
	Tracker   *FailureTracker
	Pacer     Pacing
	Clock     Clock
	Emitter   progress.Emitter
	Logger    *zap.Logger
}

// Engine runs batches of jobs over a session pool with human-like pacing,
// an hourly rate cap, and a failure-triggered cooldown gate.
type Engine struct {
	cfg     EngineConfig
	deps    Deps
	limiter *rate.Limiter
}

// NewEngine validates the wiring and builds an Engine.
func NewEngine(cfg EngineConfig, deps Deps) (*Engine, error) {
	if deps.Pool == nil || deps.Extractor == nil || deps.Source == nil {
		return nil, fmt.Errorf("engine requires a pool, extractor, and job source")
	}
	if deps.Tracker == nil || deps.Pacer == nil || deps.Clock == nil {
		return nil, fmt.Errorf("engine requires a tracker, pacer, and clock")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CooldownNotifyEvery <= 0 {
		cfg.CooldownNotifyEvery = 2 * time.Minute
	}
	if cfg.ChunkDelayMin <= 0 {
		cfg.ChunkDelayMin = 8 * time.Second
	}
	if cfg.ChunkDelayMax < cfg.ChunkDelayMin {
		cfg.ChunkDelayMax = cfg.ChunkDelayMin + 4*time.Second
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = noopEmitter{}
	}

	limit := rate.Inf
	burst := cfg.Concurrency
	if cfg.RateLimitPerHour > 0 {
		limit = rate.Limit(float64(cfg.RateLimitPerHour) / 3600.0)
	}
	return &Engine{
		cfg:     cfg,
		deps:    deps,
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// taskResult carries one finished job back to the collector.
type taskResult struct {
	job    Job
	result ScrapeResult
	html   []byte
	dur    time.Duration
}

type noopEmitter struct{}

func (noopEmitter) Emit(progress.Event) {}

// ProcessBatch runs all jobs to completion in concurrency-sized chunks.
// It returns the stats accumulated so far even when ctx is cancelled.
func (e *Engine) ProcessBatch(ctx context.Context, batchID string, jobs []Job) (Stats, error) {
	start := e.deps.Clock.Now()
	agg := NewBatchAggregator(e.deps.Clock, batchID, len(jobs))
	batchBytes := progress.ParseBatchID(batchID)
	log := e.deps.Logger.With(zap.String("batch_id", batchID))

	if e.deps.Batches != nil {
		if err := e.deps.Batches.CreateBatch(ctx, agg.Snapshot()); err != nil {
			return Stats{}, fmt.Errorf("create batch: %w", err)
		}
	}

	chunkSize := min(e.cfg.Concurrency, e.deps.Pool.Size())
	if chunkSize < 1 {
		chunkSize = 1
	}
	log.Info("starting batch",
		zap.Int("jobs", len(jobs)),
		zap.Int("chunk_size", chunkSize))

	// Shutdown is cooperative and honored only between chunks: once a
	// chunk is dispatched, its extractions and their bookkeeping (result
	// upload, job release) run to completion on an uncancellable context,
	// so a claimed job is never abandoned mid-flight.
	work := context.WithoutCancel(ctx)

	for offset := 0; offset < len(jobs); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return e.stats(agg, start), err
		}
		if err := e.waitCooldown(ctx, batchBytes, log); err != nil {
			return e.stats(agg, start), err
		}

		chunk := jobs[offset:min(offset+chunkSize, len(jobs))]
		e.runChunk(work, batchBytes, agg, chunk, log)

		if offset+chunkSize < len(jobs) {
			pause := e.deps.Pacer.Between(e.cfg.ChunkDelayMin, e.cfg.ChunkDelayMax)
			log.Debug("pausing between chunks", zap.Duration("pause", pause))
			if err := sleep(ctx, pause); err != nil {
				return e.stats(agg, start), err
			}
		}
	}

	stats := e.stats(agg, start)
	log.Info("batch finished",
		zap.Int("total", stats.Total),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", stats.Elapsed))
	return stats, nil
}

func (e *Engine) stats(agg *BatchAggregator, start time.Time) Stats {
	snap := agg.Snapshot()
	return Stats{
		Total:     snap.Total,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
		Elapsed:   e.deps.Clock.Now().Sub(start),
	}
}

// runChunk dispatches one chunk with staggered starts and collects every
// result before returning. The collector is the only goroutine touching
// the tracker, aggregator, and stores, so ordering stays deterministic.
func (e *Engine) runChunk(ctx context.Context, batchID [16]byte, agg *BatchAggregator, chunk []Job, log *zap.Logger) {
	results := make(chan taskResult, len(chunk))
	for i, job := range chunk {
		slot := i % e.deps.Pool.Size()
		go e.runJob(ctx, batchID, job, i, slot, results)
	}

	for range chunk {
		res := <-results
		e.collect(ctx, batchID, agg, res, log)
	}
}

func (e *Engine) runJob(ctx context.Context, batchID [16]byte, job Job, index, slot int, results chan<- taskResult) {
	res := ScrapeResult{
		ContributorNumber: job.ContributorNumber,
		Timestamp:         e.deps.Clock.Now(),
		WorkerID:          e.cfg.WorkerID,
		BatchID:           job.BatchID,
	}

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("panic: %v", r)
			results <- taskResult{job: job, result: res}
		}
	}()

	stagger := e.deps.Pacer.Stagger(index)
	telemetry.ObservePacingDelay(stagger)
	if err := sleep(ctx, stagger); err != nil {
		res.Error = err.Error()
		results <- taskResult{job: job, result: res}
		return
	}

	waitStart := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		res.Error = fmt.Sprintf("rate limiter: %v", err)
		results <- taskResult{job: job, result: res}
		return
	}
	telemetry.ObserveRateLimitWait(time.Since(waitStart))

	e.deps.Emitter.Emit(progress.Event{
		BatchID:     batchID,
		TS:          e.deps.Clock.Now(),
		Stage:       progress.StageScrapeStart,
		Contributor: job.ContributorNumber,
		Worker:      slot,
	})

	begin := e.deps.Clock.Now()
	sess, err := e.deps.Pool.Borrow(ctx, slot)
	if err != nil {
		res.Error = fmt.Sprintf("borrow session: %v", err)
		results <- taskResult{job: job, result: res}
		return
	}

	extraction, err := e.deps.Extractor.Extract(ctx, sess, job)
	res.Timestamp = e.deps.Clock.Now()
	dur := res.Timestamp.Sub(begin)
	if err != nil {
		if errors.Is(err, ErrSessionUnusable) {
			e.deps.Pool.Discard(slot)
		}
		res.Error = err.Error()
		res.RateLimited = errors.Is(err, ErrRateLimited)
		results <- taskResult{job: job, result: res, html: extraction.HTML, dur: dur}
		return
	}

	res.Success = true
	res.Record = extraction.Record
	results <- taskResult{job: job, result: res, dur: dur}
}

// collect serializes bookkeeping for one finished job: failure tracking,
// batch accounting, event emission, result upload, and job release.
func (e *Engine) collect(ctx context.Context, batchID [16]byte, agg *BatchAggregator, tr taskResult, log *zap.Logger) {
	now := e.deps.Clock.Now()
	if tr.result.Success {
		telemetry.ObserveJob(string(JobSucceeded))
		e.deps.Tracker.RecordSuccess()
		e.deps.Emitter.Emit(progress.Event{
			BatchID:     batchID,
			TS:          now,
			Stage:       progress.StageScrapeDone,
			Contributor: tr.result.ContributorNumber,
			Dur:         tr.dur,
		})
	} else {
		telemetry.ObserveJob(string(JobFailed))
		state := e.deps.Tracker.RecordFailure(now)
		e.deps.Emitter.Emit(progress.Event{
			BatchID:     batchID,
			TS:          now,
			Stage:       progress.StageScrapeError,
			Contributor: tr.result.ContributorNumber,
			RateLimited: tr.result.RateLimited,
			Note:        tr.result.Error,
			Dur:         tr.dur,
		})
		if state.Active {
			log.Warn("failure threshold reached, cooldown armed",
				zap.Time("until", state.Until))
		}
		e.snapshotFailure(ctx, tr, log)
	}

	snap := agg.Record(tr.result)
	e.deps.Emitter.Emit(progress.Event{
		BatchID:   batchID,
		TS:        now,
		Stage:     progress.StageBatchProgress,
		Total:     snap.Total,
		Processed: snap.Processed,
		Succeeded: snap.Succeeded,
		Failed:    snap.Failed,
	})

	if e.deps.Sink != nil {
		if err := e.deps.Sink.Upload(ctx, tr.result); err != nil {
			telemetry.ObserveUploadFailure()
			log.Error("result upload failed",
				zap.String("contributor", tr.result.ContributorNumber),
				zap.Error(err))
		}
	}
	if err := e.deps.Source.Release(ctx, tr.job, tr.result); err != nil {
		log.Error("job release failed",
			zap.String("contributor", tr.job.ContributorNumber),
			zap.Error(err))
	}
}

func (e *Engine) snapshotFailure(ctx context.Context, tr taskResult, log *zap.Logger) {
	if !e.cfg.SnapshotOnFailure || e.deps.Snapshots == nil || len(tr.html) == 0 {
		return
	}
	uri, err := e.deps.Snapshots.PutSnapshot(ctx, tr.job.ContributorNumber, tr.html)
	if err != nil {
		log.Warn("page snapshot failed", zap.Error(err))
		return
	}
	log.Debug("failed page archived", zap.String("uri", uri))
}

// waitCooldown blocks until any active cooldown expires, emitting a wait
// notification on each notify tick so operators can see the engine is alive.
func (e *Engine) waitCooldown(ctx context.Context, batchID [16]byte, log *zap.Logger) error {
	state := e.deps.Tracker.State(e.deps.Clock.Now())
	if !state.Active {
		return nil
	}

	remaining := state.Until.Sub(e.deps.Clock.Now())
	log.Warn("cooldown active, pausing dispatch",
		zap.Duration("remaining", remaining),
		zap.Time("until", state.Until))
	e.deps.Emitter.Emit(progress.Event{
		BatchID: batchID,
		TS:      e.deps.Clock.Now(),
		Stage:   progress.StageCooldownStart,
		Dur:     remaining,
	})

	ticker := time.NewTicker(e.cfg.CooldownNotifyEvery)
	defer ticker.Stop()

	for {
		state = e.deps.Tracker.State(e.deps.Clock.Now())
		if !state.Active {
			e.deps.Emitter.Emit(progress.Event{
				BatchID: batchID,
				TS:      e.deps.Clock.Now(),
				Stage:   progress.StageCooldownEnd,
			})
			log.Info("cooldown expired, resuming dispatch")
			return nil
		}

		wait := state.Until.Sub(e.deps.Clock.Now())
		if notify := e.cfg.CooldownNotifyEvery; wait > notify {
			wait = notify
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-ticker.C:
			timer.Stop()
			e.deps.Emitter.Emit(progress.Event{
				BatchID: batchID,
				TS:      e.deps.Clock.Now(),
				Stage:   progress.StageCooldownWait,
				Dur:     state.Until.Sub(e.deps.Clock.Now()),
			})
		case <-timer.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
