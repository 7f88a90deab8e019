package scraper

import "sync"

// BatchAggregator accumulates per-job outcomes for one batch and flips
// the batch to completed exactly once, when every job has been counted.
// Safe for concurrent use.
type BatchAggregator struct {
	clock Clock

	mu   sync.Mutex
	snap BatchSnapshot
}

// NewBatchAggregator starts accounting for a batch of total jobs.
func NewBatchAggregator(clock Clock, batchID string, total int) *BatchAggregator {
	return &BatchAggregator{
		clock: clock,
		snap: BatchSnapshot{
			ID:        batchID,
			Total:     total,
			Status:    BatchProcessing,
			StartedAt: clock.Now(),
		},
	}
}

// Record counts one finished job and returns the updated snapshot.
// Records past the batch total are ignored, so completion fires once.
func (a *BatchAggregator) Record(result ScrapeResult) BatchSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.snap.Processed >= a.snap.Total {
		return a.cloneLocked()
	}

	a.snap.Processed++
	if result.Success {
		a.snap.Succeeded++
	} else {
		a.snap.Failed++
	}

	if a.snap.Processed == a.snap.Total {
		done := a.clock.Now()
		a.snap.Status = BatchCompleted
		a.snap.CompletedAt = &done
	}
	return a.cloneLocked()
}

// Snapshot returns the current batch state.
func (a *BatchAggregator) Snapshot() BatchSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cloneLocked()
}

// Completed reports whether every job in the batch has been counted.
func (a *BatchAggregator) Completed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap.Status == BatchCompleted
}

func (a *BatchAggregator) cloneLocked() BatchSnapshot {
	snap := a.snap
	if a.snap.CompletedAt != nil {
		done := *a.snap.CompletedAt
		snap.CompletedAt = &done
	}
	return snap
}
