package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/tributolabs/iptu-scraper/internal/progress"
	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// StoreSink mirrors batch progress into the batch store. Within one
// consumed batch only the latest counters per batch ID are written, so
// a burst of events costs one update each.
type StoreSink struct {
	store scraper.BatchStore
}

var _ progress.Sink = (*StoreSink)(nil)

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store scraper.BatchStore) (*StoreSink, error) {
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	return &StoreSink{store: store}, nil
}

// Consume collapses BATCH_PROGRESS events to the newest per batch and
// persists them.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	latest := make(map[[16]byte]progress.Event)
	var order [][16]byte
	for _, evt := range batch {
		if evt.Stage != progress.StageBatchProgress {
			continue
		}
		if _, seen := latest[evt.BatchID]; !seen {
			order = append(order, evt.BatchID)
		}
		latest[evt.BatchID] = evt
	}

	var errs []error
	for _, id := range order {
		evt := latest[id]
		snap := scraper.BatchSnapshot{
			ID:        evt.BatchUUID().String(),
			Total:     evt.Total,
			Processed: evt.Processed,
			Succeeded: evt.Succeeded,
			Failed:    evt.Failed,
			Status:    scraper.BatchProcessing,
		}
		if evt.Processed == evt.Total {
			ts := evt.TS
			snap.Status = scraper.BatchCompleted
			snap.CompletedAt = &ts
		}
		if err := s.store.UpdateBatch(ctx, snap); err != nil {
			errs = append(errs, fmt.Errorf("update batch %s: %w", snap.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op; the store is owned by the caller.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
