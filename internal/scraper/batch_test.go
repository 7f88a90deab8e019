package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestBatchAggregatorCounts(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	agg := NewBatchAggregator(clk, "batch-1", 3)

	snap := agg.Record(ScrapeResult{Success: true})
	require.Equal(t, 1, snap.Processed)
	require.Equal(t, 1, snap.Succeeded)
	require.Equal(t, BatchProcessing, snap.Status)
	require.Nil(t, snap.CompletedAt)

	snap = agg.Record(ScrapeResult{Success: false})
	require.Equal(t, 2, snap.Processed)
	require.Equal(t, 1, snap.Failed)
	require.False(t, agg.Completed())
}

func TestBatchAggregatorCompletesExactlyOnce(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	agg := NewBatchAggregator(clk, "batch-1", 2)

	agg.Record(ScrapeResult{Success: true})
	clk.advance(time.Minute)
	snap := agg.Record(ScrapeResult{Success: true})

	require.Equal(t, BatchCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt)
	require.Equal(t, clk.now, *snap.CompletedAt)
	require.True(t, agg.Completed())

	// Extra records past the total change nothing.
	clk.advance(time.Minute)
	extra := agg.Record(ScrapeResult{Success: false})
	require.Equal(t, 2, extra.Processed)
	require.Equal(t, 0, extra.Failed)
	require.Equal(t, snap.CompletedAt, extra.CompletedAt)
}

func TestBatchAggregatorSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	agg := NewBatchAggregator(clk, "batch-1", 1)
	agg.Record(ScrapeResult{Success: true})

	snap := agg.Snapshot()
	*snap.CompletedAt = time.Time{}
	require.Equal(t, clk.now, *agg.Snapshot().CompletedAt)
}
