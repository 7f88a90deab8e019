package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

func TestJobStoreClaimAndRelease(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	store.Add(
		scraper.Job{ContributorNumber: "1"},
		scraper.Job{ContributorNumber: "2"},
		scraper.Job{ContributorNumber: "3"},
	)

	claimed, err := store.ClaimPending(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	require.Equal(t, scraper.JobClaimed, claimed[0].Status)
	require.Equal(t, 1, store.PendingCount())

	result := scraper.ScrapeResult{ContributorNumber: "1", Success: true}
	require.NoError(t, store.Release(context.Background(), claimed[0], result))

	got, ok := store.Released("1")
	require.True(t, ok)
	require.True(t, got.Success)
}

func TestJobStorePriorityJumpsQueue(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	store.Add(scraper.Job{ContributorNumber: "1"})
	store.Add(scraper.Job{ContributorNumber: "9", Priority: true})

	claimed, err := store.ClaimPending(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, "9", claimed[0].ContributorNumber)
}

func TestJobStoreClaimMoreThanPending(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	store.Add(scraper.Job{ContributorNumber: "1"})

	claimed, err := store.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Zero(t, store.PendingCount())

	_, err = store.ClaimPending(context.Background(), 0)
	require.Error(t, err)
}

func TestJobStoreListPendingDoesNotClaim(t *testing.T) {
	t.Parallel()

	store := NewJobStore()
	store.Add(
		scraper.Job{ContributorNumber: "1"},
		scraper.Job{ContributorNumber: "2"},
	)

	jobs, err := store.ListPending(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, 2, store.PendingCount())
}

func TestSnapshotStoreKeepsCopies(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	html := []byte("<html>blocked</html>")

	uri, err := store.PutSnapshot(context.Background(), "12345678901", html)
	require.NoError(t, err)
	require.Equal(t, "memory://12345678901/0", uri)

	html[0] = 'X'
	snaps := store.Snapshots("12345678901")
	require.Len(t, snaps, 1)
	require.Equal(t, byte('<'), snaps[0][0])

	_, err = store.PutSnapshot(context.Background(), "", nil)
	require.Error(t, err)
}
