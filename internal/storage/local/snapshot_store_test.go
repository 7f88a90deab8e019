package local

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutSnapshotWritesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	store.now = func() time.Time {
		return time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	}

	uri, err := store.PutSnapshot(context.Background(), "123.456.7890-1", []byte("<html/>"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))
	require.Contains(t, uri, "12345678901")
	require.Contains(t, uri, "20260301T123000Z.html")

	body, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
	require.NoError(t, err)
	require.Equal(t, "<html/>", string(body))
}

func TestNewCreatesBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir() + "/nested/snapshots"
	_, err := New(Config{BaseDir: dir})
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestNewRejectsEmptyBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)
}

func TestPutSnapshotRequiresContributor(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.PutSnapshot(context.Background(), "  ", nil)
	require.Error(t, err)
}
