// Package memory provides in-memory store implementations for development
// and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// SnapshotStore keeps page HTML in memory and returns pseudo URIs.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string][][]byte
}

var _ scraper.SnapshotStore = (*SnapshotStore)(nil)

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{data: make(map[string][][]byte)}
}

// PutSnapshot keeps the HTML in memory and returns a memory:// URI.
func (s *SnapshotStore) PutSnapshot(_ context.Context, contributorNumber string, html []byte) (string, error) {
	if contributorNumber == "" {
		return "", fmt.Errorf("contributor number is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[contributorNumber] = append(s.data[contributorNumber], append([]byte(nil), html...))
	return fmt.Sprintf("memory://%s/%d", contributorNumber, len(s.data[contributorNumber])-1), nil
}

// Snapshots returns the captures stored for a contributor number.
func (s *SnapshotStore) Snapshots(contributorNumber string) [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, 0, len(s.data[contributorNumber]))
	for _, b := range s.data[contributorNumber] {
		out = append(out, append([]byte(nil), b...))
	}
	return out
}
