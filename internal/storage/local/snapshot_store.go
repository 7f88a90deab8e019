// Package local archives failed-page snapshots on the local filesystem.
package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// Config captures the parameters for the local snapshot store.
type Config struct {
	// BaseDir is the root directory where snapshots are written.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// SnapshotStore writes page HTML to the local filesystem.
type SnapshotStore struct {
	baseDir string
	now     func() time.Time
}

var _ scraper.SnapshotStore = (*SnapshotStore)(nil)

// New creates a filesystem-backed snapshot store, creating BaseDir if needed.
func New(cfg Config) (*SnapshotStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	return &SnapshotStore{
		baseDir: cfg.BaseDir,
		now:     time.Now,
	}, nil
}

// PutSnapshot writes the page HTML and returns a file:// URI.
func (s *SnapshotStore) PutSnapshot(_ context.Context, contributorNumber string, html []byte) (string, error) {
	if strings.TrimSpace(contributorNumber) == "" {
		return "", fmt.Errorf("contributor number is required")
	}

	fullPath := filepath.Join(s.baseDir, snapshotPath(contributorNumber, s.now()))

	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(fullPath, html, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return fmt.Sprintf("file://%s", fullPath), nil
}

// snapshotPath keys snapshots by contributor number and capture time so
// repeated failures never overwrite each other.
func snapshotPath(contributorNumber string, ts time.Time) string {
	clean := strings.NewReplacer(".", "", "-", "", "/", "", " ", "").Replace(contributorNumber)
	return filepath.Join(clean, ts.UTC().Format("20060102T150405Z")+".html")
}
