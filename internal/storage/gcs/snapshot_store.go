// Package gcs archives failed-page snapshots in Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key (default "snapshots").
	Prefix string
}

// SnapshotStore writes page HTML to a configured GCS bucket.
type SnapshotStore struct {
	client *storage.Client
	bucket string
	prefix string
	now    func() time.Time
}

var _ scraper.SnapshotStore = (*SnapshotStore)(nil)

// New creates a GCS-backed snapshot store.
func New(client *storage.Client, cfg Config) (*SnapshotStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "snapshots"
	}
	return &SnapshotStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// PutSnapshot uploads the page HTML and returns a gs:// URI.
func (s *SnapshotStore) PutSnapshot(ctx context.Context, contributorNumber string, html []byte) (string, error) {
	if strings.TrimSpace(contributorNumber) == "" {
		return "", fmt.Errorf("contributor number is required")
	}

	clean := strings.NewReplacer(".", "", "-", "", "/", "", " ", "").Replace(contributorNumber)
	key := path.Join(s.prefix, clean, s.now().UTC().Format("20060102T150405Z")+".html")

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	writer.ContentType = "text/html"
	if _, err := writer.Write(html); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return "", fmt.Errorf("write snapshot: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}
