// Package memory collects published results in memory for development
// and tests.
package memory

import (
	"context"
	"sync"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// Publisher records results instead of sending them anywhere.
type Publisher struct {
	mu        sync.Mutex
	published []scraper.ScrapeResult
}

var _ scraper.ResultSink = (*Publisher)(nil)

// New creates an empty in-memory publisher.
func New() *Publisher {
	return &Publisher{}
}

// Upload records the result.
func (p *Publisher) Upload(_ context.Context, result scraper.ScrapeResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, result)
	return nil
}

// Published returns a copy of everything recorded so far.
func (p *Publisher) Published() []scraper.ScrapeResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]scraper.ScrapeResult(nil), p.published...)
}

// Close is a no-op kept for symmetry with the Pub/Sub publisher.
func (p *Publisher) Close() {}
