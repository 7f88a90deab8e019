package scraper

import (
	"context"
	"errors"
	"time"
)

// ErrSessionUnusable signals that a browser session is broken and its
// pool slot should be discarded and lazily recreated.
var ErrSessionUnusable = errors.New("session unusable")

// ErrRateLimited marks an extraction failure that looks like site
// throttling rather than bad input.
var ErrRateLimited = errors.New("rate limited by target site")

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// Session is one pooled browser session with a stable identity.
type Session interface {
	// ID is the pool slot index.
	ID() int
	// UserAgent reports the fingerprint user agent assigned to this session.
	UserAgent() string
	// Context returns the browser tab context used to run CDP actions.
	Context() context.Context
}

// SessionPool hands out long-lived browser sessions by slot index.
type SessionPool interface {
	Size() int
	// Borrow returns the session for a slot, creating it if needed.
	Borrow(ctx context.Context, slot int) (Session, error)
	// Discard tears down a slot so the next Borrow recreates it.
	Discard(slot int)
	Shutdown(ctx context.Context)
}

// Pacing supplies the randomized waits the engine applies to staggered
// task starts and chunk pauses. Pacer is the production implementation;
// tests substitute a zero-delay one.
type Pacing interface {
	Stagger(i int) time.Duration
	Between(lo, hi time.Duration) time.Duration
}

// JobSource supplies pending jobs and records their terminal state.
type JobSource interface {
	// ClaimPending atomically marks up to limit pending jobs as claimed
	// and returns them, priority jobs first.
	ClaimPending(ctx context.Context, limit int) ([]Job, error)
	// Release records the terminal status for a claimed job.
	Release(ctx context.Context, job Job, result ScrapeResult) error
}

// Extractor performs the site interaction for one job on one session.
type Extractor interface {
	Extract(ctx context.Context, sess Session, job Job) (Extraction, error)
}

// ResultSink persists or forwards finished results.
type ResultSink interface {
	Upload(ctx context.Context, result ScrapeResult) error
}

// BatchStore persists batch lifecycle rows.
type BatchStore interface {
	CreateBatch(ctx context.Context, snap BatchSnapshot) error
	UpdateBatch(ctx context.Context, snap BatchSnapshot) error
}

// SnapshotStore archives raw page HTML for failed extractions.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, contributorNumber string, html []byte) (string, error)
}
