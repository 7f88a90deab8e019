package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// JobStore is an in-memory work queue used for development runs and tests.
type JobStore struct {
	mu       sync.Mutex
	pending  []scraper.Job
	released map[string]scraper.ScrapeResult
}

var _ scraper.JobSource = (*JobStore)(nil)

// NewJobStore creates an empty in-memory job queue.
func NewJobStore() *JobStore {
	return &JobStore{released: make(map[string]scraper.ScrapeResult)}
}

// Add enqueues pending jobs. Priority jobs jump the queue.
func (s *JobStore) Add(jobs ...scraper.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		job.Status = scraper.JobPending
		if job.Priority {
			s.pending = append([]scraper.Job{job}, s.pending...)
		} else {
			s.pending = append(s.pending, job)
		}
	}
}

// ClaimPending pops up to limit jobs off the queue and marks them claimed.
func (s *JobStore) ClaimPending(_ context.Context, limit int) ([]scraper.Job, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("claim limit must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(limit, len(s.pending))
	claimed := make([]scraper.Job, 0, n)
	for _, job := range s.pending[:n] {
		job.Status = scraper.JobClaimed
		claimed = append(claimed, job)
	}
	s.pending = s.pending[n:]
	return claimed, nil
}

// ListPending returns up to limit pending jobs without claiming them.
func (s *JobStore) ListPending(_ context.Context, limit int) ([]scraper.Job, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("list limit must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := min(limit, len(s.pending))
	out := make([]scraper.Job, n)
	copy(out, s.pending[:n])
	return out, nil
}

// Release records the terminal result for a claimed job.
func (s *JobStore) Release(_ context.Context, job scraper.Job, result scraper.ScrapeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released[job.ContributorNumber] = result
	return nil
}

// Released returns the recorded result for a contributor number.
func (s *JobStore) Released(contributorNumber string) (scraper.ScrapeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.released[contributorNumber]
	return res, ok
}

// PendingCount reports how many jobs remain unclaimed.
func (s *JobStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
