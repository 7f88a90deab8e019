// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// querier is the subset of pgxpool.Pool the stores need; pgxmock
// satisfies it in tests.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	JobsTable       string
	PriorityTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// JobStore implements scraper.JobSource on two Postgres tables, one for
// priority work and one for the default queue.
type JobStore struct {
	pool          querier
	jobsTable     string
	priorityTable string
}

var _ scraper.JobSource = (*JobStore)(nil)

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := newPool(ctx, cfg.DSN, cfg.MaxConns, cfg.MinConns, cfg.MaxConnLifetime)
	if err != nil {
		return nil, err
	}
	return NewJobStoreWithPool(pool, cfg.JobsTable, cfg.PriorityTable)
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool querier, jobsTable, priorityTable string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if jobsTable == "" {
		jobsTable = "scrape_jobs"
	}
	if priorityTable == "" {
		priorityTable = "scrape_jobs_priority"
	}
	for _, table := range []string{jobsTable, priorityTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &JobStore{pool: pool, jobsTable: jobsTable, priorityTable: priorityTable}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ClaimPending atomically claims up to limit pending jobs, draining the
// priority table before the default one. SKIP LOCKED keeps concurrent
// workers from claiming the same rows.
func (s *JobStore) ClaimPending(ctx context.Context, limit int) ([]scraper.Job, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("job store is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("claim limit must be > 0")
	}

	jobs, err := s.claimFrom(ctx, s.priorityTable, true, limit)
	if err != nil {
		return nil, err
	}
	if remaining := limit - len(jobs); remaining > 0 {
		defaults, err := s.claimFrom(ctx, s.jobsTable, false, remaining)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, defaults...)
	}
	return jobs, nil
}

func (s *JobStore) claimFrom(ctx context.Context, table string, priority bool, limit int) ([]scraper.Job, error) {
	query := fmt.Sprintf(`
UPDATE %s SET
	status = 'claimed',
	claimed_at = now()
WHERE numero_contribuinte IN (
	SELECT numero_contribuinte FROM %s
	WHERE status = 'pending'
	ORDER BY created_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING numero_contribuinte, COALESCE(batch_id::text, ''), claimed_at`, table, table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs from %s: %w", table, err)
	}
	defer rows.Close()

	var jobs []scraper.Job
	for rows.Next() {
		job := scraper.Job{Status: scraper.JobClaimed, Priority: priority}
		if err := rows.Scan(&job.ContributorNumber, &job.BatchID, &job.ClaimedAt); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed jobs: %w", err)
	}
	return jobs, nil
}

// ListPending returns up to limit pending jobs without claiming them,
// priority table first. Useful for inspecting the queue.
func (s *JobStore) ListPending(ctx context.Context, limit int) ([]scraper.Job, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("job store is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("list limit must be > 0")
	}

	jobs, err := s.listFrom(ctx, s.priorityTable, true, limit)
	if err != nil {
		return nil, err
	}
	if remaining := limit - len(jobs); remaining > 0 {
		defaults, err := s.listFrom(ctx, s.jobsTable, false, remaining)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, defaults...)
	}
	return jobs, nil
}

func (s *JobStore) listFrom(ctx context.Context, table string, priority bool, limit int) ([]scraper.Job, error) {
	query := fmt.Sprintf(`
SELECT numero_contribuinte, COALESCE(batch_id::text, '')
FROM %s
WHERE status = 'pending'
ORDER BY created_at
LIMIT $1`, table)

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs from %s: %w", table, err)
	}
	defer rows.Close()

	var jobs []scraper.Job
	for rows.Next() {
		job := scraper.Job{Status: scraper.JobPending, Priority: priority}
		if err := rows.Scan(&job.ContributorNumber, &job.BatchID); err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}
	return jobs, nil
}

// Release records the terminal status for a claimed job in its table.
func (s *JobStore) Release(ctx context.Context, job scraper.Job, result scraper.ScrapeResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}

	table := s.jobsTable
	if job.Priority {
		table = s.priorityTable
	}
	status := scraper.JobFailed
	if result.Success {
		status = scraper.JobSucceeded
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1,
	last_error = NULLIF($2, ''),
	processed_at = $3
WHERE numero_contribuinte = $4`, table)

	tag, err := s.pool.Exec(ctx, query, string(status), result.Error, result.Timestamp, job.ContributorNumber)
	if err != nil {
		return fmt.Errorf("release job %s: %w", job.ContributorNumber, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("release job %s: no row updated", job.ContributorNumber)
	}
	return nil
}

func newPool(ctx context.Context, dsn string, maxConns, minConns int32, lifetime time.Duration) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}
	if lifetime > 0 {
		poolCfg.MaxConnLifetime = lifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}
