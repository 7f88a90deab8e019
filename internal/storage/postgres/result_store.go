package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// ResultStoreConfig controls the Postgres connection pool used for result rows.
type ResultStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// ResultStore implements scraper.ResultSink on a Postgres table.
type ResultStore struct {
	pool  querier
	table string
}

var _ scraper.ResultSink = (*ResultStore)(nil)

// NewResultStore creates a Postgres-backed ResultStore using the provided config.
func NewResultStore(ctx context.Context, cfg ResultStoreConfig) (*ResultStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := newPool(ctx, cfg.DSN, cfg.MaxConns, cfg.MinConns, cfg.MaxConnLifetime)
	if err != nil {
		return nil, err
	}
	return NewResultStoreWithPool(pool, cfg.Table)
}

// NewResultStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewResultStoreWithPool(pool querier, table string) (*ResultStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "iptu_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *ResultStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upload inserts one result row. The parsed record travels as JSONB so
// downstream consumers see the field names the site uses.
func (s *ResultStore) Upload(ctx context.Context, result scraper.ScrapeResult) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("result store is not configured")
	}
	if result.ContributorNumber == "" {
		return fmt.Errorf("contributor number is required")
	}

	var recordJSON []byte
	if result.Record != nil {
		var err error
		recordJSON, err = json.Marshal(result.Record)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	numero_contribuinte,
	success,
	rate_limited,
	error,
	worker_id,
	batch_id,
	record,
	scraped_at
) VALUES (
	$1,$2,$3,NULLIF($4, ''),$5,NULLIF($6, '')::uuid,$7,$8
)`, s.table)

	args := []any{
		result.ContributorNumber,
		result.Success,
		result.RateLimited,
		result.Error,
		result.WorkerID,
		result.BatchID,
		recordJSON,
		result.Timestamp,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// ListResults returns the newest results for a contributor number, or
// the newest overall when contributorNumber is empty.
func (s *ResultStore) ListResults(ctx context.Context, contributorNumber string, limit int) ([]scraper.ScrapeResult, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("result store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
SELECT
	numero_contribuinte,
	success,
	rate_limited,
	COALESCE(error, ''),
	worker_id,
	COALESCE(batch_id::text, ''),
	record,
	scraped_at
FROM %s
WHERE ($1 = '' OR numero_contribuinte = $1)
ORDER BY scraped_at DESC
LIMIT $2`, s.table)

	rows, err := s.pool.Query(ctx, query, contributorNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []scraper.ScrapeResult
	for rows.Next() {
		var (
			res        scraper.ScrapeResult
			recordJSON []byte
		)
		if err := rows.Scan(
			&res.ContributorNumber,
			&res.Success,
			&res.RateLimited,
			&res.Error,
			&res.WorkerID,
			&res.BatchID,
			&recordJSON,
			&res.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if len(recordJSON) > 0 {
			var record scraper.Record
			if err := json.Unmarshal(recordJSON, &record); err != nil {
				return nil, fmt.Errorf("unmarshal record: %w", err)
			}
			res.Record = &record
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}
