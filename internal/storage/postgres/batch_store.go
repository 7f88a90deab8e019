package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/tributolabs/iptu-scraper/internal/scraper"
)

// ErrBatchNotFound is returned when a batch id has no row.
var ErrBatchNotFound = errors.New("batch not found")

// BatchStoreConfig controls the Postgres connection pool used for batch rows.
type BatchStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// BatchStore implements scraper.BatchStore on a Postgres table.
type BatchStore struct {
	pool  querier
	table string
}

var _ scraper.BatchStore = (*BatchStore)(nil)

// NewBatchStore creates a Postgres-backed BatchStore using the provided config.
func NewBatchStore(ctx context.Context, cfg BatchStoreConfig) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := newPool(ctx, cfg.DSN, cfg.MaxConns, cfg.MinConns, cfg.MaxConnLifetime)
	if err != nil {
		return nil, err
	}
	return NewBatchStoreWithPool(pool, cfg.Table)
}

// NewBatchStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewBatchStoreWithPool(pool querier, table string) (*BatchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "batches"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BatchStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *BatchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateBatch inserts the initial row for a batch run.
func (s *BatchStore) CreateBatch(ctx context.Context, snap scraper.BatchSnapshot) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("batch store is not configured")
	}
	if snap.ID == "" {
		return fmt.Errorf("batch id is required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	total,
	processados,
	sucesso,
	erros,
	status,
	started_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)

	args := []any{
		snap.ID,
		snap.Total,
		snap.Processed,
		snap.Succeeded,
		snap.Failed,
		string(snap.Status),
		snap.StartedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// UpdateBatch writes current progress counters for a batch.
func (s *BatchStore) UpdateBatch(ctx context.Context, snap scraper.BatchSnapshot) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("batch store is not configured")
	}
	if snap.ID == "" {
		return fmt.Errorf("batch id is required")
	}

	query := fmt.Sprintf(`
UPDATE %s SET
	processados = $1,
	sucesso = $2,
	erros = $3,
	status = $4,
	completed_at = $5
WHERE id = $6`, s.table)

	var completedAt any
	if snap.CompletedAt != nil {
		completedAt = *snap.CompletedAt
	}

	tag, err := s.pool.Exec(ctx, query, snap.Processed, snap.Succeeded, snap.Failed, string(snap.Status), completedAt, snap.ID)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", snap.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update batch %s: no row updated", snap.ID)
	}
	return nil
}

// GetBatch loads the current row for a batch.
func (s *BatchStore) GetBatch(ctx context.Context, id string) (scraper.BatchSnapshot, error) {
	if s == nil || s.pool == nil {
		return scraper.BatchSnapshot{}, fmt.Errorf("batch store is not configured")
	}
	if id == "" {
		return scraper.BatchSnapshot{}, fmt.Errorf("batch id is required")
	}

	query := fmt.Sprintf(`
SELECT id, total, processados, sucesso, erros, status, started_at, completed_at
FROM %s
WHERE id = $1`, s.table)

	var (
		snap   scraper.BatchSnapshot
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&snap.ID,
		&snap.Total,
		&snap.Processed,
		&snap.Succeeded,
		&snap.Failed,
		&status,
		&snap.StartedAt,
		&snap.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return scraper.BatchSnapshot{}, ErrBatchNotFound
	}
	if err != nil {
		return scraper.BatchSnapshot{}, fmt.Errorf("get batch %s: %w", id, err)
	}
	snap.Status = scraper.BatchStatus(status)
	return snap, nil
}
