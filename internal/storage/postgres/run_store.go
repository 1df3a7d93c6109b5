package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashmod/panels/internal/store"
)

// RunStore implements store.RunRepository using Postgres.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore creates a RunStore over an existing pool.
func NewRunStore(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "harvest_runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: p, table: table}, nil
}

// EnsureSchema creates the run table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	cached        bigint NOT NULL DEFAULT 0,
	fetched       bigint NOT NULL DEFAULT 0,
	errors        bigint NOT NULL DEFAULT 0,
	total         bigint NOT NULL DEFAULT 0,
	error_message text
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// StartRun inserts a running row; an existing row is left untouched.
func (s *RunStore) StartRun(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, id, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to insert run start: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (s *RunStore) FinishRun(
	ctx context.Context,
	id uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counters store.RunCounters,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, cached = $3, fetched = $4, errors = $5, total = $6, error_message = $7
		WHERE id = $8;
	`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		finishedAt, string(status),
		counters.Cached, counters.Fetched, counters.Errors, counters.Total,
		errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListRuns returns the newest runs first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT id, started_at, finished_at, status, cached, fetched, errors, total, error_message
		FROM %s
		ORDER BY started_at DESC
		LIMIT $1;
	`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var run store.Run
		var status string
		if err := rows.Scan(
			&run.ID,
			&run.StartedAt,
			&run.FinishedAt,
			&status,
			&run.Counters.Cached,
			&run.Counters.Fetched,
			&run.Counters.Errors,
			&run.Counters.Total,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Status = store.RunStatus(status)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}
