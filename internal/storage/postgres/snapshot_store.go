// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashmod/panels/internal/snapshot"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// NewPool opens a pgx pool from cfg.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// SnapshotStore keeps the snapshot table as one row per date. Save only writes rows
// that changed since the last Load or Save; rows are never deleted.
type SnapshotStore struct {
	pool  pool
	table string

	mu    sync.Mutex
	saved map[string]snapshot.Entry
}

// NewSnapshotStore constructs a store over an existing pool.
func NewSnapshotStore(p pool, table string) (*SnapshotStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "snapshots"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SnapshotStore{pool: p, table: table, saved: map[string]snapshot.Entry{}}, nil
}

// EnsureSchema creates the table when it does not exist.
func (s *SnapshotStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	strip_date text PRIMARY KEY,
	image_url  text NOT NULL,
	title      text NOT NULL,
	archive_ts text NOT NULL DEFAULT '',
	updated_at timestamptz NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Load reads every row.
func (s *SnapshotStore) Load(ctx context.Context) (map[string]snapshot.Entry, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT strip_date, image_url, title, archive_ts FROM %s`, s.table))
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	entries := map[string]snapshot.Entry{}
	for rows.Next() {
		var date string
		var e snapshot.Entry
		if err := rows.Scan(&date, &e.ImageURL, &e.Title, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		entries[date] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}

	s.mu.Lock()
	s.saved = copyEntries(entries)
	s.mu.Unlock()
	return entries, nil
}

// Save upserts the rows that differ from what this store last saw, in one transaction.
func (s *SnapshotStore) Save(ctx context.Context, entries map[string]snapshot.Entry) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := make([]string, 0)
	for date, e := range entries {
		if prev, ok := s.saved[date]; !ok || prev != e {
			changed = append(changed, date)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	sort.Strings(changed)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot save: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := fmt.Sprintf(`
INSERT INTO %s (strip_date, image_url, title, archive_ts, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (strip_date) DO UPDATE
SET image_url = EXCLUDED.image_url,
	title = EXCLUDED.title,
	archive_ts = EXCLUDED.archive_ts,
	updated_at = now()`, s.table)
	for _, date := range changed {
		e := entries[date]
		if _, err = tx.Exec(ctx, query, date, e.ImageURL, e.Title, e.Timestamp); err != nil {
			return fmt.Errorf("upsert snapshot %s: %w", date, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot save: %w", err)
	}
	for _, date := range changed {
		s.saved[date] = entries[date]
	}
	return nil
}

func copyEntries(in map[string]snapshot.Entry) map[string]snapshot.Entry {
	out := make(map[string]snapshot.Entry, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
