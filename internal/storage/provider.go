// Package storage opens the configured snapshot table backend and the harvest run
// history that goes with it. Callers depend on snapshot.Store and
// store.RunRepository only.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/snapshot"
	"github.com/ashmod/panels/internal/storage/gcs"
	"github.com/ashmod/panels/internal/storage/local"
	"github.com/ashmod/panels/internal/storage/memory"
	"github.com/ashmod/panels/internal/storage/postgres"
	"github.com/ashmod/panels/internal/store"
)

// Supported backends.
const (
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Backend  string
	File     local.Config
	GCS      gcs.Config
	Postgres PostgresConfig
}

// PostgresConfig configures the postgres backend.
type PostgresConfig struct {
	postgres.PoolConfig
	Table     string
	RunsTable string
}

// Backend is an opened snapshot store plus run history.
type Backend struct {
	Snapshots snapshot.Store
	Runs      store.RunRepository
	// File is set for the file backend, which supports live reload.
	File *local.Store

	closers []func() error
}

// Close releases clients and pools held by the backend.
func (b *Backend) Close() error {
	if b == nil {
		return nil
	}
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Open builds the backend named by cfg.Backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendFile:
		fileCfg := cfg.File
		fileCfg.Logger = logger
		fs, err := local.New(fileCfg)
		if err != nil {
			return nil, fmt.Errorf("file snapshot store: %w", err)
		}
		return &Backend{Snapshots: fs, Runs: memory.NewRunStore(), File: fs}, nil

	case BackendMemory:
		return &Backend{Snapshots: memory.NewStore(nil), Runs: memory.NewRunStore()}, nil

	case BackendGCS:
		return openGCS(ctx, cfg.GCS, logger)

	case BackendPostgres:
		return openPostgres(ctx, cfg.Postgres)

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// openGCS uses Application Default Credentials and checks the bucket up front so a
// misconfiguration fails at startup.
func openGCS(ctx context.Context, cfg gcs.Config, logger *zap.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("storage.gcs.bucket is required")
	}
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil {
			logger.Warn("failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", cfg.Bucket, err)
	}
	gs, err := gcs.New(client, cfg, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Backend{
		Snapshots: gs,
		Runs:      memory.NewRunStore(),
		closers:   []func() error{client.Close},
	}, nil
}

func openPostgres(ctx context.Context, cfg PostgresConfig) (*Backend, error) {
	pool, err := postgres.NewPool(ctx, cfg.PoolConfig)
	if err != nil {
		return nil, err
	}
	closePool := func() error { pool.Close(); return nil }

	snapshots, err := postgres.NewSnapshotStore(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	runs, err := postgres.NewRunStore(pool, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := snapshots.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := runs.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Backend{Snapshots: snapshots, Runs: runs, closers: []func() error{closePool}}, nil
}
