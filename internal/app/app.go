// Package app builds and holds the long-lived services, acting as the dependency
// injection container for the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ashmod/panels/internal/api"
	"github.com/ashmod/panels/internal/archive"
	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/clock/system"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/config"
	collyfetcher "github.com/ashmod/panels/internal/fetcher/colly"
	"github.com/ashmod/panels/internal/harvest"
	"github.com/ashmod/panels/internal/policy/ratelimit"
	"github.com/ashmod/panels/internal/progress"
	"github.com/ashmod/panels/internal/progress/sinks"
	"github.com/ashmod/panels/internal/snapshot"
	"github.com/ashmod/panels/internal/source"
	"github.com/ashmod/panels/internal/source/comicsrss"
	"github.com/ashmod/panels/internal/source/dilbert"
	"github.com/ashmod/panels/internal/source/gocomics"
	"github.com/ashmod/panels/internal/source/phd"
	"github.com/ashmod/panels/internal/source/xkcd"
	"github.com/ashmod/panels/internal/storage"
	"github.com/ashmod/panels/internal/storage/gcs"
	"github.com/ashmod/panels/internal/storage/local"
	"github.com/ashmod/panels/internal/storage/postgres"
)

// ErrHarvestRunning is returned when a harvest is requested while one is in flight.
var ErrHarvestRunning = errors.New("harvest already running")

// Options configure New.
type Options struct {
	Config config.Config
	Logger *zap.Logger
	// Registerer receives the harvest collectors; nil uses the default registerer.
	Registerer prometheus.Registerer
	// PubSubOptions are handed to the notice topic client, e.g. to reach an emulator.
	PubSubOptions []option.ClientOption
}

// App holds the shared services. It is built once at startup.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Directory *comic.Directory
	Registry  *comic.Registry
	Fetcher   *collyfetcher.Client
	Cache     *cache.Cache
	Archive   *archive.Client
	Backend   *storage.Backend
	Table     *snapshot.Table
	Progress  *progress.Hub
	Harvester *harvest.Harvester
	Server    *api.Server

	harvestMu sync.Mutex

	mu      sync.RWMutex
	loadErr error
}

// New wires every service from opts.Config. Any invariant violation, such as two
// sources claiming one endpoint, is returned as an error.
func New(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	dir, err := comic.LoadDirectory(cfg.Data.SeriesPath())
	if err != nil {
		return nil, err
	}
	a.Directory = dir
	logger.Info("loaded series directory", zap.Int("count", len(dir.All())))

	a.Fetcher = collyfetcher.New(collyfetcher.Config{
		Timeout:      cfg.HTTP.Timeout,
		MaxRedirects: cfg.HTTP.MaxRedirects,
		RetryDelay:   cfg.HTTP.RetryDelay,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger.Named("fetch"),
	})

	a.Cache, err = cache.New(cache.Config{
		MaxEntries: int64(cfg.Cache.MaxEntries),
		TTL:        cfg.Cache.TTL,
		Logger:     logger.Named("cache"),
	})
	if err != nil {
		return nil, err
	}

	a.Archive = archive.New(archive.Config{
		IndexURL:        cfg.Archive.CDXURL,
		ReplayURL:       cfg.Archive.ReplayURL,
		Cutoff:          cfg.Archive.Cutoff,
		LookupRetries:   cfg.Sources.Dilbert.Retries,
		LookupTimeout:   cfg.Sources.Dilbert.Timeout,
		BreakerFailures: cfg.Archive.BreakerFailures,
		BreakerCooldown: cfg.Archive.BreakerCooldown,
		Fetcher:         a.Fetcher,
		Logger:          logger.Named("archive"),
	})

	a.Backend, err = storage.Open(ctx, storageConfig(cfg), logger.Named("storage"))
	if err != nil {
		a.Cache.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	// A table that fails to load leaves the service up with live lookups only.
	a.Table = snapshot.NewTable(nil)
	if err := a.ReloadTable(ctx); err != nil {
		logger.Warn("snapshot table unavailable, falling back to live lookups", zap.Error(err))
	}
	if a.Backend.File != nil && cfg.Data.WatchSnapshot {
		if err := a.Backend.File.Watch(ctx, a.Table); err != nil {
			logger.Warn("snapshot watch disabled", zap.Error(err))
		}
	}

	a.Registry = a.buildRegistry()
	if err := checkConflicts(a.Registry, dir); err != nil {
		a.closeStores()
		return nil, err
	}

	a.Progress, err = a.buildProgress(ctx, opts)
	if err != nil {
		a.closeStores()
		return nil, err
	}

	a.Harvester, err = harvest.New(harvest.Config{
		Concurrency:     cfg.Harvest.Concurrency,
		CheckpointEvery: cfg.Harvest.CheckpointEvery,
		BatchPause:      cfg.Harvest.BatchPause,
		IndexLimit:      cfg.Harvest.IndexLimit,
		IndexRetries:    cfg.Harvest.IndexRetries,
		IndexTimeout:    cfg.Harvest.IndexTimeout,
		PageRetries:     cfg.Harvest.PageRetries,
		PageTimeout:     cfg.Harvest.PageTimeout,
		Index:           a.Archive,
		Fetcher:         a.Fetcher,
		Store:           a.Backend.Snapshots,
		Limiter:         ratelimit.New(ratelimit.Config{RPS: cfg.Harvest.RPS}),
		Progress:        a.Progress,
		Clock:           system.New(),
		Logger:          logger,
	})
	if err != nil {
		_ = a.Progress.Close(ctx)
		a.closeStores()
		return nil, err
	}

	a.Server = api.NewServer(api.Config{
		Registry:       a.Registry,
		Directory:      dir,
		Runs:           a.Backend.Runs,
		Ready:          a.Ready,
		RequestTimeout: cfg.Server.RequestTimeout,
		Logger:         logger.Named("api"),
	})

	logger.Info("application services initialized",
		zap.Int("sources", len(a.Registry.Sources())),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("snapshot_entries", a.Table.Len()))
	return a, nil
}

// buildRegistry registers the sources in precedence order.
func (a *App) buildRegistry() *comic.Registry {
	cfg := a.Config.Sources
	opts := func(sc config.SourceConfig) source.Options {
		return source.Options{Retries: sc.Retries, Timeout: sc.Timeout}
	}
	rnd := source.DefaultRand{}
	clock := system.New()

	return comic.NewRegistry(
		gocomics.New(gocomics.Config{
			BaseURL:   cfg.GoComics.BaseURL,
			Options:   opts(cfg.GoComics),
			Directory: a.Directory,
			Cache:     a.Cache,
			Fetcher:   a.Fetcher,
			Clock:     clock,
			Rand:      rnd,
			Logger:    a.Logger,
		}),
		dilbert.New(dilbert.Config{
			Options: opts(cfg.Dilbert),
			Table:   a.Table,
			Archive: a.Archive,
			Cache:   a.Cache,
			Fetcher: a.Fetcher,
			Rand:    rnd,
			Logger:  a.Logger,
		}),
		xkcd.New(xkcd.Config{
			BaseURL:  cfg.XKCD.BaseURL,
			Options:  opts(cfg.XKCD),
			Excluded: cfg.XKCD.Excluded,
			Cache:    a.Cache,
			Fetcher:  a.Fetcher,
			Rand:     rnd,
			Logger:   a.Logger,
		}),
		comicsrss.New(comicsrss.Config{
			BaseURL:   cfg.ComicsRSS.BaseURL,
			Options:   opts(cfg.ComicsRSS),
			Directory: a.Directory,
			Cache:     a.Cache,
			Fetcher:   a.Fetcher,
			Rand:      rnd,
			Logger:    a.Logger,
		}),
		phd.New(phd.Config{
			BaseURL:  cfg.PhD.BaseURL,
			Options:  opts(cfg.PhD),
			Excluded: cfg.PhD.Excluded,
			Cache:    a.Cache,
			Fetcher:  a.Fetcher,
			Rand:     rnd,
			Logger:   a.Logger,
		}),
	)
}

// checkConflicts fails when any endpoint, from the directory or a fixed source, is
// claimed by more than one source.
func checkConflicts(reg *comic.Registry, dir *comic.Directory) error {
	endpoints := append(dir.Endpoints(), dilbert.Endpoint, xkcd.Endpoint, phd.Endpoint)
	conflicts := reg.Conflicts(endpoints)
	if len(conflicts) == 0 {
		return nil
	}
	var errs []error
	for _, endpoint := range comic.ConflictEndpoints(conflicts) {
		errs = append(errs, fmt.Errorf("endpoint %q claimed by %v", endpoint, conflicts[endpoint]))
	}
	return fmt.Errorf("overlapping source claims: %w", errors.Join(errs...))
}

func (a *App) buildProgress(ctx context.Context, opts Options) (*progress.Hub, error) {
	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics: %w", err)
	}
	list := []progress.Sink{
		sinks.NewLogSink(a.Logger.Named("harvest")),
		promSink,
		sinks.NewStoreSink(a.Backend.Runs, a.Logger),
	}
	if pc := a.Config.Notify.PubSub; pc.Topic != "" {
		ps, err := sinks.OpenPubSubSink(ctx, pc.ProjectID, pc.Topic, a.Logger, opts.PubSubOptions...)
		if err != nil {
			return nil, fmt.Errorf("harvest notices: %w", err)
		}
		list = append(list, ps)
	}
	return progress.NewHub(progress.Config{
		BaseContext: context.WithoutCancel(ctx),
		Logger:      a.Logger.Named("progress"),
	}, list...), nil
}

func storageConfig(cfg config.Config) storage.Config {
	return storage.Config{
		Backend: cfg.Storage.Backend,
		File:    local.Config{BaseDir: cfg.Data.Dir, File: cfg.Data.SnapshotFile},
		GCS:     gcs.Config{Bucket: cfg.Storage.GCS.Bucket, Object: cfg.Storage.GCS.Object},
		Postgres: storage.PostgresConfig{
			PoolConfig: postgres.PoolConfig{
				DSN:      cfg.Storage.Postgres.DSN,
				MaxConns: cfg.Storage.Postgres.MaxConns,
			},
			Table:     cfg.Storage.Postgres.Table,
			RunsTable: cfg.Storage.Postgres.RunsTable,
		},
	}
}

// Handler returns the HTTP surface.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// ReloadTable replaces the live snapshot table with the stored one.
func (a *App) ReloadTable(ctx context.Context) error {
	err := a.Table.Reload(ctx, a.Backend.Snapshots)
	a.mu.Lock()
	a.loadErr = err
	a.mu.Unlock()
	return err
}

// Ready reports the last snapshot table load failure, if any.
func (a *App) Ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.loadErr != nil {
		return fmt.Errorf("snapshot table: %w", a.loadErr)
	}
	return nil
}

// Harvest runs the bulk harvester once and then reloads the live table. Only one
// harvest runs at a time.
func (a *App) Harvest(ctx context.Context) (harvest.Report, error) {
	if !a.harvestMu.TryLock() {
		return harvest.Report{}, ErrHarvestRunning
	}
	defer a.harvestMu.Unlock()

	report, err := a.Harvester.Run(ctx)
	if rerr := a.ReloadTable(context.WithoutCancel(ctx)); rerr != nil {
		a.Logger.Warn("reload snapshot table after harvest failed", zap.Error(rerr))
	}
	return report, err
}

// Close flushes progress sinks and releases storage.
func (a *App) Close(ctx context.Context) {
	a.Logger.Info("shutting down application services")
	if err := a.Progress.Close(ctx); err != nil {
		a.Logger.Warn("progress hub close failed", zap.Error(err))
	}
	a.closeStores()
	if err := a.Logger.Sync(); err != nil {
		a.Logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeStores() {
	a.Cache.Close()
	if err := a.Backend.Close(); err != nil {
		a.Logger.Warn("storage close failed", zap.Error(err))
	}
}
