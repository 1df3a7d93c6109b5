package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 3000 {
		t.Fatalf("expected port 3000, got %d", cfg.Server.Port)
	}
	if cfg.Cache.MaxEntries != 500 || cfg.Cache.TTL != 30*time.Minute {
		t.Fatalf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if got := cfg.Data.SeriesPath(); got != filepath.Join("data", "comics.json") {
		t.Fatalf("unexpected series path %q", got)
	}
	if cfg.Sources.XKCD.BaseURL != "https://xkcd.com" || len(cfg.Sources.XKCD.Excluded) != 1 || cfg.Sources.XKCD.Excluded[0] != 404 {
		t.Fatalf("unexpected xkcd defaults: %+v", cfg.Sources.XKCD)
	}
	if cfg.Sources.GoComics.Timeout != 12*time.Second || cfg.Sources.PhD.Retries != 2 {
		t.Fatalf("unexpected source defaults: %+v", cfg.Sources)
	}
	if cfg.Archive.Cutoff != "20230312" || cfg.Archive.BreakerFailures != 5 {
		t.Fatalf("unexpected archive defaults: %+v", cfg.Archive)
	}
	if cfg.Harvest.Concurrency != 8 || cfg.Harvest.CheckpointEvery != 100 || cfg.Harvest.BatchPause != 200*time.Millisecond {
		t.Fatalf("unexpected harvest defaults: %+v", cfg.Harvest)
	}
	if cfg.Storage.Backend != BackendFile || cfg.Storage.Postgres.Table != "snapshots" {
		t.Fatalf("unexpected storage defaults: %+v", cfg.Storage)
	}
	if !cfg.Data.WatchSnapshot {
		t.Fatalf("expected snapshot watching on by default")
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 5s
logging:
  development: true
cache:
  max_entries: 50
  ttl: 2m
sources:
  phd:
    retries: 4
    excluded: [12, 13]
harvest:
  concurrency: 2
  rps: 1.5
  schedule: "0 3 * * *"
storage:
  backend: gcs
  gcs:
    bucket: panels-data
notify:
  pubsub:
    project_id: panels
    topic: harvest-runs
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout != 5*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Logging.Development {
		t.Fatalf("expected development logging")
	}
	if cfg.Cache.MaxEntries != 50 || cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("expected cache overrides, got %+v", cfg.Cache)
	}
	if cfg.Sources.PhD.Retries != 4 || len(cfg.Sources.PhD.Excluded) != 2 {
		t.Fatalf("expected phd overrides, got %+v", cfg.Sources.PhD)
	}
	if cfg.Sources.PhD.Timeout != 10*time.Second {
		t.Fatalf("expected untouched keys to keep defaults, got %v", cfg.Sources.PhD.Timeout)
	}
	if cfg.Harvest.Concurrency != 2 || cfg.Harvest.RPS != 1.5 || cfg.Harvest.Schedule != "0 3 * * *" {
		t.Fatalf("expected harvest overrides, got %+v", cfg.Harvest)
	}
	if cfg.Storage.Backend != BackendGCS || cfg.Storage.GCS.Bucket != "panels-data" || cfg.Storage.GCS.Object != "dilbert_cache.json" {
		t.Fatalf("expected gcs storage, got %+v", cfg.Storage)
	}
	if cfg.Notify.PubSub.Topic != "harvest-runs" {
		t.Fatalf("expected pubsub topic, got %+v", cfg.Notify.PubSub)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PANELS_SERVER_PORT", "4000")
	t.Setenv("PANELS_DATA_DIR", "/srv/panels")
	t.Setenv("PANELS_HARVEST_BATCH_PAUSE", "1s")
	t.Setenv("PANELS_STORAGE_BACKEND", "postgres")
	t.Setenv("PANELS_STORAGE_POSTGRES_DSN", "postgres://panels@localhost/panels")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Fatalf("expected port 4000, got %d", cfg.Server.Port)
	}
	if cfg.Data.Dir != "/srv/panels" {
		t.Fatalf("expected data dir override, got %q", cfg.Data.Dir)
	}
	if cfg.Harvest.BatchPause != time.Second {
		t.Fatalf("expected batch pause 1s, got %v", cfg.Harvest.BatchPause)
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.Storage.Postgres.DSN == "" {
		t.Fatalf("expected postgres storage, got %+v", cfg.Storage)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("PANELS_PORT", "8081")
	t.Setenv("PANELS_STRIP_CACHE_MAX", "42")
	t.Setenv("PANELS_STRIP_CACHE_TTL", "90")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected legacy port, got %d", cfg.Server.Port)
	}
	if cfg.Cache.MaxEntries != 42 {
		t.Fatalf("expected legacy cache size, got %d", cfg.Cache.MaxEntries)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Fatalf("expected legacy ttl in seconds, got %v", cfg.Cache.TTL)
	}

	t.Setenv("PANELS_SERVER_PORT", "8082")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8082 {
		t.Fatalf("expected current name to win, got %d", cfg.Server.Port)
	}
}

func TestLoadRejectsBadLegacyTTL(t *testing.T) {
	t.Setenv("PANELS_STRIP_CACHE_TTL", "30m")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for non-numeric legacy ttl")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port"},
		{name: "cache size", mutate: func(c *Config) { c.Cache.MaxEntries = 0 }, wantErr: "cache.max_entries"},
		{name: "concurrency", mutate: func(c *Config) { c.Harvest.Concurrency = -1 }, wantErr: "harvest.concurrency"},
		{name: "checkpoint", mutate: func(c *Config) { c.Harvest.CheckpointEvery = 0 }, wantErr: "harvest.checkpoint_every"},
		{name: "backend", mutate: func(c *Config) { c.Storage.Backend = "s3" }, wantErr: "unknown storage.backend"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Storage.Backend = BackendGCS }, wantErr: "storage.gcs.bucket"},
		{name: "postgres dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, wantErr: "storage.postgres.dsn"},
		{name: "pubsub project", mutate: func(c *Config) { c.Notify.PubSub.Topic = "t" }, wantErr: "notify.pubsub.project_id"},
		{name: "schedule", mutate: func(c *Config) { c.Harvest.Schedule = "every day" }, wantErr: "harvest.schedule"},
		{name: "valid schedule", mutate: func(c *Config) { c.Harvest.Schedule = "0 3 * * *" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
