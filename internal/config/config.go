// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/viper"
)

// Storage backends accepted by storage.backend.
const (
	BackendFile     = "file"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures every knob loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Data    DataConfig    `mapstructure:"data"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sources SourcesConfig `mapstructure:"sources"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Harvest HarvestConfig `mapstructure:"harvest"`
	Storage StorageConfig `mapstructure:"storage"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level is a zap level name; empty keeps the mode's default.
	Level string `mapstructure:"level"`
}

// DataConfig locates the local data files.
type DataConfig struct {
	Dir          string `mapstructure:"dir"`
	SeriesFile   string `mapstructure:"series_file"`
	SnapshotFile string `mapstructure:"snapshot_file"`
	// WatchSnapshot reloads the live snapshot table when the file changes on disk.
	WatchSnapshot bool `mapstructure:"watch_snapshot"`
}

// SeriesPath is the series directory file inside Dir.
func (d DataConfig) SeriesPath() string {
	return filepath.Join(d.Dir, d.SeriesFile)
}

// HTTPConfig shapes the shared fetch client.
type HTTPConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRedirects int           `mapstructure:"max_redirects"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
}

// CacheConfig bounds the strip cache.
type CacheConfig struct {
	MaxEntries int           `mapstructure:"max_entries"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// SourceConfig is one provider's fetch policy.
type SourceConfig struct {
	Retries  int           `mapstructure:"retries"`
	Timeout  time.Duration `mapstructure:"timeout"`
	BaseURL  string        `mapstructure:"base_url"`
	Excluded []int         `mapstructure:"excluded"`
}

// SourcesConfig holds per-provider settings.
type SourcesConfig struct {
	GoComics  SourceConfig `mapstructure:"gocomics"`
	PhD       SourceConfig `mapstructure:"phd"`
	XKCD      SourceConfig `mapstructure:"xkcd"`
	ComicsRSS SourceConfig `mapstructure:"comicsrss"`
	Dilbert   SourceConfig `mapstructure:"dilbert"`
}

// ArchiveConfig points at the web archive.
type ArchiveConfig struct {
	CDXURL          string        `mapstructure:"cdx_url"`
	ReplayURL       string        `mapstructure:"replay_url"`
	Cutoff          string        `mapstructure:"cutoff"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// HarvestConfig governs the bulk harvester.
type HarvestConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	CheckpointEvery int           `mapstructure:"checkpoint_every"`
	BatchPause      time.Duration `mapstructure:"batch_pause"`
	IndexRetries    int           `mapstructure:"index_retries"`
	IndexTimeout    time.Duration `mapstructure:"index_timeout"`
	IndexLimit      int           `mapstructure:"index_limit"`
	PageRetries     int           `mapstructure:"page_retries"`
	PageTimeout     time.Duration `mapstructure:"page_timeout"`
	// RPS caps requests per second per host; zero is unlimited.
	RPS float64 `mapstructure:"rps"`
	// Schedule is a cron expression for in-process harvests under serve; empty disables.
	Schedule string `mapstructure:"schedule"`
}

// StorageConfig selects where the snapshot table and run history live.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"`
	GCS      GCSConfig      `mapstructure:"gcs"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// GCSConfig names the snapshot object.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// PostgresConfig controls the relational backend.
type PostgresConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// NotifyConfig configures harvest completion notices.
type NotifyConfig struct {
	PubSub PubSubConfig `mapstructure:"pubsub"`
}

// PubSubConfig names the notice topic. An empty topic disables notices.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Load builds a Config from defaults, the optional file at path and PANELS_*
// environment variables, in increasing precedence.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PANELS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if raw := v.GetString("legacy.strip_cache_ttl"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("PANELS_STRIP_CACHE_TTL must be whole seconds: %w", err)
		}
		cfg.Cache.TTL = time.Duration(secs) * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")

	v.SetDefault("data.dir", "data")
	v.SetDefault("data.series_file", "comics.json")
	v.SetDefault("data.snapshot_file", "dilbert_cache.json")
	v.SetDefault("data.watch_snapshot", true)

	v.SetDefault("http.timeout", 15*time.Second)
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.retry_delay", time.Second)
	v.SetDefault("http.max_body_bytes", 64<<20)

	v.SetDefault("cache.max_entries", 500)
	v.SetDefault("cache.ttl", 30*time.Minute)

	source := func(name string, retries int, timeout time.Duration, baseURL string, excluded []int) {
		v.SetDefault("sources."+name+".retries", retries)
		v.SetDefault("sources."+name+".timeout", timeout)
		v.SetDefault("sources."+name+".base_url", baseURL)
		v.SetDefault("sources."+name+".excluded", excluded)
	}
	source("gocomics", 1, 12*time.Second, "https://www.gocomics.com", nil)
	source("phd", 2, 10*time.Second, "https://phdcomics.com/comics/archive.php", nil)
	source("xkcd", 1, 10*time.Second, "https://xkcd.com", []int{404})
	source("comicsrss", 1, 15*time.Second, "https://www.comicsrss.com", nil)
	source("dilbert", 1, 15*time.Second, "", nil)

	v.SetDefault("archive.cdx_url", "https://web.archive.org/cdx/search/cdx")
	v.SetDefault("archive.replay_url", "https://web.archive.org/web")
	v.SetDefault("archive.cutoff", "20230312")
	v.SetDefault("archive.breaker_failures", 5)
	v.SetDefault("archive.breaker_cooldown", 30*time.Second)

	v.SetDefault("harvest.concurrency", 8)
	v.SetDefault("harvest.checkpoint_every", 100)
	v.SetDefault("harvest.batch_pause", 200*time.Millisecond)
	v.SetDefault("harvest.index_retries", 3)
	v.SetDefault("harvest.index_timeout", 60*time.Second)
	v.SetDefault("harvest.index_limit", 100000)
	v.SetDefault("harvest.page_retries", 2)
	v.SetDefault("harvest.page_timeout", 20*time.Second)
	v.SetDefault("harvest.rps", 0)
	v.SetDefault("harvest.schedule", "")

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.object", "dilbert_cache.json")
	v.SetDefault("storage.postgres.dsn", "")
	v.SetDefault("storage.postgres.table", "snapshots")
	v.SetDefault("storage.postgres.runs_table", "harvest_runs")
	v.SetDefault("storage.postgres.max_conns", 4)

	v.SetDefault("notify.pubsub.project_id", "")
	v.SetDefault("notify.pubsub.topic", "")
}

// bindLegacyEnv keeps the variable names of earlier deployments working. The
// current name wins when both are set.
func bindLegacyEnv(v *viper.Viper) error {
	for key, names := range map[string][]string{
		"server.port":       {"PANELS_SERVER_PORT", "PANELS_PORT"},
		"cache.max_entries": {"PANELS_CACHE_MAX_ENTRIES", "PANELS_STRIP_CACHE_MAX"},
	} {
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	if err := v.BindEnv("legacy.strip_cache_ttl", "PANELS_STRIP_CACHE_TTL"); err != nil {
		return fmt.Errorf("bind legacy cache ttl: %w", err)
	}
	return nil
}

// Validate enforces required values and sane limits.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, errors.New("cache.max_entries must be > 0"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache.ttl must be > 0"))
	}
	if c.Harvest.Concurrency <= 0 {
		errs = append(errs, errors.New("harvest.concurrency must be > 0"))
	}
	if c.Harvest.CheckpointEvery <= 0 {
		errs = append(errs, errors.New("harvest.checkpoint_every must be > 0"))
	}
	if c.Harvest.RPS < 0 {
		errs = append(errs, errors.New("harvest.rps must be >= 0"))
	}
	switch strings.ToLower(c.Storage.Backend) {
	case BackendFile, BackendMemory:
	case BackendGCS:
		if c.Storage.GCS.Bucket == "" {
			errs = append(errs, errors.New("storage.gcs.bucket is required for the gcs backend"))
		}
	case BackendPostgres:
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q", c.Storage.Backend))
	}
	if c.Harvest.Schedule != "" {
		if err := gocron.NewDefaultCron(false).IsValid(c.Harvest.Schedule, time.UTC, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("harvest.schedule: %w", err))
		}
	}
	if c.Notify.PubSub.Topic != "" && c.Notify.PubSub.ProjectID == "" {
		errs = append(errs, errors.New("notify.pubsub.project_id is required when a topic is set"))
	}
	return errors.Join(errs...)
}
