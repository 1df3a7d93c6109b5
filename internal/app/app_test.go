package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashmod/panels/internal/app"
	"github.com/ashmod/panels/internal/config"
	"github.com/ashmod/panels/internal/store"
)

const series = `[
  {"endpoint": "garfield", "title": "Garfield", "author": "Jim Davis", "available": true},
  {"endpoint": "peanuts", "title": "Peanuts", "available": true, "source": "comicsrss"},
  {"endpoint": "xkcd", "title": "xkcd", "available": true, "source": "xkcd"}
]`

const archivedPage = `<html><body><span class="comic-title-name">Archived %s</span>
<img class="img-comic" src="//assets.amuniversal.com/%s"></body></html>`

// fakeArchive answers the bulk index with one capture and replays it.
func fakeArchive(t *testing.T, replays *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/cdx":
			_, _ = fmt.Fprintln(w, "https://dilbert.com/strip/2000-01-02 20200101000000")
		case strings.HasPrefix(r.URL.Path, "/web/"):
			replays.Add(1)
			day := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
			_, _ = fmt.Fprintf(w, archivedPage, day, day)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// setup writes a data dir and config file and loads the config.
func setup(t *testing.T, seriesJSON, snapshotJSON, extra string) config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "comics.json"), []byte(seriesJSON), 0o600))
	if snapshotJSON != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "dilbert_cache.json"), []byte(snapshotJSON), 0o600))
	}
	yaml := fmt.Sprintf("data:\n  dir: %s\nhttp:\n  retry_delay: 1ms\nharvest:\n  batch_pause: 0s\n%s", dir, extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	a, err := app.New(ctx, app.Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.NoError(t, err)
	return a
}

func TestNewRoutesEveryEndpoint(t *testing.T) {
	t.Parallel()

	cfg := setup(t, series, `{"1999-05-05": {"image_url": "https://assets.amuniversal.com/a", "title": "Cached"}}`, "")
	a := newApp(t, cfg)
	defer a.Close(context.Background())

	for endpoint, want := range map[string]string{
		"garfield": "gocomics",
		"peanuts":  "comicsrss",
		"xkcd":     "xkcd",
		"dilbert":  "dilbert",
		"phd":      "phd",
	} {
		src, ok := a.Registry.Find(endpoint)
		require.True(t, ok, endpoint)
		assert.Equal(t, want, src.Name(), endpoint)
	}
	_, ok := a.Registry.Find("unknown")
	assert.False(t, ok)

	require.Equal(t, 1, a.Table.Len())
	require.NoError(t, a.Ready(context.Background()))

	src, _ := a.Registry.Find("dilbert")
	strip, err := src.FetchByIdentifier(context.Background(), "dilbert", "1999-05-05")
	require.NoError(t, err)
	require.NotNil(t, strip)
	assert.Equal(t, "Cached", strip.Title)
}

func TestNewRejectsOverlappingClaims(t *testing.T) {
	t.Parallel()

	// xkcd without a source defaults to gocomics, which collides with the xkcd source.
	cfg := setup(t, `[{"endpoint": "xkcd", "title": "xkcd"}]`, "", "storage:\n  backend: memory\n")
	_, err := app.New(context.Background(), app.Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"xkcd"`)
	assert.Contains(t, err.Error(), "gocomics")
}

func TestNewFailsWithoutSeriesDirectory(t *testing.T) {
	t.Parallel()

	cfg := setup(t, series, "", "")
	cfg.Data.SeriesFile = "missing.json"
	_, err := app.New(context.Background(), app.Options{Config: cfg, Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
}

func TestCorruptSnapshotTableIsNotReady(t *testing.T) {
	t.Parallel()

	cfg := setup(t, series, "{not json", "")
	a := newApp(t, cfg)
	defer a.Close(context.Background())

	require.Error(t, a.Ready(context.Background()))
	require.Zero(t, a.Table.Len())

	rec := httptest.NewRecorder()
	a.Server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHarvestFillsLiveTable(t *testing.T) {
	t.Parallel()

	var replays atomic.Int32
	srv := fakeArchive(t, &replays)
	cfg := setup(t, series, "", fmt.Sprintf("archive:\n  cdx_url: %s/cdx\n  replay_url: %s/web\n", srv.URL, srv.URL))
	a := newApp(t, cfg)

	report, err := a.Harvest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Fetched)
	assert.Equal(t, int64(0), report.Errors)
	assert.Equal(t, int32(1), replays.Load())

	require.True(t, a.Table.Has("2000-01-02"))
	raw, err := os.ReadFile(filepath.Join(cfg.Data.Dir, cfg.Data.SnapshotFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "assets.amuniversal.com/2000-01-02")

	src, _ := a.Registry.Find("dilbert")
	strip, err := src.FetchByIdentifier(context.Background(), "dilbert", "2000-01-02")
	require.NoError(t, err)
	require.NotNil(t, strip)
	assert.Equal(t, "Archived 2000-01-02", strip.Title)
	assert.Equal(t, int32(1), replays.Load(), "served from the table, not the archive")

	a.Close(context.Background())
	runs, err := a.Backend.Runs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.RunID, runs[0].ID)
	assert.Equal(t, store.RunSuccess, runs[0].Status)
	assert.Equal(t, int64(1), runs[0].Counters.Fetched)
}
