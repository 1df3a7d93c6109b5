// Package harvest warms the archived provider's snapshot table offline. One bulk
// index query lists every archived strip page; each date missing from the table is
// fetched from the archive, parsed, and recorded. The table is checkpointed to its
// store every N successful inserts and saved once more when the run ends.
package harvest

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/archive"
	"github.com/ashmod/panels/internal/clock/system"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/dispatcher"
	collyfetcher "github.com/ashmod/panels/internal/fetcher/colly"
	"github.com/ashmod/panels/internal/progress"
	"github.com/ashmod/panels/internal/snapshot"
	"github.com/ashmod/panels/internal/source"
	"github.com/ashmod/panels/internal/source/dilbert"
)

const finalSaveTimeout = 30 * time.Second

// Index enumerates archived captures and addresses their replays.
type Index interface {
	Enumerate(ctx context.Context, urlPattern string, opts archive.EnumerateOptions) ([]archive.Capture, error)
	ReplayURL(timestamp, original string) string
}

// Fetcher retrieves archived pages.
type Fetcher interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (*collyfetcher.Page, error)
}

// Limiter paces requests to a host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config wires a Harvester.
type Config struct {
	Concurrency     int
	CheckpointEvery int
	BatchPause      time.Duration

	IndexLimit   int
	IndexRetries int
	IndexTimeout time.Duration
	PageRetries  int
	PageTimeout  time.Duration

	Index    Index
	Fetcher  Fetcher
	Store    snapshot.Store
	Limiter  Limiter
	Progress progress.Emitter
	Clock    comic.Clock
	Logger   *zap.Logger
}

// Report summarizes a run. Cached counts entries already in the table when the run
// began; Total is Cached plus the dates the run set out to fetch.
type Report struct {
	RunID    uuid.UUID     `json:"runId"`
	Cached   int64         `json:"cached"`
	Fetched  int64         `json:"fetched"`
	Errors   int64         `json:"errors"`
	Total    int64         `json:"total"`
	Entries  int           `json:"entries"`
	Duration time.Duration `json:"duration"`
}

// Harvester runs harvests. Runs must not overlap on the same store.
type Harvester struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and applies defaults.
func New(cfg Config) (*Harvester, error) {
	switch {
	case cfg.Index == nil:
		return nil, errors.New("harvest: archive index is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("harvest: fetcher is required")
	case cfg.Store == nil:
		return nil, errors.New("harvest: snapshot store is required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 8
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = 100
	}
	if cfg.Progress == nil {
		cfg.Progress = progress.Discard{}
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Harvester{cfg: cfg, logger: logger.With(zap.String("component", "harvest"))}, nil
}

type job struct {
	date      string
	timestamp string
	original  string
}

type run struct {
	*Harvester
	id      uuid.UUID
	table   *snapshot.Table
	fetched atomic.Int64
	errors  atomic.Int64
	trigger chan struct{}
}

// Run performs one harvest. Dates already in the table are never fetched again and a
// failed date is not retried within the run. With nothing to fetch the store is left
// untouched. Cancellation stops new batches; whatever was fetched is still saved.
func (h *Harvester) Run(ctx context.Context) (Report, error) {
	started := h.cfg.Clock.Now()
	r := &run{Harvester: h, id: uuid.New()}
	report := Report{RunID: r.id}
	logger := h.logger.With(zap.String("run_id", r.id.String()))
	h.emit(progress.Event{RunID: r.id, Stage: progress.StageRunStart})

	fail := func(err error) (Report, error) {
		report.Fetched = r.fetched.Load()
		report.Errors = r.errors.Load()
		report.Duration = h.cfg.Clock.Now().Sub(started)
		if r.table != nil {
			report.Entries = r.table.Len()
		}
		h.finish(report, err)
		logger.Error("harvest failed", zap.Error(err))
		return report, err
	}

	existing, err := h.cfg.Store.Load(ctx)
	if err != nil {
		return fail(fmt.Errorf("load snapshot table: %w", err))
	}
	r.table = snapshot.NewTable(existing)
	report.Cached = int64(r.table.Len())
	logger.Info("snapshot table loaded", zap.Int64("cached", report.Cached))

	captures, err := h.cfg.Index.Enumerate(ctx, dilbert.URLPattern, archive.EnumerateOptions{
		Limit:   h.cfg.IndexLimit,
		Retries: h.cfg.IndexRetries,
		Timeout: h.cfg.IndexTimeout,
	})
	if err != nil {
		return fail(fmt.Errorf("enumerate snapshots: %w", err))
	}
	jobs := workSet(captures, r.table)
	report.Total = report.Cached + int64(len(jobs))
	logger.Info("work set computed", zap.Int("captures", len(captures)), zap.Int("remaining", len(jobs)))

	if len(jobs) == 0 {
		report.Entries = r.table.Len()
		report.Duration = h.cfg.Clock.Now().Sub(started)
		logger.Info("snapshot table complete, nothing to fetch")
		h.finish(report, nil)
		return report, nil
	}

	r.trigger = make(chan struct{}, 1)
	checkpoints := make(chan struct{})
	go func() {
		defer close(checkpoints)
		r.checkpointLoop(ctx)
	}()

	d := dispatcher.New[job](dispatcher.Config{
		Width:  h.cfg.Concurrency,
		Pause:  h.cfg.BatchPause,
		Logger: logger,
	})
	runErr := d.Run(ctx, jobs, r.process)
	close(r.trigger)
	<-checkpoints

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalSaveTimeout)
	defer cancel()
	if err := h.cfg.Store.Save(saveCtx, r.table.Snapshot()); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("final save: %w", err))
	}

	report.Fetched = r.fetched.Load()
	report.Errors = r.errors.Load()
	report.Entries = r.table.Len()
	report.Duration = h.cfg.Clock.Now().Sub(started)
	if runErr != nil {
		return fail(runErr)
	}
	logger.Info("harvest finished",
		zap.Int64("fetched", report.Fetched),
		zap.Int64("errors", report.Errors),
		zap.Int("entries", report.Entries),
		zap.Duration("duration", report.Duration))
	h.finish(report, nil)
	return report, nil
}

func (r *run) process(ctx context.Context, j job) {
	start := time.Now()
	replay := r.cfg.Index.ReplayURL(j.timestamp, j.original)
	note, ok := r.fetchOne(ctx, j, replay)
	if !ok {
		r.errors.Add(1)
		r.emit(progress.Event{RunID: r.id, Stage: progress.StagePageError, Date: j.date, Dur: time.Since(start), Note: note})
		return
	}
	n := r.fetched.Add(1)
	r.emit(progress.Event{RunID: r.id, Stage: progress.StagePageDone, Date: j.date, Dur: time.Since(start)})
	if n%int64(r.cfg.CheckpointEvery) == 0 {
		select {
		case r.trigger <- struct{}{}:
		default:
		}
	}
}

func (r *run) fetchOne(ctx context.Context, j job, replay string) (string, bool) {
	if r.cfg.Limiter != nil {
		if err := r.cfg.Limiter.Wait(ctx, replay); err != nil {
			return err.Error(), false
		}
	}
	opts := source.Options{Retries: r.cfg.PageRetries, Timeout: r.cfg.PageTimeout}
	page, err := r.cfg.Fetcher.Fetch(ctx, opts.Request(replay))
	if err != nil {
		r.logger.Warn("archived page failed", zap.String("date", j.date), zap.Error(err))
		return err.Error(), false
	}
	if page == nil {
		r.logger.Debug("archived page not found", zap.String("date", j.date))
		return "archived page not found", false
	}
	imageURL, title, ok := dilbert.ParsePage(page.Body)
	if !ok {
		r.logger.Debug("no image in archived page", zap.String("date", j.date))
		return "no image found in page", false
	}
	r.table.Put(j.date, snapshot.Entry{ImageURL: imageURL, Title: title, Timestamp: j.timestamp})
	return "", true
}

// checkpointLoop saves the table whenever a checkpoint is due, until trigger closes.
// Saves run apart from the workers so a slow store never stalls fetching.
func (r *run) checkpointLoop(ctx context.Context) {
	for range r.trigger {
		entries := r.table.Snapshot()
		if err := r.cfg.Store.Save(ctx, entries); err != nil {
			r.logger.Warn("checkpoint failed", zap.Error(err))
			continue
		}
		r.logger.Info("checkpoint saved", zap.Int("entries", len(entries)))
		r.emit(progress.Event{RunID: r.id, Stage: progress.StageCheckpoint, Entries: len(entries)})
	}
}

func (h *Harvester) emit(evt progress.Event) {
	evt.TS = h.cfg.Clock.Now()
	h.cfg.Progress.Emit(evt)
}

func (h *Harvester) finish(report Report, err error) {
	evt := progress.Event{
		RunID:   report.RunID,
		Stage:   progress.StageRunDone,
		Entries: report.Entries,
		Dur:     report.Duration,
		Totals: progress.Totals{
			Cached:  report.Cached,
			Fetched: report.Fetched,
			Errors:  report.Errors,
			Total:   report.Total,
		},
	}
	if err != nil {
		evt.Stage = progress.StageRunError
		evt.Note = err.Error()
	}
	h.emit(evt)
}

// workSet turns captures into the dates still missing from table, ascending. The
// date is the last path segment of the original URL and must be a real calendar
// date; the last capture of a date wins. Replays are addressed by the canonical
// strip URL.
func workSet(captures []archive.Capture, table *snapshot.Table) []job {
	byDate := make(map[string]job, len(captures))
	for _, c := range captures {
		date := strings.TrimRight(c.Original, "/")
		date = date[strings.LastIndex(date, "/")+1:]
		day, err := comic.ParseDate(date)
		if err != nil || len(date) != len(comic.DateLayout) || table.Has(date) {
			continue
		}
		byDate[date] = job{date: date, timestamp: c.Timestamp, original: dilbert.StripURL(day)}
	}
	jobs := make([]job, 0, len(byDate))
	for _, j := range byDate {
		jobs = append(jobs, j)
	}
	slices.SortFunc(jobs, func(a, b job) int { return cmp.Compare(a.date, b.date) })
	return jobs
}
