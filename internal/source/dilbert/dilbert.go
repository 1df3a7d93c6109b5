// Package dilbert implements the archived provider. The origin site is gone, so a
// strip is served from the harvested snapshot table when present and otherwise
// resolved through the web archive: index lookup, then replay fetch.
package dilbert

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/snapshot"
	"github.com/ashmod/panels/internal/source"
)

// Endpoint is the single series this provider serves.
const Endpoint = "dilbert"

// URLPattern matches every strip page in archive index queries.
const URLPattern = "dilbert.com/strip/*"

const (
	stripBase = "https://dilbert.com/strip/"
	referer   = "https://web.archive.org/"
	imageType = "image/gif"
)

// The run of the strip: nothing before First or after Last exists.
var (
	First = time.Date(1989, time.April, 16, 0, 0, 0, 0, time.UTC)
	Last  = time.Date(2023, time.March, 12, 0, 0, 0, 0, time.UTC)
)

// StripURL is the original address of the strip for date.
func StripURL(date time.Time) string {
	return stripBase + comic.FormatDate(date)
}

// InRange reports whether date falls within the run.
func InRange(date time.Time) bool {
	return !date.Before(First) && !date.After(Last)
}

// Archive resolves an original URL to a replayable snapshot.
type Archive interface {
	Lookup(ctx context.Context, original string) (timestamp string, found bool, err error)
	ReplayURL(timestamp, original string) string
}

// Config wires a Source.
type Config struct {
	Options source.Options
	Table   *snapshot.Table
	Archive Archive
	Cache   *cache.Cache
	Fetcher source.Fetcher
	Rand    comic.Rand
	Logger  *zap.Logger
}

// Source serves the "dilbert" endpoint.
type Source struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Source. A nil Table behaves as an empty one.
func New(cfg Config) *Source {
	if cfg.Table == nil {
		cfg.Table = snapshot.NewTable(nil)
	}
	if cfg.Rand == nil {
		cfg.Rand = source.DefaultRand{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, logger: logger.With(zap.String("source", Endpoint))}
}

// Name implements comic.Source.
func (s *Source) Name() string { return Endpoint }

// Handles implements comic.Source.
func (s *Source) Handles(endpoint string) bool { return endpoint == Endpoint }

// FetchByIdentifier serves a calendar date. Dates outside the run are misses and
// never reach the network.
func (s *Source) FetchByIdentifier(ctx context.Context, _ string, identifier string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "identifier", start, strip, err) }(time.Now())
	date, err := comic.ParseDate(identifier)
	if err != nil {
		return nil, err
	}
	return s.byDate(ctx, date)
}

// FetchLatest serves the final strip.
func (s *Source) FetchLatest(ctx context.Context, _ string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "latest", start, strip, err) }(time.Now())
	return s.byDate(ctx, Last)
}

// FetchRandom picks a date uniformly over the run.
func (s *Source) FetchRandom(ctx context.Context, _ string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "random", start, strip, err) }(time.Now())
	days := int(Last.Sub(First).Hours() / 24)
	date := First.AddDate(0, 0, s.cfg.Rand.IntN(days+1))
	s.logger.Debug("random pick", zap.String("date", comic.FormatDate(date)))
	return s.byDate(ctx, date)
}

// ProxyImage implements comic.Source.
func (s *Source) ProxyImage(ctx context.Context, imageURL string) (comic.Image, error) {
	img, err := s.cfg.Fetcher.FetchImage(ctx, imageURL, referer, imageType)
	if err != nil {
		return comic.Image{}, fmt.Errorf("dilbert image: %w", err)
	}
	return img, nil
}

func (s *Source) byDate(ctx context.Context, date time.Time) (*comic.Strip, error) {
	if !InRange(date) {
		return nil, nil
	}
	day := comic.FormatDate(date)
	key := comic.CacheKey(Endpoint, day)
	strip, err := s.cfg.Cache.Load(ctx, key, func(ctx context.Context) (*comic.Strip, error) {
		strip, err := s.resolve(ctx, date)
		if err != nil || strip == nil {
			return nil, err
		}
		s.cfg.Cache.Put(key, *strip)
		return strip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("dilbert %s: %w", day, err)
	}
	return strip, nil
}

func (s *Source) resolve(ctx context.Context, date time.Time) (*comic.Strip, error) {
	day := comic.FormatDate(date)
	if e, ok := s.cfg.Table.Get(day); ok {
		return s.build(date, e.ImageURL, e.Title), nil
	}

	original := StripURL(date)
	ts, found, err := s.cfg.Archive.Lookup(ctx, original)
	if err != nil {
		return nil, err
	}
	if !found {
		s.logger.Debug("no archived snapshot", zap.String("date", day))
		return nil, nil
	}
	page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(s.cfg.Archive.ReplayURL(ts, original)))
	if err != nil || page == nil {
		return nil, err
	}
	imageURL, title, ok := ParsePage(page.Body)
	if !ok {
		s.logger.Debug("no image in archived page", zap.String("date", day), zap.String("timestamp", ts))
		return nil, nil
	}
	return s.build(date, imageURL, title), nil
}

func (s *Source) build(date time.Time, imageURL, title string) *comic.Strip {
	if title == "" {
		title = defaultTitle
	}
	strip := &comic.Strip{
		Endpoint:   Endpoint,
		Title:      title,
		Identifier: comic.FormatDate(date),
		ImageURL:   imageURL,
		SourceURL:  StripURL(date),
	}
	if prev := date.AddDate(0, 0, -1); InRange(prev) {
		strip.Prev = comic.FormatDate(prev)
	}
	if next := date.AddDate(0, 0, 1); InRange(next) {
		strip.Next = comic.FormatDate(next)
	}
	return strip
}
