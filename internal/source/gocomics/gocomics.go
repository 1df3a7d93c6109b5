// Package gocomics implements the date-addressed primary gallery provider.
package gocomics

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/source"
)

// Name is the source name series descriptors use to select this provider.
const Name = "gocomics"

const (
	defaultBaseURL   = "https://www.gocomics.com"
	defaultAssetHost = "featureassets.gocomics.com"
	imageType        = "image/jpeg"
	randomSpanDays   = 365 * 5
)

// Config wires a Source.
type Config struct {
	BaseURL   string
	AssetHost string
	Options   source.Options
	Directory *comic.Directory
	Cache     *cache.Cache
	Fetcher   source.Fetcher
	Clock     comic.Clock
	Rand      comic.Rand
	Logger    *zap.Logger
}

// Source serves every directory series owned by gocomics.
type Source struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Source.
func New(cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.AssetHost == "" {
		cfg.AssetHost = defaultAssetHost
	}
	if cfg.Rand == nil {
		cfg.Rand = source.DefaultRand{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, logger: logger.With(zap.String("source", Name))}
}

// Name implements comic.Source.
func (s *Source) Name() string { return Name }

// Handles implements comic.Source.
func (s *Source) Handles(endpoint string) bool {
	return s.cfg.Directory.OwnedBy(endpoint, Name)
}

// FetchByIdentifier returns the strip for a calendar date. The provider may serve a
// different date than requested; the returned strip carries the date actually served.
func (s *Source) FetchByIdentifier(ctx context.Context, endpoint, identifier string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Name, "identifier", start, strip, err) }(time.Now())
	date, err := comic.ParseDate(identifier)
	if err != nil {
		return nil, err
	}
	return s.byDate(ctx, endpoint, date)
}

// FetchLatest fetches the series landing page, which serves the newest strip.
func (s *Source) FetchLatest(ctx context.Context, endpoint string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Name, "latest", start, strip, err) }(time.Now())
	page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(s.seriesURL(endpoint)))
	if err != nil || page == nil {
		return nil, err
	}
	strip = s.parse(endpoint, page.FinalURL, page.Body, s.today())
	if strip != nil {
		s.cfg.Cache.Put(comic.CacheKey(endpoint, strip.Identifier), *strip)
	}
	return strip, nil
}

// FetchRandom picks a date within the last five years.
func (s *Source) FetchRandom(ctx context.Context, endpoint string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Name, "random", start, strip, err) }(time.Now())
	back := s.cfg.Rand.IntN(randomSpanDays + 1)
	return s.byDate(ctx, endpoint, s.today().AddDate(0, 0, -back))
}

// ProxyImage implements comic.Source.
func (s *Source) ProxyImage(ctx context.Context, imageURL string) (comic.Image, error) {
	img, err := s.cfg.Fetcher.FetchImage(ctx, imageURL, s.cfg.BaseURL, imageType)
	if err != nil {
		return comic.Image{}, fmt.Errorf("gocomics image: %w", err)
	}
	return img, nil
}

func (s *Source) byDate(ctx context.Context, endpoint string, date time.Time) (*comic.Strip, error) {
	requested := comic.FormatDate(date)
	strip, err := s.cfg.Cache.Load(ctx, comic.CacheKey(endpoint, requested), func(ctx context.Context) (*comic.Strip, error) {
		page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(s.stripURL(endpoint, date)))
		if err != nil || page == nil {
			return nil, err
		}
		strip := s.parse(endpoint, page.FinalURL, page.Body, date)
		if strip == nil {
			return nil, nil
		}
		s.cfg.Cache.Put(comic.CacheKey(endpoint, strip.Identifier), *strip)
		return strip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gocomics %s %s: %w", endpoint, requested, err)
	}
	if strip != nil && strip.Identifier != requested {
		s.logger.Debug("provider served a different date",
			zap.String("endpoint", endpoint),
			zap.String("requested", requested),
			zap.String("served", strip.Identifier))
	}
	return strip, nil
}

func (s *Source) parse(endpoint, finalURL string, body []byte, fallback time.Time) *comic.Strip {
	page, err := parsePage(body, s.cfg.AssetHost)
	if err != nil {
		s.logger.Debug("unparseable page", zap.String("url", finalURL), zap.Error(err))
		return nil
	}
	if page.imageURL == "" {
		s.logger.Debug("no strip image on page", zap.String("url", finalURL))
		return nil
	}
	date, ok := navDate(endpoint, finalURL)
	if !ok {
		date, ok = navDate(endpoint, page.canonical)
	}
	if !ok {
		date = fallback
	}
	return &comic.Strip{
		Endpoint:   endpoint,
		Title:      s.cfg.Directory.Title(endpoint),
		Identifier: comic.FormatDate(date),
		ImageURL:   page.imageURL,
		SourceURL:  s.stripURL(endpoint, date),
	}
}

func (s *Source) seriesURL(endpoint string) string {
	return s.cfg.BaseURL + "/" + endpoint
}

func (s *Source) stripURL(endpoint string, date time.Time) string {
	return s.seriesURL(endpoint) + "/" + date.Format("2006/01/02")
}

func (s *Source) today() time.Time {
	now := time.Now()
	if s.cfg.Clock != nil {
		now = s.cfg.Clock.Now()
	}
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// navDate recovers the date from a "/<endpoint>/YYYY/MM/DD" path.
func navDate(endpoint, rawURL string) (time.Time, bool) {
	if rawURL == "" {
		return time.Time{}, false
	}
	re := regexp.MustCompile("/" + regexp.QuoteMeta(endpoint) + `/(\d{4})/(\d{2})/(\d{2})`)
	m := re.FindStringSubmatch(rawURL)
	if m == nil {
		return time.Time{}, false
	}
	date, err := time.Parse(comic.DateLayout, m[1]+"-"+m[2]+"-"+m[3])
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
