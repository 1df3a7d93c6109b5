// Package comicsrss implements the feed-based provider: a syndication feed per series
// whose recent items are the only addressable strips.
package comicsrss

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/source"
)

// Name is the source name series descriptors use to select this provider.
const Name = "comicsrss"

const (
	defaultBaseURL = "https://www.comicsrss.com"
	imageType      = "image/gif"
)

// Config wires a Source.
type Config struct {
	BaseURL   string
	Options   source.Options
	Directory *comic.Directory
	Cache     *cache.Cache
	Fetcher   source.Fetcher
	Rand      comic.Rand
	Logger    *zap.Logger
}

// Source serves every directory series owned by comicsrss.
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

// FetchByIdentifier serves a date from the cache or, failing that, from a fresh feed
// read. Dates no longer in the feed are misses.
func (s *Source) FetchByIdentifier(ctx context.Context, endpoint, identifier string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Name, "identifier", start, strip, err) }(time.Now())
	date, err := comic.ParseDate(identifier)
	if err != nil {
		return nil, err
	}
	want := comic.FormatDate(date)
	strip, err = s.cfg.Cache.Load(ctx, comic.CacheKey(endpoint, want), func(ctx context.Context) (*comic.Strip, error) {
		items, err := s.feed(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		for i := range items {
			if items[i].Identifier == want {
				return &items[i], nil
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("comicsrss %s %s: %w", endpoint, want, err)
	}
	return strip, nil
}

// FetchLatest returns the newest feed item.
func (s *Source) FetchLatest(ctx context.Context, endpoint string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Name, "latest", start, strip, err) }(time.Now())
	items, err := s.feed(ctx, endpoint)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[len(items)-1], nil
}

// FetchRandom returns any item of the current feed.
func (s *Source) FetchRandom(ctx context.Context, endpoint string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Name, "random", start, strip, err) }(time.Now())
	items, err := s.feed(ctx, endpoint)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	picked := items[s.cfg.Rand.IntN(len(items))]
	s.logger.Debug("random pick", zap.String("endpoint", endpoint), zap.String("date", picked.Identifier))
	return &picked, nil
}

// ProxyImage implements comic.Source.
func (s *Source) ProxyImage(ctx context.Context, imageURL string) (comic.Image, error) {
	img, err := s.cfg.Fetcher.FetchImage(ctx, imageURL, "", imageType)
	if err != nil {
		return comic.Image{}, fmt.Errorf("comicsrss image: %w", err)
	}
	return img, nil
}

// feed reads and parses the series feed, caching every item it yields.
func (s *Source) feed(ctx context.Context, endpoint string) ([]comic.Strip, error) {
	target := s.cfg.BaseURL + "/rss/" + endpoint + ".rss"
	page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(target))
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", endpoint, err)
	}
	if page == nil {
		return nil, nil
	}
	items, err := parseFeed(page.Body, endpoint, s.cfg.Directory.Title(endpoint))
	if err != nil {
		s.logger.Debug("unparseable feed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, nil
	}
	if len(items) == 0 {
		s.logger.Warn("no items found in feed", zap.String("endpoint", endpoint))
		return nil, nil
	}
	for _, item := range items {
		s.cfg.Cache.Put(comic.CacheKey(endpoint, item.Identifier), item)
	}
	s.logger.Debug("parsed feed items", zap.String("endpoint", endpoint), zap.Int("count", len(items)))
	return items, nil
}
