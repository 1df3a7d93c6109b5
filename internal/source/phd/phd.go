// Package phd implements a sequence-addressed provider whose latest id is discovered
// from the navigation links of its archive index page.
package phd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/source"
)

// Endpoint is the single series this provider serves.
const Endpoint = "phd"

const (
	defaultBaseURL = "https://phdcomics.com/comics/archive.php"
	defaultReferer = "https://phdcomics.com/"
	imageType      = "image/gif"
)

// Config wires a Source.
type Config struct {
	BaseURL  string
	Referer  string
	Options  source.Options
	Excluded []int
	Cache    *cache.Cache
	Fetcher  source.Fetcher
	Rand     comic.Rand
	Logger   *zap.Logger
}

// Source serves the "phd" endpoint.
type Source struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Source.
func New(cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Referer == "" {
		cfg.Referer = defaultReferer
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

// FetchByIdentifier accepts "#n" or "n".
func (s *Source) FetchByIdentifier(ctx context.Context, _ string, identifier string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "identifier", start, strip, err) }(time.Now())
	num, err := comic.ParseSequence(identifier)
	if err != nil {
		return nil, err
	}
	return s.byNumber(ctx, num)
}

// FetchLatest parses the index page, which shows the newest strip.
func (s *Source) FetchLatest(ctx context.Context, _ string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "latest", start, strip, err) }(time.Now())
	return s.latest(ctx)
}

// FetchRandom samples [1, latest] minus the excluded ids.
func (s *Source) FetchRandom(ctx context.Context, _ string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "random", start, strip, err) }(time.Now())
	latest, err := s.latest(ctx)
	if err != nil || latest == nil {
		return nil, err
	}
	maxID, err := comic.ParseSequence(latest.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: latest identifier %q", comic.ErrParse, latest.Identifier)
	}
	num, ok := source.RandomSequence(s.cfg.Rand, maxID, s.cfg.Excluded)
	if !ok {
		return nil, nil
	}
	return s.byNumber(ctx, num)
}

// ProxyImage implements comic.Source.
func (s *Source) ProxyImage(ctx context.Context, imageURL string) (comic.Image, error) {
	img, err := s.cfg.Fetcher.FetchImage(ctx, imageURL, s.cfg.Referer, imageType)
	if err != nil {
		return comic.Image{}, fmt.Errorf("phd image: %w", err)
	}
	return img, nil
}

func (s *Source) byNumber(ctx context.Context, num int) (*comic.Strip, error) {
	key := comic.CacheKey(Endpoint, comic.SequenceID(num))
	strip, err := s.cfg.Cache.Load(ctx, key, func(ctx context.Context) (*comic.Strip, error) {
		page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(s.stripURL(num)))
		if err != nil || page == nil {
			return nil, err
		}
		strip := s.parse(page.Body, num)
		if strip != nil {
			s.cfg.Cache.Put(key, *strip)
		}
		return strip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("phd #%d: %w", num, err)
	}
	return strip, nil
}

func (s *Source) latest(ctx context.Context) (*comic.Strip, error) {
	key := comic.CacheKey(Endpoint, comic.IdentifierLatest)
	strip, err := s.cfg.Cache.Load(ctx, key, func(ctx context.Context) (*comic.Strip, error) {
		page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(s.cfg.BaseURL))
		if err != nil || page == nil {
			return nil, err
		}
		parsed, err := parsePage(page.Body)
		if err != nil || len(parsed.ids) == 0 {
			s.logger.Debug("index page has no navigation ids", zap.Error(err))
			return nil, nil
		}
		maxID := parsed.ids[len(parsed.ids)-1]
		strip := s.build(parsed, maxID)
		if strip == nil {
			return nil, nil
		}
		s.cfg.Cache.Put(key, *strip)
		s.cfg.Cache.Put(comic.CacheKey(Endpoint, strip.Identifier), *strip)
		return strip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("phd latest: %w", err)
	}
	return strip, nil
}

func (s *Source) parse(body []byte, num int) *comic.Strip {
	parsed, err := parsePage(body)
	if err != nil {
		s.logger.Debug("unparseable page", zap.Int("comicid", num), zap.Error(err))
		return nil
	}
	return s.build(parsed, num)
}

func (s *Source) build(parsed parsedPage, num int) *comic.Strip {
	if parsed.imageURL == "" {
		s.logger.Debug("no strip image on page", zap.Int("comicid", num))
		return nil
	}
	title := parsed.title
	if title == "" {
		title = "PHD Comics"
	}
	strip := &comic.Strip{
		Endpoint:   Endpoint,
		Title:      title,
		Identifier: comic.SequenceID(num),
		ImageURL:   parsed.imageURL,
		SourceURL:  s.stripURL(num),
	}
	if prev, ok := neighbour(parsed.ids, num, -1); ok {
		strip.Prev = comic.SequenceID(prev)
	}
	if next, ok := neighbour(parsed.ids, num, +1); ok {
		strip.Next = comic.SequenceID(next)
	}
	return strip
}

func (s *Source) stripURL(num int) string {
	return s.cfg.BaseURL + "?comicid=" + strconv.Itoa(num)
}

// neighbour finds the closest id below (dir < 0) or above (dir > 0) num in sorted ids.
func neighbour(ids []int, num, dir int) (int, bool) {
	if dir < 0 {
		for i := len(ids) - 1; i >= 0; i-- {
			if ids[i] < num {
				return ids[i], true
			}
		}
		return 0, false
	}
	for _, id := range ids {
		if id > num {
			return id, true
		}
	}
	return 0, false
}
