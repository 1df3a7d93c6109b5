// Package xkcd implements the sequence-addressed provider backed by a per-number JSON
// document.
package xkcd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/cache"
	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/source"
)

// Endpoint is the single series this provider serves.
const Endpoint = "xkcd"

const (
	defaultBaseURL = "https://xkcd.com"
	imageType      = "image/png"
)

// DefaultExcluded lists numbers that were never published.
var DefaultExcluded = []int{404}

// Config wires a Source. A nil Excluded uses DefaultExcluded.
type Config struct {
	BaseURL  string
	Options  source.Options
	Excluded []int
	Cache    *cache.Cache
	Fetcher  source.Fetcher
	Rand     comic.Rand
	Logger   *zap.Logger
}

// Source serves the "xkcd" endpoint.
type Source struct {
	cfg    Config
	logger *zap.Logger
}

type document struct {
	Num   int    `json:"num"`
	Title string `json:"title"`
	Img   string `json:"img"`
}

// New builds a Source.
func New(cfg Config) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Excluded == nil {
		cfg.Excluded = DefaultExcluded
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

// FetchByIdentifier accepts "#n" or "n". Calendar dates are rejected.
func (s *Source) FetchByIdentifier(ctx context.Context, _ string, identifier string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "identifier", start, strip, err) }(time.Now())
	num, err := comic.ParseSequence(identifier)
	if err != nil {
		return nil, fmt.Errorf("xkcd uses comic numbers such as #123: %w", err)
	}
	return s.byNumber(ctx, num)
}

// FetchLatest reads the current-comic document.
func (s *Source) FetchLatest(ctx context.Context, _ string) (strip *comic.Strip, err error) {
	defer func(start time.Time) { source.Observe(Endpoint, "latest", start, strip, err) }(time.Now())
	return s.latest(ctx)
}

// FetchRandom samples [1, latest] minus the excluded numbers.
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
	s.logger.Debug("random pick", zap.Int("num", num))
	return s.byNumber(ctx, num)
}

// ProxyImage implements comic.Source.
func (s *Source) ProxyImage(ctx context.Context, imageURL string) (comic.Image, error) {
	img, err := s.cfg.Fetcher.FetchImage(ctx, imageURL, s.cfg.BaseURL+"/", imageType)
	if err != nil {
		return comic.Image{}, fmt.Errorf("xkcd image: %w", err)
	}
	return img, nil
}

func (s *Source) byNumber(ctx context.Context, num int) (*comic.Strip, error) {
	key := comic.CacheKey(Endpoint, comic.SequenceID(num))
	strip, err := s.cfg.Cache.Load(ctx, key, func(ctx context.Context) (*comic.Strip, error) {
		doc, err := s.document(ctx, s.cfg.BaseURL+"/"+strconv.Itoa(num)+"/info.0.json")
		if err != nil || doc == nil {
			return nil, err
		}
		strip := s.toStrip(doc)
		s.cfg.Cache.Put(key, strip)
		return &strip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("xkcd #%d: %w", num, err)
	}
	return strip, nil
}

func (s *Source) latest(ctx context.Context) (*comic.Strip, error) {
	key := comic.CacheKey(Endpoint, comic.IdentifierLatest)
	strip, err := s.cfg.Cache.Load(ctx, key, func(ctx context.Context) (*comic.Strip, error) {
		doc, err := s.document(ctx, s.cfg.BaseURL+"/info.0.json")
		if err != nil || doc == nil {
			return nil, err
		}
		strip := s.toStrip(doc)
		s.cfg.Cache.Put(key, strip)
		s.cfg.Cache.Put(comic.CacheKey(Endpoint, strip.Identifier), strip)
		return &strip, nil
	})
	if err != nil {
		return nil, fmt.Errorf("xkcd latest: %w", err)
	}
	return strip, nil
}

func (s *Source) document(ctx context.Context, target string) (*document, error) {
	page, err := s.cfg.Fetcher.Fetch(ctx, s.cfg.Options.Request(target))
	if err != nil || page == nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(page.Body, &doc); err != nil {
		s.logger.Debug("undecodable comic document", zap.String("url", target), zap.Error(err))
		return nil, nil
	}
	if doc.Num < 1 || doc.Img == "" {
		s.logger.Debug("comic document lacks number or image", zap.String("url", target))
		return nil, nil
	}
	return &doc, nil
}

func (s *Source) toStrip(doc *document) comic.Strip {
	strip := comic.Strip{
		Endpoint:   Endpoint,
		Title:      doc.Title,
		Identifier: comic.SequenceID(doc.Num),
		ImageURL:   doc.Img,
		SourceURL:  s.cfg.BaseURL + "/" + strconv.Itoa(doc.Num) + "/",
		Next:       comic.SequenceID(doc.Num + 1),
	}
	if doc.Num > 1 {
		strip.Prev = comic.SequenceID(doc.Num - 1)
	}
	return strip
}
