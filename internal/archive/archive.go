// Package archive talks to the public web archive: a timestamp index (CDX) that says
// which snapshots exist for a URL, and replay URLs that serve a snapshot's content.
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	collyfetcher "github.com/ashmod/panels/internal/fetcher/colly"
	"github.com/ashmod/panels/internal/metrics"
)

const (
	DefaultIndexURL  = "https://web.archive.org/cdx/search/cdx"
	DefaultReplayURL = "https://web.archive.org/web"
	DefaultCutoff    = "20230312"

	breakerName = "archive-index"
)

var errIndexUnavailable = errors.New("archive index returned no response")

// Fetcher is the subset of the fetch client the archive needs.
type Fetcher interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (*collyfetcher.Page, error)
}

// Config wires a Client.
type Config struct {
	IndexURL  string
	ReplayURL string
	// Cutoff bounds every query to snapshots taken on or before this YYYYMMDD stamp.
	Cutoff string

	LookupRetries int
	LookupTimeout time.Duration

	// BreakerFailures consecutive lookup failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration

	Fetcher Fetcher
	Logger  *zap.Logger
}

// Capture is one row of a bulk index query.
type Capture struct {
	Original  string
	Timestamp string
}

// EnumerateOptions bound a bulk index query.
type EnumerateOptions struct {
	Limit   int
	Retries int
	Timeout time.Duration
}

// Client queries the archive index.
type Client struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker[*collyfetcher.Page]
	logger  *zap.Logger
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.IndexURL == "" {
		cfg.IndexURL = DefaultIndexURL
	}
	if cfg.ReplayURL == "" {
		cfg.ReplayURL = DefaultReplayURL
	}
	cfg.ReplayURL = strings.TrimRight(cfg.ReplayURL, "/")
	if cfg.Cutoff == "" {
		cfg.Cutoff = DefaultCutoff
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 15 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "archive"))

	metrics.SetArchiveBreakerState(breakerName, int(gobreaker.StateClosed))
	breaker := gobreaker.NewCircuitBreaker[*collyfetcher.Page](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the index
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("archive breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.SetArchiveBreakerState(name, int(to))
		},
	})
	return &Client{cfg: cfg, breaker: breaker, logger: logger}
}

// Lookup asks for the most recent successful snapshot of original taken up to the
// cutoff. found is false when the index has none or cannot be reached; err is set
// only for hard fetch failures and caller cancellation.
func (c *Client) Lookup(ctx context.Context, original string) (timestamp string, found bool, err error) {
	q := url.Values{}
	q.Set("url", original)
	q.Set("fl", "timestamp")
	q.Set("filter", "statuscode:^2")
	q.Set("limit", "-1")
	q.Set("to", c.cfg.Cutoff)
	target := c.cfg.IndexURL + "?" + q.Encode()

	page, err := c.breaker.Execute(func() (*collyfetcher.Page, error) {
		page, err := c.cfg.Fetcher.Fetch(ctx, collyfetcher.Request{
			URL:        target,
			MaxRetries: c.cfg.LookupRetries,
			Timeout:    c.cfg.LookupTimeout,
		})
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, errIndexUnavailable
		}
		return page, nil
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		c.logger.Debug("archive lookup short-circuited", zap.String("url", original), zap.Error(err))
		return "", false, nil
	case errors.Is(err, errIndexUnavailable):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("archive lookup %s: %w", original, err)
	}

	ts := lastLine(string(page.Body))
	if !isTimestamp(ts) {
		c.logger.Debug("no archived snapshot", zap.String("url", original))
		return "", false, nil
	}
	return ts, true, nil
}

// Enumerate lists every snapshot of urlPattern (which may end in a wildcard) with a
// 200 status up to the cutoff, one row per distinct URL. Rows that do not have
// exactly two fields are skipped. It bypasses the breaker.
func (c *Client) Enumerate(ctx context.Context, urlPattern string, opts EnumerateOptions) ([]Capture, error) {
	q := url.Values{}
	q.Set("url", urlPattern)
	q.Set("fl", "original,timestamp")
	q.Set("filter", "statuscode:200")
	q.Set("collapse", "urlkey")
	q.Set("to", c.cfg.Cutoff)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.LookupTimeout
	}

	page, err := c.cfg.Fetcher.Fetch(ctx, collyfetcher.Request{
		URL:        c.cfg.IndexURL + "?" + q.Encode(),
		MaxRetries: opts.Retries,
		Timeout:    timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("archive enumerate %s: %w", urlPattern, err)
	}
	if page == nil {
		return nil, fmt.Errorf("archive enumerate %s: %w", urlPattern, errIndexUnavailable)
	}

	var captures []Capture
	for _, line := range strings.Split(string(page.Body), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		captures = append(captures, Capture{Original: fields[0], Timestamp: fields[1]})
	}
	c.logger.Info("archive enumerate finished", zap.String("pattern", urlPattern), zap.Int("captures", len(captures)))
	return captures, nil
}

// ReplayURL builds the replay address for a snapshot.
func (c *Client) ReplayURL(timestamp, original string) string {
	return c.cfg.ReplayURL + "/" + timestamp + "/" + original
}

func lastLine(body string) string {
	lines := strings.Split(strings.TrimSpace(body), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func isTimestamp(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
