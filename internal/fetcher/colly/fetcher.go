// Package collyfetcher implements the fetch client used by every comic source on top of
// a gocolly collector.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/metrics"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRedirects = 5
	defaultRetryDelay   = time.Second
	defaultMaxBodyBytes = 64 << 20

	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptImage    = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.5"
)

// ErrBodyUnreadable is returned when a success response arrived but its body could not be read.
var ErrBodyUnreadable = fmt.Errorf("%w: response body unreadable", comic.ErrUpstream)

// Config controls collector behavior.
type Config struct {
	// Timeout is the client-wide ceiling; per-request timeouts only shorten it.
	Timeout      time.Duration
	MaxRedirects int
	RetryDelay   time.Duration
	MaxBodyBytes int
	UserAgents   []string
	Transport    http.RoundTripper
	Logger       *zap.Logger
}

// Request describes one logical fetch.
type Request struct {
	URL string
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	Timeout    time.Duration
	// SuppressErrors and SilentStatuses only lower log verbosity.
	SuppressErrors bool
	SilentStatuses []int
	Header         http.Header
}

// Page is a successfully fetched document.
type Page struct {
	Body        []byte
	FinalURL    string
	StatusCode  int
	ContentType string
}

// Client fetches pages with identity rotation, bounded retries and per-call timeouts.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	retry         RetryPolicy
	agents        *agentPool
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. Settings that live on the shared HTTP backend are applied once here.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(&trackingTransport{base: transport})
	c.SetRequestTimeout(cfg.Timeout)
	maxRedirects := cfg.MaxRedirects
	c.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	})

	return &Client{
		cfg:           cfg,
		baseCollector: c,
		retry:         RetryPolicy{Delay: cfg.RetryDelay},
		agents:        newAgentPool(cfg.UserAgents),
		logger:        logger,
	}
}

// Fetch performs req. A miss (404, or retries exhausted) returns a nil page and nil
// error. The only hard failure is ErrBodyUnreadable; a canceled ctx surfaces its error.
func (f *Client) Fetch(ctx context.Context, req Request) (*Page, error) {
	timeout := req.Timeout
	if timeout <= 0 || timeout > f.cfg.Timeout {
		timeout = f.cfg.Timeout
	}
	host := hostOf(req.URL)
	attempts := req.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		res := f.attempt(ctx, req, timeout, acceptHTML)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s canceled: %w", req.URL, err)
		}

		switch {
		case res.status == http.StatusNotFound:
			metrics.ObserveFetchAttempt(host, "not_found")
			f.logStatus(req, res.status)
			return nil, nil
		case res.page != nil:
			metrics.ObserveFetchAttempt(host, "ok")
			return res.page, nil
		case res.status != 0:
			metrics.ObserveFetchAttempt(host, "status")
			f.logStatus(req, res.status)
		case res.hard:
			metrics.ObserveFetchAttempt(host, "unreadable")
			return nil, fmt.Errorf("fetch %s: %w: %v", req.URL, ErrBodyUnreadable, res.err)
		default:
			metrics.ObserveFetchAttempt(host, "transport")
			f.logTransport(req, res, timeout, attempt, attempts)
		}

		if attempt < attempts {
			if err := f.retry.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch %s canceled: %w", req.URL, err)
			}
		}
	}
	return nil, nil
}

// FetchImage re-fetches an image once, forwarding a browser identity and referer so
// origin hotlink protection accepts the request. Non-success statuses are not-found.
func (f *Client) FetchImage(ctx context.Context, imageURL, referer, fallbackType string) (comic.Image, error) {
	header := http.Header{}
	if referer != "" {
		header.Set("Referer", referer)
	}
	res := f.attempt(ctx, Request{URL: imageURL, Header: header}, f.cfg.Timeout, acceptImage)
	host := hostOf(imageURL)
	switch {
	case res.page != nil:
		metrics.ObserveFetchAttempt(host, "ok")
		contentType := res.page.ContentType
		if contentType == "" {
			contentType = fallbackType
		}
		return comic.Image{Body: res.page.Body, ContentType: contentType}, nil
	case res.status != 0:
		metrics.ObserveFetchAttempt(host, "status")
		return comic.Image{}, fmt.Errorf("%w: image %s returned %d", comic.ErrNotFound, imageURL, res.status)
	default:
		metrics.ObserveFetchAttempt(host, "transport")
		return comic.Image{}, fmt.Errorf("%w: image %s: %v", comic.ErrUpstream, imageURL, res.err)
	}
}

type attemptResult struct {
	page     *Page
	status   int
	err      error
	hard     bool
	timedOut bool
}

func (f *Client) attempt(ctx context.Context, req Request, timeout time.Duration, accept string) attemptResult {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	recorder := &urlRecorder{}
	attemptCtx = context.WithValue(attemptCtx, recorderKey{}, recorder)

	var (
		resp     *colly.Response
		fetchErr error
	)
	collector := f.buildCollector(attemptCtx, req, accept, &resp, &fetchErr)
	if err := f.runCollector(attemptCtx, collector, req.URL); err != nil && fetchErr == nil {
		fetchErr = err
	}

	timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
	switch {
	case resp != nil && resp.StatusCode != 0 && fetchErr == nil:
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return attemptResult{status: resp.StatusCode}
		}
		return attemptResult{page: &Page{
			Body:        append([]byte(nil), resp.Body...),
			FinalURL:    recorder.finalURL(resp.Request.URL.String()),
			StatusCode:  resp.StatusCode,
			ContentType: resp.Headers.Get("Content-Type"),
		}, status: resp.StatusCode}
	case fetchErr == nil:
		return attemptResult{err: errors.New("no response"), timedOut: timedOut}
	case timedOut || ctx.Err() != nil || isTransportError(fetchErr):
		return attemptResult{err: fetchErr, timedOut: timedOut || isTimeout(fetchErr)}
	}

	// the body failed to read after headers arrived
	switch status := recorder.statusCode(); {
	case status >= 200 && status < 300:
		return attemptResult{err: fetchErr, hard: true}
	case status != 0:
		return attemptResult{status: status}
	default:
		return attemptResult{err: fetchErr}
	}
}

func (f *Client) buildCollector(
	ctx context.Context,
	req Request,
	accept string,
	resp **colly.Response,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.UserAgent = f.agents.pick()
	f.configureCollectorHooks(collector, req, accept, resp, fetchErr)
	return collector
}

func (f *Client) configureCollectorHooks(
	hooks collectorHooks,
	req Request,
	accept string,
	resp **colly.Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", accept)
		r.Headers.Set("Accept-Language", acceptLanguage)
		for key, values := range req.Header {
			r.Headers.Del(key)
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*resp = r
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Client) runCollector(ctx context.Context, collector *colly.Collector, target string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		// the collector shares ctx, so Visit unwinds promptly; wait so hooks stop writing
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Client) logStatus(req Request, status int) {
	fields := []zap.Field{zap.Int("status", status), zap.String("url", req.URL)}
	if req.SuppressErrors || containsStatus(req.SilentStatuses, status) {
		f.logger.Debug("upstream returned non-success status", fields...)
		return
	}
	f.logger.Warn("upstream returned non-success status", fields...)
}

func (f *Client) logTransport(req Request, res attemptResult, timeout time.Duration, attempt, attempts int) {
	fields := []zap.Field{
		zap.String("url", req.URL),
		zap.Int("attempt", attempt),
		zap.Int("attempts", attempts),
		zap.Error(res.err),
	}
	if req.SuppressErrors {
		f.logger.Debug("request failed", fields...)
		return
	}
	if res.timedOut {
		f.logger.Warn("request timed out", append(fields, zap.Duration("timeout", timeout))...)
		return
	}
	f.logger.Warn("request failed", fields...)
}

func containsStatus(list []int, status int) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}

// isTransportError reports failures that happened before a response existed.
func isTransportError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return isTimeout(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return u.Hostname()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
