// Package metrics exposes Prometheus collectors for the strip service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	sourceRequestsTotal        *prometheus.CounterVec
	sourceRequestDuration      *prometheus.HistogramVec
	archiveBreakerState        *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	rateLimitDelaySeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. Safe to call repeatedly;
// every Observe helper calls it.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panels_fetch_attempts_total",
				Help: "Upstream fetch attempts, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panels_cache_lookups_total",
				Help: "Strip cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		sourceRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "panels_source_requests_total",
				Help: "Source operations, labeled by source, operation and outcome.",
			},
			[]string{"source", "operation", "outcome"},
		)

		sourceRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panels_source_request_duration_seconds",
				Help:    "Latency of source operations.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30},
			},
			[]string{"source", "operation"},
		)

		archiveBreakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "panels_archive_breaker_state",
				Help: "Archive index circuit breaker state (0 closed, 1 half-open, 2 open).",
			},
			[]string{"name"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
			},
			[]string{"method", "route"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "panels_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL, or "unknown".
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one fetch attempt against host.
func ObserveFetchAttempt(host, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(strings.ToLower(host), outcome).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveSourceRequest records one source operation.
func ObserveSourceRequest(source, operation, outcome string, duration time.Duration) {
	Init()
	sourceRequestsTotal.WithLabelValues(source, operation, outcome).Inc()
	sourceRequestDuration.WithLabelValues(source, operation).Observe(duration.Seconds())
}

// SetArchiveBreakerState publishes the breaker state as a gauge.
func SetArchiveBreakerState(name string, state int) {
	Init()
	archiveBreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(host).Observe(duration.Seconds())
}
