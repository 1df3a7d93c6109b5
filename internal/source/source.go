// Package source holds what the comic providers share: the fetch contract they depend
// on, request options, instrumentation and sequence sampling.
package source

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/ashmod/panels/internal/comic"
	collyfetcher "github.com/ashmod/panels/internal/fetcher/colly"
	"github.com/ashmod/panels/internal/metrics"
)

// Fetcher is the network surface a provider needs.
type Fetcher interface {
	Fetch(ctx context.Context, req collyfetcher.Request) (*collyfetcher.Page, error)
	FetchImage(ctx context.Context, imageURL, referer, fallbackType string) (comic.Image, error)
}

// Options are a provider's retry and timeout settings.
type Options struct {
	Retries int
	Timeout time.Duration
}

// Request builds a fetch request for target.
func (o Options) Request(target string) collyfetcher.Request {
	return collyfetcher.Request{URL: target, MaxRetries: o.Retries, Timeout: o.Timeout}
}

// Quiet is Request with error logging suppressed, for speculative probes.
func (o Options) Quiet(target string) collyfetcher.Request {
	req := o.Request(target)
	req.SuppressErrors = true
	return req
}

// Observe records one provider operation in the metrics.
func Observe(name, operation string, start time.Time, strip *comic.Strip, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, comic.ErrInvalidParameter):
		outcome = "invalid"
	case err != nil:
		outcome = "error"
	case strip == nil:
		outcome = "miss"
	}
	metrics.ObserveSourceRequest(name, operation, outcome, time.Since(start))
}

// DefaultRand draws from the process-wide generator.
type DefaultRand struct{}

// IntN returns a uniform int in [0, n).
func (DefaultRand) IntN(n int) int {
	return rand.IntN(n)
}

// RandomSequence draws a number uniformly from [1, maxID] skipping excluded ids. It
// reports false when nothing is left to choose from.
func RandomSequence(r comic.Rand, maxID int, excluded []int) (int, bool) {
	skip := make([]int, 0, len(excluded))
	seen := make(map[int]struct{}, len(excluded))
	for _, id := range excluded {
		if id < 1 || id > maxID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		skip = append(skip, id)
	}
	sort.Ints(skip)
	valid := maxID - len(skip)
	if valid <= 0 {
		return 0, false
	}
	id := r.IntN(valid) + 1
	for _, ex := range skip {
		if ex <= id {
			id++
		}
	}
	return id, true
}
