// Package cache provides the process-wide strip cache shared by every source.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ashmod/panels/internal/comic"
	"github.com/ashmod/panels/internal/metrics"
)

const (
	defaultMaxEntries = 500
	defaultTTL        = 30 * time.Minute
)

// Config bounds the cache.
type Config struct {
	MaxEntries int64
	TTL        time.Duration
	Logger     *zap.Logger
}

// Loader produces a strip on a cache miss. A nil strip is a miss and is not cached.
type Loader func(ctx context.Context) (*comic.Strip, error)

// Cache is a capacity and TTL bounded strip table. Eviction is TinyLFU-approximate, not
// exact LRU. Entries are replaced whole and never mutated in place.
type Cache struct {
	store  *ristretto.Cache[string, comic.Strip]
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

// New builds a Cache.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, comic.Strip]{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create strip cache: %w", err)
	}
	return &Cache{store: store, ttl: cfg.TTL, logger: logger}, nil
}

// Get returns the strip stored under key.
func (c *Cache) Get(key string) (comic.Strip, bool) {
	strip, ok := c.store.Get(key)
	metrics.ObserveCacheLookup(ok)
	return strip, ok
}

// Put stores strip under key. The entry is visible to the next Get unless the admission
// policy rejected it.
func (c *Cache) Put(key string, strip comic.Strip) {
	if !c.store.SetWithTTL(key, strip, 1, c.ttl) {
		c.logger.Debug("strip cache dropped entry", zap.String("key", key))
	}
	c.store.Wait()
}

// Load returns the cached strip for key, or runs load once for all concurrent callers
// asking for the same key. Loaders populate the cache themselves since the key a strip
// is stored under may differ from the requested one.
func (c *Cache) Load(ctx context.Context, key string, load Loader) (*comic.Strip, error) {
	if strip, ok := c.Get(key); ok {
		return &strip, nil
	}
	ch := c.group.DoChan(key, func() (any, error) {
		if strip, ok := c.store.Get(key); ok {
			return &strip, nil
		}
		return load(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("strip cache load %s: %w", key, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err //nolint:wrapcheck
		}
		strip, _ := res.Val.(*comic.Strip)
		if strip == nil {
			return nil, nil
		}
		out := *strip
		return &out, nil
	}
}

// Close stops the cache's background goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
