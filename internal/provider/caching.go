package provider

import (
	"context"
	"sync"

	"picksim/pkg/model"
)

// BarCache stores bar query results by BarQuery.Key
type BarCache interface {
	GetBars(ctx context.Context, key string) ([]model.Candle, bool, error)
	PutBars(ctx context.Context, key string, bars []model.Candle) error
}

// MemoryCache is a BarCache living for the process lifetime
type MemoryCache struct {
	mu    sync.Mutex
	items map[string][]model.Candle
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string][]model.Candle)}
}

func (c *MemoryCache) GetBars(_ context.Context, key string) ([]model.Candle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bars, ok := c.items[key]
	return bars, ok, nil
}

func (c *MemoryCache) PutBars(_ context.Context, key string, bars []model.Candle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = bars
	return nil
}

// Len returns the number of cached queries
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CachingProvider wraps a Provider with a BarCache.
// Repeated picks of the same symbol and date hit the provider once.
type CachingProvider struct {
	inner Provider
	cache BarCache
}

// NewCachingProvider creates a caching wrapper
func NewCachingProvider(inner Provider, cache BarCache) *CachingProvider {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &CachingProvider{
		inner: inner,
		cache: cache,
	}
}

func (p *CachingProvider) Name() string      { return p.inner.Name() }
func (p *CachingProvider) IsAvailable() bool { return p.inner.IsAvailable() }
func (p *CachingProvider) RateLimit() int    { return p.inner.RateLimit() }

// GetBars serves q from the cache, falling through to the wrapped provider.
// Cache read failures are treated as misses; empty results are not stored.
func (p *CachingProvider) GetBars(ctx context.Context, q model.BarQuery) ([]model.Candle, error) {
	key := q.Key()
	if cached, ok, err := p.cache.GetBars(ctx, key); err == nil && ok {
		return cached, nil
	}

	bars, err := p.inner.GetBars(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, nil
	}

	// a failed write only costs a refetch
	_ = p.cache.PutBars(ctx, key, bars)
	return bars, nil
}
