package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is the capability injected into callers that memoize external
// lookups (avatar resolution). Implementations must be safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. It is the default backend and
// the substitute used in tests.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	max   int
}

// NewMemoryCache returns a memory cache bounded to max entries.
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 256
	}
	return &MemoryCache{
		items: make(map[string]memoryItem),
		max:   max,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return "", false
	}
	return item.value, true
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) >= c.max {
		c.evictExpiredLocked()
	}
	if len(c.items) >= c.max {
		// Still full: drop an arbitrary entry rather than grow unbounded.
		for k := range c.items {
			delete(c.items, k)
			break
		}
	}
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	c.items[key] = item
}

func (c *MemoryCache) evictExpiredLocked() {
	now := time.Now()
	for k, item := range c.items {
		if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
			delete(c.items, k)
		}
	}
}
