package cache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is a process-local LRU cache. Entries expire after the TTL
// given to Set, bounded by the cache-wide maxTTL.
type MemoryCache struct {
	entries *lru.LRU[string, memoryEntry]
	now     func() time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries values.
func NewMemoryCache(maxEntries int, maxTTL time.Duration) *MemoryCache {
	if maxEntries < 10 {
		maxEntries = 10
	}
	return &MemoryCache{
		entries: lru.NewLRU[string, memoryEntry](maxEntries, nil, maxTTL),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) ([]byte, bool, error) {
	if key.IsZero() {
		return nil, false, ErrInvalidKey
	}
	e, ok := c.entries.Get(key.String())
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.entries.Remove(key.String())
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	if key.IsZero() {
		return ErrInvalidKey
	}
	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries.Add(key.String(), e)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...Key) error {
	for _, k := range keys {
		c.entries.Remove(k.String())
	}
	return nil
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Purge removes every entry.
func (c *MemoryCache) Purge() {
	c.entries.Purge()
}
