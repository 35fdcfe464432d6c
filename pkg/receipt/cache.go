package receipt

import (
	"context"
	"time"

	"github.com/dmitrymomot/entitlements/pkg/cache"
	"github.com/dmitrymomot/entitlements/pkg/entitlement"
)

// Entry is a cached validation outcome. Only successful validations are
// cached; failures always go back to the server on the next attempt.
type Entry struct {
	State       entitlement.State `json:"state"`
	ReceiptHash string            `json:"receipt_hash"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
	HitCount    int64             `json:"hit_count"`
}

// ExpiredAt reports whether the entry's TTL has elapsed.
func (e Entry) ExpiredAt(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Cache stores validation results keyed by receipt fingerprint.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry) error
	Delete(ctx context.Context, key string) error
}

// MemoryCache is an in-process LRU-backed cache, suitable for single-instance
// deployments and tests. Expired entries are dropped lazily on read.
type MemoryCache struct {
	lru *cache.LRUCache[string, Entry]
	now func() time.Time
}

// NewMemoryCache creates a memory cache holding up to capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	return &MemoryCache{
		lru: cache.NewLRUCache[string, Entry](capacity),
		now: time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	if entry.ExpiredAt(c.now()) {
		c.lru.Remove(key)
		return Entry{}, false, nil
	}
	entry.HitCount++
	c.lru.Put(key, entry)
	return entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry) error {
	c.lru.Put(key, entry)
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}
