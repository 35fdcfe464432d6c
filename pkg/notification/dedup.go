package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore tracks processed events so redelivered notifications become
// no-ops. CheckAndMark must be atomic: two concurrent deliveries of the same
// event may see at most one true result.
type DedupStore interface {
	// CheckAndMark records the key and reports whether it was seen before.
	CheckAndMark(ctx context.Context, key string) (seen bool, err error)
	// Unmark releases a key claimed by CheckAndMark, so an event whose apply
	// failed is retried on redelivery instead of being dropped as a duplicate.
	Unmark(ctx context.Context, key string) error
}

// MemoryDedup is an in-process dedup store for single-instance deployments
// and tests. Entries older than the retention window are purged lazily.
type MemoryDedup struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	retention time.Duration
	now       func() time.Time
}

// NewMemoryDedup creates a memory dedup store keeping keys for retention.
func NewMemoryDedup(retention time.Duration) *MemoryDedup {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &MemoryDedup{
		seen:      make(map[string]time.Time),
		retention: retention,
		now:       time.Now,
	}
}

func (d *MemoryDedup) CheckAndMark(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for k, at := range d.seen {
		if now.Sub(at) > d.retention {
			delete(d.seen, k)
		}
	}

	if _, ok := d.seen[key]; ok {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

func (d *MemoryDedup) Unmark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

// RedisDedup shares the processed-event set across service instances using
// SETNX with a TTL, which gives the required check-and-mark atomicity.
type RedisDedup struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

// NewRedisDedup creates a Redis-backed dedup store. Panics on nil client.
func NewRedisDedup(client *redis.Client, prefix string, retention time.Duration) *RedisDedup {
	if client == nil {
		panic("notification: redis client is required")
	}
	if prefix == "" {
		prefix = "notification:seen"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisDedup{client: client, prefix: prefix, retention: retention}
}

func (d *RedisDedup) CheckAndMark(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, 1, d.retention).Result()
	if err != nil {
		return false, fmt.Errorf("notification: dedup check: %w", err)
	}
	return !ok, nil
}

func (d *RedisDedup) Unmark(ctx context.Context, key string) error {
	if err := d.client.Del(ctx, d.prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("notification: dedup release: %w", err)
	}
	return nil
}
