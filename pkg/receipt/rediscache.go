package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares validation results across service instances. Entries
// expire server-side via the key TTL; the hit counter lives in a sibling key
// so concurrent readers don't race on the JSON blob.
type RedisCache struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCache creates a Redis-backed validation cache. Panics on nil client.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if client == nil {
		panic("receipt: redis client is required")
	}
	if prefix == "" {
		prefix = "receipt:validation"
	}
	return &RedisCache{client: client, prefix: prefix, now: time.Now}
}

func (c *RedisCache) key(key string) string  { return c.prefix + ":" + key }
func (c *RedisCache) hits(key string) string { return c.prefix + ":hits:" + key }

func (c *RedisCache) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("receipt: cache get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// A corrupt entry is worth one extra server round trip, not an outage.
		_ = c.client.Del(ctx, c.key(key)).Err()
		return Entry{}, false, nil
	}
	if entry.ExpiredAt(c.now()) {
		return Entry{}, false, nil
	}

	if hits, err := c.client.Incr(ctx, c.hits(key)).Result(); err == nil {
		entry.HitCount = hits
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("receipt: cache marshal: %w", err)
	}

	ttl := entry.ExpiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("receipt: cache set: %w", err)
	}
	_ = c.client.Expire(ctx, c.hits(key), ttl).Err()
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key), c.hits(key)).Err(); err != nil {
		return fmt.Errorf("receipt: cache delete: %w", err)
	}
	return nil
}
