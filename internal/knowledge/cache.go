package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a keyed, time-bounded store for merged deprecation results.
// Entries expire by TTL, not by explicit invalidation.
type Cache interface {
	Get(ctx context.Context, key string) ([]DeprecatedItem, bool)
	Set(ctx context.Context, key string, items []DeprecatedItem, ttl time.Duration)
}

type memoryEntry struct {
	items     []DeprecatedItem
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. Expired entries are evicted lazily
// on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]DeprecatedItem, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false
	}
	return entry.items, true
}

func (c *MemoryCache) Set(_ context.Context, key string, items []DeprecatedItem, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{
		items:     items,
		expiresAt: c.now().Add(ttl),
	}
}

// RedisCache shares merged knowledge results across scanner instances.
// Values are JSON; expiry is delegated to Redis TTLs.
type RedisCache struct {
	client    *redis.Client
	keyPrefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:    client,
		keyPrefix: "coderenew:knowledge:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]DeprecatedItem, bool) {
	raw, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	var items []DeprecatedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	return items, true
}

func (c *RedisCache) Set(ctx context.Context, key string, items []DeprecatedItem, ttl time.Duration) {
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.keyPrefix+key, raw, ttl).Err()
}

// NewRedisCacheFromURL connects a Redis client and verifies it before
// wrapping it in a cache.
func NewRedisCacheFromURL(ctx context.Context, redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("connecting to redis: %w", err), client.Close())
	}
	return NewRedisCache(client), nil
}
