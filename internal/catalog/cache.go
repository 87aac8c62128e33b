package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "tender:catalog:"

// Cache memoizes provider results by raw location string.
type Cache interface {
	Get(ctx context.Context, location string) ([]Venue, bool, error)
	Set(ctx context.Context, location string, venues []Venue, ttl time.Duration) error
	Delete(ctx context.Context, location string) error
}

type memoryEntry struct {
	venues    []Venue
	expiresAt time.Time
}

// MemoryCache is a process-local TTL memo. It is not shared between instances.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache(clock func() time.Time) *MemoryCache {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

// Get returns a live entry; expired entries are evicted on read.
func (c *MemoryCache) Get(_ context.Context, location string) ([]Venue, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[location]
	if !ok {
		return nil, false, nil
	}
	if !c.clock().Before(entry.expiresAt) {
		delete(c.entries, location)
		return nil, false, nil
	}
	return cloneVenues(entry.venues), true, nil
}

// Set stores venues for ttl and sweeps expired entries.
func (c *MemoryCache) Set(_ context.Context, location string, venues []Venue, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.entries[location] = memoryEntry{venues: cloneVenues(venues), expiresAt: now.Add(ttl)}
	return nil
}

// Delete evicts a single location.
func (c *MemoryCache) Delete(_ context.Context, location string) error {
	c.mu.Lock()
	delete(c.entries, location)
	c.mu.Unlock()
	return nil
}

// size reports the number of stored entries, expired or not.
func (c *MemoryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache shares memoized results between instances through Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing go-redis client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// OpenRedisCache parses a redis:// URL, pings the server and returns a cache.
func OpenRedisCache(ctx context.Context, redisURL string) (*RedisCache, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse redis url: %w", err)
	}
	options.DialTimeout = 5 * time.Second
	options.ReadTimeout = 3 * time.Second
	options.WriteTimeout = 3 * time.Second

	client := redis.NewClient(options)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("catalog: connect redis: %w", err)
	}
	return &RedisCache{client: client}, nil
}

// Close releases the underlying client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Get decodes a cached entry; a corrupt entry is reported as an error.
func (c *RedisCache) Get(ctx context.Context, location string) ([]Venue, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+location).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var venues []Venue
	if err := json.Unmarshal([]byte(raw), &venues); err != nil {
		return nil, false, fmt.Errorf("catalog: corrupt cache entry: %w", err)
	}
	return venues, true, nil
}

// Set stores venues as JSON with a Redis-side expiry.
func (c *RedisCache) Set(ctx context.Context, location string, venues []Venue, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	encoded, err := json.Marshal(venues)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+location, encoded, ttl).Err()
}

// Delete evicts a single location.
func (c *RedisCache) Delete(ctx context.Context, location string) error {
	return c.client.Del(ctx, redisKeyPrefix+location).Err()
}
