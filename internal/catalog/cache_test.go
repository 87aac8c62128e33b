package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheExpiresEntries(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := NewMemoryCache(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "Austin", []Venue{{ID: "v1", Categories: []string{"bar"}}}, time.Minute))

	venues, hit, err := cache.Get(ctx, "Austin")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, venues, 1)

	venues[0].Categories[0] = "mutated"
	again, _, _ := cache.Get(ctx, "Austin")
	assert.Equal(t, "bar", again[0].Categories[0], "cached entries must not alias caller slices")

	_, hit, _ = cache.Get(ctx, "austin")
	assert.False(t, hit, "keys are not normalized")

	now = now.Add(time.Minute)
	_, hit, err = cache.Get(ctx, "Austin")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 0, cache.size())
}

func TestMemoryCacheSweepsOnSetAndDeletes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := NewMemoryCache(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "old", []Venue{{ID: "a"}}, time.Second))
	now = now.Add(2 * time.Second)
	require.NoError(t, cache.Set(ctx, "new", []Venue{{ID: "b"}}, time.Minute))
	assert.Equal(t, 1, cache.size())

	require.NoError(t, cache.Delete(ctx, "new"))
	assert.Equal(t, 0, cache.size())
}

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	server := miniredis.RunT(t)
	cache, err := OpenRedisCache(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return server, cache
}

func TestRedisCacheRoundTripAndTTL(t *testing.T) {
	server, cache := setupRedisCache(t)
	ctx := context.Background()
	level := 3

	_, hit, err := cache.Get(ctx, "Paris")
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.Set(ctx, "Paris", []Venue{{ID: "p1", Name: "Chez", PriceLevel: &level}}, time.Minute))
	assert.True(t, server.Exists(redisKeyPrefix+"Paris"))

	venues, hit, err := cache.Get(ctx, "Paris")
	require.NoError(t, err)
	require.True(t, hit)
	require.Len(t, venues, 1)
	assert.Equal(t, "Chez", venues[0].Name)
	require.NotNil(t, venues[0].PriceLevel)
	assert.Equal(t, 3, *venues[0].PriceLevel)

	server.FastForward(2 * time.Minute)
	_, hit, err = cache.Get(ctx, "Paris")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheReportsCorruptEntries(t *testing.T) {
	server, cache := setupRedisCache(t)
	require.NoError(t, server.Set(redisKeyPrefix+"Rome", "not-json"))

	_, hit, err := cache.Get(context.Background(), "Rome")
	assert.Error(t, err)
	assert.False(t, hit)
}

func TestRedisCacheDelete(t *testing.T) {
	server, _ := setupRedisCache(t)
	cache := NewRedisCache(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "Oslo", []Venue{{ID: "o1"}}, time.Minute))
	require.NoError(t, cache.Delete(ctx, "Oslo"))
	assert.False(t, server.Exists(redisKeyPrefix+"Oslo"))
}

func TestOpenRedisCacheRejectsBadURL(t *testing.T) {
	_, err := OpenRedisCache(context.Background(), "invalid://url")
	assert.Error(t, err)
}
