package storage

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/config"
	"github.com/catalog-sync/internal/types"
)

func newTestProgressCache(t *testing.T, ttl time.Duration) (*ProgressCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewProgressCache(NewRedisCacheFromClient(client), ttl), mr
}

func TestNewRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, _ := splitAddr(mr.Addr())

	cache, err := NewRedisCache(testContext(t), &config.RedisConfig{Host: host, Port: port, MaxConnections: 2})
	require.NoError(t, err)
	defer func() { _ = cache.Close() }()

	assert.NoError(t, cache.Ping(testContext(t)))
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(testContext(t), &config.RedisConfig{Host: "127.0.0.1", Port: "1"})
	assert.ErrorContains(t, err, "failed to connect to Redis")
}

func TestProgressCache_SetGet(t *testing.T) {
	cache, _ := newTestProgressCache(t, time.Minute)
	ctx := testContext(t)

	snap := &ProgressSnapshot{
		RunID:     "run-1",
		Status:    types.SyncStateInProgress,
		Current:   250,
		Total:     1000,
		Percent:   25,
		Message:   "page 1",
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, cache.SetProgress(ctx, "acct", types.PlatformShopify, snap))

	got, err := cache.GetProgress(ctx, "acct", types.PlatformShopify)
	require.NoError(t, err)
	assert.Equal(t, snap.RunID, got.RunID)
	assert.Equal(t, snap.Current, got.Current)
	assert.Equal(t, snap.Percent, got.Percent)
	assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt))

	t.Run("keys are per platform", func(t *testing.T) {
		_, err := cache.GetProgress(ctx, "acct", types.PlatformWooCommerce)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestProgressCache_Expires(t *testing.T) {
	cache, mr := newTestProgressCache(t, time.Minute)
	ctx := testContext(t)

	require.NoError(t, cache.SetProgress(ctx, "acct", types.PlatformShopify, &ProgressSnapshot{RunID: "r"}))
	mr.FastForward(2 * time.Minute)

	_, err := cache.GetProgress(ctx, "acct", types.PlatformShopify)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProgressCache_CorruptValue(t *testing.T) {
	cache, mr := newTestProgressCache(t, 0)
	require.NoError(t, mr.Set(progressKey("acct", types.PlatformShopify), "{not json"))

	_, err := cache.GetProgress(testContext(t), "acct", types.PlatformShopify)
	assert.ErrorContains(t, err, "failed to unmarshal progress")
}
