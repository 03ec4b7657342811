package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/catalog-sync/internal/config"
	"github.com/catalog-sync/internal/types"
)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis connection
func NewRedisCache(ctx context.Context, cfg *config.RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.MaxConnections,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Client returns the underlying Redis client
func (r *RedisCache) Client() *redis.Client {
	return r.client
}

// Ping checks if Redis is reachable
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// ProgressSnapshot is the live view of a run kept in Redis for UI polling
type ProgressSnapshot struct {
	RunID     string          `json:"runId"`
	Status    types.SyncState `json:"status"`
	Current   int             `json:"current"`
	Total     int             `json:"total"`
	Percent   float64         `json:"percent"`
	Message   string          `json:"message"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// ProgressCache stores ProgressSnapshot values with a TTL
type ProgressCache struct {
	cache *RedisCache
	ttl   time.Duration
}

// NewProgressCache creates a progress cache. A zero ttl defaults to 24h.
func NewProgressCache(cache *RedisCache, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProgressCache{cache: cache, ttl: ttl}
}

func progressKey(accountID string, platform types.Platform) string {
	return fmt.Sprintf("sync:progress:%s:%s", accountID, platform)
}

// SetProgress stores the latest snapshot for a store
func (p *ProgressCache) SetProgress(ctx context.Context, accountID string, platform types.Platform, snap *ProgressSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	if err := p.cache.client.Set(ctx, progressKey(accountID, platform), data, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache progress: %w", err)
	}
	return nil
}

// GetProgress returns the latest snapshot, or ErrNotFound
func (p *ProgressCache) GetProgress(ctx context.Context, accountID string, platform types.Platform) (*ProgressSnapshot, error) {
	data, err := p.cache.client.Get(ctx, progressKey(accountID, platform)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress: %w", err)
	}

	var snap ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress: %w", err)
	}
	return &snap, nil
}
