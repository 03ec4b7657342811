// Package ratelimit paces requests to source commerce platforms.
//
// Two layers cooperate: a per-process token bucket (golang.org/x/time/rate)
// smooths bursts from one client, and a Redis-backed RequestBudget caps the
// number of calls made against a single store across every process, since
// platforms enforce their limits per store and not per caller.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultRequestsPerWindow = 80
	DefaultWindowSize        = time.Minute
	KeyPrefixBudget          = "srcbudget:"
)

// consumeScript atomically checks and increments the window counter for a store
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local n = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + n > limit then
		return {0, used}
	end

	redis.call('INCRBY', key, n)
	redis.call('EXPIRE', key, ttl)
	return {1, used + n}
`)

// RequestBudget coordinates source API consumption per store using Redis.
// Each store gets a fixed window of RequestsPerWindow calls.
type RequestBudget struct {
	redis      redis.Cmdable
	limit      int
	windowSize time.Duration
	now        func() time.Time
}

// RequestBudgetConfig holds configuration for the request budget.
type RequestBudgetConfig struct {
	// Redis is required for cross-process coordination.
	Redis redis.Cmdable

	// RequestsPerWindow is the per-store call allowance. Default: 80.
	RequestsPerWindow int

	// WindowSize is the window length. Default: 1m.
	WindowSize time.Duration

	// Now is overridable in tests.
	Now func() time.Time
}

// Validate checks if the configuration is valid.
func (c *RequestBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.RequestsPerWindow < 0 {
		return errors.New("requests per window cannot be negative")
	}
	if c.WindowSize < 0 {
		return errors.New("window size cannot be negative")
	}
	return nil
}

// NewRequestBudget creates a new budget with the given configuration.
func NewRequestBudget(cfg *RequestBudgetConfig) (*RequestBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	limit := cfg.RequestsPerWindow
	if limit == 0 {
		limit = DefaultRequestsPerWindow
	}
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &RequestBudget{
		redis:      cfg.Redis,
		limit:      limit,
		windowSize: window,
		now:        now,
	}, nil
}

func (b *RequestBudget) windowStart() time.Time {
	return b.now().Truncate(b.windowSize)
}

func (b *RequestBudget) key(store string, windowStart time.Time) string {
	return KeyPrefixBudget + store + ":" + strconv.FormatInt(windowStart.UnixMilli(), 10)
}

// TryConsume attempts to take n calls from store's budget.
//
// Returns:
//   - allowed: true if the calls may proceed
//   - waitTime: time until the next window when not allowed
//   - err: Redis failure; allowed is false in that case
func (b *RequestBudget) TryConsume(ctx context.Context, store string, n int) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	ttlSeconds := int((b.windowSize * 2).Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{b.key(store, start)}, n, b.limit, ttlSeconds).Int64Slice()
	if err != nil {
		return false, b.waitTime(start), fmt.Errorf("failed to consume request budget: %w", err)
	}

	if result[0] != 1 {
		return false, b.waitTime(start), nil
	}
	return true, 0, nil
}

func (b *RequestBudget) waitTime(windowStart time.Time) time.Duration {
	wait := windowStart.Add(b.windowSize).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	// land inside the next window
	return wait + time.Millisecond
}

// Used returns the number of calls consumed by store in the current window.
func (b *RequestBudget) Used(ctx context.Context, store string) (int, error) {
	val, err := b.redis.Get(ctx, b.key(store, b.windowStart())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read request budget: %w", err)
	}
	return val, nil
}

// Limit returns the per-window allowance.
func (b *RequestBudget) Limit() int {
	return b.limit
}
