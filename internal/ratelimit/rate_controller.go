package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/catalog-sync/internal/logging"
)

// Default rate controller configuration values.
const (
	DefaultBaseDelay         = 250 * time.Millisecond
	DefaultMaxDelay          = 30 * time.Second
	DefaultRequestsPerSecond = 2.0
)

// ErrContextCancelled is returned when the context is cancelled while waiting for budget.
var ErrContextCancelled = errors.New("context cancelled while waiting for budget")

// RequestController gates every call to a source platform. It waits on the
// local token bucket, then on the shared per-store budget, and backs off
// exponentially while the platform keeps answering 429.
type RequestController struct {
	limiter   *rate.Limiter
	budget    *RequestBudget // optional
	baseDelay time.Duration
	maxDelay  time.Duration

	mu               sync.Mutex
	currentDelay     time.Duration
	consecutiveFails int
}

// RequestControllerConfig holds configuration for the controller.
type RequestControllerConfig struct {
	// RequestsPerSecond is the local token bucket rate. Default: 2.
	RequestsPerSecond float64

	// Burst is the local bucket size. Default: 1.
	Burst int

	// Budget enables cross-process per-store limits. Optional.
	Budget *RequestBudget

	// BaseDelay is the first backoff after a throttled call. Default: 250ms.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Default: 30s.
	MaxDelay time.Duration
}

// Validate checks if the configuration is valid.
func (c *RequestControllerConfig) Validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.New("requests per second cannot be negative")
	}
	if c.BaseDelay < 0 {
		return errors.New("base delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > 0 && c.BaseDelay > c.MaxDelay {
		return errors.New("base delay cannot exceed max delay")
	}
	return nil
}

// NewRequestController creates a new controller with the given configuration.
func NewRequestController(cfg *RequestControllerConfig) (*RequestController, error) {
	if cfg == nil {
		cfg = &RequestControllerConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rps := cfg.RequestsPerSecond
	if rps == 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}

	return &RequestController{
		limiter:      rate.NewLimiter(rate.Limit(rps), burst),
		budget:       cfg.Budget,
		baseDelay:    baseDelay,
		maxDelay:     maxDelay,
		currentDelay: baseDelay,
	}, nil
}

// Wait blocks until a call against store may be made or ctx is done.
// Redis failures degrade to local limiting only.
func (c *RequestController) Wait(ctx context.Context, store string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return ErrContextCancelled
	}
	if c.budget == nil {
		return nil
	}

	for {
		allowed, waitTime, err := c.budget.TryConsume(ctx, store, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ErrContextCancelled
			}
			logging.FromContext(ctx).WithError(err).WithField("store", store).
				Warn("Request budget unavailable, continuing with local limit")
			return nil
		}
		if allowed {
			return nil
		}

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ErrContextCancelled
		case <-timer.C:
		}
	}
}

// Throttled records a 429 and sleeps for the larger of retryAfter and the
// current backoff delay.
func (c *RequestController) Throttled(ctx context.Context, retryAfter time.Duration) error {
	c.RecordFailure()

	delay := c.GetCurrentDelay()
	if retryAfter > delay {
		delay = retryAfter
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrContextCancelled
	case <-timer.C:
		return nil
	}
}

// RecordSuccess resets backoff after a call that was not throttled.
func (c *RequestController) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails = 0
	c.currentDelay = c.baseDelay
}

// RecordFailure doubles the backoff, capped at maxDelay.
func (c *RequestController) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveFails++

	newDelay := c.baseDelay
	for i := 1; i < c.consecutiveFails; i++ {
		newDelay *= 2
		if newDelay > c.maxDelay {
			newDelay = c.maxDelay
			break
		}
	}
	c.currentDelay = newDelay
}

// GetCurrentDelay returns the current backoff delay.
func (c *RequestController) GetCurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// GetConsecutiveFailures returns the number of consecutive throttled calls.
func (c *RequestController) GetConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFails
}
