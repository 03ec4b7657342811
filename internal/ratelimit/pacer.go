package ratelimit

import (
	"context"
	"math/rand"
	"time"
)

// DefaultMaxJitter is added on top of the configured inter-page delay
const DefaultMaxJitter = 200 * time.Millisecond

// Pacer spaces consecutive page requests of one run.
type Pacer struct {
	maxJitter time.Duration
	jitter    func(max time.Duration) time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

// PacerOption customizes a Pacer
type PacerOption func(*Pacer)

// WithJitter overrides the jitter source
func WithJitter(fn func(max time.Duration) time.Duration) PacerOption {
	return func(p *Pacer) { p.jitter = fn }
}

// WithSleeper overrides the sleep implementation, mainly for tests
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) PacerOption {
	return func(p *Pacer) { p.sleep = fn }
}

// NewPacer creates a pacer with up to maxJitter of random extra delay
func NewPacer(maxJitter time.Duration, opts ...PacerOption) *Pacer {
	p := &Pacer{
		maxJitter: maxJitter,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max) + 1))
		},
		sleep: Sleep,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pause waits base plus jitter. It returns ctx.Err() if cancelled first.
func (p *Pacer) Pause(ctx context.Context, base time.Duration) error {
	d := base + p.jitter(p.maxJitter)
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}

// Sleep is a cancellable time.Sleep
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
