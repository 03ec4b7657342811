package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/retry"
	"github.com/catalog-sync/internal/storage/storagetest"
	"github.com/catalog-sync/internal/types"
)

type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	behavior func(account string, call int) error
}

func (r *fakeRunner) StartSync(_ context.Context, accountID string, platform types.Platform) (*models.SyncResult, error) {
	r.mu.Lock()
	r.calls[accountID]++
	call := r.calls[accountID]
	r.mu.Unlock()

	if err := r.behavior(accountID, call); err != nil {
		return nil, err
	}
	return &models.SyncResult{AccountID: accountID, Platform: platform, Status: types.SyncStateSuccess}, nil
}

func (r *fakeRunner) count(account string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[account]
}

func fastRetry() *retry.RetryConfig {
	return &retry.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func conn(account string, active, auto bool) *models.StoreConnection {
	return &models.StoreConnection{AccountID: account, Platform: types.PlatformShopify, Active: active, AutoSync: auto}
}

func TestScheduler_RunOnce(t *testing.T) {
	conns := storagetest.NewConnectionStore(
		conn("ok", true, true),
		conn("flaky", true, true),
		conn("revoked", true, true),
		conn("busy", true, true),
		conn("manual", true, false),
		conn("disconnected", false, true),
	)
	runner := &fakeRunner{calls: map[string]int{}, behavior: func(account string, call int) error {
		switch account {
		case "flaky":
			if call == 1 {
				return apperrors.NewProviderError("shopify", errors.New("503"))
			}
		case "revoked":
			return apperrors.NewCredentialError(types.PlatformShopify, "token revoked", nil)
		case "busy":
			return apperrors.NewSyncInProgressError(account, types.PlatformShopify)
		}
		return nil
	}}

	s, err := NewScheduler(&SchedulerConfig{Connections: conns, Runner: runner, Concurrency: 2, Retry: fastRetry()})
	require.NoError(t, err)

	summary, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Dispatched)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Skipped)

	assert.Equal(t, 2, runner.count("flaky"), "recoverable failures are retried")
	assert.Equal(t, 1, runner.count("revoked"), "credential failures are not retried")
	assert.Equal(t, 1, runner.count("busy"))
	assert.Zero(t, runner.count("manual"))
	assert.Zero(t, runner.count("disconnected"))
}

func TestScheduler_StartStop(t *testing.T) {
	conns := storagetest.NewConnectionStore(conn("ok", true, true))
	runner := &fakeRunner{calls: map[string]int{}, behavior: func(string, int) error { return nil }}

	s, err := NewScheduler(&SchedulerConfig{Connections: conns, Runner: runner, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start is rejected")

	assert.Eventually(t, func() bool { return runner.count("ok") >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, s.Stop(ctx))
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(nil)
	assert.Error(t, err)
	_, err = NewScheduler(&SchedulerConfig{Connections: storagetest.NewConnectionStore()})
	assert.ErrorContains(t, err, "sync runner")
}
