package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/retry"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/types"
)

// SyncRunner runs one sync to completion with the automatic strategy
type SyncRunner interface {
	StartSync(ctx context.Context, accountID string, platform types.Platform) (*models.SyncResult, error)
}

// SchedulerConfig holds configuration for the scheduler
type SchedulerConfig struct {
	Connections storage.ConnectionStore
	Runner      SyncRunner
	Interval    time.Duration // default 1h
	Concurrency int           // default 4
	// Retry applies to recoverable failures only
	Retry *retry.RetryConfig
}

// Scheduler periodically syncs every active auto_sync connection with a
// bounded worker pool. Runs are sequential per store and parallel across
// stores.
type Scheduler struct {
	connections storage.ConnectionStore
	runner      SyncRunner
	interval    time.Duration
	retry       retry.RetryConfig
	workerSem   chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// RoundSummary reports one scheduling round
type RoundSummary struct {
	Dispatched int
	Succeeded  int
	Failed     int
	Skipped    int // already running elsewhere
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *SchedulerConfig) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler config cannot be nil")
	}
	if cfg.Connections == nil {
		return nil, fmt.Errorf("connection store cannot be nil")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("sync runner cannot be nil")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	workers := cfg.Concurrency
	if workers <= 0 {
		workers = 4
	}
	rc := retry.DefaultRetryConfig()
	if cfg.Retry != nil {
		rc = cfg.Retry
	}
	policy := *rc
	policy.ShouldRetry = apperrors.IsRecoverable

	return &Scheduler{
		connections: cfg.Connections,
		runner:      cfg.Runner,
		interval:    interval,
		retry:       policy,
		workerSem:   make(chan struct{}, workers),
	}, nil
}

// Start runs a round immediately and then every interval until Stop or
// ctx is done
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(ctx, s.stopCh, s.doneCh)
	return nil
}

// Stop signals the loop and waits for in-flight runs to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	close(s.stopCh)
	done := s.doneCh
	s.running = false
	s.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	logger := logging.FromContext(ctx)
	logger.WithField("interval", s.interval.String()).Info("Scheduler started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		summary, err := s.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).Error("Scheduling round failed")
		} else {
			logger.WithFields(map[string]interface{}{
				"dispatched": summary.Dispatched,
				"succeeded":  summary.Succeeded,
				"failed":     summary.Failed,
				"skipped":    summary.Skipped,
			}).Info("Scheduling round finished")
		}

		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every due connection and waits for all of them
func (s *Scheduler) RunOnce(ctx context.Context) (*RoundSummary, error) {
	conns, err := s.connections.ListAutoSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto sync connections: %w", err)
	}

	var (
		wg                         sync.WaitGroup
		succeeded, failed, skipped atomic.Int32
	)
	summary := &RoundSummary{}
	for _, conn := range conns {
		select {
		case s.workerSem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return summary, ctx.Err()
		}

		summary.Dispatched++
		wg.Add(1)
		go func(conn *models.StoreConnection) {
			defer wg.Done()
			defer func() { <-s.workerSem }()

			switch err := s.syncConnection(ctx, conn); {
			case err == nil:
				succeeded.Add(1)
			case apperrors.IsCategory(err, apperrors.CategoryConflict):
				skipped.Add(1)
			default:
				failed.Add(1)
			}
		}(conn)
	}
	wg.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Skipped = int(skipped.Load())
	return summary, nil
}

func (s *Scheduler) syncConnection(ctx context.Context, conn *models.StoreConnection) error {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":  conn.AccountID,
		"platform": string(conn.Platform),
	})
	ctx = logging.WithLogger(ctx, logger)

	policy := s.retry
	result := retry.WithExponentialBackoff(ctx, &policy, func(ctx context.Context, attempt int) error {
		res, err := s.runner.StartSync(ctx, conn.AccountID, conn.Platform)
		if err != nil {
			return err
		}
		if res != nil && res.Incomplete {
			logger.WithField("warning", res.Warning).Warn("Scheduled sync finished incomplete")
		}
		return nil
	})
	if result.Success {
		return nil
	}
	if apperrors.IsCategory(result.LastError, apperrors.CategoryConflict) {
		logger.Info("Sync already running, skipping")
	} else {
		logger.WithError(result.LastError).WithField("attempts", result.Attempts).Warn("Scheduled sync failed")
	}
	return result.LastError
}
