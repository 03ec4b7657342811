package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/catalog-sync/internal/adapter"
	"github.com/catalog-sync/internal/catalog"
	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/metrics"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/ratelimit"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/types"
)

// completenessRatio is the share of the reported catalog a run must see
const completenessRatio = 0.95

// ConnectionChecker verifies before every page request that the store
// connection has not been revoked mid-run
type ConnectionChecker interface {
	CheckActive(ctx context.Context, accountID string, platform types.Platform) error
}

type connectionStoreChecker struct {
	store storage.ConnectionStore
}

// NewConnectionChecker checks connections against the connection store
func NewConnectionChecker(store storage.ConnectionStore) ConnectionChecker {
	return &connectionStoreChecker{store: store}
}

func (c *connectionStoreChecker) CheckActive(ctx context.Context, accountID string, platform types.Platform) error {
	conn, err := c.store.GetConnection(ctx, accountID, platform)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.NewConnectionInactiveError(accountID, platform)
		}
		return apperrors.NewDatabaseError("get store connection", err)
	}
	if !conn.Active {
		return apperrors.NewConnectionInactiveError(accountID, platform)
	}
	return nil
}

// BatchSyncerConfig holds the dependencies of a BatchSyncer
type BatchSyncerConfig struct {
	Sources     *adapter.Registry
	Sink        *catalog.Sink
	Status      storage.StatusStore
	Connections ConnectionChecker // optional
	Pacer       *ratelimit.Pacer  // defaults to rate_limit_delay plus up to 200ms jitter
	Metrics     *metrics.Metrics
}

// BatchSyncer pulls a catalog page by page. The caller claims the status
// row before calling Run or SyncPage; the syncer owns every later write to
// it, including the terminal one.
type BatchSyncer struct {
	sources     *adapter.Registry
	sink        *catalog.Sink
	status      storage.StatusStore
	connections ConnectionChecker
	pacer       *ratelimit.Pacer
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewBatchSyncer creates a new batch syncer
func NewBatchSyncer(cfg *BatchSyncerConfig) (*BatchSyncer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("batch syncer config cannot be nil")
	}
	if cfg.Sources == nil {
		return nil, fmt.Errorf("source registry cannot be nil")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("catalog sink cannot be nil")
	}
	if cfg.Status == nil {
		return nil, fmt.Errorf("status store cannot be nil")
	}

	pacer := cfg.Pacer
	if pacer == nil {
		pacer = ratelimit.NewPacer(ratelimit.DefaultMaxJitter)
	}

	return &BatchSyncer{
		sources:     cfg.Sources,
		sink:        cfg.Sink,
		status:      cfg.Status,
		connections: cfg.Connections,
		pacer:       pacer,
		metrics:     cfg.Metrics,
		now:         time.Now,
	}, nil
}

// BatchRun describes a paginated run already claimed on the status row
type BatchRun struct {
	RunID       string
	Credentials adapter.Credentials
	Settings    models.SyncSettings
	// StartPage is the first page to fetch; values below 1 mean 1
	StartPage int
	// Counters are the stored counters the run continues from
	Counters models.Counters
	Progress models.ProgressFunc
}

type stopReason int

const (
	stopExhausted stopReason = iota // empty-page streak reached the threshold
	stopPageCap
	stopComplete // seen the whole reported catalog
)

type runState struct {
	run      BatchRun
	client   adapter.SourceClient
	logger   *logging.Logger
	counters models.Counters
	reported *int
	asked    bool // count requested once per invocation
	page     int  // next page to fetch
	pages    int  // pages fetched by this invocation
	synced   int  // rows written by this invocation
	received int  // items fetched by this invocation
	failed   int  // items the sink could not write
	percent  float64
	started  time.Time
}

// newState always returns a state, so a missing client is still recorded
// through fail on the claimed row
func (s *BatchSyncer) newState(ctx context.Context, run BatchRun) (*runState, error) {
	if run.StartPage < 1 {
		run.StartPage = 1
	}
	st := &runState{
		run:      run,
		counters: run.Counters,
		page:     run.StartPage,
		started:  s.now().UTC(),
		logger: logging.FromContext(ctx).WithFields(map[string]interface{}{
			"account":  run.Credentials.AccountID,
			"platform": string(run.Credentials.Platform),
			"runId":    run.RunID,
		}),
	}
	client, err := s.sources.Client(run.Credentials.Platform)
	if err != nil {
		return st, err
	}
	st.client = client
	return st, nil
}

// Run fetches pages until the catalog is exhausted, the page cap is hit or
// the reported total has been seen, then validates completeness.
func (s *BatchSyncer) Run(ctx context.Context, run BatchRun) (*models.SyncResult, error) {
	st, err := s.newState(ctx, run)
	if err != nil {
		return s.fail(ctx, st, err)
	}
	settings := run.Settings
	st.logger.WithFields(map[string]interface{}{
		"startPage": st.page,
		"batchSize": settings.BatchSize,
		"maxPages":  settings.EffectiveMaxPages(),
	}).Info("Starting paginated sync")

	reason, err := s.paginate(ctx, st)
	if err != nil {
		return s.fail(ctx, st, err)
	}

	snapshot := map[string]interface{}{}
	incomplete := s.incomplete(st)
	if incomplete && settings.AutoRecovery {
		st.logger.WithFields(map[string]interface{}{
			"seen":     st.counters.Seen(),
			"reported": *st.reported,
			"page":     st.page,
		}).Warn("Sync incomplete, resuming once from the next unfetched page")
		snapshot[models.SnapshotRecoveryAttempted] = true

		reason, err = s.paginate(ctx, st)
		if err != nil {
			return s.fail(ctx, st, err)
		}
		incomplete = s.incomplete(st)
	}

	var warnings []string
	if reason == stopPageCap {
		warnings = append(warnings, fmt.Sprintf("stopped at the page limit (%d pages)", settings.EffectiveMaxPages()))
	}
	if incomplete {
		warnings = append(warnings, apperrors.NewIncompleteSyncError(st.counters.Seen(), *st.reported).Message)
	}
	if st.failed > 0 {
		warnings = append(warnings, apperrors.NewPartialBatchError(st.failed, st.received, nil).Message)
	}

	nextPage := 1
	if reason == stopPageCap {
		nextPage = st.page
	}
	snapshot[models.SnapshotNextPage] = nextPage
	return s.succeed(ctx, st, strings.Join(warnings, "; "), incomplete, nextPage, reason == stopPageCap, snapshot)
}

// SyncPage fetches and applies exactly one page
func (s *BatchSyncer) SyncPage(ctx context.Context, run BatchRun) (*models.SyncResult, error) {
	st, err := s.newState(ctx, run)
	if err != nil {
		return s.fail(ctx, st, err)
	}

	page, err := s.fetch(ctx, st)
	if err != nil {
		return s.fail(ctx, st, err)
	}
	if err := s.apply(ctx, st, page); err != nil {
		return s.fail(ctx, st, err)
	}

	hasMore := len(page.Items) > 0 && (st.reported == nil || st.counters.Seen() < *st.reported)
	nextPage := 1
	if hasMore {
		nextPage = st.page + 1
	}
	warning := ""
	if st.failed > 0 {
		warning = apperrors.NewPartialBatchError(st.failed, st.received, nil).Message
	}
	return s.succeed(ctx, st, warning, false, nextPage, hasMore, map[string]interface{}{
		models.SnapshotNextPage: nextPage,
	})
}

func (s *BatchSyncer) paginate(ctx context.Context, st *runState) (stopReason, error) {
	settings := st.run.Settings
	maxPages := settings.EffectiveMaxPages()
	emptyStreak := 0
	fetched := 0

	for {
		page, err := s.fetch(ctx, st)
		if err != nil {
			return 0, err
		}
		fetched++

		if len(page.Items) == 0 {
			if emptyStreak >= settings.EarlyTerminationThreshold {
				st.logger.WithFields(map[string]interface{}{
					"page":        st.page,
					"emptyStreak": emptyStreak + 1,
				}).Info("Catalog exhausted")
				st.page++
				return stopExhausted, nil
			}
			emptyStreak++
		} else {
			emptyStreak = 0
			if err := s.apply(ctx, st, page); err != nil {
				return 0, err
			}
		}
		st.page++
		s.checkpoint(ctx, st, map[string]interface{}{
			models.SnapshotOperation: models.OperationBatchSync,
			models.SnapshotNextPage:  st.page,
		})
		s.report(st, "Syncing products")

		if fetched >= maxPages {
			st.logger.WithField("pages", fetched).Warn("Page limit reached")
			return stopPageCap, nil
		}
		if st.reported != nil && st.counters.Seen() >= *st.reported {
			return stopComplete, nil
		}

		if err := s.pacer.Pause(ctx, settings.RateLimitDelay); err != nil {
			return 0, err
		}
	}
}

func (s *BatchSyncer) fetch(ctx context.Context, st *runState) (*adapter.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	creds := st.run.Credentials
	if s.connections != nil {
		if err := s.connections.CheckActive(ctx, creds.AccountID, creds.Platform); err != nil {
			return nil, err
		}
	}

	req := adapter.PageRequest{
		PageSize:     st.run.Settings.BatchSize,
		PageNumber:   st.page,
		IncludeCount: !st.asked,
	}
	st.asked = true
	page, err := st.client.FetchPage(ctx, creds, req)
	if err != nil {
		return nil, err
	}
	st.pages++
	s.metrics.PageFetched(creds.Platform)

	if page.ReportedTotal != nil {
		total := *page.ReportedTotal
		st.reported = &total
	}
	st.logger.WithFields(map[string]interface{}{
		"page":  req.PageNumber,
		"items": len(page.Items),
	}).Debug("Fetched page")
	return page, nil
}

func (s *BatchSyncer) apply(ctx context.Context, st *runState, page *adapter.Page) error {
	if len(page.Items) == 0 {
		return nil
	}
	creds := st.run.Credentials
	res, err := s.sink.Apply(ctx, catalog.Request{
		AccountID:       creds.AccountID,
		Platform:        creds.Platform,
		Method:          types.SyncMethodPaginatedBatch,
		RunID:           st.run.RunID,
		WeightUnit:      creds.WeightUnit,
		IncludeInactive: st.run.Settings.IncludeInactive,
		Records:         page.Items,
	})
	st.received += len(page.Items)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		st.failed += len(page.Items)
		return apperrors.NewDatabaseError("upsert products", err)
	}

	st.failed += len(res.Failed)
	st.counters.ProductsSynced += res.Succeeded
	st.counters.ActiveProductsSynced += res.Active
	st.counters.InactiveProductsSkipped += res.Inactive
	st.synced += res.Succeeded
	st.counters.TotalProductsFound = st.counters.Seen()
	if st.reported != nil {
		st.counters.TotalProductsFound = max(st.counters.TotalProductsFound, *st.reported)
	}
	return nil
}

// checkpoint persists counters and the resume point. A failed write only
// costs resume accuracy, so it is logged and the run goes on.
func (s *BatchSyncer) checkpoint(ctx context.Context, st *runState, settings map[string]interface{}) {
	creds := st.run.Credentials
	counters := st.counters
	if err := s.status.UpdateProgress(ctx, creds.AccountID, creds.Platform, st.run.RunID, &counters, settings); err != nil {
		st.logger.WithError(err).WithField("page", st.page).Warn("Failed to persist sync progress")
	}
}

func (s *BatchSyncer) report(st *runState, message string) {
	synced := st.counters.ProductsSynced
	st.percent = max(st.percent, EstimatePercent(synced, st.reported))
	st.run.Progress.Report(models.Progress{
		Current: synced,
		Total:   EstimatedTotal(synced, st.reported),
		Percent: st.percent,
		Message: message,
	})
}

func (s *BatchSyncer) incomplete(st *runState) bool {
	if !st.run.Settings.ValidationChecks || st.reported == nil {
		return false
	}
	return float64(st.counters.Seen()) < completenessRatio*float64(*st.reported)
}

func (s *BatchSyncer) result(st *runState) *models.SyncResult {
	creds := st.run.Credentials
	return &models.SyncResult{
		RunID:       st.run.RunID,
		AccountID:   creds.AccountID,
		Platform:    creds.Platform,
		Method:      types.SyncMethodPaginatedBatch,
		Counters:    st.counters,
		Synced:      st.synced,
		FailedItems: st.failed,
		Pages:       st.pages,
		StartedAt:   st.started,
		FinishedAt:  s.now().UTC(),
	}
}

func (s *BatchSyncer) succeed(ctx context.Context, st *runState, warning string, incomplete bool, nextPage int, hasMore bool, snapshot map[string]interface{}) (*models.SyncResult, error) {
	creds := st.run.Credentials
	now := s.now().UTC()

	var lastWarning interface{}
	if warning != "" {
		lastWarning = warning
		st.logger.WithField("warning", warning).Warn("Sync finished with a warning")
	}
	snapshot[models.SnapshotLastWarning] = lastWarning

	err := s.status.Finish(ctx, storage.FinishParams{
		AccountID:  creds.AccountID,
		Platform:   creds.Platform,
		RunID:      st.run.RunID,
		Status:     types.SyncStateSuccess,
		Counters:   st.counters,
		Settings:   snapshot,
		LastSyncAt: &now,
	})
	if err != nil {
		return s.fail(ctx, st, apperrors.NewDatabaseError("finish sync run", err))
	}

	synced := st.counters.ProductsSynced
	st.run.Progress.Report(models.Progress{
		Current: synced,
		Total:   EstimatedTotal(synced, st.reported),
		Percent: 100,
		Message: "Sync complete",
	})

	result := s.result(st)
	result.Status = types.SyncStateSuccess
	result.NextPage = nextPage
	result.HasMore = hasMore
	result.Incomplete = incomplete
	result.Warning = warning

	st.logger.WithFields(map[string]interface{}{
		"productsSynced": synced,
		"sessionSynced":  st.synced,
		"pages":          st.pages,
		"incomplete":     incomplete,
	}).Info("Paginated sync finished")
	return result, nil
}

// fail writes the error state. A cancelled run is finalized on a detached
// context so the row never stays in_progress.
func (s *BatchSyncer) fail(ctx context.Context, st *runState, cause error) (*models.SyncResult, error) {
	creds := st.run.Credentials
	err := cause
	message := cause.Error()
	writeCtx := ctx
	if ctx.Err() != nil {
		err = apperrors.NewCancelledError(ctx.Err())
		message = "sync cancelled"
		writeCtx = context.WithoutCancel(ctx)
	}

	st.logger.WithError(cause).WithField("page", st.page).Error("Paginated sync failed")

	finishErr := s.status.Finish(writeCtx, storage.FinishParams{
		AccountID:    creds.AccountID,
		Platform:     creds.Platform,
		RunID:        st.run.RunID,
		Status:       types.SyncStateError,
		Counters:     st.counters,
		ErrorMessage: message,
		Settings: map[string]interface{}{
			models.SnapshotNextPage: st.page,
		},
	})
	if finishErr != nil {
		st.logger.WithError(finishErr).Error("Failed to record sync failure")
	}

	result := s.result(st)
	result.Status = types.SyncStateError
	result.NextPage = st.page
	result.HasMore = true
	result.Recoverable = apperrors.IsRecoverable(err)
	result.Error = message
	return result, err
}
