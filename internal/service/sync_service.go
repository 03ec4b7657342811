package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/catalog-sync/internal/adapter"
	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/job"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/metrics"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/types"
	"github.com/catalog-sync/internal/worker"
)

// MethodAuto picks bulk export or pagination by platform and catalog size
const MethodAuto types.SyncMethod = "auto"

// SyncRequest selects what to run for one store
type SyncRequest struct {
	AccountID string
	Platform  types.Platform
	Method    types.SyncMethod // auto when empty
	Progress  models.ProgressFunc
}

// SyncStatusView is the read-only status of a store
type SyncStatusView struct {
	*models.SyncStatus
	Syncing  bool                      `json:"syncing"`
	Progress *storage.ProgressSnapshot `json:"progress,omitempty"`
}

// SyncServiceConfig holds the dependencies of a SyncService
type SyncServiceConfig struct {
	Connections storage.ConnectionStore
	Status      storage.StatusStore
	Sources     *adapter.Registry
	Batch       *worker.BatchSyncer
	Bulk        *job.BulkExportController
	// Progress mirrors live progress for pollers; optional
	Progress storage.ProgressStore
	// PriceEvents serves price change history; optional
	PriceEvents storage.PriceEventReader
	Metrics     *metrics.Metrics

	// Defaults apply where a store has no stored tunables
	Defaults models.SyncSettings
	// StaleAfter lets a run take over an in_progress row nobody updated for this long
	StaleAfter time.Duration
	// CountTimeout bounds the catalog size request of the auto strategy
	CountTimeout time.Duration
}

type runKey struct {
	account  string
	platform types.Platform
}

type activeRun struct {
	runID   string
	method  types.SyncMethod
	started time.Time
	cancel  context.CancelFunc
}

// SyncService is the entry point for catalog syncs. It resolves
// credentials once per run and allows one run per store at a time.
type SyncService struct {
	connections  storage.ConnectionStore
	status       storage.StatusStore
	sources      *adapter.Registry
	batch        *worker.BatchSyncer
	bulk         *job.BulkExportController
	progress     storage.ProgressStore
	priceEvents  storage.PriceEventReader
	metrics      *metrics.Metrics
	defaults     models.SyncSettings
	staleAfter   time.Duration
	countTimeout time.Duration
	now          func() time.Time

	mu     sync.Mutex
	active map[runKey]*activeRun

	// background runs started by Launch
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
}

// NewSyncService creates a new sync service
func NewSyncService(cfg *SyncServiceConfig) (*SyncService, error) {
	if cfg == nil {
		return nil, fmt.Errorf("sync service config cannot be nil")
	}
	if cfg.Connections == nil || cfg.Status == nil || cfg.Sources == nil {
		return nil, fmt.Errorf("connections, status and sources are required")
	}
	if cfg.Batch == nil {
		return nil, fmt.Errorf("batch syncer cannot be nil")
	}

	defaults := cfg.Defaults
	if defaults.BatchSize <= 0 {
		defaults = models.DefaultSyncSettings()
	}
	countTimeout := cfg.CountTimeout
	if countTimeout <= 0 {
		countTimeout = 30 * time.Second
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &SyncService{
		connections:  cfg.Connections,
		status:       cfg.Status,
		sources:      cfg.Sources,
		batch:        cfg.Batch,
		bulk:         cfg.Bulk,
		progress:     cfg.Progress,
		priceEvents:  cfg.PriceEvents,
		metrics:      cfg.Metrics,
		defaults:     defaults,
		staleAfter:   cfg.StaleAfter,
		countTimeout: countTimeout,
		now:          time.Now,
		active:       make(map[runKey]*activeRun),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
	}, nil
}

// StartFullSync paginates the whole catalog from page 1
func (s *SyncService) StartFullSync(ctx context.Context, accountID string, platform types.Platform, progress models.ProgressFunc) (*models.SyncResult, error) {
	return s.Sync(ctx, SyncRequest{AccountID: accountID, Platform: platform, Method: types.SyncMethodPaginatedBatch, Progress: progress})
}

// StartBulkSync runs one platform bulk export
func (s *SyncService) StartBulkSync(ctx context.Context, accountID string, platform types.Platform, progress models.ProgressFunc) (*models.SyncResult, error) {
	return s.Sync(ctx, SyncRequest{AccountID: accountID, Platform: platform, Method: types.SyncMethodBulkExport, Progress: progress})
}

var _ worker.SyncRunner = (*SyncService)(nil)

// StartSync runs a sync with the automatic strategy. Scheduled runs use it.
func (s *SyncService) StartSync(ctx context.Context, accountID string, platform types.Platform) (*models.SyncResult, error) {
	return s.Sync(ctx, SyncRequest{AccountID: accountID, Platform: platform, Method: MethodAuto})
}

// Sync runs req to completion
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*models.SyncResult, error) {
	ctx, release, err := s.reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.run(ctx, req)
}

// Launch starts req in the background and returns once the store is
// reserved. The run outlives ctx; it stops on Cancel or Shutdown.
func (s *SyncService) Launch(ctx context.Context, req SyncRequest) (string, error) {
	if err := validate(req); err != nil {
		return "", err
	}
	if _, _, err := s.prepare(ctx, req); err != nil {
		return "", err
	}
	runCtx := logging.WithLogger(s.baseCtx, logging.FromContext(ctx))
	runCtx, release, err := s.reserve(runCtx, req)
	if err != nil {
		return "", err
	}
	runID := s.runID(req.AccountID, req.Platform)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		if _, err := s.run(runCtx, req); err != nil {
			logging.FromContext(runCtx).WithError(err).WithFields(map[string]interface{}{
				"account":  req.AccountID,
				"platform": string(req.Platform),
			}).Warn("Background sync failed")
		}
	}()
	return runID, nil
}

// SyncOneBatch fetches the next page after the stored checkpoint
func (s *SyncService) SyncOneBatch(ctx context.Context, accountID string, platform types.Platform, progress models.ProgressFunc) (*models.SyncResult, error) {
	req := SyncRequest{AccountID: accountID, Platform: platform, Method: types.SyncMethodPaginatedBatch, Progress: progress}
	ctx, release, err := s.reserve(ctx, req)
	if err != nil {
		return nil, err
	}
	defer release()

	creds, row, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	settings := models.ParseSyncSettings(row.Settings, s.defaults)

	nextPage := 1
	if v, ok := models.IntSetting(row.Settings, models.SnapshotNextPage); ok && v > 1 {
		nextPage = v
	}
	var counters models.Counters
	if nextPage > 1 {
		counters = models.Counters{
			ProductsSynced:          row.ProductsSynced,
			TotalProductsFound:      row.TotalProductsFound,
			ActiveProductsSynced:    row.ActiveProductsSynced,
			InactiveProductsSkipped: row.InactiveProductsSkipped,
		}
	}

	runID := s.runID(accountID, platform)
	if _, err := s.status.TryBeginRun(ctx, storage.BeginRunParams{
		AccountID:     accountID,
		Platform:      platform,
		Method:        types.SyncMethodPaginatedBatch,
		RunID:         runID,
		StaleAfter:    s.staleAfter,
		ResetCounters: nextPage == 1,
		Settings: map[string]interface{}{
			models.SnapshotOperation:   models.OperationBatchSync,
			models.SnapshotLastWarning: nil,
		},
	}); err != nil {
		return nil, err
	}

	done := s.metrics.RunStarted(platform, types.SyncMethodPaginatedBatch)
	result, err := s.batch.SyncPage(ctx, worker.BatchRun{
		RunID:       runID,
		Credentials: creds,
		Settings:    settings,
		StartPage:   nextPage,
		Counters:    counters,
		Progress:    s.mirror(ctx, accountID, platform, runID, req.Progress),
	})
	s.finish(ctx, done, result, err)
	return result, err
}

// GetSyncStatus returns the stored status, or an idle view for a store
// that never synced
func (s *SyncService) GetSyncStatus(ctx context.Context, accountID string, platform types.Platform) (*SyncStatusView, error) {
	if err := validate(SyncRequest{AccountID: accountID, Platform: platform}); err != nil {
		return nil, err
	}

	row, err := s.status.Get(ctx, accountID, platform)
	if errors.Is(err, storage.ErrNotFound) {
		row = models.NewSyncStatus(accountID, platform)
	} else if err != nil {
		return nil, apperrors.NewDatabaseError("get sync status", err)
	}

	view := &SyncStatusView{SyncStatus: row, Syncing: s.IsSyncing(accountID, platform)}
	if s.progress != nil && row.Status == types.SyncStateInProgress {
		snap, err := s.progress.GetProgress(ctx, accountID, platform)
		if err == nil && snap.RunID == row.RunID {
			view.Progress = snap
		}
	}
	return view, nil
}

// MaxPriceChanges caps one price history request
const MaxPriceChanges = 500

// RecentPriceChanges returns the store's latest price changes, newest
// first. limit <= 0 means 50.
func (s *SyncService) RecentPriceChanges(ctx context.Context, accountID string, platform types.Platform, limit int) ([]models.PriceChangeEvent, error) {
	if err := validate(SyncRequest{AccountID: accountID, Platform: platform}); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = 50
	case limit > MaxPriceChanges:
		return nil, apperrors.NewInvalidParameterError("limit", fmt.Sprintf("must be at most %d", MaxPriceChanges))
	}
	if s.priceEvents == nil {
		return []models.PriceChangeEvent{}, nil
	}

	events, err := s.priceEvents.RecentChanges(ctx, accountID, platform, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list price changes", err)
	}
	if events == nil {
		events = []models.PriceChangeEvent{}
	}
	return events, nil
}

// IsSyncing reports whether this process is running a sync for the store
func (s *SyncService) IsSyncing(accountID string, platform types.Platform) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[runKey{accountID, platform}]
	return ok
}

// ActiveRun describes a run owned by this process
type ActiveRun struct {
	AccountID string           `json:"accountId"`
	Platform  types.Platform   `json:"platform"`
	RunID     string           `json:"runId"`
	Method    types.SyncMethod `json:"method"`
	StartedAt time.Time        `json:"startedAt"`
}

// ActiveRuns lists the runs owned by this process
func (s *SyncService) ActiveRuns() []ActiveRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := make([]ActiveRun, 0, len(s.active))
	for key, run := range s.active {
		runs = append(runs, ActiveRun{
			AccountID: key.account,
			Platform:  key.platform,
			RunID:     run.runID,
			Method:    run.method,
			StartedAt: run.started,
		})
	}
	return runs
}

// Cancel stops the store's run in this process. It reports whether a run
// was found.
func (s *SyncService) Cancel(accountID string, platform types.Platform) bool {
	s.mu.Lock()
	run, ok := s.active[runKey{accountID, platform}]
	s.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	return true
}

// Shutdown cancels every run and waits for background runs to record
// their final state
func (s *SyncService) Shutdown(ctx context.Context) error {
	s.baseCancel()
	s.mu.Lock()
	for _, run := range s.active {
		run.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reserve claims the store in the in-process registry
func (s *SyncService) reserve(ctx context.Context, req SyncRequest) (context.Context, func(), error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}

	key := runKey{req.AccountID, req.Platform}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[key]; busy {
		return nil, nil, apperrors.NewSyncInProgressError(req.AccountID, req.Platform)
	}

	method := req.Method
	if method == "" {
		method = MethodAuto
	}
	ctx, cancel := context.WithCancel(ctx)
	run := &activeRun{
		runID:   uuid.New().String(),
		method:  method,
		started: s.now().UTC(),
		cancel:  cancel,
	}
	s.active[key] = run

	release := func() {
		cancel()
		s.mu.Lock()
		if s.active[key] == run {
			delete(s.active, key)
		}
		s.mu.Unlock()
	}
	return ctx, release, nil
}

func (s *SyncService) runID(accountID string, platform types.Platform) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.active[runKey{accountID, platform}]; ok {
		return run.runID
	}
	return uuid.New().String()
}

func validate(req SyncRequest) error {
	if req.AccountID == "" {
		return apperrors.NewInvalidParameterError("account", "is required")
	}
	if !req.Platform.IsValid() {
		return apperrors.NewInvalidParameterError("platform", fmt.Sprintf("unknown platform %q", req.Platform))
	}
	switch req.Method {
	case "", MethodAuto, types.SyncMethodPaginatedBatch, types.SyncMethodBulkExport:
		return nil
	default:
		return apperrors.NewInvalidParameterError("method", fmt.Sprintf("unknown sync method %q", req.Method))
	}
}

// prepare normalizes credentials and loads the stored row
func (s *SyncService) prepare(ctx context.Context, req SyncRequest) (adapter.Credentials, *models.SyncStatus, error) {
	conn, err := s.connections.GetConnection(ctx, req.AccountID, req.Platform)
	if errors.Is(err, storage.ErrNotFound) {
		return adapter.Credentials{}, nil, apperrors.NewNotFoundError("store connection", fmt.Sprintf("%s/%s", req.AccountID, req.Platform))
	}
	if err != nil {
		return adapter.Credentials{}, nil, apperrors.NewDatabaseError("get store connection", err)
	}
	creds, err := adapter.NormalizeCredentials(conn)
	if err != nil {
		return adapter.Credentials{}, nil, err
	}

	row, err := s.status.Get(ctx, req.AccountID, req.Platform)
	if errors.Is(err, storage.ErrNotFound) {
		return creds, models.NewSyncStatus(req.AccountID, req.Platform), nil
	}
	if err != nil {
		return adapter.Credentials{}, nil, apperrors.NewDatabaseError("get sync status", err)
	}
	if row.IsRunning(s.now(), s.staleAfter) {
		return adapter.Credentials{}, nil, apperrors.NewSyncInProgressError(req.AccountID, req.Platform)
	}
	return creds, row, nil
}

func (s *SyncService) run(ctx context.Context, req SyncRequest) (*models.SyncResult, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":  req.AccountID,
		"platform": string(req.Platform),
	})
	ctx = logging.WithLogger(ctx, logger)

	creds, row, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	settings := models.ParseSyncSettings(row.Settings, s.defaults)

	method := req.Method
	if method == "" || method == MethodAuto {
		method, err = s.chooseMethod(ctx, creds, settings)
		if err != nil {
			return nil, err
		}
	}

	runID := s.runID(req.AccountID, req.Platform)
	progress := s.mirror(ctx, req.AccountID, req.Platform, runID, req.Progress)
	logger.WithFields(map[string]interface{}{
		"runId":  runID,
		"method": string(method),
	}).Info("Starting sync")

	switch method {
	case types.SyncMethodBulkExport:
		if s.bulk == nil {
			return nil, apperrors.NewUnsupportedPlatformError(req.Platform, "bulk export")
		}
		run := job.BulkRun{RunID: runID, Credentials: creds, Settings: settings, Progress: progress}
		op, err := s.bulk.Submit(ctx, run)
		if err != nil {
			return nil, err
		}
		done := s.metrics.RunStarted(req.Platform, method)
		result, err := s.bulk.Await(ctx, run, op)
		s.finish(ctx, done, result, err)
		return result, err

	default:
		if _, err := s.status.TryBeginRun(ctx, storage.BeginRunParams{
			AccountID:     req.AccountID,
			Platform:      req.Platform,
			Method:        types.SyncMethodPaginatedBatch,
			RunID:         runID,
			StaleAfter:    s.staleAfter,
			ResetCounters: true,
			Settings: map[string]interface{}{
				models.SnapshotOperation:         models.OperationBatchSync,
				models.SnapshotNextPage:          1,
				models.SnapshotLastWarning:       nil,
				models.SnapshotRecoveryAttempted: false,
			},
		}); err != nil {
			return nil, err
		}
		done := s.metrics.RunStarted(req.Platform, types.SyncMethodPaginatedBatch)
		result, err := s.batch.Run(ctx, worker.BatchRun{
			RunID:       runID,
			Credentials: creds,
			Settings:    settings,
			StartPage:   1,
			Progress:    progress,
		})
		s.finish(ctx, done, result, err)
		return result, err
	}
}

// chooseMethod asks the platform for its catalog size when bulk export is
// available and picks bulk for large catalogs
func (s *SyncService) chooseMethod(ctx context.Context, creds adapter.Credentials, settings models.SyncSettings) (types.SyncMethod, error) {
	if s.bulk == nil || !s.sources.SupportsBulk(creds.Platform) {
		return types.SyncMethodPaginatedBatch, nil
	}
	client, err := s.sources.Client(creds.Platform)
	if err != nil {
		return "", err
	}

	sizeCtx, cancel := context.WithTimeout(ctx, s.countTimeout)
	defer cancel()
	page, err := client.FetchPage(sizeCtx, creds, adapter.PageRequest{PageSize: 1, PageNumber: 1, IncludeCount: true})
	if err != nil {
		return "", err
	}

	method := types.SyncMethodPaginatedBatch
	if page.ReportedTotal != nil && *page.ReportedTotal >= settings.BulkThreshold {
		method = types.SyncMethodBulkExport
	}
	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"reportedTotal": page.ReportedTotal,
		"threshold":     settings.BulkThreshold,
		"method":        string(method),
	}).Debug("Chose sync method")
	return method, nil
}

// mirror wraps the caller's observer and copies every update into the
// progress store
func (s *SyncService) mirror(ctx context.Context, accountID string, platform types.Platform, runID string, observer models.ProgressFunc) models.ProgressFunc {
	if s.progress == nil {
		return observer
	}
	writeCtx := context.WithoutCancel(ctx)
	return func(p models.Progress) {
		status := types.SyncStateInProgress
		if p.Percent >= 100 {
			status = types.SyncStateSuccess
		}
		snap := &storage.ProgressSnapshot{
			RunID:     runID,
			Status:    status,
			Current:   p.Current,
			Total:     p.Total,
			Percent:   p.Percent,
			Message:   p.Message,
			UpdatedAt: s.now().UTC(),
		}
		if err := s.progress.SetProgress(writeCtx, accountID, platform, snap); err != nil {
			logging.FromContext(ctx).WithError(err).Debug("Failed to mirror progress")
		}
		observer.Report(p)
	}
}

func (s *SyncService) finish(ctx context.Context, done func(string), result *models.SyncResult, err error) {
	outcome := "success"
	switch {
	case err != nil && apperrors.IsCategory(err, apperrors.CategoryCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "error"
	case result != nil && result.Incomplete:
		outcome = "incomplete"
	}
	done(outcome)

	if err == nil || result == nil || s.progress == nil {
		return
	}
	snap := &storage.ProgressSnapshot{
		RunID:     result.RunID,
		Status:    types.SyncStateError,
		Current:   result.Counters.ProductsSynced,
		Total:     result.Counters.TotalProductsFound,
		Message:   result.Error,
		UpdatedAt: s.now().UTC(),
	}
	if werr := s.progress.SetProgress(context.WithoutCancel(ctx), result.AccountID, result.Platform, snap); werr != nil {
		logging.FromContext(ctx).WithError(werr).Debug("Failed to mirror final progress")
	}
}
