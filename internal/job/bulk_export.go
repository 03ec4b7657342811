package job

import (
	"context"
	"fmt"
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

// Defaults for bulk export runs
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxChecks       = 60
	DefaultUpsertBatchSize = 50
	DefaultDownloadTimeout = 5 * time.Minute
	DefaultPollTimeout     = 30 * time.Second
)

// progress bands: polling fills the first part, loading the rest up to 95%
const (
	pollingShare = 40.0
	loadingShare = 55.0
)

// BulkExportConfig holds the dependencies and limits of a BulkExportController
type BulkExportConfig struct {
	Sources *adapter.Registry
	Sink    *catalog.Sink
	Status  storage.StatusStore
	Metrics *metrics.Metrics

	PollInterval    time.Duration
	MaxChecks       int
	UpsertBatchSize int
	DownloadTimeout time.Duration
	PollTimeout     time.Duration
	// StaleAfter lets a submission take over an abandoned in_progress row
	StaleAfter time.Duration

	// Sleep waits between polls; defaults to a cancellable sleep
	Sleep func(ctx context.Context, d time.Duration) error
}

// BulkExportController drives one platform bulk export from submission to
// the last upserted batch
type BulkExportController struct {
	sources *adapter.Registry
	sink    *catalog.Sink
	status  storage.StatusStore
	metrics *metrics.Metrics

	pollInterval    time.Duration
	maxChecks       int
	batchSize       int
	downloadTimeout time.Duration
	pollTimeout     time.Duration
	staleAfter      time.Duration
	sleep           func(ctx context.Context, d time.Duration) error
	now             func() time.Time
}

// NewBulkExportController creates a new bulk export controller
func NewBulkExportController(cfg *BulkExportConfig) (*BulkExportController, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bulk export config cannot be nil")
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

	c := &BulkExportController{
		sources:         cfg.Sources,
		sink:            cfg.Sink,
		status:          cfg.Status,
		metrics:         cfg.Metrics,
		pollInterval:    cfg.PollInterval,
		maxChecks:       cfg.MaxChecks,
		batchSize:       cfg.UpsertBatchSize,
		downloadTimeout: cfg.DownloadTimeout,
		pollTimeout:     cfg.PollTimeout,
		staleAfter:      cfg.StaleAfter,
		sleep:           cfg.Sleep,
		now:             time.Now,
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.maxChecks <= 0 {
		c.maxChecks = DefaultMaxChecks
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultUpsertBatchSize
	}
	if c.downloadTimeout <= 0 {
		c.downloadTimeout = DefaultDownloadTimeout
	}
	if c.pollTimeout <= 0 {
		c.pollTimeout = DefaultPollTimeout
	}
	if c.sleep == nil {
		c.sleep = ratelimit.Sleep
	}
	return c, nil
}

// BulkRun describes one bulk export run
type BulkRun struct {
	RunID       string
	Credentials adapter.Credentials
	Settings    models.SyncSettings
	Progress    models.ProgressFunc
}

func (r BulkRun) logger(ctx context.Context) *logging.Logger {
	return logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":  r.Credentials.AccountID,
		"platform": string(r.Credentials.Platform),
		"runId":    r.RunID,
	})
}

// Run submits the export and waits for it to load
func (c *BulkExportController) Run(ctx context.Context, run BulkRun) (*models.SyncResult, error) {
	op, err := c.Submit(ctx, run)
	if err != nil {
		return nil, err
	}
	return c.Await(ctx, run, op)
}

// Submit starts the platform job and only then claims the status row, so a
// rejected submission never leaves the store in_progress. A job whose claim
// fails is cancelled again.
func (c *BulkExportController) Submit(ctx context.Context, run BulkRun) (*models.BulkOperation, error) {
	creds := run.Credentials
	bulk, err := c.sources.Bulk(creds.Platform)
	if err != nil {
		return nil, err
	}

	op, err := bulk.SubmitBulkExport(ctx, creds)
	if err != nil {
		return nil, err
	}

	settings := models.MergeSettings(op.Snapshot(), map[string]interface{}{
		models.SnapshotOperation:   models.OperationBulkStarted,
		models.SnapshotPollChecks:  0,
		models.SnapshotLastWarning: nil,
	})
	_, err = c.status.TryBeginRun(ctx, storage.BeginRunParams{
		AccountID:     creds.AccountID,
		Platform:      creds.Platform,
		Method:        types.SyncMethodBulkExport,
		RunID:         run.RunID,
		StaleAfter:    c.staleAfter,
		ResetCounters: true,
		Settings:      settings,
	})
	if err != nil {
		// Shopify runs one bulk query per shop, so a job nobody owns would
		// block the next submission until it expires
		if cancelErr := bulk.CancelBulkOperation(context.WithoutCancel(ctx), creds, op.ID); cancelErr != nil {
			run.logger(ctx).WithError(cancelErr).WithField("bulkOperationId", op.ID).Warn("Failed to cancel unclaimed bulk export")
		}
		return nil, err
	}

	run.logger(ctx).WithField("bulkOperationId", op.ID).Info("Bulk export submitted")
	run.Progress.Report(models.Progress{Message: "Bulk export submitted"})
	return op, nil
}

type bulkState struct {
	run      BulkRun
	op       *models.BulkOperation
	logger   *logging.Logger
	counters models.Counters
	synced   int
	failed   int
	checks   int
	percent  float64
	warning  string
	started  time.Time
}

// Await polls op until it finishes, then downloads and loads the result.
// The status row must already be claimed for run.RunID.
func (c *BulkExportController) Await(ctx context.Context, run BulkRun, op *models.BulkOperation) (*models.SyncResult, error) {
	st := &bulkState{
		run:     run,
		op:      op,
		started: c.now().UTC(),
		logger:  run.logger(ctx).WithField("bulkOperationId", op.ID),
	}

	bulk, err := c.sources.Bulk(run.Credentials.Platform)
	if err != nil {
		return c.fail(ctx, st, err)
	}

	for st.checks < c.maxChecks {
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return c.fail(ctx, st, err)
		}
		st.checks++

		current, err := c.poll(ctx, bulk, st)
		if err != nil {
			if ctx.Err() == nil && apperrors.IsRecoverable(err) {
				st.logger.WithError(err).WithField("check", st.checks).Warn("Bulk status check failed, will retry")
				continue
			}
			return c.fail(ctx, st, err)
		}
		st.op = current

		switch current.State {
		case types.BulkStateCompleted:
			if current.ResultURL != "" {
				return c.load(ctx, bulk, st)
			}
			if current.IsEmptyExport() {
				st.logger.Info("Bulk export completed without objects")
				return c.succeed(ctx, st, 0)
			}
			st.logger.Debug("Bulk export completed but result URL not ready")
		case types.BulkStateFailed, types.BulkStateCancelled:
			return c.fail(ctx, st, apperrors.NewBulkOperationFailedError(current.ID, current.State, current.ErrorCode))
		}
	}

	return c.fail(ctx, st, apperrors.NewBulkTimeoutError(st.op.ID, st.checks))
}

func (c *BulkExportController) poll(ctx context.Context, bulk adapter.BulkSource, st *bulkState) (*models.BulkOperation, error) {
	creds := st.run.Credentials
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	op, err := bulk.GetBulkOperation(pollCtx, creds, st.op.ID)
	if err != nil {
		return nil, err
	}
	c.metrics.BulkPoll(creds.Platform, op.State)

	snapshot := models.MergeSettings(op.Snapshot(), map[string]interface{}{
		models.SnapshotOperation:  models.OperationBulkPolling,
		models.SnapshotPollChecks: st.checks,
	})
	c.checkpoint(ctx, st, snapshot)

	message := fmt.Sprintf("Bulk export %s", op.State)
	if op.ObjectCount != nil {
		message = fmt.Sprintf("Bulk export %s (%d objects)", op.State, *op.ObjectCount)
	}
	c.report(st, float64(st.checks)/float64(c.maxChecks)*pollingShare, 0, message)

	st.logger.WithFields(map[string]interface{}{
		"check": st.checks,
		"state": string(op.State),
	}).Debug("Polled bulk export")
	return op, nil
}

// load downloads the result exactly once and upserts it in batches. A
// failing batch is logged and skipped.
func (c *BulkExportController) load(ctx context.Context, bulk adapter.BulkSource, st *bulkState) (*models.SyncResult, error) {
	c.checkpoint(ctx, st, map[string]interface{}{
		models.SnapshotOperation:  models.OperationBulkLoading,
		models.SnapshotBulkStatus: string(types.BulkStateCompleted),
	})

	dlCtx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	body, err := bulk.DownloadBulkResult(dlCtx, st.op.ResultURL)
	if err != nil {
		return c.fail(ctx, st, err)
	}
	products, stats, err := adapter.ParseBulkResult(dlCtx, body)
	body.Close()
	if err != nil {
		if ctx.Err() == nil {
			err = apperrors.NewProviderError(string(st.run.Credentials.Platform), err)
		}
		return c.fail(ctx, st, err)
	}
	cancel()

	st.logger.WithFields(map[string]interface{}{
		"lines":     stats.Lines,
		"products":  stats.Products,
		"variants":  stats.Variants,
		"images":    stats.Images,
		"malformed": stats.Malformed,
		"skipped":   stats.Skipped,
	}).Info("Bulk result downloaded")

	creds := st.run.Credentials
	st.counters.TotalProductsFound = stats.Products
	failedItems, failedBatches := 0, 0

	for start := 0; start < len(products); start += c.batchSize {
		if err := ctx.Err(); err != nil {
			return c.fail(ctx, st, err)
		}
		end := min(start+c.batchSize, len(products))
		records := make([]adapter.SourceRecord, 0, end-start)
		for _, p := range products[start:end] {
			records = append(records, p)
		}

		res, err := c.sink.Apply(ctx, catalog.Request{
			AccountID:       creds.AccountID,
			Platform:        creds.Platform,
			Method:          types.SyncMethodBulkExport,
			RunID:           st.run.RunID,
			WeightUnit:      creds.WeightUnit,
			IncludeInactive: st.run.Settings.IncludeInactive,
			Records:         records,
		})
		if err != nil {
			if ctx.Err() != nil {
				return c.fail(ctx, st, ctx.Err())
			}
			failedBatches++
			failedItems += len(records)
			st.logger.WithError(err).WithFields(map[string]interface{}{
				"batchStart": start,
				"batchSize":  len(records),
			}).Warn("Bulk batch failed, continuing")
			continue
		}

		failedItems += len(res.Failed)
		st.synced += res.Succeeded
		st.counters.ProductsSynced += res.Succeeded
		st.counters.ActiveProductsSynced += res.Active
		st.counters.InactiveProductsSkipped += res.Inactive

		c.checkpoint(ctx, st, nil)
		c.report(st, pollingShare+float64(end)/float64(len(products))*loadingShare, stats.Products,
			fmt.Sprintf("Loaded %d of %d products", end, len(products)))
	}

	st.failed = failedItems
	if failedItems > 0 {
		st.warning = apperrors.NewPartialBatchError(failedItems, stats.Products, nil).Message
		st.logger.WithFields(map[string]interface{}{
			"failedItems":   failedItems,
			"failedBatches": failedBatches,
		}).Warn("Bulk load finished with failures")
	}
	return c.succeed(ctx, st, stats.Products)
}

func (c *BulkExportController) checkpoint(ctx context.Context, st *bulkState, settings map[string]interface{}) {
	creds := st.run.Credentials
	counters := st.counters
	if err := c.status.UpdateProgress(ctx, creds.AccountID, creds.Platform, st.run.RunID, &counters, settings); err != nil {
		st.logger.WithError(err).Warn("Failed to persist bulk progress")
	}
}

func (c *BulkExportController) report(st *bulkState, percent float64, total int, message string) {
	st.percent = max(st.percent, min(percent, pollingShare+loadingShare))
	st.run.Progress.Report(models.Progress{
		Current: st.counters.ProductsSynced,
		Total:   total,
		Percent: st.percent,
		Message: message,
	})
}

func (c *BulkExportController) result(st *bulkState) *models.SyncResult {
	creds := st.run.Credentials
	return &models.SyncResult{
		RunID:       st.run.RunID,
		AccountID:   creds.AccountID,
		Platform:    creds.Platform,
		Method:      types.SyncMethodBulkExport,
		Counters:    st.counters,
		Synced:      st.synced,
		FailedItems: st.failed,
		Warning:     st.warning,
		StartedAt:   st.started,
		FinishedAt:  c.now().UTC(),
	}
}

func (c *BulkExportController) succeed(ctx context.Context, st *bulkState, total int) (*models.SyncResult, error) {
	creds := st.run.Credentials
	now := c.now().UTC()
	st.counters.TotalProductsFound = total

	var lastWarning interface{}
	if st.warning != "" {
		lastWarning = st.warning
	}
	err := c.status.Finish(ctx, storage.FinishParams{
		AccountID: creds.AccountID,
		Platform:  creds.Platform,
		RunID:     st.run.RunID,
		Status:    types.SyncStateSuccess,
		Counters:  st.counters,
		Settings: map[string]interface{}{
			models.SnapshotOperation:   models.OperationBulkFinished,
			models.SnapshotBulkStatus:  string(types.BulkStateCompleted),
			models.SnapshotPollChecks:  st.checks,
			models.SnapshotLastWarning: lastWarning,
		},
		LastSyncAt: &now,
	})
	if err != nil {
		return c.fail(ctx, st, apperrors.NewDatabaseError("finish sync run", err))
	}

	st.run.Progress.Report(models.Progress{
		Current: st.counters.ProductsSynced,
		Total:   total,
		Percent: 100,
		Message: "Sync complete",
	})
	st.logger.WithFields(map[string]interface{}{
		"productsSynced": st.counters.ProductsSynced,
		"productsFound":  total,
		"checks":         st.checks,
	}).Info("Bulk export sync finished")

	result := c.result(st)
	result.Status = types.SyncStateSuccess
	return result, nil
}

// fail writes the error state, on a detached context when the run was cancelled
func (c *BulkExportController) fail(ctx context.Context, st *bulkState, cause error) (*models.SyncResult, error) {
	creds := st.run.Credentials
	err := cause
	message := cause.Error()
	if cat := apperrors.Categorize(cause); cat.Category == apperrors.CategoryTimeout {
		message = cat.Message
	}
	writeCtx := ctx
	if ctx.Err() != nil {
		err = apperrors.NewCancelledError(ctx.Err())
		message = "sync cancelled"
		writeCtx = context.WithoutCancel(ctx)
	}

	st.logger.WithError(cause).WithField("checks", st.checks).Error("Bulk export sync failed")

	finishErr := c.status.Finish(writeCtx, storage.FinishParams{
		AccountID:    creds.AccountID,
		Platform:     creds.Platform,
		RunID:        st.run.RunID,
		Status:       types.SyncStateError,
		Counters:     st.counters,
		ErrorMessage: message,
		Settings: map[string]interface{}{
			models.SnapshotBulkStatus: string(st.op.State),
			models.SnapshotPollChecks: st.checks,
		},
	})
	if finishErr != nil {
		st.logger.WithError(finishErr).Error("Failed to record bulk export failure")
	}

	result := c.result(st)
	result.Status = types.SyncStateError
	result.Recoverable = apperrors.IsRecoverable(err)
	result.Error = message
	return result, err
}
