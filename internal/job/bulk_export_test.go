package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/adapter"
	"github.com/catalog-sync/internal/catalog"
	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/storage/storagetest"
	"github.com/catalog-sync/internal/types"
)

const (
	testAccount = "acct-1"
	testRunID   = "run-bulk"
	testURL     = "https://storage.example/result.jsonl"
)

// fakeBulk replays a scripted sequence of job states
type fakeBulk struct {
	mu        sync.Mutex
	submitErr error
	states    []*models.BulkOperation
	pollErrs  map[int]error
	body      string
	polls     int
	downloads int
	cancelled []string
	// pollsAtDownload records how many polls preceded each download
	pollsAtDownload []int
}

func (f *fakeBulk) Platform() types.Platform { return types.PlatformShopify }

func (f *fakeBulk) FetchPage(context.Context, adapter.Credentials, adapter.PageRequest) (*adapter.Page, error) {
	return &adapter.Page{}, nil
}

func (f *fakeBulk) SubmitBulkExport(context.Context, adapter.Credentials) (*models.BulkOperation, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.BulkOperation{ID: "gid://shopify/BulkOperation/1", State: types.BulkStateCreated}, nil
}

func (f *fakeBulk) CancelBulkOperation(_ context.Context, _ adapter.Credentials, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeBulk) GetBulkOperation(_ context.Context, _ adapter.Credentials, id string) (*models.BulkOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if err := f.pollErrs[f.polls]; err != nil {
		return nil, err
	}
	idx := min(f.polls-1, len(f.states)-1)
	op := *f.states[idx]
	op.ID = id
	return &op, nil
}

func (f *fakeBulk) DownloadBulkResult(context.Context, string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	f.pollsAtDownload = append(f.pollsAtDownload, f.polls)
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func running() *models.BulkOperation {
	return &models.BulkOperation{State: types.BulkStateRunning}
}

func completed(url string, objects int64) *models.BulkOperation {
	return &models.BulkOperation{State: types.BulkStateCompleted, ResultURL: url, ObjectCount: &objects}
}

// bulkBody renders n products, each with one variant line
func bulkBody(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `{"id":"gid://shopify/Product/%d","handle":"p-%d","title":"P %d","status":"ACTIVE"}`+"\n", i, i, i)
		fmt.Fprintf(&b, `{"id":"gid://shopify/ProductVariant/%d","price":"9.99","__parentId":"gid://shopify/Product/%d"}`+"\n", 1000+i, i)
	}
	return b.String()
}

type bulkHarness struct {
	source     *fakeBulk
	status     *storagetest.StatusStore
	products   *storagetest.ProductStore
	controller *BulkExportController
	sleeps     int
	percents   []float64
}

func newBulkHarness(t *testing.T, source adapter.SourceClient, fb *fakeBulk) *bulkHarness {
	t.Helper()
	h := &bulkHarness{
		source:   fb,
		status:   storagetest.NewStatusStore(),
		products: storagetest.NewProductStore(),
	}
	c, err := NewBulkExportController(&BulkExportConfig{
		Sources:   adapter.NewRegistry(source),
		Sink:      catalog.NewSink(h.products, nil, nil),
		Status:    h.status,
		MaxChecks: 5,
		Sleep: func(ctx context.Context, d time.Duration) error {
			assert.Equal(t, DefaultPollInterval, d)
			h.sleeps++
			return ctx.Err()
		},
	})
	require.NoError(t, err)
	h.controller = c
	return h
}

func (h *bulkHarness) run(ctx context.Context) (*models.SyncResult, error) {
	return h.controller.Run(ctx, BulkRun{
		RunID: testRunID,
		Credentials: adapter.Credentials{
			AccountID: testAccount,
			Platform:  types.PlatformShopify,
		},
		Settings: models.DefaultSyncSettings(),
		Progress: func(p models.Progress) { h.percents = append(h.percents, p.Percent) },
	})
}

func (h *bulkHarness) row(t *testing.T) *models.SyncStatus {
	t.Helper()
	row, err := h.status.Get(context.Background(), testAccount, types.PlatformShopify)
	require.NoError(t, err)
	return row
}

func TestBulkExport_CompletesAfterURLAppears(t *testing.T) {
	fb := &fakeBulk{
		states: []*models.BulkOperation{
			running(),
			{State: types.BulkStateCompleted},
			completed(testURL, 240),
		},
		body: bulkBody(120),
	}
	h := newBulkHarness(t, fb, fb)

	result, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, fb.polls)
	assert.Equal(t, 1, fb.downloads)
	assert.Equal(t, []int{3}, fb.pollsAtDownload)
	assert.Equal(t, 3, h.sleeps)

	assert.Equal(t, types.SyncStateSuccess, result.Status)
	assert.Equal(t, types.SyncMethodBulkExport, result.Method)
	assert.Equal(t, 120, result.Counters.ProductsSynced)
	assert.Equal(t, 120, result.Counters.TotalProductsFound)
	assert.Equal(t, 120, h.products.Len())
	// 120 products in batches of 50
	assert.Equal(t, 3, h.products.Calls)

	row := h.row(t)
	assert.Equal(t, types.SyncStateSuccess, row.Status)
	assert.Equal(t, types.SyncMethodBulkExport, row.Method)
	assert.Equal(t, models.OperationBulkFinished, row.Settings[models.SnapshotOperation])
	assert.Equal(t, "completed", row.Settings[models.SnapshotBulkStatus])
	assert.Nil(t, row.Settings[models.SnapshotLastWarning])
	require.NotNil(t, row.LastSyncAt)
	assert.Nil(t, row.ErrorMessage)

	statuses := h.status.Statuses(testAccount, types.PlatformShopify)
	assert.Equal(t, types.SyncStateInProgress, statuses[0])
	assert.Equal(t, types.SyncStateSuccess, statuses[len(statuses)-1])

	require.NotEmpty(t, h.percents)
	for i := 1; i < len(h.percents); i++ {
		assert.GreaterOrEqual(t, h.percents[i], h.percents[i-1])
	}
	assert.Equal(t, 100.0, h.percents[len(h.percents)-1])
}

func TestBulkExport_PersistsPollingSnapshot(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{running(), completed(testURL, 2)}, body: bulkBody(1)}
	h := newBulkHarness(t, fb, fb)

	_, err := h.run(context.Background())
	require.NoError(t, err)

	var polling []models.SyncStatus
	for _, s := range h.status.History {
		if s.Settings[models.SnapshotOperation] == models.OperationBulkPolling {
			polling = append(polling, s)
		}
	}
	require.NotEmpty(t, polling)
	first := polling[0]
	assert.Equal(t, "gid://shopify/BulkOperation/1", first.Settings[models.SnapshotBulkOperationID])
	assert.Equal(t, "running", first.Settings[models.SnapshotBulkStatus])
	assert.Equal(t, 1, first.Settings[models.SnapshotPollChecks])
}

func TestBulkExport_TimesOut(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{running()}}
	h := newBulkHarness(t, fb, fb)

	result, err := h.run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrBulkTimeout))
	assert.True(t, apperrors.IsRecoverable(err))

	assert.Equal(t, 5, fb.polls)
	assert.Zero(t, fb.downloads)
	assert.Equal(t, types.SyncStateError, result.Status)
	assert.True(t, result.Recoverable)

	row := h.row(t)
	assert.Equal(t, types.SyncStateError, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "bulk export timed out, please retry", *row.ErrorMessage)
}

func TestBulkExport_FailedJob(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{
		running(),
		{State: types.BulkStateFailed, ErrorCode: "ACCESS_DENIED"},
	}}
	h := newBulkHarness(t, fb, fb)

	_, err := h.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_DENIED")
	assert.Zero(t, fb.downloads)

	row := h.row(t)
	assert.Equal(t, types.SyncStateError, row.Status)
	assert.Equal(t, "failed", row.Settings[models.SnapshotBulkStatus])
}

func TestBulkExport_EmptyExport(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{completed("", 0)}}
	h := newBulkHarness(t, fb, fb)

	result, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, fb.downloads)
	assert.Zero(t, result.Counters.ProductsSynced)
	assert.Equal(t, types.SyncStateSuccess, h.row(t).Status)
}

func TestBulkExport_TransientPollErrorCountsAsCheck(t *testing.T) {
	fb := &fakeBulk{
		states:   []*models.BulkOperation{running(), completed(testURL, 2)},
		pollErrs: map[int]error{1: apperrors.NewProviderError("shopify", errors.New("502 bad gateway"))},
		body:     bulkBody(1),
	}
	h := newBulkHarness(t, fb, fb)

	result, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Counters.ProductsSynced)
	assert.Equal(t, 1, fb.downloads)
}

func TestBulkExport_CredentialPollErrorFails(t *testing.T) {
	fb := &fakeBulk{
		states:   []*models.BulkOperation{running()},
		pollErrs: map[int]error{1: apperrors.NewCredentialError(types.PlatformShopify, "token revoked", nil)},
	}
	h := newBulkHarness(t, fb, fb)

	_, err := h.run(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryCredential))
	assert.Equal(t, 1, fb.polls)
	assert.Equal(t, types.SyncStateError, h.row(t).Status)
}

func TestBulkExport_FailingBatchContinues(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{completed(testURL, 240)}, body: bulkBody(120)}
	h := newBulkHarness(t, fb, fb)
	h.products.FailCall = 2

	result, err := h.run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, h.products.Calls)
	assert.Equal(t, 70, result.Counters.ProductsSynced)
	assert.Equal(t, 120, result.Counters.TotalProductsFound)
	assert.Equal(t, "50 of 120 products failed to upsert", result.Warning)
	assert.Equal(t, 50, result.FailedItems)

	row := h.row(t)
	assert.Equal(t, types.SyncStateSuccess, row.Status)
	assert.Equal(t, "50 of 120 products failed to upsert", row.Settings[models.SnapshotLastWarning])
}

func TestBulkExport_SkipsMalformedLines(t *testing.T) {
	body := bulkBody(3) + `{"id":"gid://shopify/Product/4","title":` + "\n" + bulkBody(0)
	fb := &fakeBulk{states: []*models.BulkOperation{completed(testURL, 7)}, body: body}
	h := newBulkHarness(t, fb, fb)

	result, err := h.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, result.Counters.ProductsSynced)
	assert.Equal(t, 3, result.Counters.TotalProductsFound)
}

func TestBulkExport_SubmitFailureLeavesNoRow(t *testing.T) {
	fb := &fakeBulk{submitErr: apperrors.NewProviderError("shopify", errors.New("throttled"))}
	h := newBulkHarness(t, fb, fb)

	result, err := h.run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Empty(t, h.status.History)
}

func TestBulkExport_ClaimConflictCancelsSubmittedJob(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{completed(testURL, 1)}, body: bulkBody(1)}
	h := newBulkHarness(t, fb, fb)
	_, err := h.status.TryBeginRun(context.Background(), storage.BeginRunParams{
		AccountID: testAccount,
		Platform:  types.PlatformShopify,
		Method:    types.SyncMethodPaginatedBatch,
		RunID:     "run-other",
	})
	require.NoError(t, err)

	result, err := h.run(context.Background())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)
	assert.Equal(t, []string{"gid://shopify/BulkOperation/1"}, fb.cancelled)
	assert.Zero(t, fb.polls, "the unclaimed job is never awaited")
	assert.Equal(t, "run-other", h.row(t).RunID)
}

func TestBulkExport_RejectsPlatformWithoutBulk(t *testing.T) {
	fb := &fakeBulk{}
	h := newBulkHarness(t, pageOnly{}, fb)

	_, err := h.controller.Run(context.Background(), BulkRun{
		RunID:       testRunID,
		Credentials: adapter.Credentials{AccountID: testAccount, Platform: types.PlatformWooCommerce},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
	assert.Empty(t, h.status.History)
}

func TestBulkExport_CancelFinalizesAsError(t *testing.T) {
	fb := &fakeBulk{states: []*models.BulkOperation{running()}}
	h := newBulkHarness(t, fb, fb)

	ctx, cancel := context.WithCancel(context.Background())
	h.controller.sleep = func(ctx context.Context, _ time.Duration) error {
		h.sleeps++
		if h.sleeps == 2 {
			cancel()
		}
		return ctx.Err()
	}

	result, err := h.run(ctx)
	require.Error(t, err)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryCancelled))
	assert.Equal(t, 1, fb.polls)
	assert.Equal(t, "sync cancelled", result.Error)

	row := h.row(t)
	assert.Equal(t, types.SyncStateError, row.Status)
	require.NotNil(t, row.ErrorMessage)
	assert.Equal(t, "sync cancelled", *row.ErrorMessage)
}

func TestBulkExport_Validation(t *testing.T) {
	_, err := NewBulkExportController(nil)
	assert.Error(t, err)

	_, err = NewBulkExportController(&BulkExportConfig{Sources: adapter.NewRegistry()})
	assert.Error(t, err)
}

// pageOnly is a platform without bulk export
type pageOnly struct{}

func (pageOnly) Platform() types.Platform { return types.PlatformWooCommerce }

func (pageOnly) FetchPage(context.Context, adapter.Credentials, adapter.PageRequest) (*adapter.Page, error) {
	return &adapter.Page{}, nil
}
