package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

// BeginRunParams describes a run being claimed on a sync status row
type BeginRunParams struct {
	AccountID string
	Platform  types.Platform
	Method    types.SyncMethod
	RunID     string
	// StaleAfter lets a new run take over an in_progress row not updated for this long
	StaleAfter time.Duration
	// ResetCounters zeroes the counters; resumed batch runs keep them
	ResetCounters bool
	Settings      map[string]interface{}
}

// FinishParams describes the terminal write of a run
type FinishParams struct {
	AccountID    string
	Platform     types.Platform
	RunID        string
	Status       types.SyncState
	Counters     models.Counters
	ErrorMessage string
	Settings     map[string]interface{}
	LastSyncAt   *time.Time
}

// StatusStore persists SyncStatus rows keyed by (account, platform)
type StatusStore interface {
	Get(ctx context.Context, accountID string, platform types.Platform) (*models.SyncStatus, error)
	Upsert(ctx context.Context, status *models.SyncStatus) error
	// TryBeginRun atomically moves the row to in_progress, failing with
	// errors.ErrSyncInProgress when another live run holds it.
	TryBeginRun(ctx context.Context, p BeginRunParams) (*models.SyncStatus, error)
	// UpdateProgress writes counters (never lowering them) and merges settings.
	// Writes for a runID that no longer owns the row are ignored.
	UpdateProgress(ctx context.Context, accountID string, platform types.Platform, runID string, counters *models.Counters, settings map[string]interface{}) error
	Finish(ctx context.Context, p FinishParams) error
}

// ProductStore is the keyed upsert sink for canonical products
type ProductStore interface {
	UpsertBatch(ctx context.Context, products []*models.CanonicalProduct) (models.BatchResult, error)
	// GetPrices returns stored prices by handle for the given handles
	GetPrices(ctx context.Context, accountID string, platform types.Platform, handles []string) (map[string]decimal.Decimal, error)
}

// PriceEventSink appends price change events
type PriceEventSink interface {
	AppendPriceChanges(ctx context.Context, events []models.PriceChangeEvent) error
}

// PriceEventReader lists recorded price changes for a store
type PriceEventReader interface {
	RecentChanges(ctx context.Context, accountID string, platform types.Platform, limit int) ([]models.PriceChangeEvent, error)
}

// ConnectionStore reads store connections
type ConnectionStore interface {
	GetConnection(ctx context.Context, accountID string, platform types.Platform) (*models.StoreConnection, error)
	ListAutoSync(ctx context.Context) ([]*models.StoreConnection, error)
}

// ProgressStore mirrors live progress for fast polling
type ProgressStore interface {
	SetProgress(ctx context.Context, accountID string, platform types.Platform, snap *ProgressSnapshot) error
	GetProgress(ctx context.Context, accountID string, platform types.Platform) (*ProgressSnapshot, error)
}

var (
	_ StatusStore      = (*SyncStatusRepository)(nil)
	_ ProductStore     = (*ProductRepository)(nil)
	_ PriceEventSink   = (*PriceEventRepository)(nil)
	_ PriceEventReader = (*PriceEventRepository)(nil)
	_ ConnectionStore  = (*StoreConnectionRepository)(nil)
	_ ProgressStore    = (*ProgressCache)(nil)
)
