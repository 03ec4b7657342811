// Package storagetest provides in-memory implementations of the storage
// interfaces for engine tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/types"
)

type statusKey struct {
	account  string
	platform types.Platform
}

// StatusStore is an in-memory storage.StatusStore. Every accepted write is
// appended to History so tests can inspect the sequence of states.
type StatusStore struct {
	mu      sync.Mutex
	rows    map[statusKey]*models.SyncStatus
	History []models.SyncStatus
	Now     func() time.Time

	// FinishErr, when set, is returned by Finish without writing
	FinishErr error
}

// NewStatusStore creates an empty status store
func NewStatusStore() *StatusStore {
	return &StatusStore{rows: make(map[statusKey]*models.SyncStatus), Now: time.Now}
}

func copyStatus(s *models.SyncStatus) *models.SyncStatus {
	c := *s
	c.Settings = models.MergeSettings(nil, s.Settings)
	return &c
}

func (s *StatusStore) record(row *models.SyncStatus) {
	row.UpdatedAt = s.Now()
	s.History = append(s.History, *copyStatus(row))
}

// Get implements storage.StatusStore
func (s *StatusStore) Get(_ context.Context, accountID string, platform types.Platform) (*models.SyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[statusKey{accountID, platform}]
	if !ok {
		return nil, fmt.Errorf("sync status for %s/%s: %w", accountID, platform, storage.ErrNotFound)
	}
	return copyStatus(row), nil
}

// Upsert implements storage.StatusStore
func (s *StatusStore) Upsert(_ context.Context, status *models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := copyStatus(status)
	if row.Settings == nil {
		row.Settings = map[string]interface{}{}
	}
	s.rows[statusKey{status.AccountID, status.Platform}] = row
	s.record(row)
	return nil
}

// TryBeginRun implements storage.StatusStore
func (s *StatusStore) TryBeginRun(_ context.Context, p storage.BeginRunParams) (*models.SyncStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := statusKey{p.AccountID, p.Platform}
	row, ok := s.rows[key]
	if !ok {
		row = models.NewSyncStatus(p.AccountID, p.Platform)
		s.rows[key] = row
	} else if row.Status == types.SyncStateInProgress {
		stale := p.StaleAfter > 0 && s.Now().Sub(row.UpdatedAt) >= p.StaleAfter
		if !stale {
			return nil, apperrors.NewSyncInProgressError(p.AccountID, p.Platform)
		}
	}

	now := s.Now()
	row.Status = types.SyncStateInProgress
	row.Method = p.Method
	row.RunID = p.RunID
	row.ErrorMessage = nil
	row.StartedAt = &now
	if p.ResetCounters {
		row.ProductsSynced = 0
		row.TotalProductsFound = 0
		row.ActiveProductsSynced = 0
		row.InactiveProductsSkipped = 0
	}
	row.Settings = models.MergeSettings(row.Settings, p.Settings)
	s.record(row)
	return copyStatus(row), nil
}

func raise(row *models.SyncStatus, c models.Counters) {
	row.ProductsSynced = max(row.ProductsSynced, c.ProductsSynced)
	row.TotalProductsFound = max(row.TotalProductsFound, c.TotalProductsFound)
	row.ActiveProductsSynced = max(row.ActiveProductsSynced, c.ActiveProductsSynced)
	row.InactiveProductsSkipped = max(row.InactiveProductsSkipped, c.InactiveProductsSkipped)
}

// UpdateProgress implements storage.StatusStore
func (s *StatusStore) UpdateProgress(_ context.Context, accountID string, platform types.Platform, runID string, counters *models.Counters, settings map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[statusKey{accountID, platform}]
	if !ok || row.RunID != runID || row.Status != types.SyncStateInProgress {
		return nil
	}
	if counters != nil {
		raise(row, *counters)
	}
	row.Settings = models.MergeSettings(row.Settings, settings)
	s.record(row)
	return nil
}

// Finish implements storage.StatusStore
func (s *StatusStore) Finish(_ context.Context, p storage.FinishParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FinishErr != nil {
		return s.FinishErr
	}
	row, ok := s.rows[statusKey{p.AccountID, p.Platform}]
	if !ok || row.RunID != p.RunID {
		return fmt.Errorf("sync run %s: %w", p.RunID, storage.ErrNotFound)
	}
	row.Status = p.Status
	raise(row, p.Counters)
	row.ErrorMessage = nil
	if p.ErrorMessage != "" {
		msg := p.ErrorMessage
		row.ErrorMessage = &msg
	}
	row.Settings = models.MergeSettings(row.Settings, p.Settings)
	if p.LastSyncAt != nil {
		t := *p.LastSyncAt
		row.LastSyncAt = &t
	}
	s.record(row)
	return nil
}

// Statuses returns the Status of every recorded write for a store, in order
func (s *StatusStore) Statuses(accountID string, platform types.Platform) []types.SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.SyncState
	for _, h := range s.History {
		if h.AccountID == accountID && h.Platform == platform {
			out = append(out, h.Status)
		}
	}
	return out
}

// ProductStore is an in-memory storage.ProductStore
type ProductStore struct {
	mu       sync.Mutex
	rows     map[models.ProductKey]*models.CanonicalProduct
	Calls    int
	Attempts int // products passed to UpsertBatch, including repeats

	// FailHandles makes the named products fail individually
	FailHandles map[string]bool
	// FailCall makes the nth UpsertBatch call (1-based) fail as a whole
	FailCall int
}

// NewProductStore creates an empty product store
func NewProductStore() *ProductStore {
	return &ProductStore{rows: make(map[models.ProductKey]*models.CanonicalProduct), FailHandles: map[string]bool{}}
}

// UpsertBatch implements storage.ProductStore
func (s *ProductStore) UpsertBatch(ctx context.Context, products []*models.CanonicalProduct) (models.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++
	s.Attempts += len(products)

	var result models.BatchResult
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if s.FailCall > 0 && s.Calls == s.FailCall {
		return result, fmt.Errorf("failed to upsert products: connection reset")
	}
	for _, p := range products {
		if p == nil || p.Handle == "" || s.FailHandles[p.Handle] {
			handle := ""
			if p != nil {
				handle = p.Handle
			}
			result.Failed = append(result.Failed, models.ItemError{Handle: handle, Error: "rejected"})
			continue
		}
		c := *p
		s.rows[p.Key()] = &c
		result.Succeeded++
	}
	return result, nil
}

// GetPrices implements storage.ProductStore
func (s *ProductStore) GetPrices(_ context.Context, accountID string, platform types.Platform, handles []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prices := make(map[string]decimal.Decimal)
	for _, h := range handles {
		if p, ok := s.rows[models.ProductKey{AccountID: accountID, Platform: platform, Handle: h}]; ok {
			prices[h] = p.Variant.Price
		}
	}
	return prices, nil
}

// Put seeds a stored product
func (s *ProductStore) Put(p *models.CanonicalProduct) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *p
	s.rows[p.Key()] = &c
}

// Get returns a stored product or nil
func (s *ProductStore) Get(accountID string, platform types.Platform, handle string) *models.CanonicalProduct {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[models.ProductKey{AccountID: accountID, Platform: platform, Handle: handle}]
}

// Len returns the number of stored products
func (s *ProductStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// PriceEventSink collects appended events
type PriceEventSink struct {
	mu     sync.Mutex
	Events []models.PriceChangeEvent
	Err    error
}

// AppendPriceChanges implements storage.PriceEventSink
func (s *PriceEventSink) AppendPriceChanges(_ context.Context, events []models.PriceChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Events = append(s.Events, events...)
	return nil
}

// RecentChanges implements storage.PriceEventReader
func (s *PriceEventSink) RecentChanges(_ context.Context, accountID string, platform types.Platform, limit int) ([]models.PriceChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []models.PriceChangeEvent
	for i := len(s.Events) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.Events[i]
		if e.AccountID == accountID && e.Platform == platform {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len returns the number of collected events
func (s *PriceEventSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}

// ConnectionStore is an in-memory storage.ConnectionStore
type ConnectionStore struct {
	mu    sync.Mutex
	conns map[statusKey]*models.StoreConnection
}

// NewConnectionStore creates a store seeded with conns
func NewConnectionStore(conns ...*models.StoreConnection) *ConnectionStore {
	s := &ConnectionStore{conns: make(map[statusKey]*models.StoreConnection)}
	for _, c := range conns {
		s.conns[statusKey{c.AccountID, c.Platform}] = c
	}
	return s
}

// GetConnection implements storage.ConnectionStore
func (s *ConnectionStore) GetConnection(_ context.Context, accountID string, platform types.Platform) (*models.StoreConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[statusKey{accountID, platform}]
	if !ok {
		return nil, fmt.Errorf("connection %s/%s: %w", accountID, platform, storage.ErrNotFound)
	}
	cc := *c
	return &cc, nil
}

// ListAutoSync implements storage.ConnectionStore
func (s *ConnectionStore) ListAutoSync(_ context.Context) ([]*models.StoreConnection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.StoreConnection
	for _, c := range s.conns {
		if c.Active && c.AutoSync {
			cc := *c
			out = append(out, &cc)
		}
	}
	return out, nil
}

var (
	_ storage.StatusStore      = (*StatusStore)(nil)
	_ storage.ProductStore     = (*ProductStore)(nil)
	_ storage.PriceEventSink   = (*PriceEventSink)(nil)
	_ storage.PriceEventReader = (*PriceEventSink)(nil)
	_ storage.ConnectionStore  = (*ConnectionStore)(nil)
)
