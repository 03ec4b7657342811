package models

import (
	"time"

	"github.com/catalog-sync/internal/types"
)

// SyncStatus is the single observable record of a store's catalog sync,
// keyed by (account, platform). It is created on the first attempt and
// never deleted.
type SyncStatus struct {
	AccountID               string                 `json:"accountId" db:"account_id"`
	Platform                types.Platform         `json:"platform" db:"platform"`
	Status                  types.SyncState        `json:"status" db:"status"`
	Method                  types.SyncMethod       `json:"method,omitempty" db:"method"`
	RunID                   string                 `json:"runId,omitempty" db:"run_id"`
	ProductsSynced          int                    `json:"productsSynced" db:"products_synced"`
	TotalProductsFound      int                    `json:"totalProductsFound" db:"total_products_found"`
	ActiveProductsSynced    int                    `json:"activeProductsSynced" db:"active_products_synced"`
	InactiveProductsSkipped int                    `json:"inactiveProductsSkipped" db:"inactive_products_skipped"`
	LastSyncAt              *time.Time             `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	ErrorMessage            *string                `json:"errorMessage,omitempty" db:"error_message"`
	Settings                map[string]interface{} `json:"settings" db:"settings"`
	StartedAt               *time.Time             `json:"startedAt,omitempty" db:"started_at"`
	UpdatedAt               time.Time              `json:"updatedAt" db:"updated_at"`
}

// NewSyncStatus returns the idle record used before a store's first run
func NewSyncStatus(accountID string, platform types.Platform) *SyncStatus {
	return &SyncStatus{
		AccountID: accountID,
		Platform:  platform,
		Status:    types.SyncStateIdle,
		Settings:  map[string]interface{}{},
	}
}

// IsRunning reports whether the record holds a live run. Runs whose last
// update is older than staleAfter are treated as abandoned.
func (s *SyncStatus) IsRunning(now time.Time, staleAfter time.Duration) bool {
	if s == nil || s.Status != types.SyncStateInProgress {
		return false
	}
	if staleAfter <= 0 {
		return true
	}
	return now.Sub(s.UpdatedAt) < staleAfter
}

// Counters is the set of progress counters written while a run is active.
// Counters never decrease within a run.
type Counters struct {
	ProductsSynced          int `json:"productsSynced"`
	TotalProductsFound      int `json:"totalProductsFound"`
	ActiveProductsSynced    int `json:"activeProductsSynced"`
	InactiveProductsSkipped int `json:"inactiveProductsSkipped"`
}

// Seen is the number of source products observed, synced or skipped
func (c Counters) Seen() int {
	return c.ProductsSynced + c.InactiveProductsSkipped
}
