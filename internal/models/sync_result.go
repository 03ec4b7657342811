package models

import (
	"time"

	"github.com/catalog-sync/internal/types"
)

// Progress is one observation of a running sync
type Progress struct {
	Current int     `json:"current"`
	Total   int     `json:"total"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// ProgressFunc receives progress observations. It is owned by the caller
// and invoked synchronously on the sync goroutine.
type ProgressFunc func(Progress)

// Report calls f when it is set
func (f ProgressFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

// SyncResult is returned by every sync entry point
type SyncResult struct {
	RunID       string           `json:"runId"`
	AccountID   string           `json:"accountId"`
	Platform    types.Platform   `json:"platform"`
	Method      types.SyncMethod `json:"method"`
	Status      types.SyncState  `json:"status"`
	Counters    Counters         `json:"counters"`
	Synced      int              `json:"sessionSynced"` // rows written by this invocation
	FailedItems int              `json:"failedItems,omitempty"`
	Pages       int              `json:"pages,omitempty"`
	NextPage    int              `json:"nextPage,omitempty"`
	HasMore     bool             `json:"hasMore"`
	Incomplete  bool             `json:"incomplete"`
	Warning     string           `json:"warning,omitempty"`
	Recoverable bool             `json:"recoverable"`
	Error       string           `json:"error,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
	FinishedAt  time.Time        `json:"finishedAt"`
}
