package models

import (
	"time"

	"github.com/catalog-sync/internal/types"
)

// BulkOperation is a platform-side asynchronous export job
type BulkOperation struct {
	ID          string          `json:"id"`
	State       types.BulkState `json:"state"`
	ResultURL   string          `json:"resultUrl,omitempty"` // set only once completed
	ObjectCount *int64          `json:"objectCount,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// IsEmptyExport reports a completed job that produced no objects and no file
func (op *BulkOperation) IsEmptyExport() bool {
	return op.State == types.BulkStateCompleted && op.ResultURL == "" &&
		op.ObjectCount != nil && *op.ObjectCount == 0
}

// Snapshot returns the settings entries recorded while the job is polled
func (op *BulkOperation) Snapshot() map[string]interface{} {
	snap := map[string]interface{}{
		SnapshotBulkOperationID: op.ID,
		SnapshotBulkStatus:      string(op.State),
	}
	if op.ObjectCount != nil {
		snap[SnapshotObjectCount] = *op.ObjectCount
	}
	return snap
}
