// Package types provides common type definitions for the catalog sync engine.
package types

import "fmt"

// Platform represents a supported source commerce platform
type Platform string

const (
	// PlatformShopify represents Shopify stores (REST pagination and GraphQL bulk export)
	PlatformShopify Platform = "shopify"
	// PlatformWooCommerce represents WooCommerce stores (REST pagination only)
	PlatformWooCommerce Platform = "woocommerce"
)

// IsValid reports whether p is a supported platform
func (p Platform) IsValid() bool {
	return p == PlatformShopify || p == PlatformWooCommerce
}

// ParsePlatform validates a platform name
func ParsePlatform(s string) (Platform, error) {
	switch Platform(s) {
	case PlatformShopify, PlatformWooCommerce:
		return Platform(s), nil
	default:
		return "", fmt.Errorf("unsupported platform: %q", s)
	}
}

// SyncState represents the lifecycle state of a sync status record
type SyncState string

const (
	// SyncStateIdle represents a record that has never run
	SyncStateIdle SyncState = "idle"
	// SyncStatePending represents a run that has been requested but not started
	SyncStatePending SyncState = "pending"
	// SyncStateInProgress represents a running sync
	SyncStateInProgress SyncState = "in_progress"
	// SyncStateSuccess represents a sync that finished (possibly with a warning)
	SyncStateSuccess SyncState = "success"
	// SyncStateError represents a sync that failed or was cancelled
	SyncStateError SyncState = "error"
)

// IsTerminal reports whether a run in this state has finished
func (s SyncState) IsTerminal() bool {
	return s == SyncStateSuccess || s == SyncStateError
}

// SyncMethod represents the strategy used to ingest a catalog
type SyncMethod string

const (
	// SyncMethodPaginatedBatch fetches the catalog page by page
	SyncMethodPaginatedBatch SyncMethod = "paginated_batch"
	// SyncMethodBulkExport runs one asynchronous export job on the platform
	SyncMethodBulkExport SyncMethod = "bulk_export"
)

// BulkState represents the state of a platform-side bulk export job
type BulkState string

const (
	BulkStateCreated   BulkState = "created"
	BulkStateRunning   BulkState = "running"
	BulkStateCompleted BulkState = "completed"
	BulkStateFailed    BulkState = "failed"
	BulkStateCancelled BulkState = "cancelled"
)

// IsTerminal reports whether the bulk job will not change state anymore
func (s BulkState) IsTerminal() bool {
	return s == BulkStateCompleted || s == BulkStateFailed || s == BulkStateCancelled
}

// RecordKind discriminates records found in a bulk result file
type RecordKind string

const (
	RecordKindProduct      RecordKind = "Product"
	RecordKindVariant      RecordKind = "ProductVariant"
	RecordKindImage        RecordKind = "ProductImage"
	RecordKindMedia        RecordKind = "MediaImage"
	RecordKindUnrecognized RecordKind = ""
)

// WeightUnit represents a source weight unit
type WeightUnit string

const (
	WeightUnitGrams     WeightUnit = "g"
	WeightUnitKilograms WeightUnit = "kg"
	WeightUnitPounds    WeightUnit = "lb"
	WeightUnitOunces    WeightUnit = "oz"
)

// ProductSyncStatus is the sync marker stored on every canonical product
type ProductSyncStatus string

const (
	// ProductSynced marks a product written by the sync engine
	ProductSynced ProductSyncStatus = "synced"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
