package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/types"
)

// CanonicalProduct is the system's own normalized product row.
// (AccountID, Handle, Platform) is unique.
type CanonicalProduct struct {
	AccountID string         `json:"accountId" db:"account_id"`
	Platform  types.Platform `json:"platform" db:"platform"`
	Handle    string         `json:"handle" db:"handle"`
	SourceID  string         `json:"sourceId" db:"source_id"`

	Title          string   `json:"title" db:"title"`
	Vendor         string   `json:"vendor,omitempty" db:"vendor"`
	ProductType    string   `json:"productType,omitempty" db:"product_type"`
	Tags           []string `json:"tags,omitempty" db:"tags"`
	Description    string   `json:"description,omitempty" db:"description"`
	SEOTitle       string   `json:"seoTitle,omitempty" db:"seo_title"`
	SEODescription string   `json:"seoDescription,omitempty" db:"seo_description"`
	Status         string   `json:"status" db:"status"`

	Variant ProductVariant `json:"variant"`
	Image   *ProductImage  `json:"image,omitempty"`

	SyncStatus      types.ProductSyncStatus `json:"syncStatus" db:"sync_status"`
	SyncedAt        time.Time               `json:"syncedAt" db:"synced_at"`
	SourceCreatedAt *time.Time              `json:"sourceCreatedAt,omitempty" db:"source_created_at"`
	SourceUpdatedAt *time.Time              `json:"sourceUpdatedAt,omitempty" db:"source_updated_at"`
}

// ProductVariant is the single representative variant kept per product
type ProductVariant struct {
	SKU               string           `json:"sku,omitempty" db:"sku"`
	Price             decimal.Decimal  `json:"price" db:"price"`
	CompareAtPrice    *decimal.Decimal `json:"compareAtPrice,omitempty" db:"compare_at_price"`
	InventoryQuantity int              `json:"inventoryQuantity" db:"inventory_quantity"`
	WeightGrams       decimal.Decimal  `json:"weightGrams" db:"weight_grams"`
	Barcode           string           `json:"barcode,omitempty" db:"barcode"`
	RequiresShipping  bool             `json:"requiresShipping" db:"requires_shipping"`
	Taxable           bool             `json:"taxable" db:"taxable"`
}

// ProductImage is the single representative image kept per product
type ProductImage struct {
	URL      string `json:"url" db:"image_url"`
	Position int    `json:"position" db:"image_position"`
}

// ProductKey identifies a canonical product row
type ProductKey struct {
	AccountID string
	Platform  types.Platform
	Handle    string
}

// Key returns the product's unique key
func (p *CanonicalProduct) Key() ProductKey {
	return ProductKey{AccountID: p.AccountID, Platform: p.Platform, Handle: p.Handle}
}

// IsActive reports whether the source marks the product as sellable
func (p *CanonicalProduct) IsActive() bool {
	switch p.Status {
	case "", "active", "publish":
		return true
	default:
		return false
	}
}

// PriceChangeEvent is appended whenever a sync observes a price move
type PriceChangeEvent struct {
	AccountID  string          `json:"accountId" ch:"account_id"`
	Platform   types.Platform  `json:"platform" ch:"platform"`
	Handle     string          `json:"handle" ch:"handle"`
	SKU        string          `json:"sku" ch:"sku"`
	OldPrice   decimal.Decimal `json:"oldPrice" ch:"old_price"`
	NewPrice   decimal.Decimal `json:"newPrice" ch:"new_price"`
	DetectedAt time.Time       `json:"detectedAt" ch:"detected_at"`
	RunID      string          `json:"runId" ch:"run_id"`
}

// ItemError records one product that could not be written
type ItemError struct {
	Handle string `json:"handle"`
	Error  string `json:"error"`
}

// BatchResult reports a partially applied upsert batch
type BatchResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    []ItemError `json:"failed,omitempty"`
}

// Add folds other into r
func (r *BatchResult) Add(other BatchResult) {
	r.Succeeded += other.Succeeded
	r.Failed = append(r.Failed, other.Failed...)
}
