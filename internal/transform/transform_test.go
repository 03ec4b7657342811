package transform

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/adapter"
	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/types"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func opts() Options {
	return Options{AccountID: "acct", Now: func() time.Time { return fixedNow }}
}

func boolPtr(b bool) *bool { return &b }

func TestToCanonical_ShopifyREST(t *testing.T) {
	rec := &adapter.ShopifyProduct{
		ID:          42,
		Title:       " Linen Shirt ",
		Handle:      "Linen Shirt",
		Vendor:      "Acme",
		ProductType: "Shirts",
		Status:      "active",
		Tags:        "summer, linen, ,summer",
		BodyHTML:    "<p>Soft</p>",
		Variants: []adapter.ShopifyVariant{{
			SKU:               "LS-1",
			Price:             "19.99",
			CompareAtPrice:    "25.00",
			InventoryQuantity: "7",
			Weight:            "1.5",
			WeightUnit:        "lb",
			Barcode:           "0123",
			RequiresShipping:  boolPtr(true),
			Taxable:           boolPtr(false),
		}},
		Images: []adapter.ShopifyImage{
			{Src: "https://cdn/2.jpg", Position: 2},
			{Src: "https://cdn/1.jpg", Position: 1},
		},
	}

	p, err := ToCanonical(rec, opts())
	require.NoError(t, err)
	assert.Equal(t, "acct", p.AccountID)
	assert.Equal(t, types.PlatformShopify, p.Platform)
	assert.Equal(t, "linen-shirt", p.Handle)
	assert.Equal(t, "42", p.SourceID)
	assert.Equal(t, "Linen Shirt", p.Title)
	assert.Equal(t, []string{"summer", "linen"}, p.Tags)
	assert.Equal(t, "LS-1", p.Variant.SKU)
	assert.True(t, p.Variant.Price.Equal(decimal.RequireFromString("19.99")))
	require.NotNil(t, p.Variant.CompareAtPrice)
	assert.True(t, p.Variant.CompareAtPrice.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, 7, p.Variant.InventoryQuantity)
	assert.True(t, p.Variant.WeightGrams.Equal(decimal.RequireFromString("680.39")), p.Variant.WeightGrams.String())
	assert.False(t, p.Variant.Taxable)
	require.NotNil(t, p.Image)
	assert.Equal(t, "https://cdn/1.jpg", p.Image.URL)
	assert.Equal(t, types.ProductSynced, p.SyncStatus)
	assert.Equal(t, fixedNow, p.SyncedAt)
}

func TestToCanonical_ShopifyRESTDefaults(t *testing.T) {
	p, err := ToCanonical(&adapter.ShopifyProduct{ID: 9, Title: "Bare", Variants: []adapter.ShopifyVariant{{Grams: "250"}}}, opts())
	require.NoError(t, err)
	assert.Equal(t, "shopify-9", p.Handle, "falls back to platform and id")
	assert.True(t, p.Variant.Price.IsZero(), "missing price is zero")
	assert.Zero(t, p.Variant.InventoryQuantity)
	assert.Nil(t, p.Variant.CompareAtPrice)
	assert.True(t, p.Variant.WeightGrams.Equal(decimal.NewFromInt(250)))
	assert.True(t, p.Variant.RequiresShipping)
	assert.True(t, p.Variant.Taxable)
	assert.Nil(t, p.Image)
	assert.True(t, p.IsActive(), "empty status counts as active")
}

func TestToCanonical_ShopifyBulk(t *testing.T) {
	rec := &adapter.ShopifyBulkProduct{
		ID:     "gid://shopify/Product/77",
		Handle: "mug",
		Title:  "Mug",
		Status: "DRAFT",
		Tags:   []string{"kitchen"},
		SEO:    adapter.ShopifySEO{Title: "Best mug", Description: "A mug"},
		Variants: []adapter.ShopifyBulkVariant{{
			SKU:               "MUG",
			Price:             "8",
			InventoryQuantity: "-2",
			InventoryItem: adapter.ShopifyInventoryItem{
				RequiresShipping: boolPtr(false),
			},
		}},
		Images: []adapter.ShopifyBulkImage{{URL: "https://cdn/mug.jpg"}},
	}
	rec.Variants[0].InventoryItem.Measurement.Weight = &adapter.ShopifyWeight{Value: "12", Unit: "OUNCES"}

	p, err := ToCanonical(rec, opts())
	require.NoError(t, err)
	assert.Equal(t, "77", p.SourceID)
	assert.Equal(t, "draft", p.Status)
	assert.False(t, p.IsActive())
	assert.Equal(t, "Best mug", p.SEOTitle)
	assert.Equal(t, -2, p.Variant.InventoryQuantity)
	assert.False(t, p.Variant.RequiresShipping)
	assert.True(t, p.Variant.WeightGrams.Equal(decimal.RequireFromString("340.19")), p.Variant.WeightGrams.String())
	require.NotNil(t, p.Image)
	assert.Equal(t, 1, p.Image.Position)
}

func TestToCanonical_WooCommerce(t *testing.T) {
	rec := &adapter.WooProduct{
		ID:           5,
		Name:         "Tea",
		Slug:         "",
		Status:       "publish",
		SKU:          "TEA",
		Price:        "12.5",
		RegularPrice: "15",
		SalePrice:    "12.5",
		Weight:       "0.25",
		TaxStatus:    "none",
		Virtual:      false,
		Categories:   []adapter.WooTerm{{Name: "Drinks"}},
		Tags:         []adapter.WooTerm{{Name: "green"}},
		Attributes:   []adapter.WooAttrib{{Name: "Brand", Options: []string{"Leafy"}}},
		Images:       []adapter.WooImage{{Src: "https://img/tea.jpg", Position: 0}},
	}

	o := opts()
	o.WeightUnit = types.WeightUnitKilograms
	p, err := ToCanonical(rec, o)
	require.NoError(t, err)
	assert.Equal(t, "woocommerce-5", p.Handle)
	assert.Equal(t, "Drinks", p.ProductType)
	assert.Equal(t, "Leafy", p.Vendor)
	assert.Equal(t, []string{"green"}, p.Tags)
	assert.True(t, p.Variant.Price.Equal(decimal.RequireFromString("12.5")))
	require.NotNil(t, p.Variant.CompareAtPrice)
	assert.True(t, p.Variant.CompareAtPrice.Equal(decimal.NewFromInt(15)))
	assert.True(t, p.Variant.WeightGrams.Equal(decimal.NewFromInt(250)))
	assert.False(t, p.Variant.Taxable)
	assert.Equal(t, 1, p.Image.Position)
	assert.True(t, p.IsActive())
}

func TestToCanonical_Rejects(t *testing.T) {
	_, err := ToCanonical(&adapter.ShopifyProduct{Title: "no id"}, opts())
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))

	_, err = ToCanonical(nil, opts())
	assert.Error(t, err)

	_, err = ToCanonical(&adapter.ShopifyProduct{ID: 1}, Options{})
	assert.Error(t, err, "account is required")
}

func TestBatch_CollectsFailures(t *testing.T) {
	recs := []adapter.SourceRecord{
		&adapter.ShopifyProduct{ID: 1, Handle: "a"},
		&adapter.ShopifyProduct{},
		&adapter.WooProduct{ID: 2, Slug: "b"},
	}
	products, failed := Batch(recs, opts())
	assert.Len(t, products, 2)
	require.Len(t, failed, 1)
}

func TestDecimalAndInt(t *testing.T) {
	assert.True(t, Decimal("19.99").Equal(decimal.RequireFromString("19.99")))
	assert.True(t, Decimal("").IsZero())
	assert.True(t, Decimal("abc").IsZero())
	assert.Equal(t, 3, Int("3.9"))
	assert.Equal(t, 0, Int(""))
}
