package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

func testProduct(account, handle, price string) *models.CanonicalProduct {
	return &models.CanonicalProduct{
		AccountID:  account,
		Platform:   types.PlatformShopify,
		Handle:     handle,
		SourceID:   "gid://shopify/Product/" + handle,
		Title:      "Product " + handle,
		Status:     "active",
		Variant:    models.ProductVariant{SKU: "SKU-" + handle, Price: decimal.RequireFromString(price)},
		SyncStatus: types.ProductSynced,
		SyncedAt:   time.Now().UTC(),
	}
}

func TestProductRepository_UpsertIsKeyed(t *testing.T) {
	db := openTestPostgres(t)
	repo := NewProductRepository(db)
	ctx := testContext(t)
	account := "acct-" + uuid.NewString()

	result, err := repo.UpsertBatch(ctx, []*models.CanonicalProduct{
		testProduct(account, "shirt", "19.99"),
		testProduct(account, "hat", "5.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Empty(t, result.Failed)

	result, err = repo.UpsertBatch(ctx, []*models.CanonicalProduct{testProduct(account, "shirt", "17.50")})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)

	n, err := repo.Count(ctx, account, types.PlatformShopify)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	prices, err := repo.GetPrices(ctx, account, types.PlatformShopify, []string{"shirt", "hat", "missing"})
	require.NoError(t, err)
	assert.True(t, prices["shirt"].Equal(decimal.RequireFromString("17.50")))
	assert.True(t, prices["hat"].Equal(decimal.RequireFromString("5")))
	assert.NotContains(t, prices, "missing")
}

func TestProductRepository_InvalidItemsFailAlone(t *testing.T) {
	db := openTestPostgres(t)
	repo := NewProductRepository(db)
	ctx := testContext(t)
	account := "acct-" + uuid.NewString()

	noHandle := testProduct(account, "", "1.00")
	result, err := repo.UpsertBatch(ctx, []*models.CanonicalProduct{noHandle, testProduct(account, "ok", "1.00"), nil})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Len(t, result.Failed, 2)
}

func TestProductRepository_GetPricesEmpty(t *testing.T) {
	repo := NewProductRepository(nil)
	prices, err := repo.GetPrices(testContext(t), "acct", types.PlatformShopify, nil)
	require.NoError(t, err)
	assert.Empty(t, prices)
}
