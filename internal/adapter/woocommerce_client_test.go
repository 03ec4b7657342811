package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/types"
)

const wooPage = `[
  {"id": 11, "name": "Mug", "slug": "mug", "status": "publish", "sku": "MUG-1",
   "price": "12.50", "regular_price": "15.00", "sale_price": "12.50",
   "stock_quantity": null, "weight": "0.4", "tax_status": "taxable",
   "categories": [{"id": 1, "name": "Kitchen", "slug": "kitchen"}],
   "tags": [{"id": 2, "name": "ceramic", "slug": "ceramic"}],
   "images": [{"id": 5, "src": "https://img/mug.jpg", "position": 0}],
   "date_created_gmt": "2024-01-02T03:04:05", "date_modified_gmt": ""},
  {"id": 12, "name": "Draft", "slug": "", "status": "draft", "price": "", "weight": ""}
]`

func TestWooCommerceClient_FetchPage(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ck" || pass != "cs" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "/store/wp-json/wc/v3/products", r.URL.Path)
		gotQuery = r.URL.RawQuery
		w.Header().Set("X-WP-Total", "42")
		w.Header().Set("X-WP-TotalPages", "1")
		_, _ = w.Write([]byte(wooPage))
	}))
	defer srv.Close()

	client, err := NewWooCommerceClient(fastConfig(t))
	require.NoError(t, err)
	creds := Credentials{Platform: types.PlatformWooCommerce, BaseURL: srv.URL + "/store", ConsumerKey: "ck", ConsumerSecret: "cs"}

	page, err := client.FetchPage(context.Background(), creds, PageRequest{PageSize: 250, PageNumber: 1, IncludeCount: true})
	require.NoError(t, err)
	assert.Contains(t, gotQuery, "per_page=100", "clamped to the API maximum")
	require.Len(t, page.Items, 2)
	require.NotNil(t, page.ReportedTotal)
	assert.Equal(t, 42, *page.ReportedTotal)
	assert.False(t, page.HasNext)

	mug := page.Items[0].(*WooProduct)
	assert.Equal(t, "mug", mug.Slug)
	assert.Equal(t, Numeric("12.50"), mug.Price)
	assert.Equal(t, Numeric(""), mug.StockQuantity)
	require.NotNil(t, mug.DateCreatedGMT.Ptr())
	assert.Nil(t, mug.DateModifiedGMT.Ptr())
	assert.Equal(t, "11", mug.SourceID())
	assert.Equal(t, types.PlatformWooCommerce, mug.Platform())

	t.Run("bad secret is a credential error", func(t *testing.T) {
		bad := creds
		bad.ConsumerSecret = "nope"
		_, err := client.FetchPage(context.Background(), bad, PageRequest{PageSize: 10, PageNumber: 1})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryCredential))
	})

	t.Run("rejects page zero", func(t *testing.T) {
		_, err := client.FetchPage(context.Background(), creds, PageRequest{PageSize: 10, PageNumber: 0})
		assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
	})
}

func TestRegistry(t *testing.T) {
	shopify, err := NewShopifyClient(nil)
	require.NoError(t, err)
	woo, err := NewWooCommerceClient(nil)
	require.NoError(t, err)
	reg := NewRegistry(shopify, woo)

	c, err := reg.Client(types.PlatformWooCommerce)
	require.NoError(t, err)
	assert.Equal(t, types.PlatformWooCommerce, c.Platform())

	assert.True(t, reg.SupportsBulk(types.PlatformShopify))
	assert.False(t, reg.SupportsBulk(types.PlatformWooCommerce))

	_, err = reg.Bulk(types.PlatformWooCommerce)
	assert.ErrorIs(t, err, apperrors.ErrBulkUnsupported)

	_, err = reg.Client(types.Platform("etsy"))
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
}

func TestNumeric_UnmarshalJSON(t *testing.T) {
	var v struct {
		A Numeric `json:"a"`
		B Numeric `json:"b"`
		C Numeric `json:"c"`
		D Numeric `json:"d"`
	}
	require.NoError(t, jsonUnmarshal(`{"a": 1.5, "b": "2.25", "c": null, "d": ""}`, &v))
	assert.Equal(t, Numeric("1.5"), v.A)
	assert.Equal(t, Numeric("2.25"), v.B)
	assert.Equal(t, Numeric(""), v.C)
	assert.Equal(t, Numeric(""), v.D)

	assert.Error(t, jsonUnmarshal(`{"a": true}`, &v))
}
