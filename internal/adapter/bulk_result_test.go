package adapter

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBulkResult_LinksChildren(t *testing.T) {
	input := strings.Join([]string{
		`{"id":"gid://shopify/Product/1","handle":"shirt","title":"Shirt","status":"ACTIVE","tags":["a","b"],"seo":{"title":"Buy shirt"}}`,
		`{"id":"gid://shopify/ProductVariant/11","sku":"S-1","price":"19.99","inventoryQuantity":4,"inventoryItem":{"requiresShipping":true,"measurement":{"weight":{"value":1.5,"unit":"POUNDS"}}},"__parentId":"gid://shopify/Product/1"}`,
		`{"id":"gid://shopify/ProductImage/21","url":"https://cdn/shirt.jpg","__parentId":"gid://shopify/Product/1"}`,
		`{"id":"gid://shopify/Product/2","handle":"hat","title":"Hat"}`,
		`{"__typename":"MediaImage","id":"gid://shopify/MediaImage/31","image":{"url":"https://cdn/hat.jpg"},"__parentId":"gid://shopify/Product/2"}`,
		`{"id":"gid://shopify/Collection/5","title":"ignored"}`,
		`{"id":"gid://shopify/ProductVariant/99","sku":"orphan","__parentId":"gid://shopify/Product/404"}`,
		``,
	}, "\n")

	products, stats, err := ParseBulkResult(context.Background(), strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, products, 2)

	shirt := products[0]
	assert.Equal(t, "1", shirt.SourceID())
	assert.Equal(t, []string{"a", "b"}, shirt.Tags)
	assert.Equal(t, "Buy shirt", shirt.SEO.Title)
	require.Len(t, shirt.Variants, 1)
	assert.Equal(t, Numeric("19.99"), shirt.Variants[0].Price)
	require.NotNil(t, shirt.Variants[0].InventoryItem.Measurement.Weight)
	assert.Equal(t, "POUNDS", shirt.Variants[0].InventoryItem.Measurement.Weight.Unit)
	require.Len(t, shirt.Images, 1)
	assert.Equal(t, "https://cdn/shirt.jpg", shirt.Images[0].ImageURL())

	hat := products[1]
	require.Len(t, hat.Images, 1)
	assert.Equal(t, "https://cdn/hat.jpg", hat.Images[0].ImageURL())

	assert.Equal(t, BulkParseStats{Lines: 7, Products: 2, Variants: 1, Images: 2, Skipped: 2}, stats)
}

func TestParseBulkResult_SkipsMalformedLine(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 1000; i++ {
		fmt.Fprintf(&b, `{"id":"gid://shopify/Product/%d","handle":"p-%d","title":"P %d"}`+"\n", i, i, i)
		if i == 500 {
			b.WriteString(`{"id":"gid://shopify/Product/9999","title":` + "\n")
		}
	}

	products, stats, err := ParseBulkResult(context.Background(), strings.NewReader(b.String()))
	require.NoError(t, err)
	assert.Len(t, products, 1000)
	assert.Equal(t, 1000, stats.Products)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1001, stats.Lines)
	assert.Equal(t, "p-500", products[499].Handle)
	assert.Equal(t, "p-501", products[500].Handle)
}

func TestParseBulkResult_NoTrailingNewline(t *testing.T) {
	products, _, err := ParseBulkResult(context.Background(),
		strings.NewReader(`{"id":"gid://shopify/Product/1","handle":"a"}`))
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestParseBulkResult_Empty(t *testing.T) {
	products, stats, err := ParseBulkResult(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, products)
	assert.Zero(t, stats.Lines)
}

func TestParseBulkResult_Cancelled(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		fmt.Fprintf(&b, `{"id":"gid://shopify/Product/%d"}`+"\n", i+1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ParseBulkResult(ctx, strings.NewReader(b.String()))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGidKind(t *testing.T) {
	assert.EqualValues(t, "ProductVariant", gidKind("gid://shopify/ProductVariant/1"))
	assert.EqualValues(t, "", gidKind("not-a-gid"))
	assert.Equal(t, "42", gidNumber("gid://shopify/Product/42"))
}
