package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalog-sync/internal/types"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.PageFetched(types.PlatformShopify)
	m.PageFetched(types.PlatformShopify)
	m.ProductsWritten(types.PlatformShopify, types.SyncMethodBulkExport, 48, 2, 5)
	m.PriceChanges(types.PlatformShopify, 3)
	m.BulkPoll(types.PlatformShopify, types.BulkStateRunning)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.pagesFetched.WithLabelValues("shopify")))
	assert.Equal(t, 48.0, testutil.ToFloat64(m.productsUpserted.WithLabelValues("shopify", "bulk_export")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.productsFailed.WithLabelValues("shopify", "bulk_export")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.productsSkipped.WithLabelValues("shopify")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.priceChanges.WithLabelValues("shopify")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bulkPolls.WithLabelValues("shopify", "running")))
}

func TestMetrics_RunLifecycle(t *testing.T) {
	m := New()

	done := m.RunStarted(types.PlatformWooCommerce, types.SyncMethodPaginatedBatch)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))
	done("success")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("woocommerce", "paginated_batch", "success")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.PageFetched(types.PlatformShopify)
		m.ProductsWritten(types.PlatformShopify, types.SyncMethodBulkExport, 1, 1, 1)
		m.PriceChanges(types.PlatformShopify, 1)
		m.BulkPoll(types.PlatformShopify, types.BulkStateCreated)
		m.BreakerChanged("shopify", true)
		m.RunStarted(types.PlatformShopify, types.SyncMethodBulkExport)("error")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.BreakerChanged("shopify", true)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `catalog_sync_circuit_breaker_open{name="shopify"} 1`)
}
