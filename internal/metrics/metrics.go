// Package metrics exposes Prometheus metrics for catalog sync runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/catalog-sync/internal/types"
)

const namespace = "catalog_sync"

// Metrics holds every collector on its own registry. All methods are safe
// on a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	pagesFetched     *prometheus.CounterVec
	productsUpserted *prometheus.CounterVec
	productsFailed   *prometheus.CounterVec
	productsSkipped  *prometheus.CounterVec
	priceChanges     *prometheus.CounterVec
	bulkPolls        *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	activeRuns       prometheus.Gauge
	breakerState     *prometheus.GaugeVec
}

// New creates the metrics and registers them with a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		pagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Catalog pages fetched from source platforms",
		}, []string{"platform"}),
		productsUpserted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_upserted_total",
			Help:      "Canonical products written",
		}, []string{"platform", "method"}),
		productsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_failed_total",
			Help:      "Products that failed to transform or upsert",
		}, []string{"platform", "method"}),
		productsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "products_skipped_total",
			Help:      "Inactive products skipped",
		}, []string{"platform"}),
		priceChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_changes_total",
			Help:      "Price changes detected during sync",
		}, []string{"platform"}),
		bulkPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_polls_total",
			Help:      "Bulk operation status checks by observed state",
		}, []string{"platform", "state"}),
		runsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished sync runs by outcome",
		}, []string{"platform", "method", "outcome"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"platform", "method"}),
		activeRuns: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Sync runs currently executing in this process",
		}),
		breakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_open",
			Help:      "1 while the store circuit breaker is open",
		}, []string{"name"}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PageFetched counts one fetched page
func (m *Metrics) PageFetched(platform types.Platform) {
	if m == nil {
		return
	}
	m.pagesFetched.WithLabelValues(string(platform)).Inc()
}

// ProductsWritten counts upsert outcomes of one batch
func (m *Metrics) ProductsWritten(platform types.Platform, method types.SyncMethod, succeeded, failed, skipped int) {
	if m == nil {
		return
	}
	m.productsUpserted.WithLabelValues(string(platform), string(method)).Add(float64(succeeded))
	m.productsFailed.WithLabelValues(string(platform), string(method)).Add(float64(failed))
	m.productsSkipped.WithLabelValues(string(platform)).Add(float64(skipped))
}

// PriceChanges counts detected price changes
func (m *Metrics) PriceChanges(platform types.Platform, n int) {
	if m == nil || n == 0 {
		return
	}
	m.priceChanges.WithLabelValues(string(platform)).Add(float64(n))
}

// BulkPoll counts one status check of a bulk operation
func (m *Metrics) BulkPoll(platform types.Platform, state types.BulkState) {
	if m == nil {
		return
	}
	m.bulkPolls.WithLabelValues(string(platform), string(state)).Inc()
}

// RunStarted marks a run as active and returns a func that records its outcome
func (m *Metrics) RunStarted(platform types.Platform, method types.SyncMethod) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	start := time.Now()
	m.activeRuns.Inc()
	return func(outcome string) {
		m.activeRuns.Dec()
		m.runsTotal.WithLabelValues(string(platform), string(method), outcome).Inc()
		m.runDuration.WithLabelValues(string(platform), string(method)).Observe(time.Since(start).Seconds())
	}
}

// BreakerChanged records a circuit breaker transition
func (m *Metrics) BreakerChanged(name string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(name).Set(v)
}
