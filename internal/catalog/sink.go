// Package catalog writes transformed source products into the canonical
// product store and records the price moves it observes on the way.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/adapter"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/metrics"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/transform"
	"github.com/catalog-sync/internal/types"
)

// PriceChangeThreshold is the smallest price move reported as a change
var PriceChangeThreshold = decimal.New(1, -2)

// Request is one batch of source records to apply
type Request struct {
	AccountID       string
	Platform        types.Platform
	Method          types.SyncMethod
	RunID           string
	WeightUnit      types.WeightUnit
	IncludeInactive bool
	Records         []adapter.SourceRecord
}

// Result reports what a batch did to the store
type Result struct {
	Received     int                `json:"received"`
	Succeeded    int                `json:"succeeded"`
	Active       int                `json:"active"`
	Inactive     int                `json:"inactiveSkipped"`
	Failed       []models.ItemError `json:"failed,omitempty"`
	PriceChanges int                `json:"priceChanges"`
}

// Counters returns the result as a counter increment
func (r *Result) Counters() models.Counters {
	return models.Counters{
		ProductsSynced:          r.Succeeded,
		ActiveProductsSynced:    r.Active,
		InactiveProductsSkipped: r.Inactive,
	}
}

// Sink transforms and upserts batches
type Sink struct {
	products storage.ProductStore
	events   storage.PriceEventSink
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSink creates a sink. events and m may be nil.
func NewSink(products storage.ProductStore, events storage.PriceEventSink, m *metrics.Metrics) *Sink {
	return &Sink{
		products: products,
		events:   events,
		metrics:  m,
		now:      time.Now,
	}
}

// Apply writes one batch. Items that fail to transform or upsert are
// reported in Result.Failed; an error is returned only when the store
// rejected the batch as a whole.
func (s *Sink) Apply(ctx context.Context, req Request) (*Result, error) {
	logger := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"account":  req.AccountID,
		"platform": string(req.Platform),
		"runId":    req.RunID,
	})
	now := s.now().UTC()
	result := &Result{Received: len(req.Records)}

	products, failed := transform.Batch(req.Records, transform.Options{
		AccountID:  req.AccountID,
		WeightUnit: req.WeightUnit,
		Now:        func() time.Time { return now },
	})
	result.Failed = append(result.Failed, failed...)
	if len(failed) > 0 {
		logger.WithField("failed", len(failed)).Warn("Some records could not be transformed")
	}

	toWrite := products[:0]
	for _, p := range products {
		if !req.IncludeInactive && !p.IsActive() {
			result.Inactive++
			continue
		}
		toWrite = append(toWrite, p)
	}

	if len(toWrite) > 0 {
		previous := s.previousPrices(ctx, req, toWrite)

		batch, err := s.products.UpsertBatch(ctx, toWrite)
		result.Succeeded = batch.Succeeded
		result.Failed = append(result.Failed, batch.Failed...)
		if err != nil {
			s.metrics.ProductsWritten(req.Platform, req.Method, 0, len(failed)+len(toWrite), result.Inactive)
			return result, fmt.Errorf("failed to upsert batch: %w", err)
		}

		rejected := make(map[string]bool, len(batch.Failed))
		for _, f := range batch.Failed {
			rejected[f.Handle] = true
		}
		var changes []models.PriceChangeEvent
		for _, p := range toWrite {
			if rejected[p.Handle] {
				continue
			}
			if p.IsActive() {
				result.Active++
			}
			if old, ok := previous[p.Handle]; ok && PriceChanged(old, p.Variant.Price) {
				changes = append(changes, models.PriceChangeEvent{
					AccountID:  p.AccountID,
					Platform:   p.Platform,
					Handle:     p.Handle,
					SKU:        p.Variant.SKU,
					OldPrice:   old,
					NewPrice:   p.Variant.Price,
					DetectedAt: now,
					RunID:      req.RunID,
				})
			}
		}
		result.PriceChanges = len(changes)
		s.emit(ctx, logger, req.Platform, changes)
	}

	if len(result.Failed) > 0 {
		logger.WithFields(map[string]interface{}{
			"succeeded": result.Succeeded,
			"failed":    len(result.Failed),
		}).Warn("Batch applied partially")
	}
	s.metrics.ProductsWritten(req.Platform, req.Method, result.Succeeded, len(result.Failed), result.Inactive)
	return result, nil
}

// previousPrices is best effort: a lookup failure only suppresses price events
func (s *Sink) previousPrices(ctx context.Context, req Request, products []*models.CanonicalProduct) map[string]decimal.Decimal {
	if s.events == nil {
		return nil
	}
	handles := make([]string, len(products))
	for i, p := range products {
		handles[i] = p.Handle
	}
	prices, err := s.products.GetPrices(ctx, req.AccountID, req.Platform, handles)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Failed to load stored prices, skipping price change detection")
		return nil
	}
	return prices
}

func (s *Sink) emit(ctx context.Context, logger *logging.Logger, platform types.Platform, changes []models.PriceChangeEvent) {
	if len(changes) == 0 || s.events == nil {
		return
	}
	if err := s.events.AppendPriceChanges(ctx, changes); err != nil {
		logger.WithError(err).WithField("events", len(changes)).Warn("Failed to record price changes")
		return
	}
	s.metrics.PriceChanges(platform, len(changes))
}

// PriceChanged reports whether the move from old to updated is large enough to record
func PriceChanged(old, updated decimal.Decimal) bool {
	return updated.Sub(old).Abs().GreaterThanOrEqual(PriceChangeThreshold)
}
