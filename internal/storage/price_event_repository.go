package storage

import (
	"context"
	"fmt"

	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

// PriceEventRepository appends price change events to ClickHouse
type PriceEventRepository struct {
	db *ClickHouseDB
}

// NewPriceEventRepository creates a new price event repository
func NewPriceEventRepository(db *ClickHouseDB) *PriceEventRepository {
	return &PriceEventRepository{db: db}
}

// AppendPriceChanges inserts events in one ClickHouse batch
func (r *PriceEventRepository) AppendPriceChanges(ctx context.Context, events []models.PriceChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO price_change_events (
			account_id, platform, handle, sku, old_price, new_price, detected_at, run_id
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			e.AccountID,
			string(e.Platform),
			e.Handle,
			e.SKU,
			e.OldPrice,
			e.NewPrice,
			e.DetectedAt,
			e.RunID,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append price event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// RecentChanges returns the latest price changes for a store, newest first
func (r *PriceEventRepository) RecentChanges(ctx context.Context, accountID string, platform types.Platform, limit int) ([]models.PriceChangeEvent, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT handle, sku, old_price, new_price, detected_at, run_id
		FROM price_change_events
		WHERE account_id = ? AND platform = ?
		ORDER BY detected_at DESC
		LIMIT ?
	`, accountID, string(platform), uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query price changes: %w", err)
	}
	defer rows.Close()

	var out []models.PriceChangeEvent
	for rows.Next() {
		e := models.PriceChangeEvent{AccountID: accountID, Platform: platform}
		if err := rows.Scan(&e.Handle, &e.SKU, &e.OldPrice, &e.NewPrice, &e.DetectedAt, &e.RunID); err != nil {
			return nil, fmt.Errorf("failed to scan price change: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate price changes: %w", err)
	}
	return out, nil
}
