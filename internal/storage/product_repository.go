package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

const upsertProductSQL = `
	INSERT INTO catalog_products (
		account_id, platform, handle, source_id,
		title, vendor, product_type, tags, description, seo_title, seo_description, status,
		sku, price, compare_at_price, inventory_quantity, weight_grams, barcode,
		requires_shipping, taxable, image_url, image_position,
		sync_status, synced_at, source_created_at, source_updated_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24, $25, $26)
	ON CONFLICT (account_id, platform, handle) DO UPDATE SET
		source_id = EXCLUDED.source_id,
		title = EXCLUDED.title,
		vendor = EXCLUDED.vendor,
		product_type = EXCLUDED.product_type,
		tags = EXCLUDED.tags,
		description = EXCLUDED.description,
		seo_title = EXCLUDED.seo_title,
		seo_description = EXCLUDED.seo_description,
		status = EXCLUDED.status,
		sku = EXCLUDED.sku,
		price = EXCLUDED.price,
		compare_at_price = EXCLUDED.compare_at_price,
		inventory_quantity = EXCLUDED.inventory_quantity,
		weight_grams = EXCLUDED.weight_grams,
		barcode = EXCLUDED.barcode,
		requires_shipping = EXCLUDED.requires_shipping,
		taxable = EXCLUDED.taxable,
		image_url = EXCLUDED.image_url,
		image_position = EXCLUDED.image_position,
		sync_status = EXCLUDED.sync_status,
		synced_at = EXCLUDED.synced_at,
		source_created_at = EXCLUDED.source_created_at,
		source_updated_at = EXCLUDED.source_updated_at
`

// ProductRepository persists canonical products keyed by (account, platform, handle)
type ProductRepository struct {
	db *PostgresDB
}

// NewProductRepository creates a new product repository
func NewProductRepository(db *PostgresDB) *ProductRepository {
	return &ProductRepository{db: db}
}

func upsertArgs(p *models.CanonicalProduct) []interface{} {
	var imageURL *string
	var imagePos *int
	if p.Image != nil {
		imageURL = &p.Image.URL
		imagePos = &p.Image.Position
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return []interface{}{
		p.AccountID, p.Platform, p.Handle, p.SourceID,
		p.Title, p.Vendor, p.ProductType, tags, p.Description, p.SEOTitle, p.SEODescription, p.Status,
		p.Variant.SKU, p.Variant.Price, p.Variant.CompareAtPrice, p.Variant.InventoryQuantity,
		p.Variant.WeightGrams, p.Variant.Barcode,
		p.Variant.RequiresShipping, p.Variant.Taxable, imageURL, imagePos,
		p.SyncStatus, p.SyncedAt, p.SourceCreatedAt, p.SourceUpdatedAt,
	}
}

// UpsertBatch writes products in one pipelined transaction. When the batch
// fails as a whole it is replayed row by row so a single bad product only
// fails itself.
func (r *ProductRepository) UpsertBatch(ctx context.Context, products []*models.CanonicalProduct) (models.BatchResult, error) {
	var result models.BatchResult
	valid := make([]*models.CanonicalProduct, 0, len(products))
	for _, p := range products {
		if p == nil || p.Handle == "" || p.AccountID == "" {
			handle := ""
			if p != nil {
				handle = p.Handle
			}
			result.Failed = append(result.Failed, models.ItemError{Handle: handle, Error: "missing account or handle"})
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return result, nil
	}

	err := r.db.InTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range valid {
			batch.Queue(upsertProductSQL, upsertArgs(p)...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err == nil {
		result.Succeeded += len(valid)
		return result, nil
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("failed to upsert products: %w", ctx.Err())
	}

	logging.FromContext(ctx).WithError(err).WithField("batchSize", len(valid)).
		Warn("Product batch failed, retrying row by row")

	for _, p := range valid {
		if _, err := r.db.Pool().Exec(ctx, upsertProductSQL, upsertArgs(p)...); err != nil {
			if ctx.Err() != nil {
				return result, fmt.Errorf("failed to upsert products: %w", ctx.Err())
			}
			result.Failed = append(result.Failed, models.ItemError{Handle: p.Handle, Error: err.Error()})
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// GetPrices returns the stored price per handle
func (r *ProductRepository) GetPrices(ctx context.Context, accountID string, platform types.Platform, handles []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(handles))
	if len(handles) == 0 {
		return prices, nil
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT handle, price
		FROM catalog_products
		WHERE account_id = $1 AND platform = $2 AND handle = ANY($3)
	`, accountID, platform, handles)
	if err != nil {
		return nil, fmt.Errorf("failed to query prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var handle string
		var price decimal.Decimal
		if err := rows.Scan(&handle, &price); err != nil {
			return nil, fmt.Errorf("failed to scan price: %w", err)
		}
		prices[handle] = price
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prices: %w", err)
	}
	return prices, nil
}

// Count returns the number of stored products for a store
func (r *ProductRepository) Count(ctx context.Context, accountID string, platform types.Platform) (int, error) {
	var n int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM catalog_products WHERE account_id = $1 AND platform = $2`,
		accountID, platform,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}
