package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

const storeConnectionColumns = `
	account_id, platform, shop_domain, access_token, consumer_key, consumer_secret,
	weight_unit, active, auto_sync, created_at, updated_at
`

// StoreConnectionRepository reads and writes seller platform connections
type StoreConnectionRepository struct {
	db *PostgresDB
}

// NewStoreConnectionRepository creates a new store connection repository
func NewStoreConnectionRepository(db *PostgresDB) *StoreConnectionRepository {
	return &StoreConnectionRepository{db: db}
}

func scanStoreConnection(row pgx.Row) (*models.StoreConnection, error) {
	var c models.StoreConnection
	err := row.Scan(
		&c.AccountID,
		&c.Platform,
		&c.ShopDomain,
		&c.AccessToken,
		&c.ConsumerKey,
		&c.ConsumerSecret,
		&c.WeightUnit,
		&c.Active,
		&c.AutoSync,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnection returns the connection for a store
func (r *StoreConnectionRepository) GetConnection(ctx context.Context, accountID string, platform types.Platform) (*models.StoreConnection, error) {
	query := `SELECT ` + storeConnectionColumns + ` FROM store_connections WHERE account_id = $1 AND platform = $2`

	c, err := scanStoreConnection(r.db.Pool().QueryRow(ctx, query, accountID, platform))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("store connection %s/%s: %w", accountID, platform, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get store connection: %w", err)
	}
	return c, nil
}

// ListAutoSync returns active connections opted into scheduled sync
func (r *StoreConnectionRepository) ListAutoSync(ctx context.Context) ([]*models.StoreConnection, error) {
	query := `SELECT ` + storeConnectionColumns + `
		FROM store_connections
		WHERE active AND auto_sync
		ORDER BY account_id, platform`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto-sync connections: %w", err)
	}
	defer rows.Close()

	var out []*models.StoreConnection
	for rows.Next() {
		c, err := scanStoreConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store connection: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate store connections: %w", err)
	}
	return out, nil
}

// Upsert inserts or replaces a connection
func (r *StoreConnectionRepository) Upsert(ctx context.Context, c *models.StoreConnection) error {
	query := `
		INSERT INTO store_connections (
			account_id, platform, shop_domain, access_token, consumer_key, consumer_secret,
			weight_unit, active, auto_sync, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (account_id, platform) DO UPDATE SET
			shop_domain = EXCLUDED.shop_domain,
			access_token = EXCLUDED.access_token,
			consumer_key = EXCLUDED.consumer_key,
			consumer_secret = EXCLUDED.consumer_secret,
			weight_unit = EXCLUDED.weight_unit,
			active = EXCLUDED.active,
			auto_sync = EXCLUDED.auto_sync,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		c.AccountID, c.Platform, c.ShopDomain, c.AccessToken, c.ConsumerKey, c.ConsumerSecret,
		c.WeightUnit, c.Active, c.AutoSync,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert store connection: %w", err)
	}
	return nil
}
