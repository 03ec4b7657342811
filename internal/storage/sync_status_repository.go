package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/catalog-sync/internal/errors"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/types"
)

const syncStatusColumns = `
	account_id, platform, status, method, run_id,
	products_synced, total_products_found, active_products_synced, inactive_products_skipped,
	last_sync_at, error_message, settings, started_at, updated_at
`

// SyncStatusRepository handles sync status persistence
type SyncStatusRepository struct {
	db *PostgresDB
}

// NewSyncStatusRepository creates a new sync status repository
func NewSyncStatusRepository(db *PostgresDB) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

func scanSyncStatus(row pgx.Row) (*models.SyncStatus, error) {
	var status models.SyncStatus
	err := row.Scan(
		&status.AccountID,
		&status.Platform,
		&status.Status,
		&status.Method,
		&status.RunID,
		&status.ProductsSynced,
		&status.TotalProductsFound,
		&status.ActiveProductsSynced,
		&status.InactiveProductsSkipped,
		&status.LastSyncAt,
		&status.ErrorMessage,
		&status.Settings,
		&status.StartedAt,
		&status.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if status.Settings == nil {
		status.Settings = map[string]interface{}{}
	}
	return &status, nil
}

// Get retrieves the sync status for a store
func (r *SyncStatusRepository) Get(ctx context.Context, accountID string, platform types.Platform) (*models.SyncStatus, error) {
	query := `SELECT ` + syncStatusColumns + ` FROM sync_status WHERE account_id = $1 AND platform = $2`

	status, err := scanSyncStatus(r.db.Pool().QueryRow(ctx, query, accountID, platform))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("sync status for %s/%s: %w", accountID, platform, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return status, nil
}

// Upsert inserts or fully replaces a sync status row
func (r *SyncStatusRepository) Upsert(ctx context.Context, status *models.SyncStatus) error {
	settings := status.Settings
	if settings == nil {
		settings = map[string]interface{}{}
	}

	query := `
		INSERT INTO sync_status (
			account_id, platform, status, method, run_id,
			products_synced, total_products_found, active_products_synced, inactive_products_skipped,
			last_sync_at, error_message, settings, started_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (account_id, platform) DO UPDATE SET
			status = EXCLUDED.status,
			method = EXCLUDED.method,
			run_id = EXCLUDED.run_id,
			products_synced = EXCLUDED.products_synced,
			total_products_found = EXCLUDED.total_products_found,
			active_products_synced = EXCLUDED.active_products_synced,
			inactive_products_skipped = EXCLUDED.inactive_products_skipped,
			last_sync_at = EXCLUDED.last_sync_at,
			error_message = EXCLUDED.error_message,
			settings = EXCLUDED.settings,
			started_at = EXCLUDED.started_at,
			updated_at = NOW()
	`

	_, err := r.db.Pool().Exec(ctx, query,
		status.AccountID,
		status.Platform,
		status.Status,
		status.Method,
		status.RunID,
		status.ProductsSynced,
		status.TotalProductsFound,
		status.ActiveProductsSynced,
		status.InactiveProductsSkipped,
		status.LastSyncAt,
		status.ErrorMessage,
		settings,
		status.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sync status: %w", err)
	}
	return nil
}

// TryBeginRun claims the row for a new run. The conditional upsert makes the
// check and the claim a single statement, so two processes racing on the
// same store cannot both win.
func (r *SyncStatusRepository) TryBeginRun(ctx context.Context, p BeginRunParams) (*models.SyncStatus, error) {
	settings := p.Settings
	if settings == nil {
		settings = map[string]interface{}{}
	}

	query := `
		INSERT INTO sync_status (
			account_id, platform, status, method, run_id, settings, started_at, updated_at
		)
		VALUES ($1, $2, 'in_progress', $3, $4, $5, NOW(), NOW())
		ON CONFLICT (account_id, platform) DO UPDATE SET
			status = 'in_progress',
			method = EXCLUDED.method,
			run_id = EXCLUDED.run_id,
			products_synced = CASE WHEN $6 THEN 0 ELSE sync_status.products_synced END,
			total_products_found = CASE WHEN $6 THEN 0 ELSE sync_status.total_products_found END,
			active_products_synced = CASE WHEN $6 THEN 0 ELSE sync_status.active_products_synced END,
			inactive_products_skipped = CASE WHEN $6 THEN 0 ELSE sync_status.inactive_products_skipped END,
			error_message = NULL,
			settings = sync_status.settings || EXCLUDED.settings,
			started_at = NOW(),
			updated_at = NOW()
		WHERE sync_status.status <> 'in_progress'
		   OR ($7::float8 > 0 AND sync_status.updated_at < NOW() - make_interval(secs => $7::float8))
		RETURNING ` + syncStatusColumns

	status, err := scanSyncStatus(r.db.Pool().QueryRow(ctx, query,
		p.AccountID,
		p.Platform,
		p.Method,
		p.RunID,
		settings,
		p.ResetCounters,
		p.StaleAfter.Seconds(),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewSyncInProgressError(p.AccountID, p.Platform)
		}
		return nil, fmt.Errorf("failed to begin sync run: %w", err)
	}
	return status, nil
}

// UpdateProgress raises counters and merges settings for the owning run
func (r *SyncStatusRepository) UpdateProgress(ctx context.Context, accountID string, platform types.Platform, runID string, counters *models.Counters, settings map[string]interface{}) error {
	var c models.Counters
	if counters != nil {
		c = *counters
	}
	if settings == nil {
		settings = map[string]interface{}{}
	}

	query := `
		UPDATE sync_status SET
			products_synced = GREATEST(products_synced, $4),
			total_products_found = GREATEST(total_products_found, $5),
			active_products_synced = GREATEST(active_products_synced, $6),
			inactive_products_skipped = GREATEST(inactive_products_skipped, $7),
			settings = settings || $8::jsonb,
			updated_at = NOW()
		WHERE account_id = $1 AND platform = $2 AND run_id = $3 AND status = 'in_progress'
	`

	_, err := r.db.Pool().Exec(ctx, query,
		accountID, platform, runID,
		c.ProductsSynced, c.TotalProductsFound, c.ActiveProductsSynced, c.InactiveProductsSkipped,
		settings,
	)
	if err != nil {
		return fmt.Errorf("failed to update sync progress: %w", err)
	}
	return nil
}

// Finish writes the terminal state of a run
func (r *SyncStatusRepository) Finish(ctx context.Context, p FinishParams) error {
	settings := p.Settings
	if settings == nil {
		settings = map[string]interface{}{}
	}
	var errMsg *string
	if p.ErrorMessage != "" {
		errMsg = &p.ErrorMessage
	}

	query := `
		UPDATE sync_status SET
			status = $4,
			products_synced = GREATEST(products_synced, $5),
			total_products_found = GREATEST(total_products_found, $6),
			active_products_synced = GREATEST(active_products_synced, $7),
			inactive_products_skipped = GREATEST(inactive_products_skipped, $8),
			error_message = $9,
			settings = settings || $10::jsonb,
			last_sync_at = COALESCE($11, last_sync_at),
			updated_at = NOW()
		WHERE account_id = $1 AND platform = $2 AND run_id = $3
	`

	result, err := r.db.Pool().Exec(ctx, query,
		p.AccountID, p.Platform, p.RunID,
		p.Status,
		p.Counters.ProductsSynced, p.Counters.TotalProductsFound,
		p.Counters.ActiveProductsSynced, p.Counters.InactiveProductsSkipped,
		errMsg,
		settings,
		p.LastSyncAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finish sync run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("sync run %s for %s/%s: %w", p.RunID, p.AccountID, p.Platform, ErrNotFound)
	}
	return nil
}
