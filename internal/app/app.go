// Package app wires the catalog sync components from configuration. Both
// the API server and the scheduler worker build on it.
package app

import (
	"context"
	"fmt"

	"github.com/catalog-sync/internal/adapter"
	"github.com/catalog-sync/internal/catalog"
	"github.com/catalog-sync/internal/circuitbreaker"
	"github.com/catalog-sync/internal/config"
	"github.com/catalog-sync/internal/job"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/metrics"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/ratelimit"
	"github.com/catalog-sync/internal/service"
	"github.com/catalog-sync/internal/storage"
	"github.com/catalog-sync/internal/types"
	"github.com/catalog-sync/internal/worker"
)

// App holds the connected stores and the sync service built on them
type App struct {
	Postgres   *storage.PostgresDB
	ClickHouse *storage.ClickHouseDB
	Redis      *storage.RedisCache

	Connections *storage.StoreConnectionRepository
	Metrics     *metrics.Metrics
	Breakers    *circuitbreaker.Manager
	Sync        *service.SyncService
}

// New connects to every store and builds the sync service
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.FromContext(ctx)
	a := &App{Metrics: metrics.New()}

	logger.Info("Connecting to databases...")
	var err error
	a.Postgres, err = storage.NewPostgresDB(ctx, &cfg.Database.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	a.ClickHouse, err = storage.NewClickHouseDB(ctx, &cfg.Database.ClickHouse)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	a.Redis, err = storage.NewRedisCache(ctx, &cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	logger.Info("Database connections established")

	a.Connections = storage.NewStoreConnectionRepository(a.Postgres)
	statusRepo := storage.NewSyncStatusRepository(a.Postgres)
	productRepo := storage.NewProductRepository(a.Postgres)
	priceEvents := storage.NewPriceEventRepository(a.ClickHouse)
	progress := storage.NewProgressCache(a.Redis, cfg.Database.Redis.ProgressTTL)

	sources, err := a.buildSources(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	sink := catalog.NewSink(productRepo, priceEvents, a.Metrics)

	batch, err := worker.NewBatchSyncer(&worker.BatchSyncerConfig{
		Sources:     sources,
		Sink:        sink,
		Status:      statusRepo,
		Connections: worker.NewConnectionChecker(a.Connections),
		Metrics:     a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create batch syncer: %w", err)
	}

	bulk, err := job.NewBulkExportController(&job.BulkExportConfig{
		Sources:         sources,
		Sink:            sink,
		Status:          statusRepo,
		Metrics:         a.Metrics,
		PollInterval:    cfg.Bulk.PollInterval,
		MaxChecks:       cfg.Bulk.MaxChecks,
		UpsertBatchSize: cfg.Bulk.UpsertBatchSize,
		DownloadTimeout: cfg.Bulk.DownloadTimeout,
		PollTimeout:     cfg.Sync.RequestTimeout,
		StaleAfter:      cfg.Sync.StaleRunTimeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create bulk export controller: %w", err)
	}

	defaults := models.DefaultSyncSettings()
	defaults.BatchSize = cfg.Sync.BatchSize
	defaults.MaxPages = cfg.Sync.MaxPages
	defaults.EarlyTerminationThreshold = cfg.Sync.EarlyTerminationThreshold
	defaults.RateLimitDelay = cfg.Sync.RateLimitDelay
	defaults.BulkThreshold = cfg.Sync.BulkThreshold

	a.Sync, err = service.NewSyncService(&service.SyncServiceConfig{
		Connections:  a.Connections,
		Status:       statusRepo,
		Sources:      sources,
		Batch:        batch,
		Bulk:         bulk,
		Progress:     progress,
		PriceEvents:  priceEvents,
		Metrics:      a.Metrics,
		Defaults:     defaults,
		StaleAfter:   cfg.Sync.StaleRunTimeout,
		CountTimeout: cfg.Sync.RequestTimeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create sync service: %w", err)
	}

	return a, nil
}

// buildSources creates one client per platform. Both clients share the
// Redis request budget and a breaker manager keyed by store.
func (a *App) buildSources(cfg *config.Config) (*adapter.Registry, error) {
	budget, err := ratelimit.NewRequestBudget(&ratelimit.RequestBudgetConfig{
		Redis:             a.Redis.Client(),
		RequestsPerWindow: cfg.Source.BudgetPerWindow,
		WindowSize:        cfg.Source.BudgetWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request budget: %w", err)
	}

	breakerCfg := circuitbreaker.DefaultConfig("")
	breakerCfg.MaxFailures = cfg.Source.BreakerFailureLimit
	breakerCfg.Timeout = cfg.Source.BreakerResetTimeout
	breakerCfg.IsFailure = adapter.CountsAgainstStore
	a.Breakers = circuitbreaker.NewManager(breakerCfg, func(name string, from, to circuitbreaker.State) {
		logging.WithFields(map[string]interface{}{
			"breaker": name,
			"from":    string(from),
			"to":      string(to),
		}).Warn("Circuit breaker state changed")
		a.Metrics.BreakerChanged(name, to == circuitbreaker.StateOpen)
	})

	clientConfig := func(platform types.Platform) (*adapter.ClientConfig, error) {
		controller, err := ratelimit.NewRequestController(&ratelimit.RequestControllerConfig{
			RequestsPerSecond: cfg.Source.RequestsPerSecond,
			Budget:            budget,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s request controller: %w", platform, err)
		}
		return &adapter.ClientConfig{
			RequestTimeout: cfg.Sync.RequestTimeout,
			Controller:     controller,
			Breakers:       a.Breakers,
			APIVersion:     cfg.Source.ShopifyAPIVersion,
		}, nil
	}

	shopifyCfg, err := clientConfig(types.PlatformShopify)
	if err != nil {
		return nil, err
	}
	shopify, err := adapter.NewShopifyClient(shopifyCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Shopify client: %w", err)
	}

	wooCfg, err := clientConfig(types.PlatformWooCommerce)
	if err != nil {
		return nil, err
	}
	woo, err := adapter.NewWooCommerceClient(wooCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create WooCommerce client: %w", err)
	}

	return adapter.NewRegistry(shopify, woo), nil
}

// HealthChecks returns a ping per backing store
func (a *App) HealthChecks() map[string]func(ctx context.Context) error {
	return map[string]func(ctx context.Context) error{
		"postgres":   a.Postgres.Ping,
		"clickhouse": a.ClickHouse.Ping,
		"redis":      a.Redis.Ping,
	}
}

// Close releases every open connection
func (a *App) Close() {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close Redis")
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			logging.WithError(err).Warn("Failed to close ClickHouse")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
