// Package config provides configuration management for the catalog sync service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sync     SyncConfig
	Bulk     BulkConfig
	Source   SourceConfig
	Worker   WorkerConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// per-client API rate limit
	RequestsPerSecond int
	Burst             int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by pgx and golang-migrate
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
	ProgressTTL    time.Duration
}

// SyncConfig holds the defaults applied to every paginated run.
// Per-store settings stored on the sync status row override these.
type SyncConfig struct {
	BatchSize                 int
	MaxPages                  int
	EarlyTerminationThreshold int
	RateLimitDelay            time.Duration
	RequestTimeout            time.Duration // per network call
	StaleRunTimeout           time.Duration // in_progress rows older than this may be taken over
	BulkThreshold             int
}

// BulkConfig holds bulk export polling configuration
type BulkConfig struct {
	PollInterval    time.Duration
	MaxChecks       int
	UpsertBatchSize int
	DownloadTimeout time.Duration
}

// SourceConfig holds source platform client configuration
type SourceConfig struct {
	ShopifyAPIVersion   string
	RequestsPerSecond   float64
	BudgetPerWindow     int
	BudgetWindow        time.Duration
	BreakerFailureLimit int
	BreakerResetTimeout time.Duration
}

// WorkerConfig holds scheduler configuration
type WorkerConfig struct {
	Interval    time.Duration
	Concurrency int
	MaxAttempts int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),

			RequestsPerSecond: getEnvAsInt("API_RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("API_RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "catalog_sync"),
				User:           getEnv("POSTGRES_USER", "catalog"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "catalog_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
				ProgressTTL:    getEnvAsDuration("REDIS_PROGRESS_TTL", 24*time.Hour),
			},
		},
		Sync: SyncConfig{
			BatchSize:                 getEnvAsInt("SYNC_BATCH_SIZE", 250),
			MaxPages:                  getEnvAsInt("SYNC_MAX_PAGES", 500),
			EarlyTerminationThreshold: getEnvAsInt("SYNC_EARLY_TERMINATION_THRESHOLD", 10),
			RateLimitDelay:            getEnvAsDuration("SYNC_RATE_LIMIT_DELAY", 500*time.Millisecond),
			RequestTimeout:            getEnvAsDuration("SYNC_REQUEST_TIMEOUT", 30*time.Second),
			StaleRunTimeout:           getEnvAsDuration("SYNC_STALE_RUN_TIMEOUT", 2*time.Hour),
			BulkThreshold:             getEnvAsInt("SYNC_BULK_THRESHOLD", 2000),
		},
		Bulk: BulkConfig{
			PollInterval:    getEnvAsDuration("BULK_POLL_INTERVAL", 5*time.Second),
			MaxChecks:       getEnvAsInt("BULK_MAX_CHECKS", 60),
			UpsertBatchSize: getEnvAsInt("BULK_UPSERT_BATCH_SIZE", 50),
			DownloadTimeout: getEnvAsDuration("BULK_DOWNLOAD_TIMEOUT", 5*time.Minute),
		},
		Source: SourceConfig{
			ShopifyAPIVersion:   getEnv("SHOPIFY_API_VERSION", "2024-10"),
			RequestsPerSecond:   getEnvAsFloat("SOURCE_REQUESTS_PER_SECOND", 2),
			BudgetPerWindow:     getEnvAsInt("SOURCE_BUDGET_PER_WINDOW", 80),
			BudgetWindow:        getEnvAsDuration("SOURCE_BUDGET_WINDOW", time.Minute),
			BreakerFailureLimit: getEnvAsInt("SOURCE_BREAKER_FAILURE_LIMIT", 5),
			BreakerResetTimeout: getEnvAsDuration("SOURCE_BREAKER_RESET_TIMEOUT", 30*time.Second),
		},
		Worker: WorkerConfig{
			Interval:    getEnvAsDuration("WORKER_INTERVAL", 6*time.Hour),
			Concurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),
			MaxAttempts: getEnvAsInt("WORKER_MAX_ATTEMPTS", 3),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects values that would make a run misbehave
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 || c.Sync.BatchSize > 250 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and 250, got %d", c.Sync.BatchSize)
	}
	if c.Sync.MaxPages <= 0 {
		return fmt.Errorf("SYNC_MAX_PAGES must be positive, got %d", c.Sync.MaxPages)
	}
	if c.Sync.EarlyTerminationThreshold <= 0 {
		return fmt.Errorf("SYNC_EARLY_TERMINATION_THRESHOLD must be positive, got %d", c.Sync.EarlyTerminationThreshold)
	}
	if c.Bulk.MaxChecks <= 0 {
		return fmt.Errorf("BULK_MAX_CHECKS must be positive, got %d", c.Bulk.MaxChecks)
	}
	if c.Bulk.UpsertBatchSize <= 0 {
		return fmt.Errorf("BULK_UPSERT_BATCH_SIZE must be positive, got %d", c.Bulk.UpsertBatchSize)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
