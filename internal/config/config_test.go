package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("BULK_POLL_INTERVAL", "2s"); err != nil {
		t.Fatalf("Failed to set BULK_POLL_INTERVAL: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("BULK_POLL_INTERVAL")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Bulk.PollInterval != 2*time.Second {
		t.Errorf("Bulk.PollInterval = %v, want %v", cfg.Bulk.PollInterval, 2*time.Second)
	}
}

func TestLoadConfig_SyncDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Sync.BatchSize != 250 {
		t.Errorf("Sync.BatchSize = %d, want 250", cfg.Sync.BatchSize)
	}
	if cfg.Sync.MaxPages != 500 {
		t.Errorf("Sync.MaxPages = %d, want 500", cfg.Sync.MaxPages)
	}
	if cfg.Sync.EarlyTerminationThreshold != 10 {
		t.Errorf("Sync.EarlyTerminationThreshold = %d, want 10", cfg.Sync.EarlyTerminationThreshold)
	}
	if cfg.Sync.RateLimitDelay != 500*time.Millisecond {
		t.Errorf("Sync.RateLimitDelay = %v, want 500ms", cfg.Sync.RateLimitDelay)
	}
	if cfg.Sync.RequestTimeout != 30*time.Second {
		t.Errorf("Sync.RequestTimeout = %v, want 30s", cfg.Sync.RequestTimeout)
	}
	if cfg.Bulk.MaxChecks != 60 || cfg.Bulk.UpsertBatchSize != 50 {
		t.Errorf("Bulk = %+v, want 60 checks and batches of 50", cfg.Bulk)
	}
	if cfg.Bulk.DownloadTimeout != 5*time.Minute {
		t.Errorf("Bulk.DownloadTimeout = %v, want 5m", cfg.Bulk.DownloadTimeout)
	}
	if cfg.Server.RequestsPerSecond != 10 || cfg.Server.Burst != 20 {
		t.Errorf("Server rate limit = %d/%d, want 10/20", cfg.Server.RequestsPerSecond, cfg.Server.Burst)
	}
}

func TestLoadConfig_RejectsInvalidBatchSize(t *testing.T) {
	t.Setenv("SYNC_BATCH_SIZE", "500")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("LoadConfig() expected error for batch size above the platform page limit")
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: "5433", Database: "catalog", User: "u", Password: "p"}
	want := "postgres://u:p@db:5433/catalog?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	t.Setenv("TEST_FLOAT", "2.5")
	if got := getEnvAsFloat("TEST_FLOAT", 1); got != 2.5 {
		t.Errorf("getEnvAsFloat() = %v, want 2.5", got)
	}
	t.Setenv("TEST_FLOAT", "nope")
	if got := getEnvAsFloat("TEST_FLOAT", 1); got != 1 {
		t.Errorf("getEnvAsFloat() = %v, want default 1", got)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsInt(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue int
		envValue     string
		want         int
	}{
		{
			name:         "returns integer when valid",
			key:          "TEST_INT",
			defaultValue: 100,
			envValue:     "200",
			want:         200,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_INT_INVALID",
			defaultValue: 100,
			envValue:     "invalid",
			want:         100,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_INT_NOTSET",
			defaultValue: 100,
			envValue:     "",
			want:         100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsInt(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}
