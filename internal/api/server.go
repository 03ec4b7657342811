// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/models"
	"github.com/catalog-sync/internal/service"
	"github.com/catalog-sync/internal/types"
)

// SyncServiceInterface defines the sync operations exposed over HTTP
type SyncServiceInterface interface {
	Launch(ctx context.Context, req service.SyncRequest) (string, error)
	SyncOneBatch(ctx context.Context, accountID string, platform types.Platform, progress models.ProgressFunc) (*models.SyncResult, error)
	GetSyncStatus(ctx context.Context, accountID string, platform types.Platform) (*service.SyncStatusView, error)
	RecentPriceChanges(ctx context.Context, accountID string, platform types.Platform, limit int) ([]models.PriceChangeEvent, error)
	Cancel(accountID string, platform types.Platform) bool
	ActiveRuns() []service.ActiveRun
}

var _ SyncServiceInterface = (*service.SyncService)(nil)

// HealthCheck reports whether one dependency is reachable
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	syncService SyncServiceInterface
	metrics     http.Handler
	checks      map[string]HealthCheck
	config      *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RequestsPerSecond int // per client
	Burst             int
}

// NewServer creates a new API server instance. metrics may be nil.
func NewServer(config *ServerConfig, syncService SyncServiceInterface, metrics http.Handler, checks map[string]HealthCheck) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		syncService: syncService,
		metrics:     metrics,
		checks:      checks,
		config:      config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(CompressionMiddleware)

	s.setupRoutes(rateLimiter)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes(rateLimiter *RateLimiter) {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(rateLimiter))

	store := api.PathPrefix("/accounts/{account}/platforms/{platform}").Subrouter()
	store.HandleFunc("/sync", s.handleStartSync).Methods("POST")
	store.HandleFunc("/sync/batch", s.handleSyncBatch).Methods("POST")
	store.HandleFunc("/sync/status", s.handleGetSyncStatus).Methods("GET")
	store.HandleFunc("/sync", s.handleCancelSync).Methods("DELETE")
	store.HandleFunc("/price-changes", s.handleListPriceChanges).Methods("GET")
}

// Handler returns the routed handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth pings every dependency
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).WithField("dependency", name).Warn("Health check failed")
			deps[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	state := "healthy"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]interface{}{
		"status":       state,
		"service":      "catalog-sync",
		"dependencies": deps,
		"activeRuns":   len(s.syncService.ActiveRuns()),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
