// Package main provides the scheduled sync worker for the catalog sync service.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/catalog-sync/internal/app"
	"github.com/catalog-sync/internal/config"
	"github.com/catalog-sync/internal/logging"
	"github.com/catalog-sync/internal/retry"
	"github.com/catalog-sync/internal/worker"
)

func main() {
	once := flag.Bool("once", false, "Run a single scheduling round and exit")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address to expose Prometheus metrics on (empty disables)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	defer func() { _ = logger.Sync() }()

	logger.Info("Sync worker starting...")

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer application.Close()

	retryPolicy := retry.DefaultRetryConfig()
	retryPolicy.MaxAttempts = cfg.Worker.MaxAttempts

	scheduler, err := worker.NewScheduler(&worker.SchedulerConfig{
		Connections: application.Connections,
		Runner:      application.Sync,
		Interval:    cfg.Worker.Interval,
		Concurrency: cfg.Worker.Concurrency,
		Retry:       retryPolicy,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	if *once {
		summary, err := scheduler.RunOnce(ctx)
		if err != nil {
			logger.WithError(err).Fatal("Scheduling round failed")
		}
		logger.WithFields(map[string]interface{}{
			"dispatched": summary.Dispatched,
			"succeeded":  summary.Succeeded,
			"failed":     summary.Failed,
			"skipped":    summary.Skipped,
		}).Info("Scheduling round finished")
		return
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              *metricsAddr,
			Handler:           application.Metrics.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}
	logger.WithFields(map[string]interface{}{
		"interval":    cfg.Worker.Interval.String(),
		"concurrency": cfg.Worker.Concurrency,
	}).Info("Sync worker started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// in-flight runs see their context cancelled and finalize as errors
	cancel()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Scheduler did not stop cleanly")
	}
	if err := application.Sync.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Sync runs did not stop in time")
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("Worker stopped")
}
