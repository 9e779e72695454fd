// Package main is the entry point for the Orchestrator service.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/orchestrion/internal/api"
	"github.com/kandev/orchestrion/internal/common/config"
	"github.com/kandev/orchestrion/internal/common/logger"
	"github.com/kandev/orchestrion/internal/common/sqlite"
	"github.com/kandev/orchestrion/internal/common/tracing"
	"github.com/kandev/orchestrion/internal/orchestrator"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	logCfg := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	}
	log, err := logger.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting orchestrator service")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Install the global tracer provider (no-op unless
	// OTEL_EXPORTER_OTLP_ENDPOINT is set).
	tracingShutdown, err := tracing.Init(ctx, "orchestrator-api")
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown error", zap.Error(err))
		}
	}()

	// 6. Connect to the embedded SQLite store (worktree registry)
	db, err := sqlite.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	log.Info("database ready", zap.String("path", cfg.Database.Path))

	// 7. Wire the queue, router, worktree manager, completion engine, and
	// event bus into the orchestrator service.
	service, serviceCleanup, err := orchestrator.Provide(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("failed to construct orchestrator service", zap.Error(err))
	}
	defer func() {
		if err := serviceCleanup(); err != nil {
			log.Warn("orchestrator cleanup error", zap.Error(err))
		}
	}()
	log.Info("orchestrator service ready")

	// 8. Build the HTTP/SSE surface.
	router := api.NewRouter(cfg, service, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8082
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("http server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start http server", zap.Error(err))
		}
	}()

	// 9. Wait for shutdown signal.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orchestrator service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown error", zap.Error(err))
	}

	log.Info("orchestrator service stopped")
}
