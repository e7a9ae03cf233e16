package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ukuvago/contractdesk/internal/config"
	"github.com/ukuvago/contractdesk/internal/database"
	"github.com/ukuvago/contractdesk/internal/logger"
	"github.com/ukuvago/contractdesk/internal/routes"
	"github.com/ukuvago/contractdesk/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.Info("starting application", "app", cfg.AppName, "database_type", cfg.DatabaseType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	if err := database.Initialize(cfg); err != nil {
		slog.Error("failed to initialize database, API requests will be rejected", "error", err)
	}

	// Create upload directory
	if err := os.MkdirAll(cfg.UploadDir, 0755); err != nil {
		slog.Warn("failed to create upload directory", "error", err)
	}

	generator, err := services.NewGenerator(ctx, cfg)
	if err != nil {
		slog.Error("failed to create generator, using built-in templates", "error", err)
		generator = services.NewTemplateGenerator(cfg.AppName)
	}
	if closer, ok := generator.(io.Closer); ok {
		defer closer.Close()
	}

	cache := services.NewViewCache(ctx, cfg)
	if closer, ok := cache.(io.Closer); ok {
		defer closer.Close()
	}

	deps := services.Dependencies{Generator: generator, Cache: cache}
	store, err := services.NewDocumentStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to create document store, executed documents will not be archived", "error", err)
	} else {
		deps.Store = store
	}

	router := routes.SetupRouter(cfg, database.GetDB(), deps)

	// Start server
	addr := cfg.ServerHost + ":" + cfg.ServerPort
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr, "api", cfg.AppURL+"/api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}
