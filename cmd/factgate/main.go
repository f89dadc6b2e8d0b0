// FactGate orchestrator server — hosts the chat surface, the detection
// pipeline, and the history and pipeline stores over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/veracitylab/factgate/pkg/api"
	"github.com/veracitylab/factgate/pkg/cleanup"
	"github.com/veracitylab/factgate/pkg/config"
	"github.com/veracitylab/factgate/pkg/dispatch"
	"github.com/veracitylab/factgate/pkg/engine"
	"github.com/veracitylab/factgate/pkg/llm"
	"github.com/veracitylab/factgate/pkg/search"
	"github.com/veracitylab/factgate/pkg/store"
	"github.com/veracitylab/factgate/pkg/version"
)

func main() {
	envPath := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := slog.Default()
	slog.Info("Starting FactGate", "version", version.Full(), "http_port", cfg.HTTPPort)

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database", "error", err)
		}
	}()
	slog.Info("Database ready", "path", db.Path())

	sessions := store.NewSessionStore(db)
	tasks := store.NewTaskStore(db)
	history := store.NewHistoryStore(db)

	tracer := llm.NewTracer(cfg.Debug.TraceDir, cfg.Debug.TracedStages)
	defer tracer.Close()
	gateway := llm.NewGateway(cfg.LM, tracer)
	slog.Info("LM gateway ready", "model", cfg.LM.Model, "max_concurrent", cfg.LM.MaxConcurrent)

	var provider search.Provider
	if cfg.Search.Enabled {
		provider, err = search.NewProvider(cfg.Search)
		if err != nil {
			slog.Warn("Search provider unavailable, evidence retrieval degrades to placeholders",
				"provider", cfg.Search.Provider, "error", err)
			provider = nil
		} else {
			slog.Info("Search provider ready", "provider", cfg.Search.Provider)
		}
	}

	dispatcher := dispatch.New(gateway, provider, sessions, tasks, history, cfg, logger)
	orch := engine.New(gateway, provider, cfg, logger)
	server := api.NewServer(dispatcher, orch, db, sessions, tasks, history, cfg, logger)

	var retention *cleanup.Service
	if cfg.Retention.Enabled {
		retention = cleanup.NewService(cfg.Retention, sessions, history, tasks, logger)
		retention.Start(ctx)
		defer retention.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
