package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/harvest/api"
	"github.com/use-agent/harvest/app"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/pipeline"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	app.InitLogger(cfg.Log, os.Stdout)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("harvest starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"browser", cfg.Browser.Enabled,
		"poolSize", cfg.Browser.PoolSize,
		"sink", cfg.Sink.Driver,
	)

	// Background work (batch jobs, pool sessions) is bound to this context.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// ── 3. Assemble engines, fetcher and pipeline ───────────────────
	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialise harvest", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── 4. Batch job store ──────────────────────────────────────────
	batches := pipeline.NewBatches(ctx, a.Runner, cfg.Server.BatchRetention)

	// ── 5. Setup router ─────────────────────────────────────────────
	router := api.NewRouter(cfg, api.Deps{
		Runner:    a.Runner,
		Batches:   batches,
		Pool:      a.Pool,
		Registry:  a.Metrics.Registry,
		StartTime: time.Now(),
	})

	// ── 6. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── 7. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	slog.Info("shutdown signal received", "signal", sig.String())

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// Cancel running batches and wait for their goroutines before the pool
	// and sink are torn down by the deferred Close.
	stop()
	batches.Wait()
	slog.Info("harvest stopped")
}
