// Command postings serves the posting repository over HTTP so indexers and
// searchers on other hosts can share one posting store.
//
// Usage:
//
//	go run ./cmd/postings [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("postings", cfg.Logging.Level, cfg.Logging.Format)

	shutdownTracing, err := tracing.Setup("postings", cfg.Tracing)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	dir := filepath.Join(cfg.Storage.DataDir, bootstrap.PostingsDir)
	slog.Info("starting postings service", "port", cfg.Postings.Port, "dir", dir)

	m := metrics.New(nil)
	repo, err := postings.Open(dir, m)
	if err != nil {
		slog.Error("failed to open posting repository", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			slog.Error("closing posting repository", "error", err)
		}
	}()

	checker := health.NewChecker()
	mux := http.NewServeMux()
	postings.NewHandler(repo).Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Trace,
		middleware.AccessLog,
		middleware.Metrics(m),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Postings.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdown(context.Background())
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("postings service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("postings service stopped")
}
