// Command ingestion starts the write HTTP service.
//
// The service accepts documents via POST /write/{collection}, validates
// them and queues them on Kafka as a write job for the indexer.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
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

	logger.Setup("ingestion", cfg.Logging.Level, cfg.Logging.Format)

	shutdownTracing, err := tracing.Setup("ingestion", cfg.Tracing)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	slog.Info("starting ingestion service", "port", cfg.Server.Port)

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()
	slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topics.DocumentIngest)

	m := metrics.New(nil)
	checker := health.NewChecker()
	h := handler.New(publisher.New(producer))

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Trace,
		middleware.AccessLog,
		middleware.Metrics(m),
		middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst).Middleware,
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion service stopped")
}
