// Command indexer consumes write jobs from Kafka and builds the index.
//
// Each job is indexed by its own session; once the session's trees are
// persisted and published an index.complete event is emitted so searchers
// can reload.
//
// Usage:
//
//	go run ./cmd/indexer [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/session"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
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

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)

	shutdownTracing, err := tracing.Setup("indexer", cfg.Tracing)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	slog.Info("starting indexer service",
		"data_dir", cfg.Storage.DataDir,
		"build_workers", cfg.Indexer.BuildWorkers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	storage, err := bootstrap.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	notifier := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer notifier.Close()

	checker := health.NewChecker()
	if storage.Postgres != nil {
		checker.Register("postgres", health.Ping(storage.Postgres.Ping, false))
	}
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker.Routes())
		defer shutdown(context.Background())
	}

	indexer := consumer.New(storage.Factory, tokenizer.Standard{}, session.Options{
		Workers:   cfg.Indexer.BuildWorkers,
		QueueSize: cfg.Indexer.QueueSize,
		Metrics:   m,
	}, notifier)
	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.DocumentIngest,
		cfg.Kafka.ConsumerGroup,
		indexer.Handle(),
	)

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.DocumentIngest,
		"group", cfg.Kafka.ConsumerGroup,
		"notify_topic", cfg.Kafka.Topics.IndexComplete,
	)
	if err := kafkaConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
	}

	slog.Info("indexer service stopped")
}
