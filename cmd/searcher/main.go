// Command searcher serves queries over the published index.
//
// Trees are loaded from the data directory at startup and reloaded when an
// index.complete event arrives (and on a timer as a fallback); each reload
// invalidates the cached results of the affected collection.
//
// Usage:
//
//	go run ./cmd/searcher [-config configs/development.yaml]
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

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/tracing"
	pkgredis "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/redis"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)

	shutdownTracing, err := tracing.Setup("searcher", cfg.Tracing)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())
	slog.Info("starting search service", "port", cfg.Server.Port, "data_dir", cfg.Storage.DataDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(nil)
	storage, err := bootstrap.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer storage.Close()

	var remote cache.Remote
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, search cache is process-local", "error", err)
	} else {
		defer redisClient.Close()
		remote = redisClient
		slog.Info("shared search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}
	queryCache, err := cache.New(cfg.Redis.LocalEntries, remote, cfg.Redis.CacheTTL, m)
	if err != nil {
		slog.Error("failed to create query cache", "error", err)
		os.Exit(1)
	}

	go storage.Loader.Run(ctx, cfg.Indexer.ReloadInterval)
	if cfg.Indexer.WatchDataDir {
		go func() {
			err := storage.Loader.Watch(ctx, vector.DefaultDebounce, func(ctx context.Context, collections []uint64) {
				for _, id := range collections {
					if err := queryCache.Invalidate(ctx, id); err != nil {
						slog.Error("cache invalidation after reload failed", "collection_id", id, "error", err)
					}
				}
			})
			if err != nil {
				slog.Error("tree watcher stopped", "error", err)
			}
		}()
	}

	// every searcher replica must see every event, so the group is unique
	group := fmt.Sprintf("%s-searcher-%s", cfg.Kafka.ConsumerGroup, uuid.NewString())
	completions := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, group,
		func(ctx context.Context, msg kafka.Message) error {
			event, err := kafka.DecodeJSON[ingestion.IndexComplete](msg.Value)
			if err != nil {
				slog.Error("failed to decode index.complete", "error", err, "key", msg.Key)
				return nil
			}
			n, err := storage.Loader.Reload(ctx)
			if err != nil {
				return fmt.Errorf("reloading trees for version %d: %w", event.Version, err)
			}
			slog.Info("index reloaded",
				"collection", event.Collection,
				"version", event.Version,
				"trees", n,
			)
			return queryCache.Invalidate(ctx, event.CollectionID)
		})
	go func() {
		if err := completions.Start(ctx); err != nil {
			slog.Error("index.complete consumer error", "error", err)
		}
	}()

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		n := len(storage.Tree.Collections())
		if n == 0 {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "no collections loaded"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d collections loaded", n)}
	})
	if redisClient != nil {
		checker.Register("redis", health.Ping(redisClient.Ping, true))
	}

	exec := executor.New(storage.Factory, executor.Options{
		FuzzyThreshold: cfg.Search.FuzzyThreshold,
		Metrics:        m,
	})
	h := handler.New(exec, queryCache, query.NewParser(tokenizer.Standard{}),
		cfg.Search.DefaultFields, cfg.Search.DefaultTake, cfg.Search.MaxTake)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	chain := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Trace,
		middleware.AccessLog,
		middleware.Metrics(m),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
