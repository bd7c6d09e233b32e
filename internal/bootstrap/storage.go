// Package bootstrap opens the storage stack shared by the service binaries:
// the posting store (local or remote), the batch version allocator (local
// or PostgreSQL), the tree registry and the session factory over them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/batch"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/postgres"
)

const (
	PostingsDir = "postings"
	BatchDir    = "batches"
)

// Storage bundles the stores a service opens at startup.
type Storage struct {
	Factory  *store.SessionFactory
	Tree     *vector.Tree
	Postings postings.Store
	Postgres *postgres.Client
	Loader   *vector.Loader

	closers []func() error
}

// Open builds the storage stack under cfg.Storage.DataDir. Trees already
// on disk are loaded into the registry before Open returns.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Storage, error) {
	s := &Storage{Tree: vector.NewTree()}
	ok := false
	defer func() {
		if !ok {
			s.Close()
		}
	}()

	if cfg.Postings.Endpoint != "" {
		s.Postings = postings.NewClient(cfg.Postings.Endpoint, cfg.Postings.Timeout, cfg.Postings.MaxRetries)
		slog.Info("using remote postings service", "endpoint", cfg.Postings.Endpoint)
	} else {
		repo, err := postings.Open(filepath.Join(cfg.Storage.DataDir, PostingsDir), m)
		if err != nil {
			return nil, err
		}
		s.Postings = repo
		s.closers = append(s.closers, repo.Close)
	}

	var versions store.VersionAllocator
	if cfg.Postgres.Enabled {
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		s.Postgres = client
		s.closers = append(s.closers, client.Close)
		registry, err := batch.NewPostgres(ctx, client)
		if err != nil {
			return nil, err
		}
		versions = registry
		slog.Info("batch versions allocated in postgres", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	} else {
		local, err := batch.NewLocal(filepath.Join(cfg.Storage.DataDir, BatchDir))
		if err != nil {
			return nil, err
		}
		versions = local
	}

	factory, err := store.NewSessionFactory(cfg.Storage.DataDir, s.Tree, s.Postings, versions)
	if err != nil {
		return nil, err
	}
	s.Factory = factory
	s.closers = append(s.closers, factory.Close)

	s.Loader = vector.NewLoader(cfg.Storage.DataDir, s.Tree, s.Postings)
	n, err := s.Loader.Reload(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading trees: %w", err)
	}
	slog.Info("storage opened", "data_dir", cfg.Storage.DataDir, "trees_loaded", n)
	ok = true
	return s, nil
}

// Close releases everything Open acquired, newest first.
func (s *Storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
