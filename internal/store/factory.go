package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
)

// VersionAllocator hands out increasing batch versions per collection.
type VersionAllocator interface {
	NextVersion(ctx context.Context, collectionID uint64) (int64, error)
}

// SessionFactory owns the shared resources index sessions and queries work
// against: the collection stores under one data directory, the published
// tree registry, the postings store and the batch version allocator. It
// also serialises writers per collection.
type SessionFactory struct {
	dir      string
	tree     *vector.Tree
	postings postings.Store
	versions VersionAllocator
	logger   *slog.Logger

	mu          sync.Mutex
	collections map[uint64]*Collection
	locks       map[uint64]chan struct{}
}

// NewSessionFactory opens collections under dir.
func NewSessionFactory(dir string, tree *vector.Tree, store postings.Store, versions VersionAllocator) (*SessionFactory, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &SessionFactory{
		dir:         dir,
		tree:        tree,
		postings:    store,
		versions:    versions,
		logger:      slog.Default().With("component", "session-factory"),
		collections: make(map[uint64]*Collection),
		locks:       make(map[uint64]chan struct{}),
	}, nil
}

// Dependencies shared by the sessions and readers built on f.
func (f *SessionFactory) Dir() string { return f.dir }

func (f *SessionFactory) Tree() *vector.Tree { return f.tree }

func (f *SessionFactory) Postings() postings.Store { return f.postings }

func (f *SessionFactory) Versions() VersionAllocator { return f.versions }

// Collection opens, or returns the already open, store for collectionID.
func (f *SessionFactory) Collection(collectionID uint64) (*Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collections[collectionID]; ok {
		return c, nil
	}
	c, err := openCollection(f.dir, collectionID)
	if err != nil {
		return nil, fmt.Errorf("opening collection %d: %w", collectionID, err)
	}
	f.collections[collectionID] = c
	f.logger.Debug("collection opened", "collection", collectionID)
	return c, nil
}

// Lock blocks until the caller is the only writer of collectionID or ctx
// is done. The returned function releases the lock.
func (f *SessionFactory) Lock(ctx context.Context, collectionID uint64) (func(), error) {
	f.mu.Lock()
	sem, ok := f.locks[collectionID]
	if !ok {
		sem = make(chan struct{}, 1)
		f.locks[collectionID] = sem
	}
	f.mu.Unlock()

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for writer lock on collection %d: %w", collectionID, ctx.Err())
	}
	var once sync.Once
	return func() { once.Do(func() { <-sem }) }, nil
}

// Close closes every open collection.
func (f *SessionFactory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var first error
	for id, c := range f.collections {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(f.collections, id)
	}
	return first
}
