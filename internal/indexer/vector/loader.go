package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
)

// Loader publishes tree files found in a directory into a Tree, reading
// each node's postings back through a postings.Store.
type Loader struct {
	dir    string
	tree   *Tree
	store  postings.Store
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewLoader returns a Loader that publishes the tree files under dir into
// tree, reading postings through store.
func NewLoader(dir string, tree *Tree, store postings.Store) *Loader {
	return &Loader{
		dir:    dir,
		tree:   tree,
		store:  store,
		logger: slog.Default().With("component", "tree-loader"),
		seen:   make(map[string]time.Time),
	}
}

// Reload publishes every tree file that is new or whose modification time
// changed since the previous call, and returns how many were published.
func (l *Loader) Reload(ctx context.Context) (int, error) {
	loaded, _, err := l.reload(ctx)
	return loaded, err
}

// reload also reports the collections that received a tree, ascending.
func (l *Loader) reload(ctx context.Context) (int, []uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("reading tree directory: %w", err)
	}
	loaded := 0
	var collections []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return loaded, collections, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		if prev, ok := l.seen[e.Name()]; ok && prev.Equal(info.ModTime()) {
			continue
		}
		collectionID, err := l.load(ctx, filepath.Join(l.dir, e.Name()))
		if err != nil {
			return loaded, collections, err
		}
		l.seen[e.Name()] = info.ModTime()
		loaded++
		if !slices.Contains(collections, collectionID) {
			collections = append(collections, collectionID)
		}
	}
	slices.Sort(collections)
	if loaded > 0 {
		l.logger.Info("trees reloaded", "count", loaded, "collections", len(collections))
	}
	return loaded, collections, nil
}

func (l *Loader) load(ctx context.Context, path string) (uint64, error) {
	h, root, err := ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("loading %s: %w", filepath.Base(path), err)
	}
	if err := Hydrate(ctx, l.store, h.CollectionID, root); err != nil {
		return 0, fmt.Errorf("hydrating %s: %w", filepath.Base(path), err)
	}
	l.tree.Add(h.CollectionID, h.KeyID, root)
	return h.CollectionID, nil
}

// Hydrate reads the postings of every node that carries a postings offset.
func Hydrate(ctx context.Context, store postings.Store, collectionID uint64, root *Node) error {
	var err error
	root.Walk(func(n *Node) bool {
		if n.offset == NoOffset {
			return true
		}
		var data []byte
		if data, err = store.Read(ctx, collectionID, n.offset); err != nil {
			return false
		}
		var list map[uint64]uint32
		if list, err = postings.DecodeList(data); err != nil {
			return false
		}
		n.postings = list
		return true
	})
	return err
}

// Run calls Reload every interval until ctx is done.
func (l *Loader) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Reload(ctx); err != nil {
				l.logger.Error("periodic tree reload failed", "error", err)
			}
		}
	}
}
