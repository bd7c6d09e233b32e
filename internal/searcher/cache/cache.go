// Package cache memoises query results per collection: an in-process LRU in
// front of an optional shared Redis layer, with concurrent identical
// queries collapsed into one execution.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
)

const (
	keyPrefix           = "search:"
	DefaultLocalEntries = 1024
)

// Remote is the shared cache layer; pkg/redis.Client implements it.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) (int64, error)
}

// QueryCache keeps query results in a local LRU, backed by an optional
// shared Remote. Entries are keyed by collection, so Invalidate can drop a
// collection's results when a batch is published.
type QueryCache struct {
	local   *lru.Cache[string, *executor.Result]
	remote  Remote
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger

	mu          sync.Mutex
	generations map[uint64]uint64
}

// New builds a cache holding up to localEntries results in process. A nil
// remote keeps the cache process-local.
func New(localEntries int, remote Remote, ttl time.Duration, m *metrics.Metrics) (*QueryCache, error) {
	if localEntries <= 0 {
		localEntries = DefaultLocalEntries
	}
	local, err := lru.New[string, *executor.Result](localEntries)
	if err != nil {
		return nil, fmt.Errorf("creating local cache: %w", err)
	}
	return &QueryCache{
		local:       local,
		remote:      remote,
		ttl:         ttl,
		metrics:     m,
		logger:      slog.Default().With("component", "query-cache"),
		generations: make(map[uint64]uint64),
	}, nil
}

// Key identifies q's result. Queries rendering to the same chain share a
// key.
func Key(q *query.Query) string {
	return fmt.Sprintf("%s%d:%x:%d", keyPrefix, q.Collection, xxhash.Sum64String(q.Chain()), q.Take)
}

func collectionPattern(collectionID uint64) string {
	return keyPrefix + strconv.FormatUint(collectionID, 10) + ":"
}

// Get looks q up in the local layer, then the remote one.
func (c *QueryCache) Get(ctx context.Context, q *query.Query) (*executor.Result, bool) {
	key := Key(q)
	if result, ok := c.local.Get(key); ok {
		c.metrics.CacheLookup(true)
		return result, true
	}
	if c.remote != nil {
		data, ok, err := c.remote.Get(ctx, key)
		if err != nil {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		if ok {
			var result executor.Result
			if err := json.Unmarshal(data, &result); err != nil {
				c.logger.Error("cache unmarshal failed", "key", key, "error", err)
			} else {
				c.local.Add(key, &result)
				c.metrics.CacheLookup(true)
				return &result, true
			}
		}
	}
	c.metrics.CacheLookup(false)
	return nil, false
}

// Set stores result locally and, when configured, in the remote tier.
// Remote failures are logged and ignored.
func (c *QueryCache) Set(ctx context.Context, q *query.Query, result *executor.Result) {
	key := Key(q)
	c.local.Add(key, result)
	if c.remote == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.remote.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for q or runs compute once for all
// concurrent callers asking for the same key. A result computed across an
// invalidation of its collection is returned but not stored.
func (c *QueryCache) GetOrCompute(ctx context.Context, q *query.Query, compute func() (*executor.Result, error)) (*executor.Result, bool, error) {
	if result, ok := c.Get(ctx, q); ok {
		return result, true, nil
	}
	key := Key(q)
	val, err, _ := c.group.Do(key, func() (any, error) {
		gen := c.generation(q.Collection)
		result, err := compute()
		if err != nil {
			return nil, err
		}
		if gen == c.generation(q.Collection) {
			c.Set(ctx, q, result)
		}
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Result), false, nil
}

// Invalidate drops every cached result for the collection from both layers.
func (c *QueryCache) Invalidate(ctx context.Context, collectionID uint64) error {
	c.mu.Lock()
	c.generations[collectionID]++
	c.mu.Unlock()

	prefix := collectionPattern(collectionID)
	dropped := 0
	for _, key := range c.local.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.local.Remove(key)
			dropped++
		}
	}
	var deleted int64
	if c.remote != nil {
		n, err := c.remote.DeleteByPattern(ctx, prefix+"*")
		if err != nil {
			return fmt.Errorf("invalidating collection %d: %w", collectionID, err)
		}
		deleted = n
	}
	c.logger.Info("cache invalidated", "collection", collectionID, "local_dropped", dropped, "remote_deleted", deleted)
	return nil
}

// Len counts local entries.
func (c *QueryCache) Len() int {
	return c.local.Len()
}

func (c *QueryCache) generation(collectionID uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[collectionID]
}
