package vector

import (
	"sync"
	"sync/atomic"
)

// Tree is the process-wide registry of published trees, keyed by
// collection id and key id. Each slot is swapped atomically so readers see
// either the previous root or the new one.
type Tree struct {
	mu          sync.RWMutex
	collections map[uint64]map[int64]*atomic.Pointer[Node]
}

// NewTree returns an empty registry.
func NewTree() *Tree {
	return &Tree{collections: make(map[uint64]map[int64]*atomic.Pointer[Node])}
}

// Add registers root for (collectionID, keyID), replacing any earlier root.
func (t *Tree) Add(collectionID uint64, keyID int64, root *Node) {
	t.mu.RLock()
	slot := t.collections[collectionID][keyID]
	t.mu.RUnlock()
	if slot != nil {
		slot.Store(root)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	keys := t.collections[collectionID]
	if keys == nil {
		keys = make(map[int64]*atomic.Pointer[Node])
		t.collections[collectionID] = keys
	}
	slot = keys[keyID]
	if slot == nil {
		slot = new(atomic.Pointer[Node])
		keys[keyID] = slot
	}
	slot.Store(root)
}

// Get returns the published root for (collectionID, keyID) or nil.
func (t *Tree) Get(collectionID uint64, keyID int64) *Node {
	t.mu.RLock()
	slot := t.collections[collectionID][keyID]
	t.mu.RUnlock()
	if slot == nil {
		return nil
	}
	return slot.Load()
}

// GetIndex returns a snapshot of every root published for collectionID, or
// nil when the collection has none.
func (t *Tree) GetIndex(collectionID uint64) map[int64]*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	keys := t.collections[collectionID]
	if len(keys) == 0 {
		return nil
	}
	out := make(map[int64]*Node, len(keys))
	for id, slot := range keys {
		out[id] = slot.Load()
	}
	return out
}

// Collections returns the ids of every collection with a published tree.
func (t *Tree) Collections() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]uint64, 0, len(t.collections))
	for id := range t.collections {
		out = append(out, id)
	}
	return out
}
