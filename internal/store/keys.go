package store

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
)

// KeyMap assigns dense ids to field keys. Ids are positions in the key
// index, so the map is rebuilt by replaying the key stream.
type KeyMap struct {
	mu     sync.RWMutex
	values *valueStore
	ids    map[uint64]int64
	keys   []string
}

func openKeyMap(dataPath, indexPath string) (*KeyMap, error) {
	vs, err := openValueStore(dataPath, indexPath)
	if err != nil {
		return nil, err
	}
	km := &KeyMap{values: vs, ids: make(map[uint64]int64)}
	if err := km.refresh(); err != nil {
		vs.close()
		return nil, err
	}
	return km, nil
}

// refresh loads keys appended since the last load, including those written
// by another process.
func (km *KeyMap) refresh() error {
	km.mu.Lock()
	defer km.mu.Unlock()
	if err := km.values.refresh(); err != nil {
		return err
	}
	for pos := int64(len(km.keys)); ; pos++ {
		v, ok, err := km.values.at(pos)
		if err != nil {
			return fmt.Errorf("replaying key %d: %w", pos, err)
		}
		if !ok {
			return nil
		}
		key, _ := v.Str()
		km.ids[xxhash.Sum64String(key)] = pos
		km.keys = append(km.keys, key)
	}
}

// ID returns the id of key, or false when the key was never written.
func (km *KeyMap) ID(key string) (int64, bool) {
	h := xxhash.Sum64String(key)
	km.mu.RLock()
	id, ok := km.ids[h]
	km.mu.RUnlock()
	if ok {
		return id, true
	}
	if err := km.refresh(); err != nil {
		return 0, false
	}
	km.mu.RLock()
	defer km.mu.RUnlock()
	id, ok = km.ids[h]
	return id, ok
}

// Ensure returns the id of key, appending it to the key stream if new.
func (km *KeyMap) Ensure(key string) (int64, error) {
	h := xxhash.Sum64String(key)
	km.mu.RLock()
	id, ok := km.ids[h]
	km.mu.RUnlock()
	if ok {
		return id, nil
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	if id, ok := km.ids[h]; ok {
		return id, nil
	}
	id, err := km.values.put(document.String(key))
	if err != nil {
		return 0, fmt.Errorf("writing key %q: %w", key, err)
	}
	if id != int64(len(km.keys)) {
		return 0, fmt.Errorf("key %q stored at %d, expected %d: stale key map", key, id, len(km.keys))
	}
	km.ids[h] = id
	km.keys = append(km.keys, key)
	return id, nil
}

// Key returns the key with the given id.
func (km *KeyMap) Key(id int64) (string, bool) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	if id < 0 || id >= int64(len(km.keys)) {
		return "", false
	}
	return km.keys[id], true
}

// Keys returns all keys ordered by id.
func (km *KeyMap) Keys() []string {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return append([]string(nil), km.keys...)
}

func (km *KeyMap) close() error {
	return km.values.close()
}
