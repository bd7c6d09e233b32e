// Package batch allocates index batch versions. Every index session takes
// one version; documents written by later sessions carry higher versions,
// which is how re-indexed content supersedes its older copies at query
// time.
package batch

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Local allocates versions in process, persisting the last version of each
// collection to a small file in dir so restarts keep counting upward. An
// empty dir keeps everything in memory.
type Local struct {
	dir  string
	mu   sync.Mutex
	last map[uint64]int64
}

// NewLocal keeps version counters in files under dir, or only in memory
// when dir is empty.
func NewLocal(dir string) (*Local, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating batch directory: %w", err)
		}
	}
	return &Local{dir: dir, last: make(map[uint64]int64)}, nil
}

func (l *Local) path(collectionID uint64) string {
	return filepath.Join(l.dir, fmt.Sprintf("%d.ver", collectionID))
}

// NextVersion returns the next batch version for collectionID and
// persists it before returning.
func (l *Local) NextVersion(ctx context.Context, collectionID uint64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok := l.last[collectionID]
	if !ok && l.dir != "" {
		data, err := os.ReadFile(l.path(collectionID))
		switch {
		case err == nil && len(data) == 8:
			last = int64(binary.LittleEndian.Uint64(data))
		case err == nil:
			return 0, fmt.Errorf("batch version file for collection %d holds %d bytes", collectionID, len(data))
		case !os.IsNotExist(err):
			return 0, fmt.Errorf("reading batch version: %w", err)
		}
	}
	next := last + 1
	if l.dir != "" {
		tmp := l.path(collectionID) + ".tmp"
		if err := os.WriteFile(tmp, binary.LittleEndian.AppendUint64(nil, uint64(next)), 0644); err != nil {
			return 0, fmt.Errorf("writing batch version: %w", err)
		}
		if err := os.Rename(tmp, l.path(collectionID)); err != nil {
			return 0, fmt.Errorf("renaming batch version file: %w", err)
		}
	}
	l.last[collectionID] = next
	return next, nil
}
