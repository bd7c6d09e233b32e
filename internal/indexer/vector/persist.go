package vector

import (
	"context"
	"fmt"

	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
)

// Persist stores the postings of every dirty token node in one Write and
// records the returned offsets on the nodes. It returns the number of
// nodes written.
func Persist(ctx context.Context, store postings.Store, collectionID uint64, root *Node) (int, error) {
	var dirty []*Node
	var blocks [][]byte
	root.Walk(func(n *Node) bool {
		if n.dirty && !n.IsRoot() && len(n.postings) > 0 {
			dirty = append(dirty, n)
			blocks = append(blocks, postings.EncodeList(n.postings))
		}
		return true
	})
	if len(dirty) == 0 {
		return 0, nil
	}
	offsets, err := store.Write(ctx, collectionID, postings.EncodePayload(blocks))
	if err != nil {
		return 0, fmt.Errorf("writing postings: %w", err)
	}
	if len(offsets) != len(dirty) {
		return 0, fmt.Errorf("postings store returned %d offsets for %d blocks: %w", len(offsets), len(dirty), apperrors.ErrDataMisaligned)
	}
	for i, n := range dirty {
		n.MarkPersisted(offsets[i])
	}
	return len(dirty), nil
}
