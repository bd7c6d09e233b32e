package vector

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity(FromToken("car"), FromToken("car")), 1e-5)
	assert.InDelta(t, 1.0, Similarity(FromToken("Car"), FromToken("car")), 1e-5)
	assert.Less(t, Similarity(FromToken("car"), FromToken("cars")), IdenticalAngle)
	assert.Less(t, Similarity(FromToken("red"), FromToken("blue")), FoldAngle)
	assert.Zero(t, Similarity(nil, FromToken("car")))
	assert.Nil(t, FromToken(""))
}

func TestAddSameTokenMerges(t *testing.T) {
	root := NewRoot()
	require.NoError(t, root.Add(NewNode("car", 1)))
	require.NoError(t, root.Add(NewNode("car", 1)))
	require.NoError(t, root.Add(NewNode("car", 2)))

	assert.Equal(t, 2, root.Count())
	n, sim := root.Find("car")
	require.NotNil(t, n)
	assert.GreaterOrEqual(t, sim, IdenticalAngle)
	assert.Equal(t, []Posting{{DocumentID: 1, Count: 2}, {DocumentID: 2, Count: 1}}, n.Postings())
}

func TestAddDistinctTokensBranch(t *testing.T) {
	root := NewRoot()
	require.NoError(t, root.Add(NewNode("apple", 1)))
	require.NoError(t, root.Add(NewNode("apples", 2)))
	require.NoError(t, root.Add(NewNode("zebra", 3)))

	assert.Equal(t, 4, root.Count())
	first := root.Right()
	require.NotNil(t, first)
	assert.Equal(t, "apple", first.Token())
	require.NotNil(t, first.Left())
	assert.Equal(t, "apples", first.Left().Token())
	require.NotNil(t, first.Right())
	assert.Equal(t, "zebra", first.Right().Token())

	for _, tok := range []string{"apple", "apples", "zebra"} {
		n, _ := root.Find(tok)
		require.NotNil(t, n, tok)
		assert.Equal(t, tok, n.Token())
	}
	n, _ := root.Find("kiwi")
	assert.Nil(t, n)
}

func TestAddRejectsEmptyToken(t *testing.T) {
	root := NewRoot()
	assert.ErrorIs(t, root.Add(NewNode("", 1)), ErrInvalidToken)
	assert.ErrorIs(t, root.Add(nil), ErrInvalidToken)
}

func TestNear(t *testing.T) {
	root := NewRoot()
	require.NoError(t, root.Add(NewNode("apple", 1)))
	require.NoError(t, root.Add(NewNode("apples", 2)))

	matches := root.Near("apples", 0.5)
	require.Len(t, matches, 2)
	assert.Equal(t, "apples", matches[0].Node.Token())
	assert.Equal(t, "apple", matches[1].Node.Token())
	assert.Empty(t, root.Near("", 0.1))
}

func TestCloneIsIndependent(t *testing.T) {
	root := NewRoot()
	require.NoError(t, root.Add(NewNode("car", 1)))
	clone := root.Clone()
	require.NoError(t, clone.Add(NewNode("car", 9)))
	require.NoError(t, clone.Add(NewNode("boat", 9)))

	orig, _ := root.Find("car")
	assert.Len(t, orig.Postings(), 1)
	assert.Equal(t, 2, root.Count())
	assert.Equal(t, 3, clone.Count())
}

func TestDepth(t *testing.T) {
	assert.Equal(t, 0, (*Node)(nil).Depth())
	root := NewRoot()
	assert.Equal(t, 1, root.Depth())
	require.NoError(t, root.Add(NewNode("apple", 1)))
	require.NoError(t, root.Add(NewNode("apples", 1)))
	assert.Equal(t, 3, root.Depth())
}

func TestTreeRegistry(t *testing.T) {
	tree := NewTree()
	assert.Nil(t, tree.Get(1, 1))
	assert.Nil(t, tree.GetIndex(1))

	a, b := NewRoot(), NewRoot()
	tree.Add(1, 1, a)
	assert.Same(t, a, tree.Get(1, 1))
	tree.Add(1, 1, b)
	assert.Same(t, b, tree.Get(1, 1))
	tree.Add(1, 2, a)

	idx := tree.GetIndex(1)
	assert.Len(t, idx, 2)
	assert.Same(t, b, idx[1])
	assert.Nil(t, tree.Get(2, 1))
	assert.Equal(t, []uint64{1}, tree.Collections())
}

func TestTreeConcurrentPublishAndRead(t *testing.T) {
	tree := NewTree()
	var wg sync.WaitGroup
	for k := int64(0); k < 8; k++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tree.Add(7, k, NewRoot())
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tree.Get(7, k)
				tree.GetIndex(7)
			}
		}()
	}
	wg.Wait()
	assert.Len(t, tree.GetIndex(7), 8)
}

func buildTree(t *testing.T) *Node {
	t.Helper()
	root := NewRoot()
	for i, tok := range []string{"red", "car", "blue", "car", "boat"} {
		require.NoError(t, root.Add(NewNode(tok, uint64(i%2+1))))
	}
	return root
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	root := buildTree(t)
	root.Walk(func(n *Node) bool {
		if !n.IsRoot() {
			n.MarkPersisted(int64(len(n.token)) * 100)
		}
		return true
	})

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, 11, 3, root))
	h, decoded, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(11), h.CollectionID)
	assert.Equal(t, int64(3), h.KeyID)
	assert.Equal(t, uint32(root.Count()), h.NodeCount)

	var want, got []string
	root.Walk(func(n *Node) bool { want = append(want, n.Token()); return true })
	decoded.Walk(func(n *Node) bool {
		got = append(got, n.Token())
		if !n.IsRoot() {
			assert.Equal(t, int64(len(n.token))*100, n.Offset())
		}
		return true
	})
	assert.Equal(t, want, got)
	assert.Equal(t, root.Depth(), decoded.Depth())
}

func TestDecodeRejectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, 1, 1, buildTree(t)))
	raw := buf.Bytes()

	flipped := append([]byte(nil), raw...)
	flipped[len(flipped)-1] ^= 0xff
	_, _, err := Decode(bytes.NewReader(flipped))
	assert.ErrorIs(t, err, apperrors.ErrDataCorrupted)

	badMagic := append([]byte(nil), raw...)
	badMagic[0] = 0
	_, _, err = Decode(bytes.NewReader(badMagic))
	assert.ErrorIs(t, err, apperrors.ErrDataCorrupted)
}

func TestPersistAndLoad(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := postings.Open(filepath.Join(dir, "postings"), nil)
	require.NoError(t, err)
	defer store.Close()

	root := buildTree(t)
	n, err := Persist(ctx, store, 5, root)
	require.NoError(t, err)
	assert.Equal(t, root.Count()-1, n)
	root.Walk(func(n *Node) bool {
		assert.False(t, n.Dirty() && !n.IsRoot())
		return true
	})
	_, err = WriteFile(dir, 5, 2, root)
	require.NoError(t, err)

	tree := NewTree()
	loader := NewLoader(dir, tree, store)
	loaded, err := loader.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	got := tree.Get(5, 2)
	require.NotNil(t, got)
	car, _ := got.Find("car")
	require.NotNil(t, car)
	assert.Equal(t, []Posting{{DocumentID: 2, Count: 2}}, car.Postings())

	loaded, err = loader.Reload(ctx)
	require.NoError(t, err)
	assert.Zero(t, loaded)

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, FileName(5, 2)), later, later))
	loaded, err = loader.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)
}

func TestLoaderMissingDir(t *testing.T) {
	loaded, err := NewLoader(filepath.Join(t.TempDir(), "absent"), NewTree(), nil).Reload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, loaded)
}

func TestLoaderWatchPublishesNewFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := t.TempDir()
	store, err := postings.Open(filepath.Join(dir, "postings"), nil)
	require.NoError(t, err)
	defer store.Close()

	tree := NewTree()
	reloaded := make(chan []uint64, 1)
	done := make(chan error, 1)
	go func() {
		done <- NewLoader(dir, tree, store).Watch(ctx, 20*time.Millisecond, func(_ context.Context, collections []uint64) {
			select {
			case reloaded <- collections:
			default:
			}
		})
	}()
	time.Sleep(50 * time.Millisecond)

	root := buildTree(t)
	_, err = Persist(ctx, store, 9, root)
	require.NoError(t, err)
	_, err = WriteFile(dir, 9, 1, root)
	require.NoError(t, err)

	select {
	case collections := <-reloaded:
		assert.Equal(t, []uint64{9}, collections)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not reload")
	}
	assert.NotNil(t, tree.Get(9, 1))

	cancel()
	assert.NoError(t, <-done)
}
