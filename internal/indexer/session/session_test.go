package session

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/batch"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

const coll uint64 = 42

func newFactory(t *testing.T) *store.SessionFactory {
	t.Helper()
	dir := t.TempDir()
	repo, err := postings.Open(filepath.Join(dir, "postings"), nil)
	require.NoError(t, err)
	versions, err := batch.NewLocal("")
	require.NoError(t, err)
	f, err := store.NewSessionFactory(dir, vector.NewTree(), repo, versions)
	require.NoError(t, err)
	t.Cleanup(func() {
		f.Close()
		repo.Close()
	})
	return f
}

func doc(id uint64, title string) document.Document {
	d := document.Document{ID: id}
	d.Set("title", document.String(title))
	return d
}

func titleTree(t *testing.T, f *store.SessionFactory) *vector.Node {
	t.Helper()
	c, err := f.Collection(coll)
	require.NoError(t, err)
	keyID, ok := c.Keys().ID("title")
	require.True(t, ok)
	return f.Tree().Get(coll, keyID)
}

func docIDs(n *vector.Node) []uint64 {
	if n == nil {
		return nil
	}
	var ids []uint64
	for _, p := range n.Postings() {
		ids = append(ids, p.DocumentID)
	}
	return ids
}

func TestFlushPublishesTrees(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	var results []Result
	s, err := New(ctx, coll, f, nil, Options{Listeners: []Listener{func(_ context.Context, r Result) { results = append(results, r) }}})
	require.NoError(t, err)

	require.NoError(t, s.WriteDocuments(ctx, doc(1, "red car"), doc(2, "blue car")))
	assert.Nil(t, f.Tree().GetIndex(coll))

	require.NoError(t, s.Flush(ctx))
	tree := titleTree(t, f)
	require.NotNil(t, tree)
	car, _ := tree.Find("car")
	assert.Equal(t, []uint64{1, 2}, docIDs(car))
	red, _ := tree.Find("red")
	assert.Equal(t, []uint64{1}, docIDs(red))

	require.NoError(t, s.Flush(ctx))
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Documents)
	assert.Equal(t, s.Version(), results[0].Version)
	require.NoError(t, s.Close(ctx))
}

func TestCloseFlushesImplicitly(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	s, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, s.WriteDocuments(ctx, doc(1, "red car")))
	require.NoError(t, s.Close(ctx))

	tree := titleTree(t, f)
	require.NotNil(t, tree)
	n, _ := tree.Find("red")
	assert.NotNil(t, n)
}

func TestWriteAfterFlushFails(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, coll, newFactory(t), nil, Options{})
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))
	assert.ErrorIs(t, s.WriteDocuments(ctx, doc(1, "late")), apperrors.ErrSessionClosed)
}

func TestFailedSessionPublishesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	broken := tokenizer.Func(func(string) iter.Seq[string] {
		return func(yield func(string) bool) { yield("") }
	})
	s, err := New(ctx, coll, f, broken, Options{})
	require.NoError(t, err)
	require.NoError(t, s.WriteDocuments(ctx, doc(1, "anything")))

	err = s.Close(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSessionFailed)
	assert.ErrorIs(t, err, vector.ErrInvalidToken)
	assert.Nil(t, f.Tree().GetIndex(coll))
	assert.ErrorIs(t, s.Flush(ctx), apperrors.ErrSessionFailed)

	next, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err, "lock released after failure")
	require.NoError(t, next.Close(ctx))
}

func TestLiteralTokens(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	s, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	d := doc(1, "red car")
	d.Set("year", document.Int(2024))
	d.Set("_tag", document.String("Keep Whole"))
	d.Set("__source", document.String("ignored"))
	require.NoError(t, s.WriteDocuments(ctx, d))
	require.NoError(t, s.Close(ctx))

	c, err := f.Collection(coll)
	require.NoError(t, err)
	yearID, ok := c.Keys().ID("year")
	require.True(t, ok)
	n, _ := f.Tree().Get(coll, yearID).Find("2024")
	assert.Equal(t, []uint64{1}, docIDs(n))

	tagID, ok := c.Keys().ID("_tag")
	require.True(t, ok)
	n, _ = f.Tree().Get(coll, tagID).Find("Keep Whole")
	assert.Equal(t, []uint64{1}, docIDs(n))

	metaID, ok := c.Keys().ID("__source")
	require.True(t, ok)
	assert.Nil(t, f.Tree().Get(coll, metaID))
}

func TestSecondSessionCopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	first, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, first.WriteDocuments(ctx, doc(1, "red car")))
	require.NoError(t, first.Close(ctx))
	old := titleTree(t, f)
	oldCount := old.Count()

	second, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	assert.Greater(t, second.Version(), first.Version())
	require.NoError(t, second.WriteDocuments(ctx, doc(2, "red boat")))
	require.NoError(t, second.Close(ctx))

	assert.Equal(t, oldCount, old.Count())
	tree := titleTree(t, f)
	assert.NotSame(t, old, tree)
	red, _ := tree.Find("red")
	assert.Equal(t, []uint64{1, 2}, docIDs(red))
	car, _ := tree.Find("car")
	assert.Equal(t, []uint64{1}, docIDs(car))
}

func TestWriterLockHeldUntilClose(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	s, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = New(waitCtx, coll, f, nil, Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, s.Close(ctx))
}

func TestManyDocumentsManyWorkers(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	var flushed atomic.Int32
	s, err := New(ctx, coll, f, nil, Options{
		Workers:   4,
		QueueSize: 1,
		Listeners: []Listener{func(context.Context, Result) { flushed.Add(1) }},
	})
	require.NoError(t, err)

	const n = 200
	for i := 1; i <= n; i++ {
		d := doc(uint64(i), fmt.Sprintf("common word%d", i))
		d.Set("body", document.String("shared body text"))
		d.Set("rank", document.Int(int64(i%5)))
		require.NoError(t, s.WriteDocuments(ctx, d))
	}
	require.NoError(t, s.Close(ctx))
	assert.Equal(t, int32(1), flushed.Load())

	common, _ := titleTree(t, f).Find("common")
	require.NotNil(t, common)
	assert.Len(t, common.Postings(), n)
	assert.Len(t, f.Tree().GetIndex(coll), 3)
}

func TestPublishedTreesReloadFromDisk(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	s, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, s.WriteDocuments(ctx, doc(1, "red car"), doc(2, "blue car")))
	require.NoError(t, s.Close(ctx))

	fresh := vector.NewTree()
	loaded, err := vector.NewLoader(f.Dir(), fresh, f.Postings()).Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	c, err := f.Collection(coll)
	require.NoError(t, err)
	keyID, _ := c.Keys().ID("title")
	car, _ := fresh.Get(coll, keyID).Find("car")
	assert.Equal(t, []uint64{1, 2}, docIDs(car))
}

func TestFailedFlushLeavesNoTreeFiles(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	first, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	d := doc(1, "red car")
	d.Set("body", document.String("fast"))
	require.NoError(t, first.WriteDocuments(ctx, d))
	require.NoError(t, first.Close(ctx))

	c, err := f.Collection(coll)
	require.NoError(t, err)
	titleID, _ := c.Keys().ID("title")
	bodyID, _ := c.Keys().ID("body")
	blocked := filepath.Join(f.Dir(), vector.FileName(coll, max(titleID, bodyID))+".tmp")
	require.NoError(t, os.Mkdir(blocked, 0755))

	second, err := New(ctx, coll, f, nil, Options{})
	require.NoError(t, err)
	d = doc(2, "blue truck")
	d.Set("body", document.String("slow"))
	require.NoError(t, second.WriteDocuments(ctx, d))
	assert.ErrorIs(t, second.Close(ctx), apperrors.ErrSessionFailed)

	staged, err := filepath.Glob(filepath.Join(f.Dir(), "*.ix.tmp"))
	require.NoError(t, err)
	assert.Equal(t, []string{blocked}, staged)

	fresh := vector.NewTree()
	loaded, err := vector.NewLoader(f.Dir(), fresh, f.Postings()).Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	blue, _ := fresh.Get(coll, titleID).Find("blue")
	assert.Nil(t, blue)
	car, _ := fresh.Get(coll, titleID).Find("car")
	assert.Equal(t, []uint64{1}, docIDs(car))
}
