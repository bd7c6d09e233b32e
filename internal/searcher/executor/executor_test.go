package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/batch"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/session"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

var coll = store.CollectionID("www")

func newFactory(t testing.TB) *store.SessionFactory {
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

func doc(id uint64, fields ...string) document.Document {
	d := document.Document{ID: id}
	for i := 0; i+1 < len(fields); i += 2 {
		d.Set(fields[i], document.String(fields[i+1]))
	}
	return d
}

func index(t testing.TB, f *store.SessionFactory, docs ...document.Document) {
	t.Helper()
	ctx := context.Background()
	s, err := session.New(ctx, coll, f, nil, session.Options{})
	require.NoError(t, err)
	require.NoError(t, s.WriteDocuments(ctx, docs...))
	require.NoError(t, s.Close(ctx))
}

func parse(t testing.TB, text string) *query.Query {
	t.Helper()
	q, err := query.NewParser(nil).Parse(text)
	require.NoError(t, err)
	require.NotNil(t, q)
	q.Collection = coll
	return q
}

func ids(r *Result) []uint64 {
	out := make([]uint64, 0, len(r.Documents))
	for _, d := range r.Documents {
		out = append(out, d.ID)
	}
	return out
}

func TestRedCarBlueCar(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f, doc(1, "title", "red car"), doc(2, "title", "blue car"))
	e := New(f, Options{})

	r, err := e.Execute(ctx, parse(t, "title:car"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(r))
	assert.Equal(t, 2, r.Total)

	r, err = e.Execute(ctx, parse(t, "title:red"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(r))
	title, _ := r.Documents[0].Get("title")
	assert.Equal(t, "red car", title.Text())
	assert.InDelta(t, 1.0, r.Documents[0].Score, 1e-6)
}

func TestOperators(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f,
		doc(1, "title", "red car"),
		doc(2, "title", "blue car"),
		doc(3, "title", "red boat"),
	)
	e := New(f, Options{})

	for text, want := range map[string][]uint64{
		"title:car\n+title:red":   {1},
		"title:car\n-title:red":   {2},
		"title:boat\ntitle:blue":  {2, 3},
		"-title:red\ntitle:car":   {2},
		"-title:red":              {},
		"title:red\n+title:zebra": {},
		"nokey:red":               {},
	} {
		r, err := e.Execute(ctx, parse(t, text))
		require.NoError(t, err, text)
		assert.ElementsMatch(t, want, ids(r), text)
	}
}

func TestLeadingNotExcludesFromResult(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f,
		doc(1, "title", "red car"),
		doc(2, "title", "blue car"),
		doc(3, "title", "red boat"),
	)
	e := New(f, Options{})

	r, err := e.Execute(ctx, parse(t, "-title:red\ntitle:car\ntitle:boat"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids(r))

	r, err = e.Execute(ctx, parse(t, "-title:blue\n-title:boat\ntitle:car"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(r))
}

func TestReusedDocIDLeavesPublishedDocument(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f, doc(1, "title", "red car"))

	s, err := session.New(ctx, coll, f, nil, session.Options{})
	require.NoError(t, err)
	_ = s.WriteDocuments(ctx, doc(1, "title", "blue truck"))
	err = s.Close(ctx)
	assert.ErrorIs(t, err, apperrors.ErrSessionFailed)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	e := New(f, Options{})
	r, err := e.Execute(ctx, parse(t, "title:red"))
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, ids(r))
	title, _ := r.Documents[0].Get("title")
	assert.Equal(t, "red car", title.Text())

	r, err = e.Execute(ctx, parse(t, "title:truck"))
	require.NoError(t, err)
	assert.Empty(t, ids(r))
}

func TestScoresRankByCount(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f, doc(1, "title", "car"), doc(2, "title", "car car car"))

	r, err := New(f, Options{}).Execute(ctx, parse(t, "title:car"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 1}, ids(r))
	assert.Greater(t, r.Documents[0].Score, r.Documents[1].Score)
}

func TestTakeCapsResults(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f, doc(1, "title", "car"), doc(2, "title", "car"), doc(3, "title", "car"))

	q := parse(t, "title:car")
	q.Take = 2
	r, err := New(f, Options{}).Execute(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids(r))
	assert.Equal(t, 3, r.Total)
}

func TestLatestVersionWins(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f, doc(0, "title", "red car"), doc(0, "title", "blue car"))
	index(t, f, doc(0, "title", "red car"))

	r, err := New(f, Options{}).Execute(ctx, parse(t, "title:red"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids(r))

	r, err = New(f, Options{}).Execute(ctx, parse(t, "title:car"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{2, 3}, ids(r))
}

func TestUnknownCollectionAndNilQuery(t *testing.T) {
	ctx := context.Background()
	e := New(newFactory(t), Options{})

	r, err := e.Execute(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, r.Documents)

	r, err = e.Execute(ctx, parse(t, "title:car"))
	require.NoError(t, err)
	assert.Empty(t, r.Documents)
}

func TestFuzzyMatching(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	index(t, f, doc(1, "title", "colour"), doc(2, "title", "zebra"))

	r, err := New(f, Options{}).Execute(ctx, parse(t, "title:color"))
	require.NoError(t, err)
	assert.Empty(t, r.Documents)

	r, err = New(f, Options{FuzzyThreshold: 0.5}).Execute(ctx, parse(t, "title:color"))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, ids(r))
}

func BenchmarkExecute(b *testing.B) {
	ctx := context.Background()
	f := newFactory(b)
	docs := make([]document.Document, 0, 2000)
	for i := range 2000 {
		docs = append(docs, doc(0, "title", fmt.Sprintf("distributed search %d", i%50), "body", "engine with tree indexing"))
	}
	index(b, f, docs...)
	e := New(f, Options{})
	q := parse(b, "title:search\n+body:engine")
	q.Take = 10

	b.ReportAllocs()
	for b.Loop() {
		if _, err := e.Execute(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}
