package consumer

import (
	"context"
	"encoding/json"
	"iter"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/batch"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/session"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/postings"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (n *recordingNotifier) Publish(_ context.Context, events ...kafka.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, events...)
	return nil
}

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

func jobValue(t *testing.T, titles ...string) []byte {
	t.Helper()
	job := ingestion.WriteJob{ID: "job-1", Collection: "www"}
	for _, title := range titles {
		var d document.Document
		d.Set("title", document.String(title))
		job.Documents = append(job.Documents, d)
	}
	b, err := json.Marshal(job)
	require.NoError(t, err)
	return b
}

func TestHandleIndexesAndNotifies(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	n := &recordingNotifier{}
	ix := New(f, nil, session.Options{}, n)

	require.NoError(t, ix.Handle()(ctx, kafka.Message{Key: "www", Value: jobValue(t, "red car", "blue car")}))

	id := store.CollectionID("www")
	require.NotNil(t, f.Tree().GetIndex(id))

	require.Len(t, n.events, 1)
	event := n.events[0].Value.(ingestion.IndexComplete)
	assert.Equal(t, "www", n.events[0].Key)
	assert.Equal(t, "job-1", n.events[0].JobID)
	assert.Equal(t, "job-1", event.JobID)
	assert.Equal(t, id, event.CollectionID)
	assert.Equal(t, int64(1), event.Version)
	assert.Equal(t, 2, event.Documents)
	assert.Len(t, event.Keys, 1)
}

func TestHandleVersionsEachJob(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	ix := New(newFactory(t), nil, session.Options{}, n)

	require.NoError(t, ix.Handle()(ctx, kafka.Message{Value: jobValue(t, "one")}))
	require.NoError(t, ix.Handle()(ctx, kafka.Message{Value: jobValue(t, "two")}))

	require.Len(t, n.events, 2)
	assert.Equal(t, int64(1), n.events[0].Value.(ingestion.IndexComplete).Version)
	assert.Equal(t, int64(2), n.events[1].Value.(ingestion.IndexComplete).Version)
}

func TestHandleDropsPoisonMessages(t *testing.T) {
	ctx := context.Background()
	f := newFactory(t)
	n := &recordingNotifier{}
	empty := tokenizer.Func(func(string) iter.Seq[string] {
		return func(yield func(string) bool) { yield("") }
	})
	ix := New(f, empty, session.Options{}, n)

	assert.NoError(t, ix.Handle()(ctx, kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, ix.Handle()(ctx, kafka.Message{Value: jobValue(t, "red car")}))
	assert.Empty(t, n.events)
	assert.Nil(t, f.Tree().GetIndex(store.CollectionID("www")))
}
