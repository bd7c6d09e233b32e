package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/session"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
)

func TestOpenReloadsTrees(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()

	s, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	coll := store.CollectionID("www")
	sess, err := session.New(ctx, coll, s.Factory, nil, session.Options{})
	require.NoError(t, err)
	d := document.Document{}
	d.Set("title", document.String("red car"))
	require.NoError(t, sess.WriteDocuments(ctx, d))
	require.NoError(t, sess.Close(ctx))
	require.NoError(t, s.Close())

	reopened, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	index := reopened.Tree.GetIndex(coll)
	require.Len(t, index, 1)

	v, err := reopened.Factory.Versions().NextVersion(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}
