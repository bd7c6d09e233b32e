package batch

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/postgres"
)

func TestLocalIncreasesPerCollection(t *testing.T) {
	ctx := context.Background()
	l, err := NewLocal("")
	require.NoError(t, err)
	for want := int64(1); want <= 3; want++ {
		got, err := l.NextVersion(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	got, err := l.NextVersion(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)
}

func TestLocalSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	l, err := NewLocal(dir)
	require.NoError(t, err)
	_, err = l.NextVersion(ctx, 9)
	require.NoError(t, err)
	_, err = l.NextVersion(ctx, 9)
	require.NoError(t, err)

	restarted, err := NewLocal(dir)
	require.NoError(t, err)
	got, err := restarted.NextVersion(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestLocalConcurrentUnique(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	var (
		mu   sync.Mutex
		seen = map[int64]bool{}
		wg   sync.WaitGroup
	)
	for range 20 {
		wg.Go(func() {
			v, err := l.NextVersion(context.Background(), 1)
			assert.NoError(t, err)
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestPostgres(t *testing.T) {
	host := os.Getenv("TI_TEST_POSTGRES_HOST")
	if host == "" {
		t.Skip("TI_TEST_POSTGRES_HOST not set")
	}
	cfg := config.Default().Postgres
	cfg.Host = host
	ctx := context.Background()
	client, err := postgres.New(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	p, err := NewPostgres(ctx, client)
	require.NoError(t, err)
	first, err := p.NextVersion(ctx, 77)
	require.NoError(t, err)
	second, err := p.NextVersion(ctx, 77)
	require.NoError(t, err)
	assert.Greater(t, second, first)
	latest, err := p.Latest(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, second, latest)
}
