package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"github.com/hiroki-koketsu/go-todo/internal/repository/repositorytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.EnsureTable(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE tasks`)
	require.NoError(t, err)
	return s
}

func TestStore(t *testing.T) {
	repositorytest.Run(t, func(t *testing.T) repository.Store {
		return newTestStore(t)
	})
}

func TestStore_InsertBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	good := &model.Task{Text: "ok", OwnerID: "U1", Status: model.StatusPending}
	// A NUL byte is rejected by Postgres text columns, failing the batch.
	bad := &model.Task{Text: "bad\x00", OwnerID: "U1", Status: model.StatusPending}

	err := s.InsertBatch(ctx, []*model.Task{good, bad})
	require.Error(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
