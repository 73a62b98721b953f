// Package repositorytest holds behaviour tests every repository.Store
// implementation must pass.
package repositorytest

import (
	"context"
	"testing"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run exercises a fresh store from newStore in each subtest.
func Run(t *testing.T, newStore func(t *testing.T) repository.Store) {
	t.Run("InsertAssignsIDAndTime", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		task := newTask("U1", "Buy milk")
		require.NoError(t, s.Insert(ctx, task))
		assert.NotEmpty(t, task.ID)
		assert.False(t, task.CreatedAt.IsZero())

		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, "Buy milk", got.Text)
		assert.Equal(t, model.StatusPending, got.Status)
		require.NotNil(t, got.Order)
		assert.Equal(t, int64(7), *got.Order)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := newStore(t).Get(context.Background(), "missing")
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
	})

	t.Run("FindByOwnerIsolatesOwners", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.Insert(ctx, newTask("U1", "one")))
		require.NoError(t, s.Insert(ctx, newTask("U2", "two")))
		require.NoError(t, s.Insert(ctx, newTask("U1", "three")))

		tasks, err := s.FindByOwner(ctx, "U1")
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		for _, task := range tasks {
			assert.Equal(t, "U1", task.OwnerID)
		}

		none, err := s.FindByOwner(ctx, "U3")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("InsertBatchPreservesClientTimestamps", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		batch := make([]*model.Task, 3)
		for i := range batch {
			batch[i] = newTask("U1", "offline")
			stamp := int64(1000 + i)
			batch[i].CreatedAtClient = &stamp
		}
		require.NoError(t, s.InsertBatch(ctx, batch))

		seen := map[string]bool{}
		for i, task := range batch {
			require.NotEmpty(t, task.ID)
			assert.False(t, seen[task.ID], "ids must be distinct")
			seen[task.ID] = true

			got, err := s.Get(ctx, task.ID)
			require.NoError(t, err)
			require.NotNil(t, got.CreatedAtClient)
			assert.Equal(t, int64(1000+i), *got.CreatedAtClient)
		}

		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		task := newTask("U1", "x")
		require.NoError(t, s.Insert(ctx, task))

		require.NoError(t, s.UpdateStatus(ctx, task.ID, model.StatusCompleted))
		got, err := s.Get(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, got.Status)

		assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", model.StatusCompleted), model.ErrTaskNotFound)
	})

	t.Run("UpdateOrders", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		a, b := newTask("U1", "a"), newTask("U1", "b")
		require.NoError(t, s.Insert(ctx, a))
		require.NoError(t, s.Insert(ctx, b))

		require.NoError(t, s.UpdateOrders(ctx, []model.Rank{{ID: b.ID, Order: 1}, {ID: a.ID, Order: 2}}))

		gotA, err := s.Get(ctx, a.ID)
		require.NoError(t, err)
		gotB, err := s.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), *gotA.Order)
		assert.Equal(t, int64(1), *gotB.Order)
	})

	t.Run("DeleteTwice", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		task := newTask("U1", "x")
		require.NoError(t, s.Insert(ctx, task))

		require.NoError(t, s.Delete(ctx, task.ID))
		assert.ErrorIs(t, s.Delete(ctx, task.ID), model.ErrTaskNotFound)

		_, err := s.Get(ctx, task.ID)
		assert.ErrorIs(t, err, model.ErrTaskNotFound)
	})
}

func newTask(owner, text string) *model.Task {
	order := int64(7)
	return &model.Task{
		Text:     text,
		Status:   model.StatusPending,
		Category: model.DefaultCategory,
		OwnerID:  owner,
		Order:    &order,
	}
}
