package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("connection reset")

// failingStore wraps a real store and fails the selected operations.
type failingStore struct {
	repository.Store
	failBatch  bool
	failOrders bool
	failFind   bool
}

func (f *failingStore) InsertBatch(ctx context.Context, tasks []*model.Task) error {
	if f.failBatch {
		return errBoom
	}
	return f.Store.InsertBatch(ctx, tasks)
}

func (f *failingStore) UpdateOrders(ctx context.Context, ranks []model.Rank) error {
	if f.failOrders {
		return errBoom
	}
	return f.Store.UpdateOrders(ctx, ranks)
}

func (f *failingStore) FindByOwner(ctx context.Context, ownerID string) ([]model.Task, error) {
	if f.failFind {
		return nil, errBoom
	}
	return f.Store.FindByOwner(ctx, ownerID)
}

type fakeCache struct {
	mu          sync.Mutex
	lists       map[string][]model.Task
	invalidated []string
	getErr      error
}

func newFakeCache() *fakeCache {
	return &fakeCache{lists: make(map[string][]model.Task)}
}

func (c *fakeCache) Get(_ context.Context, ownerID string) ([]model.Task, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	tasks, ok := c.lists[ownerID]
	return tasks, ok, nil
}

func (c *fakeCache) Set(_ context.Context, ownerID string, tasks []model.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lists[ownerID] = tasks
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lists, ownerID)
	c.invalidated = append(c.invalidated, ownerID)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(opts ...Option) (*TaskService, *repository.TaskRepository) {
	repo := repository.NewTaskRepository()
	return NewTaskService(repo, discardLogger(), opts...), repo
}

func create(t *testing.T, s *TaskService, owner, text string) *model.Task {
	t.Helper()
	task, err := s.Create(context.Background(), model.CreateTaskRequest{Text: text, OwnerID: owner})
	require.NoError(t, err)
	return task
}

func TestCreate(t *testing.T) {
	s, _ := newService()

	task := create(t, s, "U1", "  Buy milk  ")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, model.StatusPending, task.Status)
	assert.Equal(t, "Buy milk", task.Text)
	assert.Equal(t, model.DefaultCategory, task.Category)
	assert.NotNil(t, task.Order)
}

func TestCreate_TextLength(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{"empty", "", model.ErrTextEmpty},
		{"whitespace", "   \t", model.ErrTextEmpty},
		{"exactly 100", strings.Repeat("a", 100), nil},
		{"101", strings.Repeat("a", 101), model.ErrTextTooLong},
		{"100 multibyte", strings.Repeat("é", 100), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newService()
			_, err := s.Create(context.Background(), model.CreateTaskRequest{Text: tt.text, OwnerID: "U1"})
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
}

func TestCreate_OwnerRequired(t *testing.T) {
	s, _ := newService()

	_, err := s.Create(context.Background(), model.CreateTaskRequest{Text: "x"})
	assert.ErrorIs(t, err, model.ErrOwnerRequired)

	task, err := s.Create(context.Background(), model.CreateTaskRequest{Text: "x", UID: "legacy"})
	require.NoError(t, err)
	assert.Equal(t, "legacy", task.OwnerID)
}

func TestCreate_KeepsSuppliedOrder(t *testing.T) {
	s, _ := newService()
	order := 42.0

	task, err := s.Create(context.Background(), model.CreateTaskRequest{Text: "x", OwnerID: "U1", Order: &order})
	require.NoError(t, err)
	assert.Equal(t, int64(42), *task.Order)
}

func TestCreate_OrderOutOfRange(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	s, _ := newService(WithClock(func() time.Time { return now }))

	tests := []struct {
		name  string
		order float64
		want  int64
	}{
		{"huge", 1e30, math.MaxInt64},
		{"huge negative", -1e30, math.MinInt64},
		{"infinite", math.Inf(1), now.UnixMilli()},
		{"not a number", math.NaN(), now.UnixMilli()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := tt.order
			task, err := s.Create(context.Background(), model.CreateTaskRequest{Text: "x", OwnerID: "U1", Order: &order})
			require.NoError(t, err)
			assert.Equal(t, tt.want, *task.Order)
		})
	}
}

func TestList_NewestFirst(t *testing.T) {
	s, _ := newService()
	create(t, s, "U1", "first")
	create(t, s, "U1", "second")
	create(t, s, "U2", "other")

	tasks, err := s.List(context.Background(), "U1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "second", tasks[0].Text)
	assert.Equal(t, "first", tasks[1].Text)

	_, err = s.List(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrOwnerRequired)
}

func TestList_StoreFailure(t *testing.T) {
	s := NewTaskService(&failingStore{Store: repository.NewTaskRepository(), failFind: true}, discardLogger())

	_, err := s.List(context.Background(), "U1")
	assert.ErrorIs(t, err, model.ErrStore)
	assert.ErrorIs(t, err, errBoom)
}

func TestToggle_Involution(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()
	task := create(t, s, "U1", "x")

	status, err := s.ToggleStatus(ctx, task.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, status)

	status, err = s.ToggleStatus(ctx, task.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, status)

	stored, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestToggleAndDelete_Forbidden(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()
	task := create(t, s, "U1", "x")

	_, err := s.ToggleStatus(ctx, task.ID, "U2")
	assert.ErrorIs(t, err, model.ErrForbidden)

	err = s.Delete(ctx, task.ID, "U2")
	assert.ErrorIs(t, err, model.ErrForbidden)

	stored, err := repo.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, stored.Status)
}

func TestToggleAndDelete_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()

	_, err := s.ToggleStatus(ctx, "missing", "U1")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)

	task := create(t, s, "U1", "x")
	require.NoError(t, s.Delete(ctx, task.ID, "U1"))
	assert.ErrorIs(t, s.Delete(ctx, task.ID, "U1"), model.ErrTaskNotFound)
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()
	a := create(t, s, "U1", "a")
	b := create(t, s, "U1", "b")
	c := create(t, s, "U1", "c")

	require.NoError(t, s.Reorder(ctx, "U1", []string{a.ID, b.ID, c.ID}))

	for id, want := range map[string]int64{a.ID: 1, b.ID: 2, c.ID: 3} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, *got.Order)
	}
}

func TestReorder_AllOrNothingOnForeignTask(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()
	a := create(t, s, "U1", "a")
	b := create(t, s, "U2", "b")
	c := create(t, s, "U1", "c")
	before := map[string]int64{a.ID: *a.Order, b.ID: *b.Order, c.ID: *c.Order}

	err := s.Reorder(ctx, "U1", []string{a.ID, b.ID, c.ID})
	assert.ErrorIs(t, err, model.ErrForbidden)

	for id, want := range before {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, *got.Order)
	}
}

func TestReorder_Invalid(t *testing.T) {
	ctx := context.Background()
	s, _ := newService()
	a := create(t, s, "U1", "a")

	assert.ErrorIs(t, s.Reorder(ctx, "U1", nil), model.ErrEmptyOrder)
	assert.ErrorIs(t, s.Reorder(ctx, "U1", []string{a.ID, a.ID}), model.ErrInvalidOrder)
	assert.ErrorIs(t, s.Reorder(ctx, "U1", []string{""}), model.ErrInvalidOrder)
	assert.ErrorIs(t, s.Reorder(ctx, "", []string{a.ID}), model.ErrOwnerRequired)
	assert.ErrorIs(t, s.Reorder(ctx, "U1", []string{a.ID, "missing"}), model.ErrTaskNotFound)
}

func TestReorder_StoreFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Store: repository.NewTaskRepository()}
	s := NewTaskService(store, discardLogger())
	a := create(t, s, "U1", "a")

	store.failOrders = true
	assert.ErrorIs(t, s.Reorder(ctx, "U1", []string{a.ID}), model.ErrStore)
}

func TestSyncImport(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_800_000_000_000)
	s, repo := newService(WithClock(func() time.Time { return now }))

	inputs := []model.OfflineTaskInput{
		{Text: "a", CreatedAtClient: 111},
		{Text: "b", CreatedAtClient: 222, Category: "Work"},
		{Text: "c"},
	}
	ids, err := s.SyncImport(ctx, "U1", inputs)
	require.NoError(t, err)
	require.Len(t, ids, 3)

	seen := map[string]bool{}
	for i, id := range ids {
		assert.False(t, seen[id])
		seen[id] = true

		task, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, task.Status)
		assert.Equal(t, "U1", task.OwnerID)
		require.NotNil(t, task.CreatedAtClient)
		if inputs[i].CreatedAtClient != 0 {
			assert.Equal(t, inputs[i].CreatedAtClient, *task.CreatedAtClient)
		} else {
			assert.Equal(t, now.UnixMilli(), *task.CreatedAtClient)
		}
		assert.Equal(t, now.UnixMilli(), *task.Order)
	}

	b, err := repo.Get(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "Work", b.Category)
}

func TestSyncImport_Invalid(t *testing.T) {
	ctx := context.Background()
	s, repo := newService()

	_, err := s.SyncImport(ctx, "U1", nil)
	assert.ErrorIs(t, err, model.ErrEmptySync)

	_, err = s.SyncImport(ctx, "", []model.OfflineTaskInput{{Text: "a"}})
	assert.ErrorIs(t, err, model.ErrOwnerRequired)

	_, err = s.SyncImport(ctx, "U1", []model.OfflineTaskInput{{Text: "a"}, {Text: " "}})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "tasks[1]")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSyncImport_AllOrNothingOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	inner := repository.NewTaskRepository()
	s := NewTaskService(&failingStore{Store: inner, failBatch: true}, discardLogger())

	_, err := s.SyncImport(ctx, "U1", []model.OfflineTaskInput{{Text: "a"}, {Text: "b"}})
	assert.ErrorIs(t, err, model.ErrStore)

	n, err := inner.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCache_ReadThroughAndInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	s, _ := newService(WithCache(cache))

	task := create(t, s, "U1", "a")
	assert.Equal(t, []string{"U1"}, cache.invalidated)

	_, err := s.List(ctx, "U1")
	require.NoError(t, err)
	require.Contains(t, cache.lists, "U1")

	_, err = s.ToggleStatus(ctx, task.ID, "U1")
	require.NoError(t, err)
	assert.NotContains(t, cache.lists, "U1")

	tasks, err := s.List(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.StatusCompleted, tasks[0].Status)
}

func TestCache_ErrorsDoNotFailRequests(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errBoom
	s, _ := newService(WithCache(cache))
	create(t, s, "U1", "a")

	tasks, err := s.List(context.Background(), "U1")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}
