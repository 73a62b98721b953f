// Package service implements the task operations: validation, ownership
// checks and one store call per operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-todo/internal/service")

// ListCache caches the List result per owner. Implementations must be safe
// for concurrent use.
type ListCache interface {
	Get(ctx context.Context, ownerID string) ([]model.Task, bool, error)
	Set(ctx context.Context, ownerID string, tasks []model.Task) error
	Invalidate(ctx context.Context, ownerID string) error
}

// TaskService handles task operations on behalf of a caller identity.
type TaskService struct {
	store  repository.Store
	cache  ListCache
	logger *slog.Logger
	now    func() time.Time

	// loads collapses concurrent list misses for the same owner.
	loads singleflight.Group
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithCache enables list caching.
func WithCache(c ListCache) Option {
	return func(s *TaskService) { s.cache = c }
}

// WithClock overrides the time source used for default order values.
func WithClock(now func() time.Time) Option {
	return func(s *TaskService) { s.now = now }
}

// NewTaskService creates a new TaskService.
func NewTaskService(store repository.Store, logger *slog.Logger, opts ...Option) *TaskService {
	s := &TaskService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the owner's tasks, newest first.
func (s *TaskService) List(ctx context.Context, ownerID string) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskService.List")
	defer span.End()

	if ownerID == "" {
		return nil, model.ErrOwnerRequired
	}

	if s.cache != nil {
		tasks, ok, err := s.cache.Get(ctx, ownerID)
		if err != nil {
			s.logger.WarnContext(ctx, "list cache read failed", slog.Any("error", err))
		} else if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return tasks, nil
		}
	}

	if s.cache == nil {
		return s.load(ctx, ownerID)
	}

	v, err, shared := s.loads.Do(ownerID, func() (any, error) {
		tasks, err := s.load(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, ownerID, tasks); err != nil {
			s.logger.WarnContext(ctx, "list cache write failed", slog.Any("error", err))
		}
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cache.shared", shared))

	tasks := v.([]model.Task)
	if shared {
		tasks = slices.Clone(tasks)
	}
	return tasks, nil
}

// load reads the owner's tasks from the store, newest first.
func (s *TaskService) load(ctx context.Context, ownerID string) ([]model.Task, error) {
	tasks, err := s.store.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, model.StoreFailure("task list failed", err)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// Create validates and stores a new pending task.
func (s *TaskService) Create(ctx context.Context, req model.CreateTaskRequest) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskService.Create")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	order := s.orderOrNow(req.Order)
	task := &model.Task{
		Text:     model.NormalizeText(req.Text),
		Status:   model.StatusPending,
		Deadline: req.Deadline,
		Category: categoryOrDefault(req.Category),
		OwnerID:  req.Owner(),
		Order:    &order,
	}
	if err := s.store.Insert(ctx, task); err != nil {
		return nil, model.StoreFailure("task write failed", err)
	}
	s.invalidate(ctx, task.OwnerID)

	span.SetAttributes(attribute.String("task.id", task.ID))
	return task, nil
}

// ToggleStatus flips the task between pending and completed and returns
// the new status.
func (s *TaskService) ToggleStatus(ctx context.Context, id, ownerID string) (model.Status, error) {
	ctx, span := tracer.Start(ctx, "TaskService.ToggleStatus",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	task, err := s.owned(ctx, id, ownerID)
	if err != nil {
		return "", err
	}

	next := task.Status.Toggled()
	if err := s.store.UpdateStatus(ctx, id, next); err != nil {
		return "", storeErr("task update failed", err)
	}
	s.invalidate(ctx, ownerID)
	return next, nil
}

// Delete removes the task. Deleting an id twice yields ErrTaskNotFound.
func (s *TaskService) Delete(ctx context.Context, id, ownerID string) error {
	ctx, span := tracer.Start(ctx, "TaskService.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	if _, err := s.owned(ctx, id, ownerID); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storeErr("task delete failed", err)
	}
	s.invalidate(ctx, ownerID)
	return nil
}

// Reorder assigns order 1..N to orderedIDs. Every id is resolved and
// checked for ownership before anything is written.
func (s *TaskService) Reorder(ctx context.Context, ownerID string, orderedIDs []string) error {
	ctx, span := tracer.Start(ctx, "TaskService.Reorder",
		trace.WithAttributes(attribute.Int("task.count", len(orderedIDs))),
	)
	defer span.End()

	if ownerID == "" {
		return model.ErrOwnerRequired
	}
	if len(orderedIDs) == 0 {
		return model.ErrEmptyOrder
	}
	seen := make(map[string]struct{}, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, dup := seen[id]; dup || id == "" {
			return model.ErrInvalidOrder
		}
		seen[id] = struct{}{}
	}

	ranks := make([]model.Rank, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		if _, err := s.owned(ctx, id, ownerID); err != nil {
			return err
		}
		ranks = append(ranks, model.Rank{ID: id, Order: int64(i + 1)})
	}

	if err := s.store.UpdateOrders(ctx, ranks); err != nil {
		return storeErr("task reorder failed", err)
	}
	s.invalidate(ctx, ownerID)
	return nil
}

// SyncImport creates one pending task per offline input in a single batch
// and returns the new ids in input order.
func (s *TaskService) SyncImport(ctx context.Context, ownerID string, inputs []model.OfflineTaskInput) ([]string, error) {
	ctx, span := tracer.Start(ctx, "TaskService.SyncImport",
		trace.WithAttributes(attribute.Int("task.count", len(inputs))),
	)
	defer span.End()

	if ownerID == "" {
		return nil, model.ErrOwnerRequired
	}
	if len(inputs) == 0 {
		return nil, model.ErrEmptySync
	}

	tasks := make([]*model.Task, 0, len(inputs))
	for i, in := range inputs {
		if err := model.ValidateText(in.Text); err != nil {
			return nil, model.Invalid(fmt.Sprintf("tasks[%d]: %s", i, err.Error()))
		}
		order := s.orderOrNow(in.Order)
		createdAtClient := in.CreatedAtClient
		if createdAtClient == 0 {
			createdAtClient = s.now().UnixMilli()
		}
		tasks = append(tasks, &model.Task{
			Text:            model.NormalizeText(in.Text),
			Status:          model.StatusPending,
			Deadline:        in.Deadline,
			Category:        categoryOrDefault(in.Category),
			OwnerID:         ownerID,
			Order:           &order,
			CreatedAtClient: &createdAtClient,
		})
	}

	if err := s.store.InsertBatch(ctx, tasks); err != nil {
		return nil, model.StoreFailure("sync failed", err)
	}
	s.invalidate(ctx, ownerID)

	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids, nil
}

// owned loads the task and checks it belongs to ownerID.
func (s *TaskService) owned(ctx context.Context, id, ownerID string) (*model.Task, error) {
	if ownerID == "" {
		return nil, model.ErrOwnerRequired
	}
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("task read failed", err)
	}
	if task.OwnerID != ownerID {
		return nil, model.ErrTaskForbidden
	}
	return task, nil
}

func (s *TaskService) invalidate(ctx context.Context, ownerID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, ownerID); err != nil {
		s.logger.WarnContext(ctx, "list cache invalidation failed",
			slog.String("owner", ownerID),
			slog.Any("error", err),
		)
	}
}

// orderOrNow treats a missing or non-finite order as now and saturates
// finite values outside int64.
func (s *TaskService) orderOrNow(order *float64) int64 {
	switch {
	case order == nil || math.IsNaN(*order) || math.IsInf(*order, 0):
		return s.now().UnixMilli()
	case *order >= math.MaxInt64:
		return math.MaxInt64
	case *order <= math.MinInt64:
		return math.MinInt64
	}
	return int64(*order)
}

func categoryOrDefault(category string) string {
	if category == "" {
		return model.DefaultCategory
	}
	return category
}

// storeErr passes not-found through and wraps anything else as a store failure.
func storeErr(op string, err error) error {
	if errors.Is(err, model.ErrTaskNotFound) {
		return model.ErrTaskNotFound
	}
	return model.StoreFailure(op, err)
}
