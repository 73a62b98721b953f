package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-todo/internal/repository")

// TaskRepository provides an in-memory storage for tasks.
type TaskRepository struct {
	mu       sync.RWMutex
	tasks    map[string]*model.Task
	sequence []string
	lastTime time.Time
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository() *TaskRepository {
	return &TaskRepository{
		tasks: make(map[string]*model.Task),
	}
}

var _ Store = (*TaskRepository)(nil)

// Insert adds a new task to the repository.
func (r *TaskRepository) Insert(ctx context.Context, task *model.Task) error {
	_, span := tracer.Start(ctx, "TaskRepository.Insert",
		trace.WithAttributes(attribute.String("task.owner", task.OwnerID)),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.insertLocked(task)

	span.SetAttributes(attribute.String("task.id", task.ID))
	return nil
}

// InsertBatch adds all tasks under a single lock.
func (r *TaskRepository) InsertBatch(ctx context.Context, tasks []*model.Task) error {
	_, span := tracer.Start(ctx, "TaskRepository.InsertBatch",
		trace.WithAttributes(attribute.Int("task.count", len(tasks))),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, task := range tasks {
		r.insertLocked(task)
	}
	return nil
}

func (r *TaskRepository) insertLocked(task *model.Task) {
	task.ID = NewID()
	task.CreatedAt = r.nextTimeLocked()

	stored := cloneTask(*task)
	r.tasks[task.ID] = &stored
	r.sequence = append(r.sequence, task.ID)
}

// nextTimeLocked keeps CreatedAt strictly increasing.
func (r *TaskRepository) nextTimeLocked() time.Time {
	now := time.Now().UTC()
	if !now.After(r.lastTime) {
		now = r.lastTime.Add(time.Microsecond)
	}
	r.lastTime = now
	return now
}

// Get retrieves a task by its ID.
func (r *TaskRepository) Get(ctx context.Context, id string) (*model.Task, error) {
	_, span := tracer.Start(ctx, "TaskRepository.Get",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	if !ok {
		span.SetAttributes(attribute.Bool("task.found", false))
		return nil, model.ErrTaskNotFound
	}

	span.SetAttributes(attribute.Bool("task.found", true))
	out := cloneTask(*task)
	return &out, nil
}

// FindByOwner returns the owner's tasks in insertion order.
func (r *TaskRepository) FindByOwner(ctx context.Context, ownerID string) ([]model.Task, error) {
	_, span := tracer.Start(ctx, "TaskRepository.FindByOwner",
		trace.WithAttributes(attribute.String("task.owner", ownerID)),
	)
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0)
	for _, id := range r.sequence {
		task, ok := r.tasks[id]
		if !ok || task.OwnerID != ownerID {
			continue
		}
		tasks = append(tasks, cloneTask(*task))
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// UpdateStatus sets the status of an existing task.
func (r *TaskRepository) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	_, span := tracer.Start(ctx, "TaskRepository.UpdateStatus",
		trace.WithAttributes(
			attribute.String("task.id", id),
			attribute.String("task.status", string(status)),
		),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	if !ok {
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrTaskNotFound
	}

	task.Status = status
	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// UpdateOrders rewrites the order of every ranked task. Nothing is written
// unless all ids exist.
func (r *TaskRepository) UpdateOrders(ctx context.Context, ranks []model.Rank) error {
	_, span := tracer.Start(ctx, "TaskRepository.UpdateOrders",
		trace.WithAttributes(attribute.Int("task.count", len(ranks))),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rank := range ranks {
		if _, ok := r.tasks[rank.ID]; !ok {
			return model.ErrTaskNotFound
		}
	}
	for _, rank := range ranks {
		order := rank.Order
		r.tasks[rank.ID].Order = &order
	}
	return nil
}

// Delete removes a task from the repository.
func (r *TaskRepository) Delete(ctx context.Context, id string) error {
	_, span := tracer.Start(ctx, "TaskRepository.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[id]; !ok {
		span.SetAttributes(attribute.Bool("task.found", false))
		return model.ErrTaskNotFound
	}

	delete(r.tasks, id)
	for i, seqID := range r.sequence {
		if seqID == id {
			r.sequence = append(r.sequence[:i], r.sequence[i+1:]...)
			break
		}
	}
	span.SetAttributes(attribute.Bool("task.found", true))
	return nil
}

// Count returns the current number of tasks.
func (r *TaskRepository) Count(ctx context.Context) (int64, error) {
	_, span := tracer.Start(ctx, "TaskRepository.Count")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	n := int64(len(r.tasks))
	span.SetAttributes(attribute.Int64("task.count", n))
	return n, nil
}

func cloneTask(t model.Task) model.Task {
	out := t
	if t.Order != nil {
		order := *t.Order
		out.Order = &order
	}
	if t.CreatedAtClient != nil {
		created := *t.CreatedAtClient
		out.CreatedAtClient = &created
	}
	return out
}
