package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/go-todo/internal/model"
)

// Store is the document store contract the task service is written against.
// Implementations assign ID and CreatedAt on insert. Batch methods are
// atomic: either every document is written or none is.
type Store interface {
	FindByOwner(ctx context.Context, ownerID string) ([]model.Task, error)
	Get(ctx context.Context, id string) (*model.Task, error)
	Insert(ctx context.Context, task *model.Task) error
	InsertBatch(ctx context.Context, tasks []*model.Task) error
	UpdateStatus(ctx context.Context, id string, status model.Status) error
	UpdateOrders(ctx context.Context, ranks []model.Rank) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

// NewID returns a time-ordered task id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
