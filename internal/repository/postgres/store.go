// Package postgres stores tasks in PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/go-todo/internal/repository/postgres")

const taskColumns = `id, text, status, deadline, category, owner_id, "order", created_at, created_at_client`

// Store is a PostgreSQL-backed task store.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// New creates a Store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for the given connection string and checks it.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureTable creates the tasks table if it doesn't exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id                TEXT PRIMARY KEY,
			text              TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'pending',
			deadline          TEXT NOT NULL DEFAULT '',
			category          TEXT NOT NULL DEFAULT 'Personal',
			owner_id          TEXT NOT NULL,
			"order"           BIGINT,
			created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at_client BIGINT
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_owner ON tasks(owner_id)`)
	return err
}

// Insert stores a single task.
func (s *Store) Insert(ctx context.Context, task *model.Task) error {
	ctx, span := tracer.Start(ctx, "postgres.Insert",
		trace.WithAttributes(attribute.String("task.owner", task.OwnerID)),
	)
	defer span.End()

	prepare(task, time.Now())
	if _, err := s.pool.Exec(ctx, insertSQL, insertArgs(task)...); err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	span.SetAttributes(attribute.String("task.id", task.ID))
	return nil
}

// InsertBatch stores all tasks in one transaction.
func (s *Store) InsertBatch(ctx context.Context, tasks []*model.Task) error {
	ctx, span := tracer.Start(ctx, "postgres.InsertBatch",
		trace.WithAttributes(attribute.Int("task.count", len(tasks))),
	)
	defer span.End()

	now := time.Now()
	return s.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i, task := range tasks {
			prepare(task, now.Add(time.Duration(i)*time.Microsecond))
			batch.Queue(insertSQL, insertArgs(task)...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return nil
	})
}

// Get retrieves a single task by ID.
func (s *Store) Get(ctx context.Context, id string) (*model.Task, error) {
	ctx, span := tracer.Start(ctx, "postgres.Get",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrTaskNotFound
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return &task, nil
}

// FindByOwner returns every task owned by ownerID.
func (s *Store) FindByOwner(ctx context.Context, ownerID string) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "postgres.FindByOwner",
		trace.WithAttributes(attribute.String("task.owner", ownerID)),
	)
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE owner_id = $1 ORDER BY created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]model.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// UpdateStatus sets a task status.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.Status) error {
	ctx, span := tracer.Start(ctx, "postgres.UpdateStatus",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `UPDATE tasks SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return fmt.Errorf("update status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// UpdateOrders rewrites the order column for every rank in one transaction.
func (s *Store) UpdateOrders(ctx context.Context, ranks []model.Rank) error {
	ctx, span := tracer.Start(ctx, "postgres.UpdateOrders",
		trace.WithAttributes(attribute.Int("task.count", len(ranks))),
	)
	defer span.End()

	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, rank := range ranks {
			tag, err := tx.Exec(ctx, `UPDATE tasks SET "order" = $1 WHERE id = $2`, rank.Order, rank.ID)
			if err != nil {
				return fmt.Errorf("update order %s: %w", rank.ID, err)
			}
			if tag.RowsAffected() == 0 {
				return model.ErrTaskNotFound
			}
		}
		return nil
	})
}

// Delete removes a task.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "postgres.Delete",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// Count returns total task count.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n)
	return n, err
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const insertSQL = `INSERT INTO tasks (` + taskColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func prepare(task *model.Task, now time.Time) {
	task.ID = repository.NewID()
	task.CreatedAt = now.UTC().Truncate(time.Microsecond)
}

func insertArgs(t *model.Task) []any {
	return []any{t.ID, t.Text, string(t.Status), t.Deadline, t.Category, t.OwnerID, t.Order, t.CreatedAt, t.CreatedAtClient}
}

func scanTask(row pgx.Row) (model.Task, error) {
	var t model.Task
	var status string
	err := row.Scan(&t.ID, &t.Text, &status, &t.Deadline, &t.Category, &t.OwnerID, &t.Order, &t.CreatedAt, &t.CreatedAtClient)
	t.Status = model.Status(status)
	return t, err
}
