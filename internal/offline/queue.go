// Package offline buffers tasks created without connectivity and replays
// them to the server in one batch.
package offline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
)

// Entry is a queued task keyed by its local id.
type Entry struct {
	LocalID int64
	Task    model.OfflineTaskInput
}

// Storage persists queued entries. Implementations must be durable across
// process restarts unless they are meant for tests.
type Storage interface {
	Put(ctx context.Context, e Entry) error
	All(ctx context.Context) ([]Entry, error)
	Remove(ctx context.Context, localIDs []int64) error
}

// Syncer imports a batch of offline tasks for an owner.
type Syncer interface {
	SyncImport(ctx context.Context, ownerID string, tasks []model.OfflineTaskInput) ([]string, error)
}

// Queue is the offline buffer. An entry stays queued until a sync that
// includes it succeeds; there is no retry scheduling.
type Queue struct {
	storage Storage
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	last int64
}

// NewQueue creates a Queue over storage.
func NewQueue(storage Storage, logger *slog.Logger) *Queue {
	return &Queue{
		storage: storage,
		logger:  logger,
		now:     time.Now,
	}
}

// Enqueue stores task locally and returns its local id. The client timestamp
// is assigned when absent and doubles as the key, bumped forward when two
// entries land in the same millisecond.
func (q *Queue) Enqueue(ctx context.Context, task model.OfflineTaskInput) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if task.CreatedAtClient == 0 {
		task.CreatedAtClient = q.now().UnixMilli()
	}
	key := task.CreatedAtClient
	if key <= q.last {
		key = q.last + 1
	}
	q.last = key

	e := Entry{LocalID: key, Task: task}
	if err := q.storage.Put(ctx, e); err != nil {
		return e, fmt.Errorf("queue offline task: %w", err)
	}
	q.logger.InfoContext(ctx, "task queued offline", slog.Int64("local_id", key))
	return e, nil
}

// Pending returns every queued entry.
func (q *Queue) Pending(ctx context.Context) ([]Entry, error) {
	return q.storage.All(ctx)
}

// Drain sends every queued entry in one SyncImport call. On success all
// drained entries are removed; on failure none are. An empty queue is a
// no-op returning nil ids.
func (q *Queue) Drain(ctx context.Context, ownerID string, syncer Syncer) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := q.storage.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read offline queue: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	batch := make([]model.OfflineTaskInput, len(entries))
	keys := make([]int64, len(entries))
	for i, e := range entries {
		batch[i] = e.Task
		keys[i] = e.LocalID
	}

	ids, err := syncer.SyncImport(ctx, ownerID, batch)
	if err != nil {
		q.logger.WarnContext(ctx, "offline sync failed", slog.Int("queued", len(entries)), slog.Any("error", err))
		return nil, fmt.Errorf("upload %d queued tasks: %w", len(entries), err)
	}

	if err := q.storage.Remove(ctx, keys); err != nil {
		return ids, fmt.Errorf("clear synced tasks: %w", err)
	}
	q.logger.InfoContext(ctx, "offline tasks synced", slog.Int("count", len(ids)))
	return ids, nil
}

// Edge turns connectivity samples into drain triggers. It fires once per
// offline to online transition while a user is signed in.
type Edge struct {
	mu     sync.Mutex
	online bool
}

// NewEdge starts from the given connectivity state.
func NewEdge(online bool) *Edge {
	return &Edge{online: online}
}

// Observe records the current connectivity and reports whether a drain
// should run now.
func (e *Edge) Observe(online, authenticated bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	fire := online && !e.online && authenticated
	e.online = online
	return fire
}

// Online returns the last observed connectivity.
func (e *Edge) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}
