// Package session drives a signed-in user's board: it calls the API when
// online, buffers new tasks when not, and replays the buffer when
// connectivity returns.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/board"
	"github.com/hiroki-koketsu/go-todo/internal/client"
	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/offline"
	"github.com/hiroki-koketsu/go-todo/internal/ordering"
	"github.com/jaevor/go-nanoid"
)

// DragWarningTTL is how long a drop-outside warning stays visible.
const DragWarningTTL = 10 * time.Second

var (
	ErrOfflineReorder = errors.New("you're offline: the new order is only kept on this device")
	ErrNotPersisted   = errors.New("task could not be saved on this device")
	ErrSignedOut      = errors.New("no user is signed in")
)

// API is the subset of the task API the session uses.
type API interface {
	List(ctx context.Context, ownerID string) ([]model.Task, error)
	Create(ctx context.Context, req model.CreateTaskRequest) (string, error)
	ToggleStatus(ctx context.Context, id, ownerID string) (model.Status, error)
	Delete(ctx context.Context, id, ownerID string) error
	Reorder(ctx context.Context, ownerID string, orderedIDs []string) error
	SyncImport(ctx context.Context, ownerID string, tasks []model.OfflineTaskInput) ([]string, error)
}

// Notice is a short message for the user.
type Notice struct {
	Warning bool
	Message string
}

// Session is the client controller for one owner.
type Session struct {
	api     API
	queue   *offline.Queue
	edge    *offline.Edge
	ownerID string
	logger  *slog.Logger
	now     func() time.Time
	localID func() string

	mu       sync.Mutex
	board    board.Snapshot
	notices  []Notice
	warnings map[string]time.Time
	// reconcile is set after a drain until a list load replaces the
	// drained local-only items.
	reconcile bool
}

// New creates a session for ownerID. online is the connectivity at start.
func New(api API, queue *offline.Queue, ownerID string, online bool, logger *slog.Logger) (*Session, error) {
	gen, err := nanoid.Standard(21)
	if err != nil {
		return nil, fmt.Errorf("create id generator: %w", err)
	}
	return &Session{
		api:      api,
		queue:    queue,
		edge:     offline.NewEdge(online),
		ownerID:  ownerID,
		logger:   logger,
		now:      time.Now,
		localID:  func() string { return "local-" + gen() },
		board:    board.New(),
		warnings: make(map[string]time.Time),
	}, nil
}

// Online reports the last known connectivity.
func (s *Session) Online() bool { return s.edge.Online() }

// Start replays anything left in the offline buffer and loads the board.
// Offline sessions only show what is buffered locally. A failed replay
// still loads the server's tasks; both errors are returned.
func (s *Session) Start(ctx context.Context) error {
	if s.ownerID == "" {
		return ErrSignedOut
	}
	if err := s.loadLocal(ctx); err != nil {
		s.notify(true, err.Error())
	}
	if !s.Online() {
		return nil
	}
	return s.syncAndRefresh(ctx)
}

// Refresh reloads the confirmed tasks from the server. The first load
// after a drain also drops the local-only copies of the drained tasks.
func (s *Session) Refresh(ctx context.Context) error {
	tasks, err := s.api.List(ctx, s.ownerID)
	if err != nil {
		return s.failed(ctx, "load tasks", err)
	}

	s.mu.Lock()
	reconcile := s.reconcile
	s.reconcile = false
	if reconcile {
		s.board = s.board.Reconcile(tasks)
	} else {
		s.board = s.board.Reload(tasks)
	}
	s.mu.Unlock()

	if reconcile {
		// entries buffered after the drain are still local-only
		if err := s.loadLocal(ctx); err != nil {
			s.notify(true, err.Error())
		}
	}
	return nil
}

// Add creates a task. Offline, or when the server can't be reached, the
// task goes to the offline buffer and shows up as local-only.
func (s *Session) Add(ctx context.Context, text, deadline, category string) error {
	if s.ownerID == "" {
		return ErrSignedOut
	}
	if err := model.ValidateText(text); err != nil {
		s.notify(false, err.Error())
		return err
	}
	text = model.NormalizeText(text)
	if category == "" {
		category = model.DefaultCategory
	}

	if s.Online() {
		_, err := s.api.Create(ctx, model.CreateTaskRequest{
			Text:     text,
			Deadline: deadline,
			Category: category,
			OwnerID:  s.ownerID,
		})
		if err == nil {
			return s.Refresh(ctx)
		}
		if !errors.Is(err, client.ErrUnreachable) {
			return s.failed(ctx, "add task", err)
		}
		s.edge.Observe(false, true)
	}
	return s.addOffline(ctx, text, deadline, category)
}

func (s *Session) addOffline(ctx context.Context, text, deadline, category string) error {
	stamp := s.now().UnixMilli()
	order := float64(stamp)
	entry, err := s.queue.Enqueue(ctx, model.OfflineTaskInput{
		Text:            text,
		Deadline:        deadline,
		Category:        category,
		Order:           &order,
		CreatedAtClient: stamp,
	})

	task := localTask(s.localID(), s.ownerID, entry.Task)
	s.update(func(b board.Snapshot) board.Snapshot { return b.AddLocal(task) })

	if err != nil {
		s.logger.ErrorContext(ctx, "offline save failed", slog.Any("error", err))
		s.notify(true, ErrNotPersisted.Error())
		return fmt.Errorf("%w: %w", ErrNotPersisted, err)
	}
	s.notify(false, "saved offline, will sync when you're back online")
	return nil
}

// Toggle flips a confirmed task's status.
func (s *Session) Toggle(ctx context.Context, id string) error {
	if err := s.guard(id); err != nil {
		return err
	}
	if _, err := s.api.ToggleStatus(ctx, id, s.ownerID); err != nil {
		return s.failed(ctx, "toggle task", err)
	}
	return s.Refresh(ctx)
}

// Delete removes a confirmed task.
func (s *Session) Delete(ctx context.Context, id string) error {
	if err := s.guard(id); err != nil {
		return err
	}
	if err := s.api.Delete(ctx, id, s.ownerID); err != nil {
		return s.failed(ctx, "delete task", err)
	}
	return s.Refresh(ctx)
}

// SetFilter changes which tasks are visible.
func (s *Session) SetFilter(f ordering.Filter) {
	s.update(func(b board.Snapshot) board.Snapshot { return b.WithFilter(f) })
}

// SetSort changes the visible order.
func (s *Session) SetSort(mode ordering.SortMode) {
	s.update(func(b board.Snapshot) board.Snapshot { return b.WithSort(mode) })
}

// Drop applies a drag of the visible task at from. A drop with no
// destination only raises a short-lived warning for the dragged task. Drops
// outside manual mode are ignored. The local order changes immediately;
// offline, the new order is not sent and ErrOfflineReorder is returned.
func (s *Session) Drop(ctx context.Context, from int, to *int) error {
	snap := s.snapshot()
	if snap.Sort() != ordering.SortManual {
		return nil
	}
	visible := snap.Visible()
	if from < 0 || from >= len(visible) {
		return nil
	}
	if to == nil {
		s.mu.Lock()
		s.warnings[visible[from].ID] = s.now().Add(DragWarningTTL)
		s.mu.Unlock()
		return nil
	}

	var ids []string
	var moved bool
	s.update(func(b board.Snapshot) board.Snapshot {
		next, order, ok := b.Drop(from, *to)
		ids, moved = b.Confirmed(order), ok
		return next
	})
	if !moved {
		return nil
	}

	if !s.Online() {
		s.notify(true, ErrOfflineReorder.Error())
		return ErrOfflineReorder
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.api.Reorder(ctx, s.ownerID, ids); err != nil {
		return s.failed(ctx, "reorder tasks", err)
	}
	return nil
}

// SetOnline records a connectivity sample. Going from offline to online
// replays the offline buffer once.
func (s *Session) SetOnline(ctx context.Context, online bool) error {
	if !s.edge.Observe(online, s.ownerID != "") {
		return nil
	}
	s.logger.InfoContext(ctx, "back online, syncing offline tasks")
	return s.syncAndRefresh(ctx)
}

// Sync replays the offline buffer. On success local-only tasks are replaced
// by the server's copies.
func (s *Session) Sync(ctx context.Context) error {
	n, err := s.drain(ctx)
	if err != nil || n == 0 {
		return err
	}
	return s.Refresh(ctx)
}

func (s *Session) syncAndRefresh(ctx context.Context) error {
	_, syncErr := s.drain(ctx)
	return errors.Join(syncErr, s.Refresh(ctx))
}

// drain sends the offline buffer and marks the board for reconciliation.
func (s *Session) drain(ctx context.Context) (int, error) {
	if s.ownerID == "" {
		return 0, ErrSignedOut
	}
	ids, err := s.queue.Drain(ctx, s.ownerID, s.api)
	if len(ids) > 0 {
		s.mu.Lock()
		s.reconcile = true
		s.mu.Unlock()
	}
	if err != nil {
		return len(ids), s.failed(ctx, "offline replay", err)
	}
	if len(ids) > 0 {
		s.notify(false, fmt.Sprintf("synced %d offline task(s)", len(ids)))
	}
	return len(ids), nil
}

// Visible returns the board's visible items.
func (s *Session) Visible() []board.Item {
	return s.snapshot().Visible()
}

// Counts returns the number of pending and completed tasks.
func (s *Session) Counts() (pending, completed int) {
	return s.snapshot().Counts()
}

// Board returns the current snapshot.
func (s *Session) Board() board.Snapshot {
	return s.snapshot()
}

// DragWarning reports whether a drop-outside warning is active for id.
func (s *Session) DragWarning(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.warnings[id]
	if !ok {
		return false
	}
	if !s.now().Before(until) {
		delete(s.warnings, id)
		return false
	}
	return true
}

// Notices returns and clears pending notices.
func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

func (s *Session) loadLocal(ctx context.Context) error {
	entries, err := s.queue.Pending(ctx)
	if err != nil {
		return fmt.Errorf("read offline tasks: %w", err)
	}
	s.update(func(b board.Snapshot) board.Snapshot {
		for _, e := range entries {
			b = b.AddLocal(localTask(s.localID(), s.ownerID, e.Task))
		}
		return b
	})
	return nil
}

func (s *Session) guard(id string) error {
	if err := s.snapshot().Mutable(id); err != nil {
		s.notify(true, err.Error())
		return err
	}
	return nil
}

// failed logs err, records a notice and marks the session offline when the
// server could not be reached.
func (s *Session) failed(ctx context.Context, op string, err error) error {
	if errors.Is(err, client.ErrUnreachable) {
		s.edge.Observe(false, s.ownerID != "")
	}
	s.logger.WarnContext(ctx, op+" failed", slog.Any("error", err))
	s.notify(true, op+": "+userMessage(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Session) notify(warning bool, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, Notice{Warning: warning, Message: msg})
}

func (s *Session) snapshot() board.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board
}

func (s *Session) update(fn func(board.Snapshot) board.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = fn(s.board)
}

func userMessage(err error) string {
	var te model.TaskError
	switch {
	case errors.Is(err, client.ErrUnreachable):
		return "server unreachable"
	case errors.As(err, &te):
		return te.Message
	default:
		return err.Error()
	}
}

func localTask(id, ownerID string, in model.OfflineTaskInput) model.Task {
	stamp := in.CreatedAtClient
	t := model.Task{
		ID:              id,
		Text:            in.Text,
		Status:          model.StatusPending,
		Deadline:        in.Deadline,
		Category:        in.Category,
		OwnerID:         ownerID,
		CreatedAtClient: &stamp,
	}
	if in.Order != nil {
		order := int64(*in.Order)
		t.Order = &order
	}
	return t
}
