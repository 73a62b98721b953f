// Package board holds the client's view of a user's tasks as an immutable
// snapshot. Every transition returns a new Snapshot.
package board

import (
	"errors"
	"slices"

	"github.com/hiroki-koketsu/go-todo/internal/model"
	"github.com/hiroki-koketsu/go-todo/internal/ordering"
)

// Provenance records where a task on the board came from.
type Provenance int

const (
	// Confirmed tasks were returned by the server.
	Confirmed Provenance = iota
	// LocalOnly tasks were created offline and are waiting in the queue.
	LocalOnly
)

func (p Provenance) String() string {
	if p == LocalOnly {
		return "local-only"
	}
	return "confirmed"
}

var (
	ErrLocalOnly   = errors.New("task was saved offline and can't be changed until it syncs")
	ErrUnknownTask = errors.New("task is not on the board")
)

// Item is a task together with its provenance.
type Item struct {
	model.Task
	Provenance Provenance
}

// Snapshot is an immutable board state.
type Snapshot struct {
	items  []Item
	filter ordering.Filter
	sort   ordering.SortMode
}

// New returns an empty board showing all tasks in manual order.
func New() Snapshot {
	return Snapshot{filter: ordering.FilterAll, sort: ordering.SortManual}
}

// Filter returns the active filter.
func (s Snapshot) Filter() ordering.Filter { return s.filter }

// Sort returns the active sort mode.
func (s Snapshot) Sort() ordering.SortMode { return s.sort }

// WithFilter returns s showing only tasks that pass f.
func (s Snapshot) WithFilter(f ordering.Filter) Snapshot {
	s.items = slices.Clone(s.items)
	s.filter = f
	return s
}

// WithSort returns s ordered by mode.
func (s Snapshot) WithSort(mode ordering.SortMode) Snapshot {
	s.items = slices.Clone(s.items)
	s.sort = mode
	return s
}

// Reload replaces the confirmed tasks with tasks. Local-only tasks stay
// until Reconcile.
func (s Snapshot) Reload(tasks []model.Task) Snapshot {
	items := make([]Item, 0, len(tasks)+len(s.items))
	for _, t := range tasks {
		items = append(items, Item{Task: t, Provenance: Confirmed})
	}
	for _, it := range s.items {
		if it.Provenance == LocalOnly {
			items = append(items, it)
		}
	}
	s.items = items
	return s
}

// Reconcile replaces the whole board with server tasks, dropping every
// local-only task. Use it after a successful sync.
func (s Snapshot) Reconcile(tasks []model.Task) Snapshot {
	s.items = nil
	return s.Reload(tasks)
}

// AddLocal appends an offline task.
func (s Snapshot) AddLocal(t model.Task) Snapshot {
	items := make([]Item, len(s.items), len(s.items)+1)
	copy(items, s.items)
	s.items = append(items, Item{Task: t, Provenance: LocalOnly})
	return s
}

// Mutable reports whether the task may be toggled or deleted.
func (s Snapshot) Mutable(id string) error {
	for _, it := range s.items {
		if it.ID != id {
			continue
		}
		if it.Provenance == LocalOnly {
			return ErrLocalOnly
		}
		return nil
	}
	return ErrUnknownTask
}

// Len returns the number of tasks on the board.
func (s Snapshot) Len() int { return len(s.items) }

// Tasks returns every task on the board, in board order.
func (s Snapshot) Tasks() []model.Task {
	out := make([]model.Task, len(s.items))
	for i, it := range s.items {
		out[i] = it.Task
	}
	return out
}

// Visible returns the filtered, sorted items.
func (s Snapshot) Visible() []Item {
	prov := make(map[string]Provenance, len(s.items))
	for _, it := range s.items {
		prov[it.ID] = it.Provenance
	}
	tasks := ordering.Visible(s.Tasks(), s.filter, s.sort)
	out := make([]Item, len(tasks))
	for i, t := range tasks {
		out[i] = Item{Task: t, Provenance: prov[t.ID]}
	}
	return out
}

// Counts returns the number of pending and completed tasks.
func (s Snapshot) Counts() (pending, completed int) {
	return ordering.Counts(s.Tasks())
}

// Drop moves the visible task at from to index to and renumbers the visible
// tasks 1..N. It returns the new snapshot and the visible ids in their new
// order. Drops outside manual mode or out of range leave s unchanged and
// report false.
func (s Snapshot) Drop(from, to int) (Snapshot, []string, bool) {
	if s.sort != ordering.SortManual {
		return s, nil, false
	}
	visible := s.Visible()
	moved, ok := ordering.Move(visible, from, to)
	if !ok {
		return s, nil, false
	}

	ids := make([]string, len(moved))
	rank := make(map[string]int64, len(moved))
	for i, it := range moved {
		ids[i] = it.ID
		rank[it.ID] = int64(i + 1)
	}

	items := slices.Clone(s.items)
	for i := range items {
		if r, ok := rank[items[i].ID]; ok {
			items[i].Order = &r
		}
	}
	s.items = items
	return s, ids, true
}

// Confirmed filters ids down to the ones the server knows about.
func (s Snapshot) Confirmed(ids []string) []string {
	local := make(map[string]bool)
	for _, it := range s.items {
		if it.Provenance == LocalOnly {
			local[it.ID] = true
		}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !local[id] {
			out = append(out, id)
		}
	}
	return out
}
