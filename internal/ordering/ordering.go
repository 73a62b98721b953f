// Package ordering derives the visible task list from filter and sort
// settings and applies drag moves to it.
package ordering

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/hiroki-koketsu/go-todo/internal/model"
)

// Filter selects tasks by status.
type Filter string

const (
	FilterAll       Filter = "all"
	FilterPending   Filter = "pending"
	FilterCompleted Filter = "completed"
)

// SortMode selects how the visible list is ordered.
type SortMode string

const (
	SortManual    SortMode = "manual"
	SortCreatedAt SortMode = "createdAt"
	SortDeadline  SortMode = "deadline"
)

// unranked places tasks without a manual order after every ranked task.
const unranked = math.MaxInt64

// ParseFilter returns the filter named by s.
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(s); f {
	case FilterAll, FilterPending, FilterCompleted:
		return f, nil
	case "":
		return FilterAll, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

// ParseSortMode returns the sort mode named by s.
func ParseSortMode(s string) (SortMode, error) {
	switch m := SortMode(s); m {
	case SortManual, SortCreatedAt, SortDeadline:
		return m, nil
	case "":
		return SortManual, nil
	}
	return "", fmt.Errorf("unknown sort mode %q", s)
}

// Visible returns a new slice holding the tasks that pass the filter, in
// display order. The input is not modified. Ties keep their input order.
func Visible(tasks []model.Task, filter Filter, mode SortMode) []model.Task {
	out := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		if matches(t, filter) {
			out = append(out, t)
		}
	}

	slices.SortStableFunc(out, func(a, b model.Task) int {
		return cmp.Compare(rank(a), rank(b))
	})

	switch mode {
	case SortCreatedAt:
		slices.SortStableFunc(out, func(a, b model.Task) int {
			return createdAt(b).Compare(createdAt(a))
		})
	case SortDeadline:
		slices.SortStableFunc(out, func(a, b model.Task) int {
			switch {
			case a.Deadline == b.Deadline:
				return 0
			case a.Deadline == "":
				return 1
			case b.Deadline == "":
				return -1
			case a.Deadline < b.Deadline:
				return -1
			default:
				return 1
			}
		})
	}
	return out
}

// IDs returns the ids of tasks in order.
func IDs(tasks []model.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

// Move returns a copy of list with the element at from moved to index to.
// It reports false when either index is out of range.
func Move[T any](list []T, from, to int) ([]T, bool) {
	if from < 0 || from >= len(list) || to < 0 || to >= len(list) {
		return nil, false
	}
	out := slices.Clone(list)
	item := out[from]
	out = slices.Delete(out, from, from+1)
	out = slices.Insert(out, to, item)
	return out, true
}

// Counts returns the number of pending and completed tasks.
func Counts(tasks []model.Task) (pending, completed int) {
	for _, t := range tasks {
		if t.Status == model.StatusCompleted {
			completed++
		} else {
			pending++
		}
	}
	return pending, completed
}

func matches(t model.Task, filter Filter) bool {
	switch filter {
	case FilterPending:
		return t.Status != model.StatusCompleted
	case FilterCompleted:
		return t.Status == model.StatusCompleted
	default:
		return true
	}
}

func rank(t model.Task) int64 {
	if t.Order == nil {
		return unranked
	}
	return *t.Order
}

// createdAt falls back to the client timestamp for tasks that were never
// confirmed by the server.
func createdAt(t model.Task) time.Time {
	if t.CreatedAt.IsZero() && t.CreatedAtClient != nil {
		return time.UnixMilli(*t.CreatedAtClient)
	}
	return t.CreatedAt
}
