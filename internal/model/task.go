package model

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Status is the completion state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Toggled returns the opposite status. Anything that is not completed
// counts as pending.
func (s Status) Toggled() Status {
	if s == StatusCompleted {
		return StatusPending
	}
	return StatusCompleted
}

const (
	// MaxTextLength is the maximum task text length in code points.
	MaxTextLength = 100

	// DefaultCategory is used when a task is created without a category.
	DefaultCategory = "Personal"
)

// Categories is the label set offered to clients. The server does not
// validate against it.
var Categories = []string{"Work", "School", "Personal", "Shopping", "Home things"}

// Task represents a todo item owned by a single user.
type Task struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	Status          Status    `json:"status"`
	Deadline        string    `json:"deadline"`
	Category        string    `json:"category"`
	OwnerID         string    `json:"ownerId"`
	Order           *int64    `json:"order,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	CreatedAtClient *int64    `json:"createdAtClient,omitempty"`
}

// Rank is a single order assignment produced by a reorder.
type Rank struct {
	ID    string
	Order int64
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Text     string   `json:"text"`
	Deadline string   `json:"deadline,omitempty"`
	Category string   `json:"category,omitempty"`
	OwnerID  string   `json:"ownerId,omitempty"`
	UID      string   `json:"uid,omitempty"`
	Order    *float64 `json:"order,omitempty"`
}

// Owner returns the owner identity, preferring ownerId over the legacy uid field.
func (r *CreateTaskRequest) Owner() string {
	if r.OwnerID != "" {
		return r.OwnerID
	}
	return r.UID
}

// Validate checks if the CreateTaskRequest is valid.
func (r *CreateTaskRequest) Validate() error {
	if r.Owner() == "" {
		return ErrOwnerRequired
	}
	return ValidateText(r.Text)
}

// OfflineTaskInput is a task created on a client while disconnected.
type OfflineTaskInput struct {
	Text            string   `json:"text"`
	Deadline        string   `json:"deadline,omitempty"`
	Category        string   `json:"category,omitempty"`
	Order           *float64 `json:"order,omitempty"`
	CreatedAtClient int64    `json:"createdAtClient,omitempty"`
}

// ReorderRequest represents the request body for a manual reorder.
type ReorderRequest struct {
	OrderedIDs []string `json:"orderedIds"`
}

// SyncRequest represents the request body for importing offline tasks.
type SyncRequest struct {
	Tasks []OfflineTaskInput `json:"tasks"`
}

// Response envelopes. Every body carries Success.
type (
	ListResponse struct {
		Success bool   `json:"success"`
		Tasks   []Task `json:"tasks"`
	}

	CreateResponse struct {
		Success bool   `json:"success"`
		ID      string `json:"id"`
	}

	ToggleResponse struct {
		Success bool   `json:"success"`
		Status  Status `json:"status"`
	}

	SyncResponse struct {
		Success    bool     `json:"success"`
		CreatedIDs []string `json:"createdIds"`
	}

	StatusResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message,omitempty"`
	}
)

// NormalizeText trims surrounding whitespace.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// ValidateText checks the trimmed text against the length rules.
func ValidateText(text string) error {
	t := NormalizeText(text)
	if t == "" {
		return ErrTextEmpty
	}
	if utf8.RuneCountInString(t) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}
