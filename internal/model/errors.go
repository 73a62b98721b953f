package model

// ErrorKind classifies a TaskError. Handlers map kinds to status codes.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindForbidden
	KindNotFound
	KindStore
)

// TaskError represents a domain error for tasks.
type TaskError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e TaskError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e TaskError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the same error. A target without a message
// matches every error of its kind.
func (e TaskError) Is(target error) bool {
	t, ok := target.(TaskError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Message == "" || t.Message == e.Message
}

// Kind sentinels, for errors.Is checks by category.
var (
	ErrValidation = TaskError{Kind: KindValidation}
	ErrForbidden  = TaskError{Kind: KindForbidden}
	ErrNotFound   = TaskError{Kind: KindNotFound}
	ErrStore      = TaskError{Kind: KindStore}
)

var (
	ErrTaskNotFound     = TaskError{Kind: KindNotFound, Message: "task not found"}
	ErrTaskForbidden    = TaskError{Kind: KindForbidden, Message: "forbidden"}
	ErrOwnerRequired    = TaskError{Kind: KindValidation, Message: "missing ownerId"}
	ErrTextEmpty        = TaskError{Kind: KindValidation, Message: "task text cannot be empty"}
	ErrTextTooLong      = TaskError{Kind: KindValidation, Message: "task text exceeds 100 characters"}
	ErrEmptyOrder       = TaskError{Kind: KindValidation, Message: "orderedIds must be a non-empty array"}
	ErrInvalidOrder     = TaskError{Kind: KindValidation, Message: "orderedIds must hold distinct non-empty ids"}
	ErrEmptySync        = TaskError{Kind: KindValidation, Message: "tasks must be a non-empty array"}
	ErrInvalidBody      = TaskError{Kind: KindValidation, Message: "invalid request body"}
	ErrIdentityMismatch = TaskError{Kind: KindForbidden, Message: "identity does not match ownerId"}
)

// StoreFailure wraps a backing-store error.
func StoreFailure(op string, err error) error {
	return TaskError{Kind: KindStore, Message: op, Err: err}
}

// Invalid builds a validation error with a custom message.
func Invalid(message string) error {
	return TaskError{Kind: KindValidation, Message: message}
}
