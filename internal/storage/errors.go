package storage

import (
	"errors"
	"fmt"

	"catalogimport/internal/model"
)

var (
	// ErrNotFound is returned when a product or upload does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrUnknownKind is returned by New for an unregistered backend.
	ErrUnknownKind = errors.New("storage: unknown kind")

	// ErrDuplicate wraps a unique-constraint violation on insert.
	ErrDuplicate = errors.New("storage: duplicate key")

	// ErrInvalidTransition is matched by every *TransitionError.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// WriteError is a failed product upsert. It is row-scoped.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("upsert %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// TransitionError reports a status change the current status does not allow.
type TransitionError struct {
	ID   string
	From model.Status
	To   model.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("upload %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
