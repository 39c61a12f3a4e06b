package ingest

import (
	"errors"
	"fmt"

	"catalogimport/internal/model"
	"catalogimport/internal/storage"
)

// ErrAlreadyClaimed means the job was not pending when a run tried to move it
// to processing: another run owns it, or it already finished. The run did
// nothing and left the staged file alone.
var ErrAlreadyClaimed = errors.New("upload already claimed")

// RunError is a fatal run failure. Except for Op "claim", the job has been
// (or is being) marked failed and the staged file is removed.
type RunError struct {
	JobID string
	Op    string // "load", "claim", "open", "read", "write", "panic"
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.JobID, e.Op, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// NotFoundError reports a job id with no upload record. Nothing was written.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ingest %s: upload record not found", e.JobID)
}

// Unwrap makes errors.Is(err, storage.ErrNotFound) true.
func (e *NotFoundError) Unwrap() error { return storage.ErrNotFound }

// StatusError means a status transition could not be persisted.
type StatusError struct {
	JobID string
	To    model.Status
	Err   error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ingest %s: persist status %s: %v", e.JobID, e.To, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// Retryable reports whether err is a completed-status write that can be
// re-attempted with Orchestrator.Complete without re-running the job. Rows
// are already upserted and the staged file is gone, so nothing else is
// retried.
func Retryable(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.To == model.StatusCompleted && !errors.Is(se.Err, storage.ErrInvalidTransition)
}
