package model

import "time"

// Status is the lifecycle state of an UploadJob. The string values are
// persisted as-is.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// transitions lists, for each target status, the statuses it may be entered
// from. processing is entered only from pending, so the move is a claim that
// exactly one run can win.
var transitions = map[Status][]Status{
	StatusProcessing: {StatusPending},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
}

// AllowedFrom returns the statuses from which to may be entered. Storage
// backends use it as the WHERE condition of a conditional UPDATE so the
// database, not the caller, enforces monotonic transitions.
func AllowedFrom(to Status) []Status {
	return transitions[to]
}

// CanTransition reports whether from → to is a legal transition.
func (s Status) CanTransition(to Status) bool {
	for _, f := range transitions[to] {
		if f == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// UploadJob tracks one staged file through ingestion.
type UploadJob struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Path      string    `json:"file_path"`
	Status    Status    `json:"status"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
