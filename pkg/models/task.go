package models

import (
	"time"
)

// Status represents the lifecycle status of a tracked task
type Status string

const (
	StatusPending     Status = "pending"     // Submitted to the engine, no activity seen yet
	StatusRunning     Status = "running"     // Engine reported execution activity
	StatusSucceeded   Status = "succeeded"   // Terminal: engine reported success
	StatusFailed      Status = "failed"      // Terminal: engine reported a node error, or monitoring failed
	StatusInterrupted Status = "interrupted" // Terminal: execution was interrupted at the engine
	StatusTimedOut    Status = "timed_out"   // Terminal: local deadline elapsed without a terminal event
)

// IsTerminal returns true if the status permits no further transition
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusInterrupted, StatusTimedOut:
		return true
	}
	return false
}

// validTransitions maps from-status to allowed to-statuses
var validTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusRunning:     true, // first activity event seen
		StatusSucceeded:   true, // cached graphs can complete without a running phase
		StatusFailed:      true,
		StatusInterrupted: true,
		StatusTimedOut:    true,
	},
	StatusRunning: {
		StatusSucceeded:   true,
		StatusFailed:      true,
		StatusInterrupted: true,
		StatusTimedOut:    true,
	},
	// Terminal statuses (no transitions allowed)
	StatusSucceeded:   {},
	StatusFailed:      {},
	StatusInterrupted: {},
	StatusTimedOut:    {},
}

// ValidateTransition checks if a status transition is valid
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return &InvalidTransitionError{From: from, To: to}
	}
	if !allowed[to] {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Task represents one submitted graph execution tracked end-to-end.
// The JobID is the engine-assigned prompt id returned at submission time.
type Task struct {
	JobID       string                 `json:"job_id"`
	Kind        string                 `json:"kind"` // e.g. "video", "image"
	Params      map[string]interface{} `json:"params,omitempty"`
	Status      Status                 `json:"status"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Result      *Outcome               `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
}

// Clone returns a deep-enough copy for clone-and-swap registry updates.
// Params values are shared; callers treat them as immutable after creation.
func (t *Task) Clone() *Task {
	c := *t
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// TaskUpdate is the payload broadcast to observers on a status change
type TaskUpdate struct {
	Type   string   `json:"type"` // always "task_update"
	JobID  string   `json:"task_id"`
	Status Status   `json:"status"`
	Result *Outcome `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`
}
