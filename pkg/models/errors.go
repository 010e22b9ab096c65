package models

import (
	"errors"
	"fmt"
)

// ErrTaskNotFound is returned when a job id is unknown to registry,
// live queue, and history alike.
var ErrTaskNotFound = errors.New("task not found")

// InvalidRequestError reports a malformed generation request,
// rejected before any graph node is built.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

// SubmissionError reports an engine-side rejection at queue time.
// NodeErrors preserves the engine's per-node validation detail verbatim.
type SubmissionError struct {
	Message    string
	NodeErrors map[string]interface{}
}

func (e *SubmissionError) Error() string {
	if len(e.NodeErrors) == 0 {
		return "submission rejected: " + e.Message
	}
	return fmt.Sprintf("submission rejected: %s (node errors: %v)", e.Message, e.NodeErrors)
}

// ExecutionError reports a node-level failure during a run
type ExecutionError struct {
	JobID         string
	Node          string
	NodeKind      string
	ExceptionType string
	Message       string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at node %s (%s): %s: %s",
		e.Node, e.NodeKind, e.ExceptionType, e.Message)
}

// InterruptedError reports that execution was interrupted at the engine
type InterruptedError struct {
	JobID string
	Node  string
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("job %s interrupted at node %s", e.JobID, e.Node)
}

// InvalidTransitionError reports a status transition the lifecycle forbids
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}
