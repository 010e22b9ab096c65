package models

// EventType identifies an engine lifecycle event kind
type EventType string

const (
	EventExecutionStart       EventType = "execution_start"
	EventExecutionError       EventType = "execution_error"
	EventExecutionSuccess     EventType = "execution_success"
	EventExecutionInterrupted EventType = "execution_interrupted"
	EventExecutionCached      EventType = "execution_cached"
	EventExecuting            EventType = "executing"
	EventProgress             EventType = "progress"
	EventExecuted             EventType = "executed"
	EventStatus               EventType = "status"
)

// ExecutionEvent is one message from the engine's event channel.
// JobID is empty for system-wide events such as queue status updates.
type ExecutionEvent struct {
	Type  EventType `json:"type"`
	JobID string    `json:"prompt_id,omitempty"`

	// Node-scoped fields (executing, executed, execution_error, interrupted).
	// Node is nil vs empty-string significant for "executing": a present but
	// null node is the engine's legacy completion marker.
	Node     *string `json:"node,omitempty"`
	NodeKind string  `json:"node_type,omitempty"`

	// execution_error details
	ExceptionMessage string `json:"exception_message,omitempty"`
	ExceptionType    string `json:"exception_type,omitempty"`

	// progress
	Value int `json:"value,omitempty"`
	Max   int `json:"max,omitempty"`

	// execution_cached
	CachedNodes []string `json:"nodes,omitempty"`

	// status
	QueueRemaining int `json:"queue_remaining,omitempty"`
}

// LegacyCompletion reports whether the event is the engine's old-style
// "executing with node=null" completion signal.
func (e *ExecutionEvent) LegacyCompletion() bool {
	return e.Type == EventExecuting && e.Node == nil
}
