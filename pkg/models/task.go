package models

import "time"

// TaskStatus represents the current state of a pool task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task is queued and has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a worker is processing the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the process function returned an error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusTimeout indicates the task exceeded its deadline.
	TaskStatusTimeout TaskStatus = "timeout"
	// TaskStatusCancelled indicates the task was cancelled before or during execution.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// AllTaskStatuses lists every status in lifecycle order.
var AllTaskStatuses = []TaskStatus{
	TaskStatusPending,
	TaskStatusRunning,
	TaskStatusCompleted,
	TaskStatusFailed,
	TaskStatusTimeout,
	TaskStatusCancelled,
}

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether moving from s to next keeps the lifecycle
// one-directional: pending -> running -> terminal, or pending -> cancelled.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next.IsTerminal()
	default:
		return false
	}
}

// Task represents one unit of work submitted to a worker pool.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Seq is the submission sequence number, used to break priority ties.
	Seq uint64 `json:"seq"`
	// Payload is the opaque input handed to the process function.
	Payload map[string]any `json:"payload,omitempty"`
	// Priority orders dispatch; lower values are dequeued first.
	Priority int `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Result holds the process function's return value on success.
	Result any `json:"result,omitempty"`
	// Error contains the error message if the task failed or timed out.
	Error string `json:"error,omitempty"`
	// CreatedAt is when the task was submitted.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when a worker picked the task up.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns the processing time, or zero if the task never ran to completion.
func (t Task) Duration() time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

// Clone returns a copy that shares no mutable state with t.
func (t Task) Clone() Task {
	c := t
	if t.Payload != nil {
		c.Payload = make(map[string]any, len(t.Payload))
		for k, v := range t.Payload {
			c.Payload[k] = v
		}
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}
