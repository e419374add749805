package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventRunStarted indicates the plan is ready and execution begins.
	EventRunStarted EventType = "run_started"
	// EventTaskStarted indicates a plan task was dispatched.
	EventTaskStarted EventType = "task_started"
	// EventTaskReviewed carries a reviewer verdict.
	EventTaskReviewed EventType = "task_reviewed"
	// EventTaskRetry indicates a self-improvement retry finished.
	EventTaskRetry EventType = "task_retry"
	// EventPolicyTriggered indicates a task hit the fail-loop bound.
	EventPolicyTriggered EventType = "policy_triggered"
	// EventTaskEscalated indicates a task was replaced by a sub-plan.
	EventTaskEscalated EventType = "task_escalated"
	// EventTaskCompleted indicates a task passed review.
	EventTaskCompleted EventType = "task_completed"
	// EventStrategySwitched indicates adaptive mode went parallel.
	EventStrategySwitched EventType = "strategy_switched"
	// EventRunDone indicates the plan was exhausted.
	EventRunDone EventType = "run_done"
	// EventRunAborted indicates the run stopped on a fatal error.
	EventRunAborted EventType = "run_aborted"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events feed the TUI and the CLI progress output.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the run.
	RunID string
	// Task is the plan task description, if applicable.
	Task string
	// FailLoop is the task's retry count at the time of the event.
	FailLoop int
	// Passed is the verdict for review events.
	Passed bool
	// Message provides additional context about the event.
	Message string
	// Error contains error details for abort events.
	Error error
	// Remaining is the number of undispatched plan entries.
	Remaining int
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
