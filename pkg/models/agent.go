package models

import "time"

// Common agent status labels. AgentHealth accepts any label; these are the
// ones the orchestrator and pool write.
const (
	AgentStatusStarting = "starting"
	AgentStatusRunning  = "running"
	AgentStatusIdle     = "idle"
	AgentStatusDone     = "done"
	AgentStatusAborted  = "aborted"
)

// Well-known metric names.
const (
	MetricTasksCompleted  = "tasks_completed"
	MetricTasksFailed     = "tasks_failed"
	MetricProcessingMilli = "total_processing_ms"
)

// AgentStatus is the status record an agent publishes about itself.
type AgentStatus struct {
	// AgentID identifies the agent.
	AgentID string `json:"agent_id"`
	// Status is a free-form label such as "running".
	Status string `json:"status"`
	// StartedAt is when the agent first reported a status.
	StartedAt time.Time `json:"started_at"`
	// UpdatedAt is when the status was last written.
	UpdatedAt time.Time `json:"updated_at"`
	// Payload carries agent-specific details.
	Payload map[string]any `json:"payload,omitempty"`
}

// AgentMetrics aggregates an agent's counters.
type AgentMetrics struct {
	TasksCompleted        int64 `json:"tasks_completed"`
	TasksFailed           int64 `json:"tasks_failed"`
	TotalProcessingMillis int64 `json:"total_processing_ms"`
	// AverageProcessingMillis is derived: total processing time divided by
	// the number of finished tasks (completed + failed).
	AverageProcessingMillis float64 `json:"avg_processing_ms"`
	// Custom holds any counters beyond the well-known ones.
	Custom map[string]int64 `json:"custom,omitempty"`
}

// MetricsFromCounters builds AgentMetrics from a flat counter map and
// recomputes the derived average.
func MetricsFromCounters(counters map[string]int64) AgentMetrics {
	m := AgentMetrics{}
	for name, v := range counters {
		switch name {
		case MetricTasksCompleted:
			m.TasksCompleted = v
		case MetricTasksFailed:
			m.TasksFailed = v
		case MetricProcessingMilli:
			m.TotalProcessingMillis = v
		default:
			if m.Custom == nil {
				m.Custom = make(map[string]int64)
			}
			m.Custom[name] = v
		}
	}
	if finished := m.TasksCompleted + m.TasksFailed; finished > 0 {
		m.AverageProcessingMillis = float64(m.TotalProcessingMillis) / float64(finished)
	}
	return m
}
