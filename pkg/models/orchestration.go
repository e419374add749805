package models

import "time"

// Strategy selects how the orchestrator walks a plan.
type Strategy string

const (
	// StrategySerial processes plan entries one at a time in list order.
	StrategySerial Strategy = "serial"
	// StrategyParallel dispatches every remaining entry at once.
	StrategyParallel Strategy = "parallel"
	// StrategyAdaptive runs serially until the remaining plan grows past a threshold.
	StrategyAdaptive Strategy = "adaptive"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySerial, StrategyParallel, StrategyAdaptive:
		return true
	default:
		return false
	}
}

// FailEntry is one retry attempt in a task's fail history.
type FailEntry struct {
	Improvement *ImprovementResult `json:"improvement"`
	FailLoop    int                `json:"fail_loop"`
	Review      Verdict            `json:"review"`
}

// TaskState tracks one plan task through review, retries and escalation.
type TaskState struct {
	// Task is the plan-level task description.
	Task string `json:"task"`
	// Output is the developer stage output that was finally reviewed.
	Output StageOutput `json:"output"`
	// FailHistory holds one entry per retry; never longer than the fail-loop bound.
	FailHistory []FailEntry `json:"fail_history,omitempty"`
	// Improvements lists every improvement attempted for the task.
	Improvements []*ImprovementResult `json:"improvements,omitempty"`
	// AlertSent is set once the policy alert for this task fired.
	AlertSent bool `json:"alert_sent"`
	// Escalated is set when the task was replaced by a sub-plan.
	Escalated bool `json:"escalated"`
	// SubPlan is the finer-grained plan that replaced an escalated task.
	SubPlan []string `json:"sub_plan,omitempty"`
	// FinalVerdict is the last review verdict.
	FinalVerdict Verdict `json:"final_verdict"`
}

// FailLoops returns the number of retries performed.
func (s TaskState) FailLoops() int {
	return len(s.FailHistory)
}

// Alert is a policy escalation notice.
type Alert struct {
	Task     string    `json:"task"`
	FailLoop int       `json:"fail_loop"`
	Message  string    `json:"message"`
	At       time.Time `json:"at"`
}

// OrchestratorState is the full, introspectable record of a run.
type OrchestratorState struct {
	RunID        string      `json:"run_id"`
	Goal         string      `json:"goal"`
	Strategy     Strategy    `json:"strategy"`
	Plan         []string    `json:"plan"`
	CurrentIndex int         `json:"current_index"`
	Completed    []TaskState `json:"completed,omitempty"`
	Escalated    []TaskState `json:"escalated,omitempty"`
	// FailCount is the global number of retries across all tasks.
	FailCount int `json:"fail_count"`
	// Replans counts sub-plan substitutions.
	Replans int `json:"replans"`
	// History is the human-readable log of the run.
	History []string `json:"history,omitempty"`
	Alerts  []Alert  `json:"alerts,omitempty"`
	// PolicyTriggered is sticky once set.
	PolicyTriggered bool `json:"policy_triggered"`
	// Aborted is true when the run stopped on a fatal error.
	Aborted    bool       `json:"aborted"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Remaining returns the number of plan entries not yet dispatched.
func (s *OrchestratorState) Remaining() int {
	if s.CurrentIndex >= len(s.Plan) {
		return 0
	}
	return len(s.Plan) - s.CurrentIndex
}

// Rollbacks returns every improvement that was rolled back during the run.
func (s *OrchestratorState) Rollbacks() []*ImprovementResult {
	var out []*ImprovementResult
	collect := func(states []TaskState) {
		for _, ts := range states {
			for _, imp := range ts.Improvements {
				if imp != nil && imp.RolledBack {
					out = append(out, imp)
				}
			}
		}
	}
	collect(s.Completed)
	collect(s.Escalated)
	return out
}

// Clone returns a deep copy suitable for handing to callers.
func (s *OrchestratorState) Clone() OrchestratorState {
	c := *s
	c.Plan = append([]string(nil), s.Plan...)
	c.History = append([]string(nil), s.History...)
	c.Alerts = append([]Alert(nil), s.Alerts...)
	c.Completed = cloneTaskStates(s.Completed)
	c.Escalated = cloneTaskStates(s.Escalated)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

func cloneTaskStates(in []TaskState) []TaskState {
	if in == nil {
		return nil
	}
	out := make([]TaskState, len(in))
	for i, ts := range in {
		out[i] = ts
		out[i].FailHistory = append([]FailEntry(nil), ts.FailHistory...)
		out[i].Improvements = append([]*ImprovementResult(nil), ts.Improvements...)
		out[i].SubPlan = append([]string(nil), ts.SubPlan...)
	}
	return out
}
