package models

import "time"

// Rollback reasons recorded on an ImprovementResult.
const (
	RollbackValidationFailed   = "validation failed"
	RollbackVerificationFailed = "verification failed"
)

// Verdict is the structured outcome of a review stage.
type Verdict struct {
	// Passed is the explicit pass/fail signal.
	Passed bool `json:"passed"`
	// Message is the reviewer's summary or feedback.
	Message string `json:"message,omitempty"`
	// Details carries optional structured findings.
	Details map[string]string `json:"details,omitempty"`
}

// StageOutput is what a developer stage produces for one plan task.
type StageOutput struct {
	// Content is the stage's primary output.
	Content string `json:"content"`
	// Artifact is the path of the artifact the stage worked on, if any.
	Artifact string `json:"artifact,omitempty"`
}

// ImprovementSuggestion is a candidate change for a failing unit of work.
type ImprovementSuggestion struct {
	// Target is the artifact the change applies to.
	Target string `json:"target"`
	// CurrentState describes (or holds) the artifact before the change.
	CurrentState string `json:"current_state,omitempty"`
	// ProposedChange is the full replacement content for Target.
	ProposedChange string `json:"proposed_change"`
	// Rationale explains what the change fixes.
	Rationale string `json:"rationale,omitempty"`
	// Priority ranks the suggestion; lower is more urgent.
	Priority int `json:"priority"`
	// EstimatedImpact is a short free-form estimate.
	EstimatedImpact string `json:"estimated_impact,omitempty"`
}

// VerificationReport is the result of an external verification run.
type VerificationReport struct {
	Passed   bool          `json:"passed"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ImprovementResult records what happened when a suggestion was applied.
type ImprovementResult struct {
	Suggestion ImprovementSuggestion `json:"suggestion"`
	// Applied is true when the candidate was committed and verified.
	Applied bool `json:"applied"`
	// RolledBack is true when the artifact was restored from its backup.
	RolledBack bool `json:"rolled_back"`
	// RollbackReason is one of the Rollback* constants when RolledBack is set.
	RollbackReason string `json:"rollback_reason,omitempty"`
	// Detail carries the validator or verifier message behind a rollback.
	Detail string `json:"detail,omitempty"`
	// FailLoop is the retry this improvement belongs to, counted from 1 like
	// FailEntry.FailLoop.
	FailLoop int `json:"fail_loop"`
	// ReviewComment is the reviewer feedback that triggered the improvement.
	ReviewComment string `json:"review_comment,omitempty"`
	// Verification holds the verifier's report, if verification ran.
	Verification *VerificationReport `json:"verification,omitempty"`
	// BackupPath is where the pre-apply content was saved.
	BackupPath string    `json:"backup_path,omitempty"`
	AppliedAt  time.Time `json:"applied_at"`
}
