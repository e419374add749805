package orchestrator

import (
	"context"

	"github.com/ShayCichocki/cadre/internal/improve"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// Developer produces the work for one plan task.
type Developer interface {
	Develop(ctx context.Context, sc StageContext) (models.StageOutput, error)
}

// Reviewer judges a developer output.
type Reviewer interface {
	Review(ctx context.Context, out models.StageOutput, sc StageContext) (models.Verdict, error)
}

// Planner decomposes a goal, or an escalated task, into ordered task
// descriptions.
type Planner interface {
	Plan(ctx context.Context, goal string, sc StageContext) ([]string, error)
}

// Improver runs one self-improvement attempt for failing work.
// *improve.Engine satisfies it.
type Improver interface {
	Improve(ctx context.Context, fc improve.FailingContext) (*models.ImprovementResult, error)
}

var _ Improver = (*improve.Engine)(nil)

// StageContext is the typed input every stage receives. Build it with
// NewStageContext so unset fields default to empty values.
type StageContext struct {
	// Goal is the run's user goal.
	Goal string
	// Task is the plan task being worked on.
	Task string
	// FailLoop is the number of retries made so far.
	FailLoop int
	// FailHistory holds the earlier retries of this task.
	FailHistory []models.FailEntry
	// Feedback is the latest reviewer message.
	Feedback string
	// Alerts are the policy alerts raised so far in the run.
	Alerts []models.Alert
	// Knowledge is externally supplied reference material, by name.
	Knowledge map[string]string
	// LastImprovement is the most recent improvement attempt, if any.
	LastImprovement *models.ImprovementResult
}

// StageContextBuilder assembles a StageContext.
type StageContextBuilder struct {
	sc StageContext
}

// NewStageContext starts a context for task.
func NewStageContext(task string) *StageContextBuilder {
	return &StageContextBuilder{sc: StageContext{Task: task}}
}

// WithGoal sets the run goal.
func (b *StageContextBuilder) WithGoal(goal string) *StageContextBuilder {
	b.sc.Goal = goal
	return b
}

// WithFailHistory sets the retry history and the fail-loop count.
func (b *StageContextBuilder) WithFailHistory(h []models.FailEntry) *StageContextBuilder {
	b.sc.FailHistory = h
	b.sc.FailLoop = len(h)
	return b
}

// WithFeedback sets the latest reviewer feedback.
func (b *StageContextBuilder) WithFeedback(feedback string) *StageContextBuilder {
	b.sc.Feedback = feedback
	return b
}

// WithAlerts sets the run's alerts.
func (b *StageContextBuilder) WithAlerts(alerts []models.Alert) *StageContextBuilder {
	b.sc.Alerts = alerts
	return b
}

// WithKnowledge sets external knowledge.
func (b *StageContextBuilder) WithKnowledge(k map[string]string) *StageContextBuilder {
	b.sc.Knowledge = k
	return b
}

// WithImprovement sets the last improvement attempt.
func (b *StageContextBuilder) WithImprovement(r *models.ImprovementResult) *StageContextBuilder {
	b.sc.LastImprovement = r
	return b
}

// Build returns the context. Slices and maps are copied so stages cannot
// mutate orchestrator state through them.
func (b *StageContextBuilder) Build() StageContext {
	sc := b.sc
	sc.FailHistory = append([]models.FailEntry{}, b.sc.FailHistory...)
	sc.Alerts = append([]models.Alert{}, b.sc.Alerts...)
	sc.Knowledge = make(map[string]string, len(b.sc.Knowledge))
	for k, v := range b.sc.Knowledge {
		sc.Knowledge[k] = v
	}
	return sc
}
