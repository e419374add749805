package api

import (
	"context"
	"fmt"
	"log"

	"github.com/ShayCichocki/cadre/internal/improve"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/pkg/models"
)

var (
	_ orchestrator.Developer = (*Developer)(nil)
	_ orchestrator.Reviewer  = (*Reviewer)(nil)
	_ orchestrator.Planner   = (*Planner)(nil)
	_ improve.Proposer       = (*Proposer)(nil)
	_ Applier                = (*improve.Engine)(nil)
)

// Applier commits a suggestion behind a backup, validation and
// verification. improve.Engine implements it.
type Applier interface {
	Apply(ctx context.Context, s *models.ImprovementSuggestion) (*models.ImprovementResult, error)
}

// Developer asks Claude for the work product of a task. A named artifact is
// committed through the Applier; the workspace is never written directly.
type Developer struct {
	llm     Completer
	applier Applier
}

// NewDeveloper creates a Developer. applier may be nil, in which case the
// output is returned without touching any artifact.
func NewDeveloper(llm Completer, applier Applier) *Developer {
	return &Developer{llm: llm, applier: applier}
}

// Develop implements orchestrator.Developer. A rejected commit (protected
// target, invalid content, failed verification) is not an error: the
// artifact keeps its previous content and the reviewer judges the output.
func (d *Developer) Develop(ctx context.Context, sc orchestrator.StageContext) (models.StageOutput, error) {
	text, err := d.llm.Complete(ctx, developerSystem, developerPrompt(sc))
	if err != nil {
		return models.StageOutput{}, fmt.Errorf("develop %q: %w", sc.Task, err)
	}
	out := ParseStageOutput(text)

	if out.Artifact == "" || d.applier == nil {
		return out, nil
	}
	res, err := d.applier.Apply(ctx, &models.ImprovementSuggestion{
		Target:         out.Artifact,
		ProposedChange: out.Content,
		Rationale:      "initial work for " + sc.Task,
	})
	if err != nil {
		return out, fmt.Errorf("commit artifact %s: %w", out.Artifact, err)
	}
	if !res.Applied {
		log.Printf("[api] developer: %s not committed: %s", out.Artifact, res.Detail)
	}
	return out, nil
}

// Reviewer asks Claude for a pass/fail verdict.
type Reviewer struct {
	llm Completer
}

// NewReviewer creates a Reviewer.
func NewReviewer(llm Completer) *Reviewer {
	return &Reviewer{llm: llm}
}

// Review implements orchestrator.Reviewer. A reply that cannot be parsed
// counts as a failed review carrying the parse error, so it feeds the
// retry loop instead of aborting the run.
func (r *Reviewer) Review(ctx context.Context, out models.StageOutput, sc orchestrator.StageContext) (models.Verdict, error) {
	text, err := r.llm.Complete(ctx, reviewerSystem, reviewerPrompt(out, sc))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("review %q: %w", sc.Task, err)
	}
	v, err := ParseVerdict(text)
	if err != nil {
		log.Printf("[api] reviewer: %v", err)
		return models.Verdict{Passed: false, Message: "review could not be parsed: " + err.Error()}, nil
	}
	return v, nil
}

// Planner asks Claude for an ordered task list.
type Planner struct {
	llm Completer
}

// NewPlanner creates a Planner.
func NewPlanner(llm Completer) *Planner {
	return &Planner{llm: llm}
}

// Plan implements orchestrator.Planner.
func (p *Planner) Plan(ctx context.Context, goal string, sc orchestrator.StageContext) ([]string, error) {
	text, err := p.llm.Complete(ctx, plannerSystem, plannerPrompt(goal, sc))
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", goal, err)
	}
	tasks, err := ParsePlan(text)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", goal, err)
	}
	return tasks, nil
}

// Proposer asks Claude for a fix to failing work. It feeds improve.Engine.
type Proposer struct {
	llm Completer
}

// NewProposer creates a Proposer.
func NewProposer(llm Completer) *Proposer {
	return &Proposer{llm: llm}
}

// Propose implements improve.Proposer.
func (p *Proposer) Propose(ctx context.Context, fc improve.FailingContext) (*models.ImprovementSuggestion, error) {
	text, err := p.llm.Complete(ctx, proposerSystem, proposerPrompt(fc))
	if err != nil {
		return nil, fmt.Errorf("propose fix for %q: %w", fc.Task, err)
	}
	s, err := ParseSuggestion(text)
	if err != nil {
		return nil, fmt.Errorf("propose fix for %q: %w", fc.Task, err)
	}
	if s.Target == "" {
		s.Target = fc.Target
	}
	return s, nil
}
