// Package improve implements the self-improvement cycle: propose a change
// for failing work, then apply it behind a backup, validate, commit, verify,
// and roll back on failure.
//
// Engine.Apply is the only code path that mutates artifacts. Every write is
// a full-content replacement preceded by a snapshot, so the artifact always
// ends up either equal to the candidate (validated and verified) or equal to
// its pre-apply content.
package improve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ShayCichocki/cadre/pkg/models"
)

// DefaultRetention is how many backups are kept per artifact.
const DefaultRetention = 5

// ErrProtected is recorded when a suggestion targets a protected path.
var ErrProtected = errors.New("target is in a protected area")

// FailingContext describes the failing unit of work handed to a Proposer.
type FailingContext struct {
	// Task is the plan task description.
	Task string
	// Target is the artifact to change; defaults to Output.Artifact.
	Target string
	// CurrentContent is filled in by the engine from the workspace.
	CurrentContent string
	// Output is the developer output that failed review.
	Output models.StageOutput
	// Verdict is the failing review.
	Verdict models.Verdict
	// FailLoop is the number of retries already made for the task.
	FailLoop int
	// FailHistory holds the earlier retries.
	FailHistory []models.FailEntry
}

// Proposer produces a candidate change for failing work.
type Proposer interface {
	Propose(ctx context.Context, fc FailingContext) (*models.ImprovementSuggestion, error)
}

// ProposerFunc adapts a function to Proposer.
type ProposerFunc func(ctx context.Context, fc FailingContext) (*models.ImprovementSuggestion, error)

// Propose calls f.
func (f ProposerFunc) Propose(ctx context.Context, fc FailingContext) (*models.ImprovementSuggestion, error) {
	return f(ctx, fc)
}

// Option configures an Engine.
type Option func(*Engine)

// WithValidator registers v for files with extension ext (".go").
func WithValidator(ext string, v Validator) Option {
	return func(e *Engine) { e.validators[ext] = v }
}

// WithVerifier sets the post-commit verifier. Default is NopVerifier.
func WithVerifier(v Verifier) Option {
	return func(e *Engine) { e.verifier = v }
}

// WithRetention sets how many backups to keep per artifact.
func WithRetention(n int) Option {
	return func(e *Engine) { e.retention = n }
}

// WithGuard sets the protected-area guard. Default is NewGuard().
func WithGuard(g *Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithClock replaces the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs the propose/apply cycle against a Workspace.
type Engine struct {
	ws         Workspace
	proposer   Proposer
	validators map[string]Validator
	verifier   Verifier
	guard      *Guard
	retention  int
	now        func() time.Time

	// mu serializes applies; verification runs against the whole workspace.
	mu sync.Mutex
}

// New creates an Engine.
func New(ws Workspace, proposer Proposer, opts ...Option) *Engine {
	e := &Engine{
		ws:         ws,
		proposer:   proposer,
		validators: DefaultValidators(),
		verifier:   NopVerifier{},
		guard:      NewGuard(),
		retention:  DefaultRetention,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Propose reads the target's current content into fc and asks the proposer
// for a suggestion.
func (e *Engine) Propose(ctx context.Context, fc FailingContext) (*models.ImprovementSuggestion, error) {
	if fc.Target == "" {
		fc.Target = fc.Output.Artifact
	}
	if fc.Target != "" && fc.CurrentContent == "" {
		content, err := e.ws.Read(fc.Target)
		switch {
		case err == nil:
			fc.CurrentContent = string(content)
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read %s: %w", fc.Target, err)
		}
	}

	s, err := e.proposer.Propose(ctx, fc)
	if err != nil {
		return nil, fmt.Errorf("propose improvement: %w", err)
	}
	if s == nil {
		return nil, errors.New("propose improvement: no suggestion")
	}
	if s.Target == "" {
		s.Target = fc.Target
	}
	if s.CurrentState == "" {
		s.CurrentState = fc.CurrentContent
	}
	return s, nil
}

// Apply backs up the target, validates the candidate, commits it, verifies,
// and rolls back on validation or verification failure. Those failures are
// reported in the result; the error return is for I/O faults only.
func (e *Engine) Apply(ctx context.Context, s *models.ImprovementSuggestion) (*models.ImprovementResult, error) {
	if s == nil {
		return nil, errors.New("apply: nil suggestion")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	result := &models.ImprovementResult{
		Suggestion: *s,
		AppliedAt:  e.now(),
	}

	if s.Target == "" {
		result.Detail = "suggestion has no target"
		return result, nil
	}
	if e.guard != nil && e.guard.IsProtected(s.Target) {
		result.Detail = fmt.Sprintf("%s: %v", s.Target, ErrProtected)
		log.Printf("[improve] refused %s: protected area", s.Target)
		return result, nil
	}

	// 1. Snapshot.
	snap, err := e.ws.Backup(s.Target)
	if err != nil {
		return nil, fmt.Errorf("backup %s: %w", s.Target, err)
	}
	result.BackupPath = snap.Path

	// 2-3. Candidate and syntactic validation. The artifact is untouched, so
	// there is nothing on disk to undo; Restore is still called so the
	// artifact provably equals the snapshot.
	candidate := []byte(s.ProposedChange)
	if v := validatorFor(e.validators, s.Target); v != nil {
		if verr := v.Validate(s.Target, candidate); verr != nil {
			if err := e.ws.Restore(snap); err != nil {
				return nil, fmt.Errorf("rollback %s: %w", s.Target, err)
			}
			result.RolledBack = true
			result.RollbackReason = models.RollbackValidationFailed
			result.Detail = verr.Error()
			log.Printf("[improve] %s: %s: %v", s.Target, models.RollbackValidationFailed, verr)
			return result, nil
		}
	}

	// 4. Commit and verify.
	if err := e.ws.Write(s.Target, candidate); err != nil {
		if rerr := e.ws.Restore(snap); rerr != nil {
			return nil, fmt.Errorf("commit %s: %v; rollback: %w", s.Target, err, rerr)
		}
		return nil, fmt.Errorf("commit %s: %w", s.Target, err)
	}

	report, verr := e.verifier.Verify(ctx)
	result.Verification = &report
	if verr != nil || !report.Passed {
		// 5. Roll back.
		if err := e.ws.Restore(snap); err != nil {
			return nil, fmt.Errorf("rollback %s: %w", s.Target, err)
		}
		result.RolledBack = true
		result.RollbackReason = models.RollbackVerificationFailed
		result.Detail = report.Output
		if verr != nil {
			result.Detail = verr.Error()
		}
		log.Printf("[improve] %s: %s", s.Target, models.RollbackVerificationFailed)
		return result, nil
	}

	// 6. Success; keep recent backups only.
	result.Applied = true
	if err := e.ws.Prune(s.Target, e.retention); err != nil {
		log.Printf("[improve] prune backups for %s: %v", s.Target, err)
	}
	return result, nil
}

// Improve proposes and applies a change for fc, stamping the result with the
// retry number it belongs to (fc.FailLoop+1) and the reviewer comment.
func (e *Engine) Improve(ctx context.Context, fc FailingContext) (*models.ImprovementResult, error) {
	s, err := e.Propose(ctx, fc)
	if err != nil {
		return nil, err
	}
	result, err := e.Apply(ctx, s)
	if err != nil {
		return nil, err
	}
	result.FailLoop = fc.FailLoop + 1
	result.ReviewComment = fc.Verdict.Message
	return result, nil
}
