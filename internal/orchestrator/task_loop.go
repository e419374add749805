package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/cadre/internal/improve"
	"github.com/ShayCichocki/cadre/internal/notify"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// processTask runs one plan task through develop, review and the bounded
// retry loop. The returned state has Escalated set when the task must be
// replaced by its SubPlan. Errors are run-fatal.
func (o *Orchestrator) processTask(ctx context.Context, task string) (models.TaskState, error) {
	bound := o.policy.Retry.FailLoopBound
	goal := o.goal()
	start := o.now()
	ts := models.TaskState{Task: task}

	base := func() *StageContextBuilder {
		return NewStageContext(task).WithGoal(goal).WithKnowledge(o.knowledge).WithAlerts(o.alerts())
	}

	o.emit(OrchestratorEvent{Type: EventTaskStarted, Task: task, Remaining: o.remaining()})
	debugLog("task %q: dispatched", task)

	out, err := o.developer.Develop(ctx, base().Build())
	if err != nil {
		return ts, fmt.Errorf("developer stage for %q: %w", task, err)
	}
	ts.Output = out

	verdict, err := o.reviewer.Review(ctx, out, base().Build())
	if err != nil {
		return ts, fmt.Errorf("reviewer stage for %q: %w", task, err)
	}
	o.emit(OrchestratorEvent{Type: EventTaskReviewed, Task: task, Passed: verdict.Passed, Message: verdict.Message})

	failLoop := 0
	for !verdict.Passed {
		if failLoop >= bound {
			if !ts.AlertSent {
				o.raiseAlert(ctx, &ts, failLoop)
			}
			sc := base().WithFailHistory(ts.FailHistory).WithFeedback(verdict.Message).Build()
			sub, err := o.planner.Plan(ctx, task, sc)
			if err != nil {
				return ts, fmt.Errorf("planner stage for escalated %q: %w", task, err)
			}
			if len(sub) == 0 {
				return ts, fmt.Errorf("planner returned no subtasks for escalated %q", task)
			}
			ts.Escalated = true
			ts.SubPlan = sub
			ts.FinalVerdict = verdict
			o.incrementMetric(models.MetricTasksFailed, 1)
			o.incrementMetric(models.MetricProcessingMilli, o.now().Sub(start).Milliseconds())
			o.emit(OrchestratorEvent{Type: EventTaskEscalated, Task: task, FailLoop: failLoop,
				Message: fmt.Sprintf("replaced by %d subtasks", len(sub))})
			return ts, nil
		}

		if err := ctx.Err(); err != nil {
			return ts, fmt.Errorf("task %q interrupted: %w", task, err)
		}

		imp, err := o.improver.Improve(ctx, improve.FailingContext{
			Task:        task,
			Output:      out,
			Verdict:     verdict,
			FailLoop:    failLoop,
			FailHistory: append([]models.FailEntry{}, ts.FailHistory...),
		})
		if err != nil {
			return ts, fmt.Errorf("improver stage for %q: %w", task, err)
		}
		if imp == nil {
			imp = &models.ImprovementResult{FailLoop: failLoop + 1, Detail: "no improvement produced", AppliedAt: o.now()}
		}
		ts.Improvements = append(ts.Improvements, imp)
		if imp.Applied {
			out = patchedOutput(out, imp.Suggestion)
			ts.Output = out
		}

		sc := base().WithFailHistory(ts.FailHistory).WithFeedback(verdict.Message).WithImprovement(imp).Build()
		verdict, err = o.reviewer.Review(ctx, out, sc)
		if err != nil {
			return ts, fmt.Errorf("reviewer stage for %q: %w", task, err)
		}

		failLoop++
		ts.FailHistory = append(ts.FailHistory, models.FailEntry{
			Improvement: imp,
			FailLoop:    failLoop,
			Review:      verdict,
		})
		o.recordRetry(task, failLoop, imp, verdict)

		if failLoop == bound && !ts.AlertSent {
			o.raiseAlert(ctx, &ts, failLoop)
		}
	}

	ts.FinalVerdict = verdict
	o.incrementMetric(models.MetricTasksCompleted, 1)
	o.incrementMetric(models.MetricProcessingMilli, o.now().Sub(start).Milliseconds())
	return ts, nil
}

// patchedOutput is out after s was committed: the review that follows
// judges the artifact as it now stands.
func patchedOutput(out models.StageOutput, s models.ImprovementSuggestion) models.StageOutput {
	if s.Target != "" {
		out.Artifact = s.Target
	}
	out.Content = s.ProposedChange
	return out
}

// recordRetry bumps the global fail counter and logs the retry.
func (o *Orchestrator) recordRetry(task string, failLoop int, imp *models.ImprovementResult, verdict models.Verdict) {
	o.mu.Lock()
	o.state.FailCount++
	o.mu.Unlock()

	outcome := "applied"
	switch {
	case imp.RolledBack:
		outcome = "rolled back (" + imp.RollbackReason + ")"
	case !imp.Applied:
		outcome = "not applied"
	}
	passed := "failed"
	if verdict.Passed {
		passed = "passed"
	}
	o.logHistory("task %q: retry %d, improvement %s, review %s", task, failLoop, outcome, passed)
	o.emit(OrchestratorEvent{Type: EventTaskRetry, Task: task, FailLoop: failLoop, Passed: verdict.Passed, Message: outcome})
}

// raiseAlert records the policy alert for a task, once.
func (o *Orchestrator) raiseAlert(ctx context.Context, ts *models.TaskState, failLoop int) {
	ts.AlertSent = true
	msg := fmt.Sprintf("task %q failed review after %d retries; escalating to re-plan", ts.Task, failLoop)
	alert := models.Alert{Task: ts.Task, FailLoop: failLoop, Message: msg, At: o.now()}

	o.mu.Lock()
	o.state.Alerts = append(o.state.Alerts, alert)
	o.state.PolicyTriggered = true
	o.mu.Unlock()

	o.logHistory("policy triggered: %s", msg)
	notify.Send(ctx, o.notifier, msg)
	o.emit(OrchestratorEvent{Type: EventPolicyTriggered, Task: ts.Task, FailLoop: failLoop, Message: msg})
}

// recordCompleted stores a satisfied task. advance moves the plan index,
// which only serial steps do.
func (o *Orchestrator) recordCompleted(ts models.TaskState, advance bool) {
	o.mu.Lock()
	o.state.Completed = append(o.state.Completed, ts)
	if advance {
		o.state.CurrentIndex++
	}
	o.mu.Unlock()

	o.logHistory("task %q completed after %d retries", ts.Task, ts.FailLoops())
	o.emit(OrchestratorEvent{Type: EventTaskCompleted, Task: ts.Task, FailLoop: ts.FailLoops(), Passed: true})
}

var errReplanBudget = errors.New("re-plan budget exhausted")

// escalate records an escalated task and splices its sub-plan into the
// plan: in place of the task at index when inPlace, else at the end.
func (o *Orchestrator) escalate(ts models.TaskState, index int, inPlace bool) error {
	o.mu.Lock()
	if o.state.Replans >= o.policy.Replan.MaxReplans {
		replans := o.state.Replans
		o.mu.Unlock()
		return fmt.Errorf("escalating %q: %w after %d re-plans", ts.Task, errReplanBudget, replans)
	}
	o.state.Replans++
	o.state.Escalated = append(o.state.Escalated, ts)
	plan := o.state.Plan
	if inPlace {
		next := make([]string, 0, len(plan)-1+len(ts.SubPlan))
		next = append(next, plan[:index]...)
		next = append(next, ts.SubPlan...)
		next = append(next, plan[index+1:]...)
		o.state.Plan = next
	} else {
		o.state.Plan = append(plan, ts.SubPlan...)
	}
	o.mu.Unlock()

	o.logHistory("task %q escalated after %d retries: re-planned into %d subtasks", ts.Task, ts.FailLoops(), len(ts.SubPlan))
	return nil
}
