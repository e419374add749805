// Package orchestrator walks a plan of task descriptions through developer
// and reviewer stages, retries failing tasks through a bounded
// self-improvement loop, and escalates to the planner once the bound is hit.
//
// Per task the state machine is
//
//	Dispatched -> Reviewed -> Satisfied
//	                       -> Retrying -> Reviewed
//	                       -> Escalated
//
// A task gets at most policy.Retry.FailLoopBound retries. When the bound is
// reached a single alert fires for the task, and the next failing review
// replaces the task with a finer-grained sub-plan from the Planner.
//
// Plans run serially, in parallel (every remaining task at once on a worker
// pool), or adaptively (serial until the remaining plan is longer than the
// adaptive threshold, then parallel). Run never returns an error: faults end
// the run with OrchestratorState.Aborted set.
//
// Example usage:
//
//	orch, err := orchestrator.New(orchestrator.RequiredConfig{
//		Developer: dev, Reviewer: rev, Planner: planner, Improver: engine,
//	}, orchestrator.WithNotifier(notify.LogNotifier{}))
//	state := orch.Run(ctx, "Add input validation to the signup handler")
package orchestrator
