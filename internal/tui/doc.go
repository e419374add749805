// Package tui provides the terminal monitor for cadre's run command.
//
// The monitor is a read-only view of one orchestrator run. It consumes the
// orchestrator's event stream and shows:
//   - the goal, strategy and number of undispatched plan entries
//   - tasks in flight with their current retry count
//   - completed and escalated tasks
//   - policy alerts raised when a task hits the fail-loop bound
//   - an activity log of recent events
//
// The only controls are p (pause/resume), s (stop) and q (quit).
//
// Usage:
//
//	program, monitor := tui.NewMonitorProgram(orch.Events(), orch, tui.WithGoal(goal))
//	go func() {
//	    state := orch.Run(ctx, goal)
//	    program.Send(tui.DoneMsg{State: state})
//	}()
//	_, err := program.Run()
package tui
