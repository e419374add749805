package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/cadre/internal/api"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// printEvent writes one progress line for a headless run.
func printEvent(w io.Writer, e orchestrator.OrchestratorEvent) {
	ts := e.Timestamp.Format("15:04:05")
	switch e.Type {
	case orchestrator.EventRunStarted:
		fmt.Fprintf(w, "%s %s %d tasks planned\n", ts, color.CyanString("run"), e.Remaining)
	case orchestrator.EventTaskStarted:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.CyanString("task"), e.Task)
	case orchestrator.EventTaskReviewed:
		if e.Passed {
			fmt.Fprintf(w, "%s %s %s\n", ts, color.GreenString("pass"), e.Task)
		} else {
			fmt.Fprintf(w, "%s %s %s: %s\n", ts, color.YellowString("fail"), e.Task, e.Message)
		}
	case orchestrator.EventTaskRetry:
		fmt.Fprintf(w, "%s %s %s (retry %d): %s\n", ts, color.YellowString("retry"), e.Task, e.FailLoop, e.Message)
	case orchestrator.EventPolicyTriggered:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.New(color.FgRed, color.Bold).Sprint("alert"), e.Message)
	case orchestrator.EventTaskEscalated:
		fmt.Fprintf(w, "%s %s %s: %s\n", ts, color.MagentaString("replan"), e.Task, e.Message)
	case orchestrator.EventTaskCompleted:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.GreenString("done"), e.Task)
	case orchestrator.EventStrategySwitched:
		fmt.Fprintf(w, "%s %s switching to %s with %d remaining\n", ts, color.CyanString("strategy"), e.Message, e.Remaining)
	case orchestrator.EventRunAborted:
		fmt.Fprintf(w, "%s %s %s\n", ts, color.RedString("abort"), e.Message)
	}
}

// printSummary writes the end-of-run report.
func printSummary(w io.Writer, state *models.OrchestratorState, tracker *api.TokenTracker) {
	fmt.Fprintln(w)
	if state.Aborted {
		printStatus(w, "✗", "Run aborted: "+state.Error, color.FgRed)
	} else {
		printStatus(w, "✓", "Run finished", color.FgGreen)
	}

	fmt.Fprintf(w, "  Goal:      %s\n", state.Goal)
	fmt.Fprintf(w, "  Strategy:  %s\n", state.Strategy)
	fmt.Fprintf(w, "  Completed: %d\n", len(state.Completed))
	fmt.Fprintf(w, "  Escalated: %d\n", len(state.Escalated))
	fmt.Fprintf(w, "  Retries:   %d\n", state.FailCount)
	if remaining := state.Remaining(); remaining > 0 {
		fmt.Fprintf(w, "  Remaining: %d\n", remaining)
	}
	if state.FinishedAt != nil {
		fmt.Fprintf(w, "  Duration:  %s\n", formatDuration(state.FinishedAt.Sub(state.StartedAt)))
	}
	if tracker != nil && tracker.Calls() > 0 {
		in, out := tracker.Total()
		fmt.Fprintf(w, "  Tokens:    %s in / %s out (%d calls, $%.4f)\n",
			formatNumber(in), formatNumber(out), tracker.Calls(), tracker.Cost())
	}

	if len(state.Alerts) > 0 {
		fmt.Fprintln(w)
		printStatus(w, "⚠", fmt.Sprintf("%d alert(s):", len(state.Alerts)), color.FgYellow)
		for _, a := range state.Alerts {
			fmt.Fprintf(w, "  - %s\n", a.Message)
		}
	}
}

func printStatus(w io.Writer, symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Fprintf(w, "%s %s\n", c.Sprint(symbol), message)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// formatNumber adds thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	pre := len(s) % 3
	if pre > 0 {
		out = append(out, s[:pre]...)
	}
	for i := pre; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
