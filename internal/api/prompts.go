package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/cadre/internal/improve"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/pkg/models"
)

const developerSystem = `You are the developer stage of an automated engineering pipeline.
Complete the task you are given. Reply with a JSON object:
{"artifact": "<relative file path, or empty>", "content": "<the full file content or the work product>"}`

const reviewerSystem = `You are the reviewer stage of an automated engineering pipeline.
Judge whether the work satisfies the task. Be strict but fair.
Reply with a JSON object:
{"passed": true|false, "message": "<one paragraph of feedback>", "details": {"<aspect>": "<finding>"}}`

const plannerSystem = `You are the planner stage of an automated engineering pipeline.
Break the goal into small, ordered, independently reviewable tasks.
Reply with a JSON array of task descriptions, e.g. ["first task", "second task"].`

const proposerSystem = `You fix failing work in an automated engineering pipeline.
Propose one change that addresses the reviewer's feedback. Reply with a JSON object:
{"target": "<relative file path>", "proposed_change": "<complete new file content>",
 "rationale": "<why this fixes the failure>", "priority": 1, "estimated_impact": "<low|medium|high>"}`

// writeStageContext renders the shared parts of a StageContext.
func writeStageContext(b *strings.Builder, sc orchestrator.StageContext) {
	if sc.Goal != "" {
		fmt.Fprintf(b, "## Goal\n%s\n\n", sc.Goal)
	}
	if len(sc.Knowledge) > 0 {
		b.WriteString("## Project knowledge\n")
		names := make([]string, 0, len(sc.Knowledge))
		for name := range sc.Knowledge {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(b, "### %s\n%s\n", name, sc.Knowledge[name])
		}
		b.WriteString("\n")
	}
	if len(sc.Alerts) > 0 {
		b.WriteString("## Escalations so far\n")
		for _, a := range sc.Alerts {
			fmt.Fprintf(b, "- %s\n", a.Message)
		}
		b.WriteString("\n")
	}
	writeFailHistory(b, sc.FailHistory)
	if sc.Feedback != "" {
		fmt.Fprintf(b, "## Latest review feedback\n%s\n\n", sc.Feedback)
	}
	if imp := sc.LastImprovement; imp != nil {
		fmt.Fprintf(b, "## Last improvement\n%s\n\n", describeImprovement(imp))
	}
}

func writeFailHistory(b *strings.Builder, history []models.FailEntry) {
	if len(history) == 0 {
		return
	}
	b.WriteString("## Previous attempts\n")
	for _, e := range history {
		fmt.Fprintf(b, "- retry %d: %s; review: %s\n", e.FailLoop, describeImprovement(e.Improvement), e.Review.Message)
	}
	b.WriteString("\n")
}

func describeImprovement(imp *models.ImprovementResult) string {
	if imp == nil {
		return "no change"
	}
	target := imp.Suggestion.Target
	if target == "" {
		target = "(no target)"
	}
	switch {
	case imp.Applied:
		return "applied change to " + target
	case imp.RolledBack:
		return fmt.Sprintf("change to %s rolled back (%s)", target, imp.RollbackReason)
	case imp.Detail != "":
		return "not applied: " + imp.Detail
	default:
		return "not applied"
	}
}

func developerPrompt(sc orchestrator.StageContext) string {
	var b strings.Builder
	writeStageContext(&b, sc)
	fmt.Fprintf(&b, "## Task\n%s\n", sc.Task)
	return b.String()
}

func reviewerPrompt(out models.StageOutput, sc orchestrator.StageContext) string {
	var b strings.Builder
	writeStageContext(&b, sc)
	fmt.Fprintf(&b, "## Task\n%s\n\n", sc.Task)
	if out.Artifact != "" {
		fmt.Fprintf(&b, "## Artifact\n%s\n\n", out.Artifact)
	}
	fmt.Fprintf(&b, "## Work to review\n%s\n", out.Content)
	return b.String()
}

func plannerPrompt(goal string, sc orchestrator.StageContext) string {
	var b strings.Builder
	writeStageContext(&b, sc)
	if sc.FailLoop > 0 || sc.Feedback != "" {
		fmt.Fprintf(&b, "## Task to re-plan\nThe task below kept failing review. Split it into smaller subtasks.\n%s\n", goal)
		return b.String()
	}
	fmt.Fprintf(&b, "## Plan this\n%s\n", goal)
	return b.String()
}

func proposerPrompt(fc improve.FailingContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task\n%s\n\n", fc.Task)
	if fc.Target != "" {
		fmt.Fprintf(&b, "## Target\n%s\n\n", fc.Target)
	}
	if fc.CurrentContent != "" {
		fmt.Fprintf(&b, "## Current content\n```\n%s\n```\n\n", fc.CurrentContent)
	} else if fc.Output.Content != "" {
		fmt.Fprintf(&b, "## Work that failed review\n%s\n\n", fc.Output.Content)
	}
	fmt.Fprintf(&b, "## Review feedback\n%s\n\n", fc.Verdict.Message)
	writeFailHistory(&b, fc.FailHistory)
	fmt.Fprintf(&b, "This is attempt %d.\n", fc.FailLoop+1)
	return b.String()
}
