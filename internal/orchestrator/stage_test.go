package orchestrator

import (
	"testing"

	"github.com/ShayCichocki/cadre/pkg/models"
)

func TestStageContextDefaults(t *testing.T) {
	sc := NewStageContext("task").Build()

	if sc.Task != "task" {
		t.Errorf("expected task %q, got %q", "task", sc.Task)
	}
	if sc.FailLoop != 0 || len(sc.FailHistory) != 0 || len(sc.Alerts) != 0 {
		t.Errorf("expected empty retry state, got %+v", sc)
	}
	if sc.Knowledge == nil {
		t.Error("expected non-nil knowledge map")
	}
	if sc.LastImprovement != nil {
		t.Error("expected no improvement")
	}
}

func TestStageContextBuilder(t *testing.T) {
	history := []models.FailEntry{{FailLoop: 1}, {FailLoop: 2}}
	alerts := []models.Alert{{Task: "other"}}
	knowledge := map[string]string{"style": "gofmt"}
	imp := &models.ImprovementResult{Applied: true}

	sc := NewStageContext("task").
		WithGoal("goal").
		WithFailHistory(history).
		WithFeedback("missing tests").
		WithAlerts(alerts).
		WithKnowledge(knowledge).
		WithImprovement(imp).
		Build()

	if sc.Goal != "goal" || sc.Feedback != "missing tests" {
		t.Errorf("unexpected goal/feedback: %q %q", sc.Goal, sc.Feedback)
	}
	if sc.FailLoop != 2 {
		t.Errorf("expected fail loop from history length, got %d", sc.FailLoop)
	}
	if sc.LastImprovement != imp {
		t.Error("expected improvement to be set")
	}

	history[0].FailLoop = 99
	alerts[0].Task = "changed"
	knowledge["style"] = "changed"
	if sc.FailHistory[0].FailLoop != 1 || sc.Alerts[0].Task != "other" || sc.Knowledge["style"] != "gofmt" {
		t.Error("expected Build to copy slices and maps")
	}
}
