package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/cadre/internal/api"
	"github.com/ShayCichocki/cadre/internal/config"
	"github.com/ShayCichocki/cadre/internal/notify"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/internal/workstore"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// stubLLM answers by stage, keyed on the system prompt.
type stubLLM struct {
	mu      sync.Mutex
	reviews int
	// failFirst makes the first n reviews fail.
	failFirst int
}

func (s *stubLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.HasPrefix(system, "You are the developer"):
		return `{"artifact": "out/notes.md", "content": "# notes\n"}`, nil
	case strings.HasPrefix(system, "You are the reviewer"):
		s.reviews++
		if s.reviews <= s.failFirst {
			return `{"passed": false, "message": "too thin"}`, nil
		}
		return `{"passed": true, "message": "ok"}`, nil
	case strings.HasPrefix(system, "You are the planner"):
		return `["write notes", "polish notes"]`, nil
	default:
		return `{"target": "out/notes.md", "proposed_change": "# better notes\n", "rationale": "more detail"}`, nil
	}
}

var _ api.Completer = (*stubLLM)(nil)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Improve.VerifyCommand = ""
	cfg.Store.Backend = config.BackendMemory
	return cfg
}

func writePlan(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write plan: %v", err)
	}
	return path
}

func TestResolveRequest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "STYLE.md"), []byte("tabs"), 0644); err != nil {
		t.Fatal(err)
	}
	path := writePlan(t, dir, "goal: ship notes\ntasks:\n  - draft\n  - edit\nknowledge:\n  - STYLE.md\n")

	tests := []struct {
		name     string
		args     []string
		plan     string
		wantGoal string
		wantN    int
		wantErr  bool
	}{
		{name: "goal only", args: []string{"do it"}, wantGoal: "do it"},
		{name: "plan only", plan: path, wantGoal: "ship notes", wantN: 2},
		{name: "argument wins", args: []string{"other"}, plan: path, wantGoal: "other", wantN: 2},
		{name: "nothing", wantErr: true},
		{name: "missing plan", plan: filepath.Join(dir, "nope.yaml"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := resolveRequest(tt.args, tt.plan)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveRequest failed: %v", err)
			}
			if req.goal != tt.wantGoal || len(req.tasks) != tt.wantN {
				t.Errorf("got goal %q with %d tasks", req.goal, len(req.tasks))
			}
			if tt.plan != "" && req.knowledge["STYLE.md"] != "tabs" {
				t.Errorf("expected knowledge from plan, got %v", req.knowledge)
			}
		})
	}
}

func TestApplyRunFlags(t *testing.T) {
	t.Cleanup(func() {
		runStrategy, runFailLoopBound = "", 0
		runCmd.Flags().Lookup("strategy").Changed = false
		runCmd.Flags().Lookup("fail-loop-bound").Changed = false
	})

	if err := runCmd.Flags().Set("strategy", "adaptive"); err != nil {
		t.Fatal(err)
	}
	if err := runCmd.Flags().Set("fail-loop-bound", "1"); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	if err := applyRunFlags(runCmd, cfg); err != nil {
		t.Fatalf("applyRunFlags failed: %v", err)
	}
	if cfg.Orchestrator.Strategy != "adaptive" || cfg.Orchestrator.FailLoopBound != 1 {
		t.Errorf("flags not applied: %+v", cfg.Orchestrator)
	}
	if cfg.Orchestrator.MaxParallel != 10 {
		t.Errorf("unset flag should keep config value, got %d", cfg.Orchestrator.MaxParallel)
	}

	if err := runCmd.Flags().Set("strategy", "random"); err != nil {
		t.Fatal(err)
	}
	if err := applyRunFlags(runCmd, config.Default()); err == nil {
		t.Error("expected invalid strategy to be rejected")
	}
}

func TestBuildOrchestrator_EndToEnd(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Orchestrator.FailLoopBound = 1

	store := workstore.NewMemoryStore()
	defer store.Close()
	h := newHealth(cfg, store)

	llm := &stubLLM{failFirst: 1}
	req := runRequest{goal: "write notes", knowledge: map[string]string{}}
	orch, err := buildOrchestrator(cfg, dir, llm, req, h)
	if err != nil {
		t.Fatalf("buildOrchestrator failed: %v", err)
	}
	defer orch.Close()

	var log bytes.Buffer
	state := runHeadless(context.Background(), &log, orch, req.goal)

	if state.Aborted {
		t.Fatalf("run aborted: %s", state.Error)
	}
	if len(state.Completed) != 2 {
		t.Fatalf("expected 2 completed tasks, got %d: %v", len(state.Completed), state.History)
	}
	if state.FailCount != 1 {
		t.Errorf("expected 1 retry, got %d", state.FailCount)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out", "notes.md"))
	if err != nil {
		t.Fatalf("expected artifact on disk: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected artifact content")
	}

	if !strings.Contains(log.String(), "write notes") {
		t.Errorf("expected task lines in headless output:\n%s", log.String())
	}

	m, err := h.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if m.TasksCompleted != 2 {
		t.Errorf("expected 2 completed in metrics, got %d", m.TasksCompleted)
	}
}

func TestBuildOrchestrator_FixedPlanAndAlerts(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Orchestrator.FailLoopBound = 0
	cfg.Orchestrator.MaxReplans = 0

	llm := &stubLLM{failFirst: 100}
	req := runRequest{goal: "g", tasks: []string{"only task"}, knowledge: map[string]string{}}
	orch, err := buildOrchestrator(cfg, dir, llm, req, nil)
	if err != nil {
		t.Fatalf("buildOrchestrator failed: %v", err)
	}
	defer orch.Close()

	state := orch.Run(context.Background(), req.goal)
	if !state.Aborted {
		t.Fatal("expected the re-plan budget to abort the run")
	}
	if len(state.Alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(state.Alerts))
	}

	alerts, err := os.ReadFile(notify.AlertsPath(dir))
	if err != nil {
		t.Fatalf("expected alerts file: %v", err)
	}
	if !strings.Contains(string(alerts), "only task") {
		t.Errorf("alerts file missing task:\n%s", alerts)
	}
}

func TestRecordDecisions(t *testing.T) {
	board, err := notify.NewDecisionBoard(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	state := &models.OrchestratorState{
		Escalated: []models.TaskState{
			{Task: "big", SubPlan: []string{"a", "b"}, FailHistory: make([]models.FailEntry, 3)},
			{Task: "no subplan"},
		},
	}

	recordDecisions(board, state)

	content := board.Read()
	if !strings.Contains(content, `"big" did not pass review after 3 retries`) {
		t.Errorf("expected decision recorded:\n%s", content)
	}
	if strings.Contains(content, "no subplan") {
		t.Error("tasks without a sub-plan should not be recorded")
	}
}

func TestPrintSummary(t *testing.T) {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(90 * time.Second)
	tracker := api.NewTokenTracker()
	tracker.Add(12000, 3400)

	var buf bytes.Buffer
	printSummary(&buf, &models.OrchestratorState{
		Goal:       "g",
		Strategy:   models.StrategySerial,
		Completed:  []models.TaskState{{Task: "a"}},
		FailCount:  2,
		Alerts:     []models.Alert{{Task: "a", Message: "a hit the bound"}},
		StartedAt:  start,
		FinishedAt: &end,
	}, tracker)

	out := buf.String()
	for _, want := range []string{"Run finished", "Completed: 1", "Retries:   2", "1m 30s", "12,000 in", "a hit the bound"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestPrintEvent(t *testing.T) {
	var buf bytes.Buffer
	printEvent(&buf, orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskRetry, Task: "t", FailLoop: 2, Message: "applied"})
	if !strings.Contains(buf.String(), "t (retry 2): applied") {
		t.Errorf("unexpected line %q", buf.String())
	}
}

func TestFormatNumber(t *testing.T) {
	tests := map[int64]string{0: "0", 999: "999", 1000: "1,000", 1234567: "1,234,567", -4200: "-4,200"}
	for in, want := range tests {
		if got := formatNumber(in); got != want {
			t.Errorf("formatNumber(%d) = %q, want %q", in, got, want)
		}
	}
}
