package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/pkg/models"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeController) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, s)
}

func (f *fakeController) Pause()  { f.record("pause") }
func (f *fakeController) Resume() { f.record("resume") }
func (f *fakeController) Stop()   { f.record("stop") }

func key(s string) tea.KeyMsg {
	if s == "ctrl+c" {
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(m *Monitor, events ...orchestrator.OrchestratorEvent) {
	for _, e := range events {
		m.Update(EventMsg{Event: e})
	}
}

func TestMonitor_TaskLifecycle(t *testing.T) {
	m := NewMonitor(nil, nil)

	send(m,
		orchestrator.OrchestratorEvent{Type: orchestrator.EventRunStarted, RunID: "r1", Message: "build calc", Remaining: 2},
		orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskStarted, Task: "add", Remaining: 1},
		orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskReviewed, Task: "add", Passed: false, Message: "no tests"},
		orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskRetry, Task: "add", FailLoop: 1, Message: "improvement applied"},
	)

	active := m.Active()
	if len(active) != 1 {
		t.Fatalf("expected 1 active task, got %d", len(active))
	}
	if active[0].Status != "retrying" || active[0].FailLoop != 1 {
		t.Errorf("unexpected row: %+v", active[0])
	}
	if m.retries != 1 || m.remaining != 1 {
		t.Errorf("expected 1 retry and 1 remaining, got %d and %d", m.retries, m.remaining)
	}

	send(m, orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskCompleted, Task: "add", FailLoop: 1, Passed: true})

	if len(m.Active()) != 0 {
		t.Error("expected completed task to leave the in-flight list")
	}
	if m.completed != 1 || len(m.finished) != 1 || m.finished[0].Status != "completed" {
		t.Errorf("unexpected finished state: %d %+v", m.completed, m.finished)
	}

	view := m.View()
	for _, want := range []string{"build calc", "r1", "1 completed", "add"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestMonitor_EscalationAndAlert(t *testing.T) {
	m := NewMonitor(nil, nil)

	send(m,
		orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskStarted, Task: "x"},
		orchestrator.OrchestratorEvent{Type: orchestrator.EventPolicyTriggered, Task: "x", FailLoop: 3, Message: `task "x" failed review 3 times`},
		orchestrator.OrchestratorEvent{Type: orchestrator.EventTaskEscalated, Task: "x", FailLoop: 3, Message: "replaced by 2 subtasks"},
	)

	if m.escalated != 1 {
		t.Errorf("expected 1 escalated, got %d", m.escalated)
	}
	if alerts := m.Alerts(); len(alerts) != 1 || !strings.Contains(alerts[0], "3 times") {
		t.Errorf("unexpected alerts: %v", alerts)
	}
	if !strings.Contains(m.View(), "failed review 3 times") {
		t.Error("expected alert in view")
	}
}

func TestMonitor_StrategySwitch(t *testing.T) {
	m := NewMonitor(nil, nil, WithStrategy(models.StrategyAdaptive))

	send(m, orchestrator.OrchestratorEvent{Type: orchestrator.EventStrategySwitched, Remaining: 6, Message: "parallel"})

	if m.strategy != "parallel" {
		t.Errorf("expected parallel strategy, got %q", m.strategy)
	}
}

func TestMonitor_Keys(t *testing.T) {
	ctrl := &fakeController{}
	m := NewMonitor(nil, ctrl)

	m.Update(key("p"))
	if !m.paused {
		t.Error("expected paused")
	}
	if !strings.Contains(m.View(), "Paused") {
		t.Error("expected paused footer")
	}
	m.Update(key("p"))
	m.Update(key("s"))
	m.Update(key("s"))

	want := []string{"pause", "resume", "stop"}
	if strings.Join(ctrl.calls, ",") != strings.Join(want, ",") {
		t.Errorf("expected calls %v, got %v", want, ctrl.calls)
	}

	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if ctrl.calls[len(ctrl.calls)-1] != "stop" {
		t.Error("expected quit to stop a live run")
	}
}

func TestMonitor_QuitAfterDoneDoesNotStop(t *testing.T) {
	ctrl := &fakeController{}
	m := NewMonitor(nil, ctrl)

	m.Update(DoneMsg{State: &models.OrchestratorState{History: []string{"run finished: 1 completed"}}})
	m.Update(key("ctrl+c"))

	if len(ctrl.calls) != 0 {
		t.Errorf("expected no controller calls, got %v", ctrl.calls)
	}
}

func TestMonitor_Done(t *testing.T) {
	tests := []struct {
		name  string
		state *models.OrchestratorState
		want  string
	}{
		{
			name: "success",
			state: &models.OrchestratorState{
				Plan:         []string{"a"},
				CurrentIndex: 1,
				Completed:    []models.TaskState{{Task: "a"}},
				History:      []string{"run finished: 1 completed, 0 escalated"},
			},
			want: "run finished",
		},
		{
			name:  "aborted",
			state: &models.OrchestratorState{Aborted: true, Error: "planner failed"},
			want:  "Aborted: planner failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(nil, nil)
			m.Update(DoneMsg{State: tt.state})

			if !m.Done() {
				t.Fatal("expected done")
			}
			if !strings.Contains(m.View(), tt.want) {
				t.Errorf("view missing %q:\n%s", tt.want, m.View())
			}
		})
	}
}

func TestMonitor_ReadsEventChannel(t *testing.T) {
	events := make(chan orchestrator.OrchestratorEvent, 1)
	m := NewMonitor(events, nil)

	events <- orchestrator.OrchestratorEvent{Type: orchestrator.EventRunAborted, Error: errors.New("boom"), Message: "boom"}
	msg := waitForEvent(events)()

	_, next := m.Update(msg)
	if !m.aborted || m.errMsg != "boom" {
		t.Errorf("expected aborted with boom, got %v %q", m.aborted, m.errMsg)
	}
	if next == nil {
		t.Fatal("expected a command waiting for the next event")
	}

	close(events)
	if _, ok := next().(eventsClosedMsg); !ok {
		t.Error("expected eventsClosedMsg after close")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("got %q", got)
	}
	if got := truncate("a\nb", 10); got != "a b" {
		t.Errorf("got %q", got)
	}
}
