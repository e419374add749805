package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/cadre/internal/notify"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// maxLogEntries bounds the activity log kept in memory.
const maxLogEntries = 200

// EventMsg wraps an orchestrator event for the monitor.
type EventMsg struct {
	Event orchestrator.OrchestratorEvent
}

// DoneMsg is sent when Run returns with its final state.
type DoneMsg struct {
	State *models.OrchestratorState
}

// eventsClosedMsg signals that the event channel was closed.
type eventsClosedMsg struct{}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// TaskRow is the monitor's view of a single task.
type TaskRow struct {
	Task     string
	FailLoop int
	Status   string // "running", "retrying", "completed", "escalated"
	Verdict  string
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithGoal sets the goal shown before the run_started event arrives.
func WithGoal(goal string) Option {
	return func(m *Monitor) { m.goal = goal }
}

// WithStrategy sets the initial strategy label.
func WithStrategy(s models.Strategy) Option {
	return func(m *Monitor) { m.strategy = string(s) }
}

// WithRefreshRate sets the spinner frame rate.
func WithRefreshRate(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.refresh = d
		}
	}
}

// Monitor is the bubbletea model for a single orchestrator run.
type Monitor struct {
	events <-chan orchestrator.OrchestratorEvent
	ctrl   notify.Controller

	goal      string
	runID     string
	strategy  string
	remaining int

	active   map[string]*TaskRow
	order    []string
	finished []TaskRow

	completed int
	escalated int
	retries   int
	alerts    []string
	logs      []LogEntry

	paused   bool
	stopping bool
	done     bool
	aborted  bool
	errMsg   string
	summary  string
	quitting bool

	refresh time.Duration
	spinner spinner.Model
	width   int
	height  int
	styles  styles
}

// NewMonitor creates a Monitor reading from events. ctrl may be nil, in
// which case the pause and stop keys only update the display.
func NewMonitor(events <-chan orchestrator.OrchestratorEvent, ctrl notify.Controller, opts ...Option) *Monitor {
	m := &Monitor{
		events:  events,
		ctrl:    ctrl,
		active:  make(map[string]*TaskRow),
		refresh: 100 * time.Millisecond,
		styles:  defaultStyles(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.spinner = spinner.New(
		spinner.WithSpinner(spinner.Spinner{Frames: spinner.Dot.Frames, FPS: m.refresh}),
		spinner.WithStyle(m.styles.running),
	)
	return m
}

// NewMonitorProgram creates a bubbletea program around a new Monitor.
func NewMonitorProgram(events <-chan orchestrator.OrchestratorEvent, ctrl notify.Controller, opts ...Option) (*tea.Program, *Monitor) {
	m := NewMonitor(events, ctrl, opts...)
	return tea.NewProgram(m, tea.WithAltScreen()), m
}

// waitForEvent blocks on the next orchestrator event.
func waitForEvent(events <-chan orchestrator.OrchestratorEvent) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: e}
	}
}

// Init implements tea.Model.
func (m *Monitor) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForEvent(m.events))
}

// Update implements tea.Model.
func (m *Monitor) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case EventMsg:
		m.apply(msg.Event)
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.events = nil

	case DoneMsg:
		m.finish(msg.State)
	}

	return m, nil
}

func (m *Monitor) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "q", "ctrl+c":
		if !m.done && m.ctrl != nil {
			m.ctrl.Stop()
		}
		m.quitting = true
		return tea.Quit

	case "p":
		if m.done {
			return nil
		}
		m.paused = !m.paused
		if m.ctrl != nil {
			if m.paused {
				m.ctrl.Pause()
			} else {
				m.ctrl.Resume()
			}
		}
		if m.paused {
			m.log("control", "paused")
		} else {
			m.log("control", "resumed")
		}

	case "s":
		if m.done || m.stopping {
			return nil
		}
		m.stopping = true
		if m.ctrl != nil {
			m.ctrl.Stop()
		}
		m.log("control", "stop requested")
	}
	return nil
}

// apply folds one orchestrator event into the display state.
func (m *Monitor) apply(e orchestrator.OrchestratorEvent) {
	if e.RunID != "" {
		m.runID = e.RunID
	}

	switch e.Type {
	case orchestrator.EventRunStarted:
		if e.Message != "" {
			m.goal = e.Message
		}
		m.remaining = e.Remaining
		m.log("run", fmt.Sprintf("started with %d tasks", e.Remaining))

	case orchestrator.EventTaskStarted:
		m.remaining = e.Remaining
		row := m.row(e.Task)
		row.Status = "running"
		m.log("task", "started "+e.Task)

	case orchestrator.EventTaskReviewed:
		row := m.row(e.Task)
		row.Verdict = verdictLabel(e.Passed, e.Message)

	case orchestrator.EventTaskRetry:
		m.retries++
		row := m.row(e.Task)
		row.Status = "retrying"
		row.FailLoop = e.FailLoop
		row.Verdict = verdictLabel(e.Passed, "")
		m.log("retry", fmt.Sprintf("%s: retry %d, %s", e.Task, e.FailLoop, e.Message))

	case orchestrator.EventPolicyTriggered:
		m.alerts = append(m.alerts, e.Message)
		m.log("alert", e.Message)

	case orchestrator.EventTaskEscalated:
		m.escalated++
		m.retire(e.Task, "escalated", e.FailLoop)
		m.log("escalate", fmt.Sprintf("%s: %s", e.Task, e.Message))

	case orchestrator.EventTaskCompleted:
		m.completed++
		m.retire(e.Task, "completed", e.FailLoop)
		m.log("done", e.Task)

	case orchestrator.EventStrategySwitched:
		m.strategy = e.Message
		m.log("strategy", fmt.Sprintf("switched to %s with %d remaining", e.Message, e.Remaining))

	case orchestrator.EventRunDone:
		m.summary = e.Message
		m.log("run", e.Message)

	case orchestrator.EventRunAborted:
		m.aborted = true
		m.errMsg = e.Message
		m.log("abort", e.Message)
	}
}

// finish records the final state returned by Run.
func (m *Monitor) finish(state *models.OrchestratorState) {
	m.done = true
	m.paused = false
	if state == nil {
		return
	}
	m.completed = len(state.Completed)
	m.escalated = len(state.Escalated)
	m.remaining = state.Remaining()
	m.strategy = string(state.Strategy)
	if state.Aborted {
		m.aborted = true
		m.errMsg = state.Error
	}
	if n := len(state.History); n > 0 && m.summary == "" && !state.Aborted {
		m.summary = state.History[n-1]
	}
}

func (m *Monitor) row(task string) *TaskRow {
	if r, ok := m.active[task]; ok {
		return r
	}
	r := &TaskRow{Task: task, Status: "running"}
	m.active[task] = r
	m.order = append(m.order, task)
	return r
}

func (m *Monitor) retire(task, status string, failLoop int) {
	r, ok := m.active[task]
	if !ok {
		r = &TaskRow{Task: task}
	}
	r.Status = status
	r.FailLoop = failLoop
	m.finished = append(m.finished, *r)

	delete(m.active, task)
	for i, t := range m.order {
		if t == task {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

func (m *Monitor) log(kind, message string) {
	m.logs = append(m.logs, LogEntry{Timestamp: time.Now(), Kind: kind, Message: message})
	if len(m.logs) > maxLogEntries {
		m.logs = m.logs[len(m.logs)-maxLogEntries:]
	}
}

func verdictLabel(passed bool, message string) string {
	label := "fail"
	if passed {
		label = "pass"
	}
	if message != "" {
		label += ": " + message
	}
	return label
}

// Active returns the tasks in flight, in dispatch order.
func (m *Monitor) Active() []TaskRow {
	rows := make([]TaskRow, 0, len(m.order))
	for _, t := range m.order {
		rows = append(rows, *m.active[t])
	}
	return rows
}

// Alerts returns the policy alerts seen so far.
func (m *Monitor) Alerts() []string {
	return append([]string(nil), m.alerts...)
}

// Done reports whether Run has returned.
func (m *Monitor) Done() bool {
	return m.done
}
