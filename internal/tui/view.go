package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// visibleLogs is how many activity log lines the view shows.
const visibleLogs = 8

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	label    lipgloss.Style
	value    lipgloss.Style
	running  lipgloss.Style
	warning  lipgloss.Style
	failed   lipgloss.Style
	done     lipgloss.Style
	muted    lipgloss.Style
	kind     lipgloss.Style
	alertBox lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")),
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),
		running: lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		warning: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		done: lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")).
			Bold(true),
		muted: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		kind: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Width(9),
		alertBox: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
	}
}

// View implements tea.Model.
func (m *Monitor) View() string {
	if m.quitting {
		return ""
	}

	s := m.styles
	var b strings.Builder

	b.WriteString(s.title.Render("=== cadre run ==="))
	b.WriteString("\n\n")

	m.field(&b, "Goal:", truncate(m.goal, 70))
	if m.runID != "" {
		m.field(&b, "Run:", m.runID)
	}
	strategy := m.strategy
	if strategy == "" {
		strategy = "serial"
	}
	m.field(&b, "Strategy:", strategy)
	m.field(&b, "Progress:", fmt.Sprintf("%d completed, %d escalated, %d remaining, %d retries",
		m.completed, m.escalated, m.remaining, m.retries))
	b.WriteString("\n")

	if rows := m.Active(); len(rows) > 0 {
		b.WriteString(s.header.Render("In flight"))
		b.WriteString("\n")
		for _, r := range rows {
			status := s.running.Render(m.spinner.View() + " " + r.Status)
			if r.Status == "retrying" {
				status = s.warning.Render(m.spinner.View() + " " + r.Status)
			}
			line := fmt.Sprintf("  %s  %s", status, truncate(r.Task, 50))
			if r.FailLoop > 0 {
				line += s.muted.Render(fmt.Sprintf("  (retry %d)", r.FailLoop))
			}
			if r.Verdict != "" {
				line += s.muted.Render("  " + truncate(r.Verdict, 40))
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(m.finished) > 0 {
		b.WriteString(s.header.Render("Finished"))
		b.WriteString("\n")
		start := 0
		if len(m.finished) > visibleLogs {
			start = len(m.finished) - visibleLogs
		}
		for _, r := range m.finished[start:] {
			mark := s.done.Render("✓")
			if r.Status == "escalated" {
				mark = s.warning.Render("↳")
			}
			b.WriteString(fmt.Sprintf("  %s %s", mark, truncate(r.Task, 60)))
			if r.FailLoop > 0 {
				b.WriteString(s.muted.Render(fmt.Sprintf("  (%d retries)", r.FailLoop)))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	if len(m.alerts) > 0 {
		b.WriteString(s.alertBox.Render(strings.Join(m.alerts, "\n")))
		b.WriteString("\n\n")
	}

	b.WriteString(m.renderLogs())
	b.WriteString("\n")
	b.WriteString(m.footer())
	b.WriteString("\n")

	return b.String()
}

func (m *Monitor) field(b *strings.Builder, label, value string) {
	b.WriteString(m.styles.label.Render(label))
	b.WriteString(m.styles.value.Render(value))
	b.WriteString("\n")
}

func (m *Monitor) renderLogs() string {
	if len(m.logs) == 0 {
		return ""
	}
	s := m.styles

	var b strings.Builder
	b.WriteString(s.header.Render("Activity"))
	b.WriteString("\n")

	start := 0
	if len(m.logs) > visibleLogs {
		start = len(m.logs) - visibleLogs
	}
	for _, e := range m.logs[start:] {
		ts := s.muted.Render(e.Timestamp.Format("15:04:05"))
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, s.kind.Render(e.Kind), truncate(e.Message, 80)))
	}
	return b.String()
}

func (m *Monitor) footer() string {
	s := m.styles
	switch {
	case m.done && m.aborted:
		return s.failed.Render("Aborted: "+m.errMsg) + s.muted.Render("  q to exit")
	case m.done:
		return s.done.Render(m.summary) + s.muted.Render("  q to exit")
	case m.stopping:
		return s.warning.Render("Stopping after the current step...")
	case m.paused:
		return s.warning.Render("Paused") + s.muted.Render("  p resume · s stop · q quit")
	default:
		return s.muted.Render("p pause · s stop · q quit")
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n || n < 4 {
		return s
	}
	return s[:n-3] + "..."
}
