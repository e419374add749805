package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/workstore"
	"github.com/ShayCichocki/cadre/pkg/models"
)

func TestDisplayAgents(t *testing.T) {
	color.NoColor = true
	store := workstore.NewMemoryStore()
	defer store.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	h := health.New(store, "orchestrator", health.WithClock(func() time.Time { return now.Add(-10 * time.Second) }))
	if err := h.SetStatus(models.AgentStatusRunning, map[string]any{"goal": "ship it", "plan": 4}); err != nil {
		t.Fatal(err)
	}
	if err := h.Heartbeat(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.IncrementMetric(models.MetricTasksCompleted, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := h.IncrementMetric(models.MetricProcessingMilli, 6000); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := displayAgents(&buf, store, 60*time.Second, now); err != nil {
		t.Fatalf("displayAgents failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"orchestrator [alive]", "running (up 10s)", "ship it", "3 completed, 0 failed", "avg 2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if err := displayAgents(&buf, store, 5*time.Second, now); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "[stale]") {
		t.Errorf("expected stale agent with a short timeout:\n%s", buf.String())
	}
}

func TestDisplayAgents_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := displayAgents(&buf, workstore.NewMemoryStore(), time.Minute, time.Now()); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No agents registered") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
