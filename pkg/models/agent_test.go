package models

import "testing"

func TestMetricsFromCounters(t *testing.T) {
	m := MetricsFromCounters(map[string]int64{
		MetricTasksCompleted:  3,
		MetricTasksFailed:     1,
		MetricProcessingMilli: 800,
		"retries":             2,
	})

	if m.TasksCompleted != 3 || m.TasksFailed != 1 {
		t.Errorf("counts = %d/%d, want 3/1", m.TasksCompleted, m.TasksFailed)
	}
	if m.AverageProcessingMillis != 200 {
		t.Errorf("AverageProcessingMillis = %v, want 200", m.AverageProcessingMillis)
	}
	if m.Custom["retries"] != 2 {
		t.Errorf("Custom[retries] = %d, want 2", m.Custom["retries"])
	}
}

func TestMetricsFromCounters_NoFinishedTasks(t *testing.T) {
	m := MetricsFromCounters(map[string]int64{MetricProcessingMilli: 500})
	if m.AverageProcessingMillis != 0 {
		t.Errorf("AverageProcessingMillis = %v, want 0 with no finished tasks", m.AverageProcessingMillis)
	}
	if m.Custom != nil {
		t.Errorf("Custom = %v, want nil", m.Custom)
	}
}
