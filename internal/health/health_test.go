package health

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/cadre/internal/workstore"
	"github.com/ShayCichocki/cadre/pkg/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// setupHealth returns an AgentHealth and its store sharing one fake clock.
func setupHealth(t *testing.T, agentID string, opts ...Option) (*AgentHealth, *workstore.MemoryStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)}
	store := workstore.NewMemoryStore()
	store.SetClock(clock.Now)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(store, agentID, opts...), store, clock
}

func TestIsAlive(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		timeout time.Duration
		want    bool
	}{
		{"recent heartbeat", 10 * time.Second, 60 * time.Second, true},
		{"stale heartbeat", 61 * time.Second, 60 * time.Second, false},
		{"exactly at timeout", 60 * time.Second, 60 * time.Second, false},
		{"short timeout", 10 * time.Second, 5 * time.Second, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Heartbeat TTL longer than the age so the key itself survives.
			h, _, clock := setupHealth(t, "worker-1", WithHeartbeatTTL(time.Hour))
			if err := h.Heartbeat(); err != nil {
				t.Fatalf("Heartbeat failed: %v", err)
			}
			clock.Advance(tt.age)
			if got := h.IsAlive(tt.timeout); got != tt.want {
				t.Errorf("IsAlive(%v) after %v = %v, want %v", tt.timeout, tt.age, got, tt.want)
			}
		})
	}
}

func TestIsAlive_NoHeartbeat(t *testing.T) {
	h, _, _ := setupHealth(t, "ghost")
	if h.IsAlive(time.Minute) {
		t.Error("IsAlive() = true for agent that never heartbeat")
	}
}

func TestIsAlive_HeartbeatKeyExpired(t *testing.T) {
	h, _, clock := setupHealth(t, "worker-1")
	h.Heartbeat()

	clock.Advance(DefaultHeartbeatTTL + time.Second)
	if _, ok := h.LastHeartbeat(); ok {
		t.Error("LastHeartbeat() found an expired key")
	}
	if h.IsAlive(time.Hour) {
		t.Error("IsAlive() = true after heartbeat key expired")
	}
}

func TestStatusRoundTrip(t *testing.T) {
	h, _, clock := setupHealth(t, "dev")

	got, err := h.GetStatus()
	if err != nil || got != nil {
		t.Fatalf("GetStatus() before write = %v, %v; want nil, nil", got, err)
	}

	if err := h.SetStatus(models.AgentStatusStarting, nil); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}
	started := clock.Now()

	clock.Advance(5 * time.Minute)
	if err := h.SetStatus(models.AgentStatusRunning, map[string]any{"task": "build"}); err != nil {
		t.Fatalf("SetStatus failed: %v", err)
	}

	got, err = h.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus failed: %v", err)
	}
	if got.Status != models.AgentStatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, models.AgentStatusRunning)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
	if !got.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, clock.Now())
	}
	if got.Payload["task"] != "build" {
		t.Errorf("Payload[task] = %v, want build", got.Payload["task"])
	}
}

func TestStatusExpires(t *testing.T) {
	h, _, clock := setupHealth(t, "dev", WithStatusTTL(time.Minute))
	h.SetStatus(models.AgentStatusIdle, nil)

	clock.Advance(time.Minute)
	got, err := h.GetStatus()
	if err != nil || got != nil {
		t.Errorf("GetStatus() after ttl = %v, %v; want nil, nil", got, err)
	}
}

func TestMetrics(t *testing.T) {
	h, _, _ := setupHealth(t, "pool")

	if _, err := h.IncrementMetric(models.MetricTasksCompleted, 3); err != nil {
		t.Fatalf("IncrementMetric failed: %v", err)
	}
	if _, err := h.IncrementMetric(models.MetricTasksFailed, 1); err != nil {
		t.Fatalf("IncrementMetric failed: %v", err)
	}
	if err := h.UpdateMetrics(map[string]int64{
		models.MetricProcessingMilli: 800,
		"retries":                    2,
	}); err != nil {
		t.Fatalf("UpdateMetrics failed: %v", err)
	}

	got, err := h.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	want := models.AgentMetrics{
		TasksCompleted:          3,
		TasksFailed:             1,
		TotalProcessingMillis:   800,
		AverageProcessingMillis: 200,
		Custom:                  map[string]int64{"retries": 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetMetrics() = %+v, want %+v", got, want)
	}

	// UpdateMetrics overwrites only the named counters.
	h.UpdateMetrics(map[string]int64{models.MetricTasksCompleted: 7})
	got, _ = h.GetMetrics()
	if got.TasksCompleted != 7 || got.TasksFailed != 1 {
		t.Errorf("after merge completed=%d failed=%d, want 7 and 1", got.TasksCompleted, got.TasksFailed)
	}
	if got.AverageProcessingMillis != 100 {
		t.Errorf("AverageProcessingMillis = %v, want 100", got.AverageProcessingMillis)
	}
}

func TestIncrementMetric_SetsTTLOnce(t *testing.T) {
	h, store, clock := setupHealth(t, "pool", WithMetricsTTL(time.Hour))

	h.IncrementMetric("hits", 1)
	clock.Advance(10 * time.Minute)
	h.IncrementMetric("hits", 1)

	ttl, err := store.TTL(h.counterKey("hits"))
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl != 50*time.Minute {
		t.Errorf("counter TTL = %v, want 50m", ttl)
	}
}

func TestIncrementMetric_Concurrent(t *testing.T) {
	h, _, _ := setupHealth(t, "pool")

	const workers = 10
	const each = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				if _, err := h.IncrementMetric(models.MetricTasksCompleted, 1); err != nil {
					t.Errorf("IncrementMetric failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := h.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics failed: %v", err)
	}
	if got.TasksCompleted != workers*each {
		t.Errorf("TasksCompleted = %d, want %d", got.TasksCompleted, workers*each)
	}
}

func TestListAgents(t *testing.T) {
	store := workstore.NewMemoryStore()
	New(store, "b").Heartbeat()
	New(store, "a").SetStatus(models.AgentStatusIdle, nil)
	New(store, "c").IncrementMetric("x", 1)

	got, err := ListAgents(store)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListAgents() = %v, want %v", got, want)
	}
}

func TestRunHeartbeat_StopsOnCancel(t *testing.T) {
	store := workstore.NewMemoryStore()
	h := New(store, "loop")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.RunHeartbeat(ctx, 10*time.Millisecond)
		close(done)
	}()

	deadline := time.After(time.Second)
	for !h.IsAlive(time.Minute) {
		select {
		case <-deadline:
			t.Fatal("no heartbeat written")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunHeartbeat did not return after cancel")
	}
}
