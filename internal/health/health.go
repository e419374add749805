// Package health publishes an agent's status, metrics and heartbeat to a
// WorkStore and answers liveness queries from the heartbeat age.
//
// Every key is scoped to one agent id and written only by that agent, so no
// cross-agent locking is needed. Counters go through WorkStore.Increment
// because pool workers update them concurrently.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/ShayCichocki/cadre/internal/workstore"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// Default TTLs.
const (
	DefaultHeartbeatTTL = 60 * time.Second
	DefaultStatusTTL    = 24 * time.Hour
	DefaultMetricsTTL   = 24 * time.Hour
)

// AgentsKey is the registry set of every agent that has reported in.
const AgentsKey = "agents"

// AgentHealth exposes status, metrics and heartbeat for one logical agent.
type AgentHealth struct {
	store   workstore.WorkStore
	agentID string

	statusTTL    time.Duration
	metricsTTL   time.Duration
	heartbeatTTL time.Duration
	now          func() time.Time
}

// Option configures an AgentHealth.
type Option func(*AgentHealth)

// WithStatusTTL sets how long a status record lives.
func WithStatusTTL(d time.Duration) Option {
	return func(h *AgentHealth) { h.statusTTL = d }
}

// WithMetricsTTL sets how long metric counters live.
func WithMetricsTTL(d time.Duration) Option {
	return func(h *AgentHealth) { h.metricsTTL = d }
}

// WithHeartbeatTTL sets how long a heartbeat key lives.
func WithHeartbeatTTL(d time.Duration) Option {
	return func(h *AgentHealth) { h.heartbeatTTL = d }
}

// WithClock replaces the time source (used by tests).
func WithClock(now func() time.Time) Option {
	return func(h *AgentHealth) { h.now = now }
}

// New creates an AgentHealth for agentID backed by store.
func New(store workstore.WorkStore, agentID string, opts ...Option) *AgentHealth {
	h := &AgentHealth{
		store:        store,
		agentID:      agentID,
		statusTTL:    DefaultStatusTTL,
		metricsTTL:   DefaultMetricsTTL,
		heartbeatTTL: DefaultHeartbeatTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// AgentID returns the agent this tracker writes for.
func (h *AgentHealth) AgentID() string {
	return h.agentID
}

func (h *AgentHealth) key(suffix string) string {
	return "agent:" + h.agentID + ":" + suffix
}

func (h *AgentHealth) counterKey(name string) string {
	return h.key("counter:" + name)
}

// register adds the agent to the registry set.
func (h *AgentHealth) register() error {
	if err := h.store.AddToSet(AgentsKey, h.agentID); err != nil {
		return fmt.Errorf("register agent %s: %w", h.agentID, err)
	}
	return nil
}

// SetStatus publishes a status label with a free-form payload. The original
// start time is kept across updates.
func (h *AgentHealth) SetStatus(status string, payload map[string]any) error {
	now := h.now()
	rec := models.AgentStatus{
		AgentID:   h.agentID,
		Status:    status,
		StartedAt: now,
		UpdatedAt: now,
		Payload:   payload,
	}
	if prev, err := h.GetStatus(); err == nil && prev != nil {
		rec.StartedAt = prev.StartedAt
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := h.store.Set(h.key("status"), string(data), h.statusTTL); err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	return h.register()
}

// GetStatus returns the agent's status record, or nil if none is stored.
func (h *AgentHealth) GetStatus() (*models.AgentStatus, error) {
	raw, err := h.store.Get(h.key("status"))
	if errors.Is(err, workstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}

	var rec models.AgentStatus
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &rec, nil
}

// IncrementMetric atomically adds delta to the named counter. A counter
// created by this call gets the metrics TTL.
func (h *AgentHealth) IncrementMetric(name string, delta int64) (int64, error) {
	key := h.counterKey(name)
	v, err := h.store.Increment(key, delta)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", name, err)
	}
	if ttl, err := h.store.TTL(key); err == nil && ttl == workstore.NoExpiry && h.metricsTTL > 0 {
		if err := h.store.Expire(key, h.metricsTTL); err != nil && !errors.Is(err, workstore.ErrNotFound) {
			return 0, fmt.Errorf("set ttl for %s: %w", name, err)
		}
	}
	if err := h.store.AddToSet(h.key("counters"), name); err != nil {
		return 0, fmt.Errorf("index counter %s: %w", name, err)
	}
	return v, h.register()
}

// UpdateMetrics merges partial into the stored counters, overwriting the
// named values. The derived average is recomputed on read.
func (h *AgentHealth) UpdateMetrics(partial map[string]int64) error {
	for name, v := range partial {
		if err := h.store.Set(h.counterKey(name), strconv.FormatInt(v, 10), h.metricsTTL); err != nil {
			return fmt.Errorf("update metric %s: %w", name, err)
		}
		if err := h.store.AddToSet(h.key("counters"), name); err != nil {
			return fmt.Errorf("index counter %s: %w", name, err)
		}
	}
	return h.register()
}

// GetMetrics reads every counter and returns the aggregated metrics.
func (h *AgentHealth) GetMetrics() (models.AgentMetrics, error) {
	names, err := h.store.Members(h.key("counters"))
	if err != nil {
		return models.AgentMetrics{}, fmt.Errorf("list counters: %w", err)
	}

	counters := make(map[string]int64, len(names))
	for _, name := range names {
		raw, err := h.store.Get(h.counterKey(name))
		if errors.Is(err, workstore.ErrNotFound) {
			continue
		}
		if err != nil {
			return models.AgentMetrics{}, fmt.Errorf("get counter %s: %w", name, err)
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return models.AgentMetrics{}, fmt.Errorf("parse counter %s: %w", name, err)
		}
		counters[name] = v
	}
	return models.MetricsFromCounters(counters), nil
}

// Heartbeat writes the current time on a short TTL.
func (h *AgentHealth) Heartbeat() error {
	ts := strconv.FormatInt(h.now().UnixNano(), 10)
	if err := h.store.Set(h.key("heartbeat"), ts, h.heartbeatTTL); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return h.register()
}

// LastHeartbeat returns the time of the last heartbeat, if one is live.
func (h *AgentHealth) LastHeartbeat() (time.Time, bool) {
	raw, err := h.store.Get(h.key("heartbeat"))
	if err != nil {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// IsAlive reports whether the agent heartbeat less than timeout ago.
func (h *AgentHealth) IsAlive(timeout time.Duration) bool {
	last, ok := h.LastHeartbeat()
	if !ok {
		return false
	}
	return h.now().Sub(last) < timeout
}

// RunHeartbeat writes a heartbeat immediately and then every interval until
// ctx is done.
func (h *AgentHealth) RunHeartbeat(ctx context.Context, interval time.Duration) {
	if err := h.Heartbeat(); err != nil {
		log.Printf("[health] agent %s: %v", h.agentID, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.Heartbeat(); err != nil {
				log.Printf("[health] agent %s: %v", h.agentID, err)
			}
		}
	}
}

// ListAgents returns every agent id registered in store.
func ListAgents(store workstore.WorkStore) ([]string, error) {
	ids, err := store.Members(AgentsKey)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return ids, nil
}
