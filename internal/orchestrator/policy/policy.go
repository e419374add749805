// Package policy defines the tunable limits of an orchestration run: the
// fail-loop bound, execution strategy, re-plan budget and loop timings.
package policy

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/cadre/pkg/models"
)

// Config contains all configurable policy parameters for the orchestrator.
type Config struct {
	// Retry controls the per-task self-improvement loop.
	Retry RetryPolicy

	// Execution controls how the plan is walked.
	Execution ExecutionPolicy

	// Replan controls escalation to the planner.
	Replan ReplanPolicy

	// Loop controls run loop timings.
	Loop LoopPolicy
}

// RetryPolicy controls the bounded retry-and-patch cycle.
type RetryPolicy struct {
	// FailLoopBound is the number of retries a task gets before it is
	// escalated. Zero escalates on the first failing review.
	FailLoopBound int
}

// ExecutionPolicy controls plan execution.
type ExecutionPolicy struct {
	// Strategy is serial, parallel or adaptive.
	Strategy models.Strategy

	// AdaptiveThreshold is the remaining-plan length above which the
	// adaptive strategy switches to parallel.
	AdaptiveThreshold int

	// MaxParallel caps concurrently running task pipelines in parallel mode.
	MaxParallel int

	// TaskTimeout bounds one task pipeline in parallel mode.
	TaskTimeout time.Duration
}

// ReplanPolicy controls escalation.
type ReplanPolicy struct {
	// MaxReplans is the number of sub-plan substitutions allowed per run.
	// Exceeding it aborts the run.
	MaxReplans int
}

// LoopPolicy controls run loop behavior.
type LoopPolicy struct {
	// HeartbeatInterval is how often the orchestrator heartbeats during a run.
	HeartbeatInterval time.Duration

	// EventBufferSize is the buffer size for the events channel.
	EventBufferSize int
}

// Default returns the default policy configuration.
func Default() *Config {
	return &Config{
		Retry: RetryPolicy{
			FailLoopBound: 3,
		},
		Execution: ExecutionPolicy{
			Strategy:          models.StrategySerial,
			AdaptiveThreshold: 3,
			MaxParallel:       10,
			TaskTimeout:       30 * time.Minute,
		},
		Replan: ReplanPolicy{
			MaxReplans: 10,
		},
		Loop: LoopPolicy{
			HeartbeatInterval: 15 * time.Second,
			EventBufferSize:   256,
		},
	}
}

// Validate clamps out-of-range values to their defaults and rejects an
// unknown strategy.
func (c *Config) Validate() error {
	d := Default()

	if c.Retry.FailLoopBound < 0 {
		c.Retry.FailLoopBound = d.Retry.FailLoopBound
	}
	if c.Execution.Strategy == "" {
		c.Execution.Strategy = d.Execution.Strategy
	}
	if !c.Execution.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q", c.Execution.Strategy)
	}
	if c.Execution.AdaptiveThreshold < 0 {
		c.Execution.AdaptiveThreshold = d.Execution.AdaptiveThreshold
	}
	if c.Execution.MaxParallel < 1 {
		c.Execution.MaxParallel = d.Execution.MaxParallel
	}
	if c.Execution.TaskTimeout <= 0 {
		c.Execution.TaskTimeout = d.Execution.TaskTimeout
	}
	if c.Replan.MaxReplans < 0 {
		c.Replan.MaxReplans = d.Replan.MaxReplans
	}
	if c.Loop.HeartbeatInterval <= 0 {
		c.Loop.HeartbeatInterval = d.Loop.HeartbeatInterval
	}
	if c.Loop.EventBufferSize < 1 {
		c.Loop.EventBufferSize = d.Loop.EventBufferSize
	}
	return nil
}
