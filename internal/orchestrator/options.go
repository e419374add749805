package orchestrator

import (
	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/notify"
	"github.com/ShayCichocki/cadre/internal/orchestrator/policy"
)

// RequiredConfig contains the stage processors every Orchestrator needs.
// All fields are required and have no defaults.
type RequiredConfig struct {
	// Developer produces the work for each plan task.
	Developer Developer
	// Reviewer judges developer output.
	Reviewer Reviewer
	// Planner decomposes the goal and escalated tasks.
	Planner Planner
	// Improver runs the self-improvement cycle on failing work.
	Improver Improver
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	policyConfig *policy.Config
	notifier     notify.Notifier
	health       *health.AgentHealth
	logger       *DebugLogger
	knowledge    map[string]string
	plan         []string
}

// WithPolicy sets the policy configuration.
func WithPolicy(p *policy.Config) Option {
	return func(o *orchestratorOptions) { o.policyConfig = p }
}

// WithNotifier sets the sink for policy alerts.
func WithNotifier(n notify.Notifier) Option {
	return func(o *orchestratorOptions) { o.notifier = n }
}

// WithHealth sets the orchestrator's own health reporter.
func WithHealth(h *health.AgentHealth) Option {
	return func(o *orchestratorOptions) { o.health = h }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithKnowledge sets external knowledge passed to every stage.
func WithKnowledge(k map[string]string) Option {
	return func(o *orchestratorOptions) { o.knowledge = k }
}

// WithPlan skips goal planning and runs the given plan.
func WithPlan(tasks []string) Option {
	return func(o *orchestratorOptions) { o.plan = append([]string{}, tasks...) }
}
