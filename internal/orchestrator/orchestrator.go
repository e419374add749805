package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/notify"
	"github.com/ShayCichocki/cadre/internal/orchestrator/policy"
	"github.com/ShayCichocki/cadre/pkg/models"
)

// AgentID is the health id the orchestrator reports under.
const AgentID = "orchestrator"

var (
	// ErrMissingStage is returned by New when a required stage is nil.
	ErrMissingStage = errors.New("missing required stage")
	// ErrAlreadyRunning is recorded when Run is called during another run.
	ErrAlreadyRunning = errors.New("orchestrator is already running")
)

var _ notify.Controller = (*Orchestrator)(nil)

// Orchestrator drives a plan through the stage processors.
type Orchestrator struct {
	developer Developer
	reviewer  Reviewer
	planner   Planner
	improver  Improver

	policy    *policy.Config
	notifier  notify.Notifier
	health    *health.AgentHealth
	logger    *DebugLogger
	knowledge map[string]string
	fixedPlan []string

	emitter *EventEmitter
	control *PauseController
	now     func() time.Time

	mu      sync.Mutex
	state   *models.OrchestratorState
	running bool
	cancel  context.CancelFunc
}

// New creates an Orchestrator from its required stages and options.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	switch {
	case req.Developer == nil:
		return nil, fmt.Errorf("developer: %w", ErrMissingStage)
	case req.Reviewer == nil:
		return nil, fmt.Errorf("reviewer: %w", ErrMissingStage)
	case req.Planner == nil:
		return nil, fmt.Errorf("planner: %w", ErrMissingStage)
	case req.Improver == nil:
		return nil, fmt.Errorf("improver: %w", ErrMissingStage)
	}

	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	p := policy.Default()
	if o.policyConfig != nil {
		cp := *o.policyConfig
		p = &cp
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	logger := o.logger
	if logger == nil {
		logger = NopLogger()
	}

	return &Orchestrator{
		developer: req.Developer,
		reviewer:  req.Reviewer,
		planner:   req.Planner,
		improver:  req.Improver,
		policy:    p,
		notifier:  o.notifier,
		health:    o.health,
		logger:    logger,
		knowledge: o.knowledge,
		fixedPlan: o.plan,
		emitter:   NewEventEmitter(p.Loop.EventBufferSize),
		control:   NewPauseController(),
		now:       time.Now,
	}, nil
}

// Policy returns the validated policy in effect.
func (o *Orchestrator) Policy() policy.Config {
	return *o.policy
}

// Events subscribes to run events.
func (o *Orchestrator) Events() <-chan OrchestratorEvent {
	return o.emitter.Events()
}

// Pause holds the run before its next plan step.
func (o *Orchestrator) Pause() {
	o.control.Pause()
}

// Resume releases a paused run.
func (o *Orchestrator) Resume() {
	o.control.Resume()
}

// Stop aborts the current run and cancels in-flight stages. It has no
// effect on an idle orchestrator; a later Run starts normally.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.control.Stop()
	if o.cancel != nil {
		o.cancel()
	}
}

// Close releases the event channel and debug log.
func (o *Orchestrator) Close() error {
	o.emitter.Close()
	return o.logger.Close()
}

// History returns a deep copy of the current or last run's state.
func (o *Orchestrator) History() models.OrchestratorState {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == nil {
		return models.OrchestratorState{}
	}
	return o.state.Clone()
}

// Run plans goal (unless a fixed plan was configured) and executes the
// plan. It never returns an error and never panics: faults end the run with
// Aborted set and the reason in Error and History.
func (o *Orchestrator) Run(ctx context.Context, goal string) (result *models.OrchestratorState) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		now := o.now()
		return &models.OrchestratorState{
			Goal:       goal,
			Aborted:    true,
			Error:      ErrAlreadyRunning.Error(),
			History:    []string{"run rejected: " + ErrAlreadyRunning.Error()},
			StartedAt:  now,
			FinishedAt: &now,
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.control.Rearm()
	o.running = true
	o.cancel = cancel
	o.state = &models.OrchestratorState{
		RunID:     uuid.New().String(),
		Goal:      goal,
		Strategy:  o.policy.Execution.Strategy,
		StartedAt: o.now(),
	}
	o.mu.Unlock()

	setPackageLogger(o.logger)
	debugLog("run started: goal=%q strategy=%s bound=%d", goal, o.policy.Execution.Strategy, o.policy.Retry.FailLoopBound)

	hbCtx, stopHeartbeat := context.WithCancel(runCtx)
	if o.health != nil {
		o.setHealthStatus(models.AgentStatusRunning)
		if err := o.health.Heartbeat(); err != nil {
			log.Printf("[orchestrator] health: %v", err)
		}
		go o.health.RunHeartbeat(hbCtx, o.policy.Loop.HeartbeatInterval)
	}

	defer func() {
		if r := recover(); r != nil {
			o.fail(fmt.Errorf("panic: %v", r))
		}
		stopHeartbeat()
		cancel()
		o.finish()
		setPackageLogger(nil)

		st := o.History()
		result = &st

		o.mu.Lock()
		o.running = false
		o.cancel = nil
		o.mu.Unlock()
	}()

	if err := o.execute(runCtx, goal); err != nil {
		o.fail(err)
	}
	return nil
}

// execute plans and walks the plan until it is exhausted.
func (o *Orchestrator) execute(ctx context.Context, goal string) error {
	plan := o.fixedPlan
	if len(plan) == 0 {
		sc := NewStageContext(goal).WithGoal(goal).WithKnowledge(o.knowledge).Build()
		var err error
		plan, err = o.planner.Plan(ctx, goal, sc)
		if err != nil {
			return fmt.Errorf("planner stage: %w", err)
		}
		if len(plan) == 0 {
			return errors.New("planner returned an empty plan")
		}
	}

	o.mu.Lock()
	o.state.Plan = append([]string{}, plan...)
	o.mu.Unlock()
	o.logHistory("plan ready: %d tasks", len(plan))
	o.emit(OrchestratorEvent{Type: EventRunStarted, Remaining: len(plan), Message: goal})

	strategy := o.policy.Execution.Strategy
	parallel := strategy == models.StrategyParallel

	for {
		remaining := o.remaining()
		if remaining == 0 {
			return nil
		}
		if err := o.control.WaitIfPaused(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("run cancelled: %w", err)
		}

		if strategy == models.StrategyAdaptive && !parallel && remaining > o.policy.Execution.AdaptiveThreshold {
			parallel = true
			o.logHistory("adaptive: %d tasks remaining exceeds threshold %d, switching to parallel",
				remaining, o.policy.Execution.AdaptiveThreshold)
			o.emit(OrchestratorEvent{Type: EventStrategySwitched, Remaining: remaining, Message: string(models.StrategyParallel)})
		}

		var err error
		if parallel {
			err = o.runParallel(ctx)
		} else {
			err = o.runSerialStep(ctx)
		}
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Remaining()
}

func (o *Orchestrator) goal() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Goal
}

func (o *Orchestrator) alerts() []models.Alert {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]models.Alert{}, o.state.Alerts...)
}

// logHistory appends a line to the run history and the debug log.
func (o *Orchestrator) logHistory(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	o.mu.Lock()
	o.state.History = append(o.state.History, line)
	o.mu.Unlock()
	debugLog("%s", line)
}

func (o *Orchestrator) emit(e OrchestratorEvent) {
	o.mu.Lock()
	e.RunID = o.state.RunID
	o.mu.Unlock()
	o.emitter.Emit(e)
}

// fail marks the run aborted. Only the first fault is recorded.
func (o *Orchestrator) fail(err error) {
	o.mu.Lock()
	if o.state.Aborted {
		o.mu.Unlock()
		return
	}
	o.state.Aborted = true
	o.state.Error = err.Error()
	o.state.History = append(o.state.History, "run aborted: "+err.Error())
	runID := o.state.RunID
	o.mu.Unlock()

	log.Printf("[orchestrator] run %s aborted: %v", runID, err)
	debugLog("run aborted: %v", err)
	o.emit(OrchestratorEvent{Type: EventRunAborted, Error: err, Message: err.Error()})
}

// finish stamps the end of the run and reports the final status.
func (o *Orchestrator) finish() {
	o.mu.Lock()
	now := o.now()
	o.state.FinishedAt = &now
	aborted := o.state.Aborted
	summary := fmt.Sprintf("run finished: %d completed, %d escalated, %d retries, %d alerts",
		len(o.state.Completed), len(o.state.Escalated), o.state.FailCount, len(o.state.Alerts))
	o.state.History = append(o.state.History, summary)
	o.mu.Unlock()
	debugLog("%s", summary)

	if aborted {
		o.setHealthStatus(models.AgentStatusAborted)
		return
	}
	o.setHealthStatus(models.AgentStatusDone)
	o.emit(OrchestratorEvent{Type: EventRunDone, Message: summary})
}

func (o *Orchestrator) setHealthStatus(status string) {
	if o.health == nil {
		return
	}
	o.mu.Lock()
	payload := map[string]any{
		"run_id":    o.state.RunID,
		"goal":      o.state.Goal,
		"plan":      len(o.state.Plan),
		"completed": len(o.state.Completed),
		"escalated": len(o.state.Escalated),
	}
	o.mu.Unlock()
	if err := o.health.SetStatus(status, payload); err != nil {
		log.Printf("[orchestrator] health: %v", err)
	}
}

func (o *Orchestrator) incrementMetric(name string, delta int64) {
	if o.health == nil {
		return
	}
	if _, err := o.health.IncrementMetric(name, delta); err != nil {
		log.Printf("[orchestrator] health: %v", err)
	}
}
