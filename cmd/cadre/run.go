package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cadre/internal/api"
	"github.com/ShayCichocki/cadre/internal/config"
	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/improve"
	"github.com/ShayCichocki/cadre/internal/notify"
	"github.com/ShayCichocki/cadre/internal/orchestrator"
	"github.com/ShayCichocki/cadre/internal/plan"
	"github.com/ShayCichocki/cadre/internal/tui"
	"github.com/ShayCichocki/cadre/pkg/models"
)

var (
	runPlanFile      string
	runStrategy      string
	runFailLoopBound int
	runMaxParallel   int
	runModel         string
	runTUI           bool
	runJSON          bool
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Plan a goal and run every task through develop and review",
	Long: `Run a goal through the orchestration pipeline.

The planner decomposes the goal into tasks unless --plan supplies them.
Each task is developed, then reviewed. Failing work is patched by the
self-improvement engine and reviewed again, up to the fail-loop bound.
A task that reaches the bound raises an alert and is re-planned.

Strategies (--strategy):
  serial     one task at a time, sub-plans spliced in place (default)
  parallel   every remaining task at once on the worker pool
  adaptive   serial until the remaining plan exceeds the threshold

While a run is active, 'cadre stop', 'cadre pause' and 'cadre resume'
control it from another terminal.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGoal,
}

func init() {
	runCmd.Flags().StringVarP(&runPlanFile, "plan", "p", "", "YAML plan file with goal, tasks and knowledge files")
	runCmd.Flags().StringVar(&runStrategy, "strategy", "", "Execution strategy: serial, parallel, or adaptive")
	runCmd.Flags().IntVar(&runFailLoopBound, "fail-loop-bound", 0, "Retries per task before escalation")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Worker cap for parallel execution")
	runCmd.Flags().StringVar(&runModel, "model", "", "Claude model for every stage")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the live run monitor")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the final run state as JSON")
}

// runRequest is the resolved goal and plan for one invocation.
type runRequest struct {
	goal      string
	tasks     []string
	knowledge map[string]string
}

func runGoal(cmd *cobra.Command, args []string) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in run: %v", r)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}

	dir, err := resolveWorkDir()
	if err != nil {
		return err
	}
	req, err := resolveRequest(args, runPlanFile)
	if err != nil {
		return err
	}

	board, err := notify.NewDecisionBoard(dir)
	if err != nil {
		return err
	}
	if decisions := board.Read(); decisions != "" {
		req.knowledge["decisions"] = decisions
	}

	key, _, err := cfg.APIKey()
	if err != nil {
		return fmt.Errorf("%w (set ANTHROPIC_API_KEY or run 'cadre config anthropic.api_key <key>')", err)
	}
	client, err := api.NewClient(api.ClientConfig{
		Model:         anthropic.Model(cfg.Anthropic.Model),
		APIKey:        key,
		MaxTokens:     cfg.Anthropic.MaxTokens,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create API client: %w", err)
	}

	store, err := openStore(cfg, dir)
	if err != nil {
		return err
	}
	defer store.Close()

	orch, err := buildOrchestrator(cfg, dir, client, req, newHealth(cfg, store))
	if err != nil {
		return err
	}
	defer orch.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watcher, err := notify.NewSignalWatcher(dir)
	if err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	defer watcher.Close()
	watcher.ClearSignals()
	go watcher.Run(ctx, orch)

	var state *models.OrchestratorState
	if runTUI {
		state, err = runWithMonitor(ctx, cfg, orch, req.goal)
		if err != nil {
			return err
		}
	} else {
		state = runHeadless(ctx, cmd.ErrOrStderr(), orch, req.goal)
	}

	recordDecisions(board, state)

	out := cmd.OutOrStdout()
	if runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			return fmt.Errorf("encode state: %w", err)
		}
	} else {
		printSummary(out, state, client.Tracker())
	}

	if state.Aborted {
		return fmt.Errorf("run aborted: %s", state.Error)
	}
	return nil
}

// applyRunFlags overrides config values with explicitly set flags.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Orchestrator.Strategy = runStrategy
	}
	if flags.Changed("fail-loop-bound") {
		cfg.Orchestrator.FailLoopBound = runFailLoopBound
	}
	if flags.Changed("max-parallel") {
		cfg.Orchestrator.MaxParallel = runMaxParallel
	}
	if flags.Changed("model") {
		cfg.Anthropic.Model = runModel
	}
	return cfg.Validate()
}

// resolveRequest combines the goal argument and the optional plan file.
// An explicit goal argument wins over the plan file's goal.
func resolveRequest(args []string, planFile string) (runRequest, error) {
	req := runRequest{knowledge: make(map[string]string)}
	if len(args) > 0 {
		req.goal = args[0]
	}

	if planFile != "" {
		f, err := plan.Load(planFile)
		if err != nil {
			return req, err
		}
		knowledge, err := f.ReadKnowledge()
		if err != nil {
			return req, err
		}
		for k, v := range knowledge {
			req.knowledge[k] = v
		}
		req.tasks = f.Tasks
		if req.goal == "" {
			req.goal = f.Goal
		}
	}

	if req.goal == "" {
		return req, fmt.Errorf("a goal argument or --plan file is required")
	}
	return req, nil
}

// buildOrchestrator wires the Claude stages, the improvement engine and
// the alert sinks into an Orchestrator.
func buildOrchestrator(cfg *config.Config, dir string, llm api.Completer, req runRequest, h *health.AgentHealth) (*orchestrator.Orchestrator, error) {
	ws, err := improve.NewFileWorkspace(dir)
	if err != nil {
		return nil, err
	}
	guard := improve.NewGuard(cfg.Improve.ProtectedPatterns...)

	engineOpts := []improve.Option{
		improve.WithGuard(guard),
		improve.WithRetention(cfg.Improve.BackupRetention),
	}
	if cfg.Improve.VerifyCommand != "" {
		engineOpts = append(engineOpts, improve.WithVerifier(
			improve.NewCommandVerifier(dir, cfg.Improve.VerifyCommand, cfg.Improve.VerifyTimeout)))
	}
	engine := improve.New(ws, api.NewProposer(llm), engineOpts...)

	alertsPath := cfg.Notify.AlertsFile
	if alertsPath == "" {
		alertsPath = notify.AlertsPath(dir)
	}

	opts := []orchestrator.Option{
		orchestrator.WithPolicy(cfg.Policy()),
		orchestrator.WithNotifier(notify.Multi{notify.NewFileNotifier(alertsPath), notify.LogNotifier{}}),
		orchestrator.WithLogger(orchestrator.NewDebugLoggerForWorkdir(dir)),
		orchestrator.WithKnowledge(req.knowledge),
	}
	if h != nil {
		opts = append(opts, orchestrator.WithHealth(h))
	}
	if len(req.tasks) > 0 {
		opts = append(opts, orchestrator.WithPlan(req.tasks))
	}

	return orchestrator.New(orchestrator.RequiredConfig{
		Developer: api.NewDeveloper(llm, engine),
		Reviewer:  api.NewReviewer(llm),
		Planner:   api.NewPlanner(llm),
		Improver:  engine,
	}, opts...)
}

// runHeadless runs the orchestrator while printing events as log lines.
func runHeadless(ctx context.Context, w io.Writer, orch *orchestrator.Orchestrator, goal string) *models.OrchestratorState {
	events := orch.Events()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range events {
			printEvent(w, e)
		}
	}()

	state := orch.Run(ctx, goal)
	orch.Close()
	wg.Wait()
	return state
}

// runWithMonitor runs the orchestrator under the live TUI.
func runWithMonitor(ctx context.Context, cfg *config.Config, orch *orchestrator.Orchestrator, goal string) (*models.OrchestratorState, error) {
	program, _ := tui.NewMonitorProgram(orch.Events(), orch,
		tui.WithGoal(goal),
		tui.WithStrategy(orch.Policy().Execution.Strategy),
		tui.WithRefreshRate(cfg.TUI.RefreshRate),
	)

	// Keep the standard logger from drawing over the alt screen.
	log.SetOutput(io.Discard)
	defer log.SetOutput(os.Stderr)

	done := make(chan *models.OrchestratorState, 1)
	go func() {
		state := orch.Run(ctx, goal)
		done <- state
		program.Send(tui.DoneMsg{State: state})
	}()

	if _, err := program.Run(); err != nil {
		orch.Stop()
		<-done
		return nil, fmt.Errorf("run monitor: %w", err)
	}
	// Quitting the monitor stops a live run; wait for it to unwind.
	return <-done, nil
}

// recordDecisions appends what the run learned to the decision board.
func recordDecisions(board *notify.DecisionBoard, state *models.OrchestratorState) {
	if board == nil || state == nil {
		return
	}
	for _, ts := range state.Escalated {
		if len(ts.SubPlan) == 0 {
			continue
		}
		msg := fmt.Sprintf("%q did not pass review after %d retries; it was split into %d smaller tasks",
			ts.Task, ts.FailLoops(), len(ts.SubPlan))
		if err := board.Append(msg); err != nil {
			log.Printf("[cadre] decisions: %v", err)
		}
	}
}
