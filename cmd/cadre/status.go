package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cadre/internal/config"
	"github.com/ShayCichocki/cadre/internal/health"
	"github.com/ShayCichocki/cadre/internal/workstore"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent health for the work directory",
	Long: `Display every agent registered in the work directory's store.

Shows:
  - Status label and how long the agent has been up
  - Whether the heartbeat is live
  - Completed and failed task counters with the average processing time
  - Run details published by the orchestrator (goal, plan size)

Requires the sqlite store backend; the memory backend is private to the
running process.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	dir, err := resolveWorkDir()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if cfg.Store.Backend != config.BackendSQLite {
		fmt.Fprintf(out, "Store backend is %q; status is only available with the sqlite backend.\n", cfg.Store.Backend)
		return nil
	}
	path := storePath(cfg, dir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(out, "No runs recorded. Run 'cadre run <goal>' to start.")
		return nil
	}

	store, err := openStore(cfg, dir)
	if err != nil {
		return err
	}
	defer store.Close()

	return displayAgents(out, store, cfg.Health.HeartbeatTTL, time.Now())
}

// displayAgents prints one block per registered agent.
func displayAgents(w io.Writer, store workstore.WorkStore, timeout time.Duration, now time.Time) error {
	ids, err := health.ListAgents(store)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No agents registered.")
		return nil
	}
	sort.Strings(ids)

	for _, id := range ids {
		h := health.New(store, id, health.WithClock(func() time.Time { return now }))

		alive := color.RedString("stale")
		if h.IsAlive(timeout) {
			alive = color.GreenString("alive")
		}
		fmt.Fprintf(w, "%s [%s]\n", color.New(color.Bold).Sprint(id), alive)

		status, err := h.GetStatus()
		if err != nil {
			return err
		}
		if status != nil {
			fmt.Fprintf(w, "  Status:  %s (up %s)\n", status.Status, formatDuration(now.Sub(status.StartedAt)))
			for _, k := range []string{"goal", "plan", "completed", "escalated"} {
				if v, ok := status.Payload[k]; ok {
					fmt.Fprintf(w, "  %-8s %v\n", k+":", v)
				}
			}
		}

		m, err := h.GetMetrics()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  Tasks:   %d completed, %d failed", m.TasksCompleted, m.TasksFailed)
		if m.TasksCompleted+m.TasksFailed > 0 {
			avg := time.Duration(m.AverageProcessingMillis * float64(time.Millisecond))
			fmt.Fprintf(w, ", avg %s", formatDuration(avg))
		}
		fmt.Fprintln(w)
	}
	return nil
}
