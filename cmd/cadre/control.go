package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/cadre/internal/notify"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the run in the work directory",
	Long: `Creates the kill signal file under .cadre/signals. A running cadre
process watching the same work directory stops at its next step.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, "stop", notify.SendKill)
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the run in the work directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, "pause", notify.SendPause)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendSignal(cmd, "resume", notify.SendResume)
	},
}

func sendSignal(cmd *cobra.Command, name string, send func(workDir string) error) error {
	dir, err := resolveWorkDir()
	if err != nil {
		return err
	}
	if err := send(dir); err != nil {
		return fmt.Errorf("send %s signal: %w", name, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s signal written to %s\n",
		color.GreenString("✓"), name, notify.SignalsDir(dir))
	return nil
}
