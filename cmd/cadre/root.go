package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// workDir is the project directory every subcommand operates on.
var workDir string

var rootCmd = &cobra.Command{
	Use:   "cadre",
	Short: "Develop, review and self-improve a goal task by task",
	Long: `cadre decomposes a goal into a plan and runs every task through a
developer stage and a reviewer stage. Work that fails review is patched by
the self-improvement engine and reviewed again; a task that keeps failing
raises an alert and is re-planned into smaller tasks.

Runs can be serial, parallel, or adaptive (serial until the remaining plan
grows past a threshold). State lives under .cadre/ in the work directory:
the agent health store, alerts, decisions, logs and control signals.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "C", "", "Project directory (default: current directory)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
}

// resolveWorkDir returns the --workdir flag or the current directory.
func resolveWorkDir() (string, error) {
	if workDir != "" {
		info, err := os.Stat(workDir)
		if err != nil {
			return "", fmt.Errorf("workdir: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("workdir %s is not a directory", workDir)
		}
		return workDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}
