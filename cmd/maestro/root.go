package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Task orchestration engine for role-based agents",
	Long: `Maestro orchestrates tasks across role-based executors: it tracks
task state durably, schedules ready work, retries failures with backoff,
and runs multi-step workflows with dependency ordering.

Core capabilities:
- Durable task store with crash recovery and rolling backups
- Auto scheduler with bounded concurrency and priority admission
- Retry manager with exponential backoff and manual override
- Workflow engine with DAG validation, per-step retry, and conditions`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}
