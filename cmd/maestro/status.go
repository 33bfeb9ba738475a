package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"maestro/internal/config"
	"maestro/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored task state",
	Long: `Display the durable task store contents.

Shows:
  - Snapshot envelope (format version, last save, counters)
  - Task counts per status
  - The most recent tasks with status and role`,
	RunE: runStatus,
}

// statusTaskLimit bounds the recent-task listing.
const statusTaskLimit = 20

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if _, err := os.Stat(cfg.Store.Path); os.IsNotExist(err) {
		fmt.Println("No task store found. Run 'maestro run <workflow>' to start.")
		return nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	info, err := st.Info()
	if err != nil {
		return fmt.Errorf("read store info: %w", err)
	}
	tasks, err := st.LoadTasks()
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	fmt.Printf("Store: %s (%s, format v%d)\n", cfg.Store.Path, cfg.Store.Backend, info.Version)
	if !info.SavedAt.IsZero() {
		fmt.Printf("  Last saved: %s ago\n", time.Since(info.SavedAt).Round(time.Second))
	}
	fmt.Printf("  Tasks: %d total, %d completed, %d failed, %d saves\n",
		info.Counters.Tasks, info.Counters.Completed, info.Counters.Failed, info.Counters.Saves)

	if len(tasks) == 0 {
		fmt.Println("\nNo tasks recorded.")
		return nil
	}

	byStatus := make(map[models.TaskStatus]int)
	for _, t := range tasks {
		byStatus[t.Status]++
	}
	fmt.Println("\nBy status:")
	for _, status := range []models.TaskStatus{
		models.TaskStatusPending, models.TaskStatusInProgress, models.TaskStatusBlocked,
		models.TaskStatusCompleted, models.TaskStatusFailed,
	} {
		if n := byStatus[status]; n > 0 {
			fmt.Printf("  %-12s %d\n", status, n)
		}
	}

	fmt.Println("\nRecent tasks:")
	start := 0
	if len(tasks) > statusTaskLimit {
		start = len(tasks) - statusTaskLimit
	}
	for _, t := range tasks[start:] {
		fmt.Printf("  %s  %s  %-10s %s\n", t.ID, statusGlyph(t.Status), t.Status, taskLabel(t))
	}
	return nil
}

func statusGlyph(status models.TaskStatus) string {
	switch status {
	case models.TaskStatusCompleted:
		return color.GreenString("✓")
	case models.TaskStatusFailed:
		return color.RedString("✗")
	case models.TaskStatusInProgress:
		return color.CyanString("→")
	case models.TaskStatusBlocked:
		return color.YellowString("⊘")
	default:
		return "·"
	}
}

func taskLabel(t *models.Task) string {
	label := t.Type
	if t.AssignedRole != "" {
		label += " (" + t.AssignedRole + ")"
	}
	return label
}
