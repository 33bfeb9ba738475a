package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"maestro/internal/config"
	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/retry"
	"maestro/internal/role"
	"maestro/internal/scheduler"
	"maestro/internal/store"
	"maestro/internal/task"
	"maestro/internal/workflow"
	"maestro/pkg/models"
)

var (
	runWatch bool
	runVars  []string
)

// timeRound is the display precision for step durations.
const timeRound = time.Millisecond

var runCmd = &cobra.Command{
	Use:   "run [workflow]",
	Short: "Execute a workflow",
	Long: `Execute a registered workflow or a workflow YAML file.

The argument is either a registered workflow ID (built-in templates and
definitions from the configured workflow directory) or a path to a YAML
file. With no argument the built-in feature-development workflow runs.

With --watch, the workflow directory is monitored and definitions are
hot-reloaded while the run is in progress.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "Hot-reload workflow definitions from the workflow directory")
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Workflow variable as key=value (repeatable)")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Logging.DebugFile != "" {
		dl, err := logging.NewDebugLogger(cfg.Logging.DebugFile)
		if err != nil {
			return fmt.Errorf("open debug log: %w", err)
		}
		defer dl.Close()
		logging.SetPackageLogger(dl)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	bus := events.NewBus()
	defer bus.Close()

	registry := role.NewRegistry()
	breakerCfg := role.DefaultBreakerConfig()
	for _, r := range builtinRoles() {
		registry.Register(role.WithBreaker(r, breakerCfg))
	}

	project := map[string]any{}
	if cfg.Project != "" {
		project["name"] = cfg.Project
	}
	mgr, err := task.NewManager(task.Config{
		Store:   st,
		Roles:   registry,
		Bus:     bus,
		Project: project,
	})
	if err != nil {
		return fmt.Errorf("restore tasks: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	retrier := retry.NewManager(retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}, mgr)
	defer retrier.Stop()

	sched := scheduler.New(scheduler.Config{
		Interval:           cfg.Scheduler.Interval,
		MaxConcurrentTasks: cfg.Scheduler.MaxConcurrentTasks,
		PriorityEnabled:    cfg.Scheduler.PriorityEnabled,
	}, mgr, bus)
	sched.Start(ctx)
	defer sched.Stop()

	// Retried tasks come back as pending; the scheduler re-admits them on
	// its next check, so the requeue hook only needs to log.
	retrier.OnRequeue(func(id string) {
		logging.Debugf("[run] task %s requeued after retry delay", id)
	})

	// Failed standalone tasks feed the retry manager. Workflow-created
	// tasks are excluded; their steps carry their own retry policy.
	taskEvents := bus.Subscribe(events.TopicTask, 64)
	go watchFailures(mgr, retrier, taskEvents)

	if cfg.Store.AutoSaveInterval > 0 {
		saver := store.NewAutoSaver(st, cfg.Store.AutoSaveInterval)
		saver.Start()
		defer saver.Stop()
	}

	engine := workflow.NewEngine(mgr, bus)

	if cfg.Workflows.Dir != "" {
		if runWatch {
			w, err := workflow.NewWatcher(engine, cfg.Workflows.Dir)
			if err != nil {
				return fmt.Errorf("watch workflow directory: %w", err)
			}
			defer w.Close()
		} else {
			workflows, err := workflow.LoadDir(cfg.Workflows.Dir)
			if err != nil {
				color.Yellow("warning: %v", err)
			}
			for _, wf := range workflows {
				if _, err := engine.ReplaceWorkflow(wf); err != nil {
					color.Yellow("warning: skipping workflow %s: %v", wf.ID, err)
				}
			}
		}
	}

	workflowID, err := resolveWorkflow(engine, args)
	if err != nil {
		return err
	}

	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}

	stepEvents := bus.Subscribe(events.TopicStep, 64)
	go printStepProgress(stepEvents)

	fmt.Printf("Running workflow %s\n", workflowID)
	exec, err := engine.ExecuteWorkflow(ctx, workflowID, vars)
	if err != nil {
		return err
	}

	printExecutionSummary(exec)
	if exec.Status != models.ExecutionCompleted {
		return fmt.Errorf("workflow %s %s", workflowID, exec.Status)
	}
	return nil
}

// openStore opens the configured store backend.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	case "", "file":
		s, err := store.OpenFileStore(store.FileStoreConfig{
			Path:       cfg.Store.Path,
			BackupDir:  cfg.Store.BackupDir,
			MaxBackups: cfg.Store.MaxBackups,
		})
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// resolveWorkflow turns the command argument into a registered workflow ID.
// A path to an existing YAML file is loaded and registered; anything else
// is treated as an ID. No argument selects the feature-development
// template.
func resolveWorkflow(engine *workflow.Engine, args []string) (string, error) {
	if len(args) == 0 {
		return "feature-development", nil
	}
	arg := args[0]

	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		wf, err := workflow.LoadFile(arg)
		if err != nil {
			return "", err
		}
		registered, err := engine.ReplaceWorkflow(wf)
		if err != nil {
			return "", err
		}
		return registered.ID, nil
	}

	if _, err := engine.GetWorkflow(arg); err != nil {
		return "", err
	}
	return arg, nil
}

// parseVars converts repeated key=value flags into a variable map.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// watchFailures feeds failed standalone tasks into the retry manager.
func watchFailures(mgr *task.Manager, retrier *retry.Manager, ch <-chan events.Event) {
	for evt := range ch {
		te, ok := evt.(events.TaskEvent)
		if !ok || te.Type != events.EventTypeTaskFailed {
			continue
		}
		t, err := mgr.Get(te.ID)
		if err != nil || t.Meta.Source == "workflow" {
			continue
		}
		if _, err := retrier.HandleFailure(te.ID, te.Error); err != nil {
			logging.Debugf("[run] retry handling for %s: %v", te.ID, err)
		}
	}
}

// printStepProgress renders step lifecycle events as they happen.
func printStepProgress(ch <-chan events.Event) {
	for evt := range ch {
		se, ok := evt.(events.StepEvent)
		if !ok {
			continue
		}
		switch se.Type {
		case events.EventTypeStepStarted:
			color.Cyan("→ step %s started", se.StepID)
		case events.EventTypeStepCompleted:
			color.Green("✓ step %s completed", se.StepID)
		case events.EventTypeStepRetried:
			color.Yellow("↻ step %s retrying (attempt %d)", se.StepID, se.Attempt)
		case events.EventTypeStepFailed:
			color.Red("✗ step %s failed: %s", se.StepID, se.Error)
		}
	}
}

func printExecutionSummary(exec *models.WorkflowExecution) {
	fmt.Println()
	switch exec.Status {
	case models.ExecutionCompleted:
		color.Green("Workflow %s completed (%d steps)", exec.WorkflowID, len(exec.Order))
	case models.ExecutionCancelled:
		color.Yellow("Workflow %s cancelled", exec.WorkflowID)
	default:
		color.Red("Workflow %s %s: %s", exec.WorkflowID, exec.Status, exec.Error)
	}

	for _, stepID := range exec.Order {
		res, ok := exec.Steps[stepID]
		if !ok {
			continue
		}
		line := fmt.Sprintf("  %-12s %-10s %s", stepID, res.Status, res.Duration.Round(timeRound))
		if res.Error != "" {
			line += "  " + res.Error
		}
		fmt.Println(line)
	}
}
