package models

import "time"

// StepType selects how a workflow step is dispatched.
type StepType string

const (
	// StepTypeTask materializes a task through the task manager.
	StepTypeTask StepType = "task"
	// StepTypeRole creates and executes a task assigned to the step's role.
	StepTypeRole StepType = "role"
	// StepTypeParallel fans out to sibling steps that depend on this step.
	StepTypeParallel StepType = "parallel"
	// StepTypeCondition evaluates the step's predicate and returns the result.
	StepTypeCondition StepType = "condition"
	// StepTypeScript evaluates a predicate against the variable bag.
	StepTypeScript StepType = "script"
)

// RetryPolicy configures per-step retry behavior.
type RetryPolicy struct {
	// MaxRetries is the number of re-attempts after the first failure.
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
	// Backoff is the base delay; attempt n waits Backoff * 2^(n-1).
	Backoff time.Duration `json:"backoff" yaml:"backoff"`
	// RetryableErrors, when non-empty, limits retries to errors containing
	// one of these substrings.
	RetryableErrors []string `json:"retryable_errors,omitempty" yaml:"retryable_errors"`
}

// Step is one node in a workflow's DAG.
type Step struct {
	// ID is unique within the workflow.
	ID string `json:"id" yaml:"id"`
	// Name is the display name.
	Name string `json:"name" yaml:"name"`
	// Type selects the dispatch mode. Defaults to role.
	Type StepType `json:"type,omitempty" yaml:"type"`
	// Role selects the executor for task/role steps.
	Role string `json:"role,omitempty" yaml:"role"`
	// TaskType is the category given to materialized tasks.
	TaskType string `json:"task_type,omitempty" yaml:"task_type"`
	// Dependencies lists step IDs that must finish before this step.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies"`
	// Condition, when set, is a predicate evaluated against the variable
	// bag; a false result skips the step.
	Condition string `json:"condition,omitempty" yaml:"condition"`
	// Script is the predicate evaluated by script steps. Read-only access
	// to the variable bag; not a general scripting language.
	Script string `json:"script,omitempty" yaml:"script"`
	// Timeout is a soft budget for the step's execution.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	// Retry is the optional per-step retry policy.
	Retry *RetryPolicy `json:"retry,omitempty" yaml:"retry"`
}

// Workflow is a named, versioned DAG of step definitions.
// Immutable once registered.
type Workflow struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description"`
	Steps       []Step `json:"steps" yaml:"steps"`
	// ContinueOnFailure keeps executing later steps after a step fails.
	ContinueOnFailure bool      `json:"continue_on_failure,omitempty" yaml:"continue_on_failure"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
}

// ExecutionStatus is the state of a workflow run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// StepStatus is the state of one step within a run.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records the outcome of one step within a workflow execution.
type StepResult struct {
	StepID      string        `json:"step_id"`
	Status      StepStatus    `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	// Retries is how many re-attempts the step consumed.
	Retries int    `json:"retries"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WorkflowExecution is one run instance of a workflow.
type WorkflowExecution struct {
	// ID is the unique execution identifier.
	ID string `json:"id"`
	// WorkflowID references the workflow definition.
	WorkflowID string `json:"workflow_id"`
	// Status mirrors running/completed/failed/cancelled.
	Status ExecutionStatus `json:"status"`
	// Variables is the per-run variable bag, seeded from caller input and
	// updated as steps complete.
	Variables map[string]any `json:"variables,omitempty"`
	// Steps maps step ID to its result.
	Steps map[string]*StepResult `json:"steps"`
	// Order lists step IDs in the order they were processed.
	Order []string `json:"order"`
	// Error is the top-level failure, if the run aborted.
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
