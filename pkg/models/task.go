package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress indicates the task is being executed.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task is waiting on unmet dependencies.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskPriority represents the scheduling priority of a task.
type TaskPriority string

const (
	// PriorityLow is for background work.
	PriorityLow TaskPriority = "low"
	// PriorityMedium is the default priority.
	PriorityMedium TaskPriority = "medium"
	// PriorityHigh is for work that should jump the default queue.
	PriorityHigh TaskPriority = "high"
	// PriorityCritical is for work that must be admitted first.
	PriorityCritical TaskPriority = "critical"
)

// Rank returns a numeric weight for priority ordering. Higher runs first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// Message is one entry in a task's conversational history.
type Message struct {
	// Role identifies the speaker (user, assistant, system, or a role ID).
	Role string `json:"role"`
	// Content is the message body.
	Content string `json:"content"`
	// Timestamp is when the message was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// TokenUsage breaks down token consumption for one executor invocation.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// ExecutionRecord captures one execution attempt of a task.
type ExecutionRecord struct {
	// Role is the executor role that performed the attempt.
	Role string `json:"role"`
	// Action is a short label describing what the attempt did.
	Action string `json:"action"`
	// StartedAt is when the attempt began.
	StartedAt time.Time `json:"started_at"`
	// CompletedAt is when the attempt finished.
	CompletedAt time.Time `json:"completed_at"`
	// Duration is the wall-clock time of the attempt.
	Duration time.Duration `json:"duration"`
	// Tokens is the token usage reported by the executor, if any.
	Tokens *TokenUsage `json:"tokens,omitempty"`
	// Model is the model name reported by the executor, if any.
	Model string `json:"model,omitempty"`
	// Provider is the provider name reported by the executor, if any.
	Provider string `json:"provider,omitempty"`
}

// RetryRecord captures one failure and the retry decision made for it.
type RetryRecord struct {
	// Attempt is the 1-based attempt number, monotonically increasing per task.
	Attempt int `json:"attempt"`
	// FailedAt is when the failure occurred.
	FailedAt time.Time `json:"failed_at"`
	// Error is the failure message.
	Error string `json:"error"`
	// Delay is the computed backoff before the retry fires.
	Delay time.Duration `json:"delay"`
	// RetriedAt is when the retry actually ran, once it has.
	RetriedAt *time.Time `json:"retried_at,omitempty"`
	// RetriedBy identifies the initiator: "system" or a caller-supplied ID.
	RetriedBy string `json:"retried_by,omitempty"`
}

// Progress tracks how far along a task is.
type Progress struct {
	// Percent is the completion percentage (0-100).
	Percent int `json:"percent"`
	// CompletedSteps lists labels of finished sub-steps.
	CompletedSteps []string `json:"completed_steps,omitempty"`
}

// TaskResult is the outcome of a task execution.
type TaskResult struct {
	// Success indicates whether the execution succeeded.
	Success bool `json:"success"`
	// Output is the executor's payload, if any.
	Output any `json:"output,omitempty"`
	// Error is the failure message if the execution failed.
	Error string `json:"error,omitempty"`
	// Metadata carries executor-specific details (model, provider, costs).
	Metadata map[string]any `json:"metadata,omitempty"`
}

// TaskMeta carries provenance recorded by the orchestration core itself.
type TaskMeta struct {
	// Restarts counts how many process restarts this task has survived.
	Restarts int `json:"restarts,omitempty"`
	// RecoveredAt is when the task was last restored from the store.
	RecoveredAt *time.Time `json:"recovered_at,omitempty"`
	// Source describes where the task came from (manual, workflow, subtask).
	Source string `json:"source,omitempty"`
}

// Task represents a unit of orchestrated work.
type Task struct {
	// ID is the unique identifier for this task, immutable after creation.
	ID string `json:"id"`
	// Type is a free-form category for the task.
	Type string `json:"type"`
	// Priority controls scheduler admission ordering.
	Priority TaskPriority `json:"priority"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Dependencies lists task IDs that must complete before this task runs.
	Dependencies []string `json:"dependencies,omitempty"`
	// AssignedRole selects the executor for this task.
	AssignedRole string `json:"assigned_role"`
	// Input is the arbitrary payload handed to the executor.
	Input map[string]any `json:"input,omitempty"`
	// Constraints carries optional execution constraints.
	Constraints map[string]any `json:"constraints,omitempty"`
	// Result is the outcome of the most recent execution, if any.
	Result *TaskResult `json:"result,omitempty"`
	// Progress tracks completion percentage and finished sub-steps.
	Progress Progress `json:"progress"`
	// ExecutionRecords holds one entry per execution attempt.
	ExecutionRecords []ExecutionRecord `json:"execution_records,omitempty"`
	// RetryHistory holds one entry per failure handled by the retry manager.
	RetryHistory []RetryRecord `json:"retry_history,omitempty"`
	// Messages is the ordered conversational history, if the task is
	// driven interactively.
	Messages []Message `json:"messages,omitempty"`
	// Subtasks run sequentially after the parent succeeds. A subtask
	// failure fails the parent.
	Subtasks []*Task `json:"subtasks,omitempty"`
	// Meta holds provenance recorded by the core.
	Meta TaskMeta `json:"meta"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the task was last mutated.
	UpdatedAt time.Time `json:"updated_at"`
	// StartedAt is when the task first entered in_progress.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the task, safe to hand across goroutines.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.ExecutionRecords = append([]ExecutionRecord(nil), t.ExecutionRecords...)
	c.RetryHistory = append([]RetryRecord(nil), t.RetryHistory...)
	c.Messages = append([]Message(nil), t.Messages...)
	c.Progress.CompletedSteps = append([]string(nil), t.Progress.CompletedSteps...)
	if t.Input != nil {
		c.Input = make(map[string]any, len(t.Input))
		for k, v := range t.Input {
			c.Input[k] = v
		}
	}
	if t.Constraints != nil {
		c.Constraints = make(map[string]any, len(t.Constraints))
		for k, v := range t.Constraints {
			c.Constraints[k] = v
		}
	}
	if t.Result != nil {
		r := *t.Result
		if t.Result.Metadata != nil {
			r.Metadata = make(map[string]any, len(t.Result.Metadata))
			for k, v := range t.Result.Metadata {
				r.Metadata[k] = v
			}
		}
		c.Result = &r
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	if t.Meta.RecoveredAt != nil {
		ts := *t.Meta.RecoveredAt
		c.Meta.RecoveredAt = &ts
	}
	if len(t.Subtasks) > 0 {
		c.Subtasks = make([]*Task, len(t.Subtasks))
		for i, st := range t.Subtasks {
			c.Subtasks[i] = st.Clone()
		}
	}
	return &c
}
