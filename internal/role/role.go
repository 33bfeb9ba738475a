// Package role defines the executor contract the orchestration core depends
// on. A role turns a task and its execution context into a result; the core
// treats the call as opaque, potentially slow, and potentially failing.
// Concrete roles (LLM-backed agents, shell runners) live outside the core.
package role

import (
	"context"

	"maestro/pkg/models"
)

// Context is the execution context handed to a role alongside the task.
type Context struct {
	// Project carries project-level metadata and configuration.
	Project map[string]any
	// DependencyResults maps dependency task ID to its recorded result.
	DependencyResults map[string]*models.TaskResult
	// Tools is the read-only registry of capability names available to
	// the role.
	Tools []string
	// Variables is a mutable per-execution variable scope shared between
	// the role and the caller.
	Variables map[string]any
}

// Result is what a role returns after executing a task.
type Result struct {
	// Success indicates whether the work succeeded. A role may return
	// Success=false without an invocation error.
	Success bool
	// Output is the role's payload.
	Output any
	// Error is the failure message when Success is false.
	Error string
	// Model is the model name used, if the role is model-backed.
	Model string
	// Provider is the provider name, if the role is model-backed.
	Provider string
	// Tokens is the token usage for the invocation, if reported.
	Tokens *models.TokenUsage
	// Metadata carries any additional role-specific details.
	Metadata map[string]any
}

// Role executes a task. Implementations must tolerate cancellation via ctx
// and may either return an error (invocation failure) or a Result with
// Success=false (work failure); the core handles both.
type Role interface {
	// Name returns the role's registered name.
	Name() string
	// Execute performs the task's work.
	Execute(ctx context.Context, task *models.Task, ec *Context) (*Result, error)
}

// Func adapts a plain function into a Role.
type Func struct {
	RoleName string
	Fn       func(ctx context.Context, task *models.Task, ec *Context) (*Result, error)
}

// Name returns the role's registered name.
func (f Func) Name() string { return f.RoleName }

// Execute invokes the wrapped function.
func (f Func) Execute(ctx context.Context, task *models.Task, ec *Context) (*Result, error) {
	return f.Fn(ctx, task, ec)
}
