package task

import (
	"errors"
	"fmt"
	"strings"

	"maestro/internal/role"
)

// Precondition violations surfaced directly to callers.
var (
	// ErrTaskNotFound indicates the task ID is unknown.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskExecuting indicates the task is already being executed.
	ErrTaskExecuting = errors.New("task is already executing")
	// ErrTaskTerminal indicates the task already finished; a completed or
	// failed task re-enters execution only through a retry.
	ErrTaskTerminal = errors.New("task already finished")
	// ErrManagerBusy indicates tasks are in flight and the operation would
	// disturb them.
	ErrManagerBusy = errors.New("tasks are currently executing")
)

// ErrorCategory classifies an execution failure for retry decisions.
type ErrorCategory string

const (
	// CategoryTransient marks failures worth retrying (timeouts, rate
	// limits, open circuit breakers).
	CategoryTransient ErrorCategory = "transient"
	// CategoryPermanent marks failures retrying won't fix.
	CategoryPermanent ErrorCategory = "permanent"
	// CategoryExecutor marks failures reported by the role itself.
	CategoryExecutor ErrorCategory = "executor"
)

// ExecError is the structured, user-presentable form of an execution
// failure. It is recorded on the task; it never escapes Execute as an
// uncaught error.
type ExecError struct {
	// Code is a stable machine-readable identifier.
	Code string
	// Category classifies the failure for retry allow-list matching.
	Category ErrorCategory
	// Message is the human-readable description.
	Message string
	// Suggestions lists possible remediations.
	Suggestions []string
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// translateError converts an arbitrary execution failure into an ExecError.
func translateError(err error) *ExecError {
	if err == nil {
		return nil
	}

	var ee *ExecError
	if errors.As(err, &ee) {
		return ee
	}

	if errors.Is(err, role.ErrRoleUnavailable) {
		return &ExecError{
			Code:     "ROLE_UNAVAILABLE",
			Category: CategoryTransient,
			Message:  err.Error(),
			Suggestions: []string{
				"the role's circuit breaker is open; retry after its cooldown",
			},
		}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)

	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "deadline exceeded"):
		return &ExecError{
			Code:     "EXEC_TIMEOUT",
			Category: CategoryTransient,
			Message:  msg,
			Suggestions: []string{
				"retry the task",
				"increase the step timeout if this recurs",
			},
		}
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "too many requests"):
		return &ExecError{
			Code:     "EXEC_RATE_LIMITED",
			Category: CategoryTransient,
			Message:  msg,
			Suggestions: []string{
				"retry with backoff",
				"reduce scheduler concurrency",
			},
		}
	case strings.Contains(lower, "not registered"), strings.Contains(lower, "invalid config"):
		return &ExecError{
			Code:     "EXEC_MISCONFIGURED",
			Category: CategoryPermanent,
			Message:  msg,
			Suggestions: []string{
				"check the task's assigned role and configuration",
			},
		}
	default:
		return &ExecError{
			Code:     "EXEC_ERROR",
			Category: CategoryExecutor,
			Message:  msg,
		}
	}
}
