package events

import (
	"time"

	"maestro/pkg/models"
)

// Event is the base interface for all events published by the core.
type Event interface {
	EventType() string
}

// Topic constants.
const (
	TopicTask      = "task"
	TopicWorkflow  = "workflow"
	TopicStep      = "step"
	TopicScheduler = "scheduler"
)

// Event type constants.
const (
	EventTypeTaskCreated           = "task.created"
	EventTypeTaskStarted           = "task.started"
	EventTypeTaskCompleted         = "task.completed"
	EventTypeTaskFailed            = "task.failed"
	EventTypeTaskBlocked           = "task.blocked"
	EventTypeTaskDeleted           = "task.deleted"
	EventTypeTaskMessageAdded      = "task.message_added"
	EventTypeTaskExecutionRecorded = "task.execution_recorded"

	EventTypeWorkflowStarted   = "workflow.started"
	EventTypeWorkflowCompleted = "workflow.completed"
	EventTypeWorkflowFailed    = "workflow.failed"
	EventTypeWorkflowCancelled = "workflow.cancelled"

	EventTypeStepStarted   = "step.started"
	EventTypeStepCompleted = "step.completed"
	EventTypeStepFailed    = "step.failed"
	EventTypeStepRetried   = "step.retried"

	EventTypeSchedulerStarted = "scheduler.started"
	EventTypeSchedulerStopped = "scheduler.stopped"
	EventTypeCheckCompleted   = "scheduler.check_completed"
	EventTypeTaskScheduled    = "scheduler.task_scheduled"
)

// TaskEvent is published on task lifecycle transitions.
type TaskEvent struct {
	Type      string
	ID        string
	Status    models.TaskStatus
	Role      string
	Error     string
	Timestamp time.Time
}

func (e TaskEvent) EventType() string { return e.Type }

// WorkflowEvent is published on workflow execution transitions.
type WorkflowEvent struct {
	Type        string
	ExecutionID string
	WorkflowID  string
	Status      models.ExecutionStatus
	Error       string
	Timestamp   time.Time
}

func (e WorkflowEvent) EventType() string { return e.Type }

// StepEvent is published as individual workflow steps progress.
type StepEvent struct {
	Type        string
	ExecutionID string
	StepID      string
	Attempt     int
	Error       string
	Timestamp   time.Time
}

func (e StepEvent) EventType() string { return e.Type }

// SchedulerEvent is published by the auto scheduler.
type SchedulerEvent struct {
	Type string
	// TaskID is set for task_scheduled events.
	TaskID string
	// Scheduled and Running describe the check cycle for check_completed.
	Scheduled int
	Running   int
	// Error carries a check-cycle failure; the timer loop keeps running.
	Error     string
	Timestamp time.Time
}

func (e SchedulerEvent) EventType() string { return e.Type }
