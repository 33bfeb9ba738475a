package models

import (
	"testing"
	"time"
)

func TestTaskStatusValid(t *testing.T) {
	valid := []TaskStatus{
		TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked,
		TaskStatusCompleted, TaskStatusFailed,
	}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if TaskStatus("running").Valid() {
		t.Error("expected 'running' to be invalid")
	}
	if TaskStatus("").Valid() {
		t.Error("expected empty status to be invalid")
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	if !TaskStatusCompleted.Terminal() {
		t.Error("completed should be terminal")
	}
	if !TaskStatusFailed.Terminal() {
		t.Error("failed should be terminal")
	}
	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusInProgress, TaskStatusBlocked} {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestTaskPriorityRank(t *testing.T) {
	if PriorityCritical.Rank() <= PriorityHigh.Rank() {
		t.Error("critical should outrank high")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() {
		t.Error("high should outrank medium")
	}
	if PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Error("medium should outrank low")
	}
	if got := TaskPriority("bogus").Rank(); got != PriorityMedium.Rank() {
		t.Errorf("unknown priority should rank as medium, got %d", got)
	}
}

func TestTaskClone(t *testing.T) {
	now := time.Now()
	orig := &Task{
		ID:           "t1",
		Type:         "build",
		Priority:     PriorityHigh,
		Status:       TaskStatusInProgress,
		Dependencies: []string{"t0"},
		AssignedRole: "developer",
		Input:        map[string]any{"key": "value"},
		Constraints:  map[string]any{"budget": 100},
		Result:       &TaskResult{Success: true, Metadata: map[string]any{"m": 1}},
		Progress:     Progress{Percent: 50, CompletedSteps: []string{"a"}},
		ExecutionRecords: []ExecutionRecord{
			{Role: "developer", StartedAt: now},
		},
		RetryHistory: []RetryRecord{{Attempt: 1, Error: "boom"}},
		Messages:     []Message{{Role: "user", Content: "hi"}},
		Subtasks:     []*Task{{ID: "t1.1", Status: TaskStatusPending}},
		StartedAt:    &now,
		CreatedAt:    now,
	}

	c := orig.Clone()

	if c == orig {
		t.Fatal("clone returned the same pointer")
	}

	c.Dependencies[0] = "changed"
	c.Input["key"] = "changed"
	c.Constraints["budget"] = 0
	c.Result.Metadata["m"] = 2
	c.Progress.CompletedSteps[0] = "changed"
	c.ExecutionRecords[0].Role = "changed"
	c.RetryHistory[0].Error = "changed"
	c.Messages[0].Content = "changed"
	c.Subtasks[0].Status = TaskStatusFailed
	*c.StartedAt = now.Add(time.Hour)

	if orig.Dependencies[0] != "t0" {
		t.Error("dependencies shared between clone and original")
	}
	if orig.Input["key"] != "value" {
		t.Error("input map shared between clone and original")
	}
	if orig.Constraints["budget"] != 100 {
		t.Error("constraints map shared between clone and original")
	}
	if orig.Result.Metadata["m"] != 1 {
		t.Error("result metadata shared between clone and original")
	}
	if orig.Progress.CompletedSteps[0] != "a" {
		t.Error("progress steps shared between clone and original")
	}
	if orig.ExecutionRecords[0].Role != "developer" {
		t.Error("execution records shared between clone and original")
	}
	if orig.RetryHistory[0].Error != "boom" {
		t.Error("retry history shared between clone and original")
	}
	if orig.Messages[0].Content != "hi" {
		t.Error("messages shared between clone and original")
	}
	if orig.Subtasks[0].Status != TaskStatusPending {
		t.Error("subtasks shared between clone and original")
	}
	if !orig.StartedAt.Equal(now) {
		t.Error("startedAt pointer shared between clone and original")
	}
}

func TestTaskCloneNil(t *testing.T) {
	var tk *Task
	if tk.Clone() != nil {
		t.Error("nil task clone should be nil")
	}
}
