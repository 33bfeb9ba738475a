package store

import (
	"path/filepath"
	"testing"

	"maestro/pkg/models"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestSQLite(t)

	task := newTask("t1", models.TaskStatusInProgress)
	task.Dependencies = []string{"t0"}
	task.Progress = models.Progress{Percent: 40, CompletedSteps: []string{"fetch"}}
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}

	tasks, err := s.LoadTasks()
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}

	got := tasks[0]
	if got.ID != "t1" || got.Status != models.TaskStatusInProgress {
		t.Errorf("unexpected task %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "t0" {
		t.Errorf("dependencies lost in round trip: %v", got.Dependencies)
	}
	if got.Progress.Percent != 40 {
		t.Errorf("progress lost in round trip: %+v", got.Progress)
	}
}

func TestSQLiteUpsertReplacesPriorRecord(t *testing.T) {
	s := openTestSQLite(t)

	task := newTask("t1", models.TaskStatusPending)
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("save task: %v", err)
	}
	task.Status = models.TaskStatusCompleted
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("resave task: %v", err)
	}

	tasks, err := s.LoadTasks()
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after upsert, got %d", len(tasks))
	}
	if tasks[0].Status != models.TaskStatusCompleted {
		t.Errorf("expected completed after upsert, got %s", tasks[0].Status)
	}
}

func TestSQLiteReopenRecoversTasks(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	if err := s.SaveTask(newTask("t1", models.TaskStatusFailed)); err != nil {
		t.Fatalf("save task: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	tasks, err := reopened.LoadTasks()
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Status != models.TaskStatusFailed {
		t.Fatalf("recovery lost tasks: %+v", tasks)
	}

	info, err := reopened.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Saves != 1 {
		t.Errorf("expected saves counter 1 after reopen, got %d", info.Saves)
	}
}

func TestSQLiteInfoCounts(t *testing.T) {
	s := openTestSQLite(t)

	for _, tc := range []struct {
		id     string
		status models.TaskStatus
	}{
		{"a", models.TaskStatusCompleted},
		{"b", models.TaskStatusCompleted},
		{"c", models.TaskStatusFailed},
		{"d", models.TaskStatusPending},
	} {
		if err := s.SaveTask(newTask(tc.id, tc.status)); err != nil {
			t.Fatalf("save %s: %v", tc.id, err)
		}
	}

	info, err := s.Info()
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.Tasks != 4 {
		t.Errorf("expected 4 tasks, got %d", info.Tasks)
	}
	if info.Completed != 2 || info.Failed != 1 {
		t.Errorf("unexpected counters %+v", info.Counters)
	}
	if info.Saves != 4 {
		t.Errorf("expected 4 saves, got %d", info.Saves)
	}
}

func TestSQLiteSaveAllTransactional(t *testing.T) {
	s := openTestSQLite(t)

	if err := s.SaveTask(newTask("old", models.TaskStatusPending)); err != nil {
		t.Fatalf("save task: %v", err)
	}
	if err := s.SaveAll([]*models.Task{
		newTask("a", models.TaskStatusPending),
		newTask("b", models.TaskStatusPending),
	}); err != nil {
		t.Fatalf("save all: %v", err)
	}

	tasks, err := s.LoadTasks()
	if err != nil {
		t.Fatalf("load tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks after SaveAll, got %d", len(tasks))
	}
	if err := s.Flush(); err != nil {
		t.Errorf("flush: %v", err)
	}
}
