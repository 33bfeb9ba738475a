// Package task implements the task lifecycle manager: the in-memory task
// table, the status state machine, the single execution choke point, and
// startup recovery from the durable store.
//
// All task mutation flows through the Manager. Other components (scheduler,
// workflow engine) never touch the table directly; they call the Manager's
// public operations.
package task

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/role"
	"maestro/internal/store"
	"maestro/pkg/models"
)

// waitPollInterval is how often WaitForTask re-checks the task status.
const waitPollInterval = 50 * time.Millisecond

// Config configures a Manager.
type Config struct {
	// Store receives every task mutation. Optional; nil disables
	// persistence (tests).
	Store store.Store
	// Roles resolves a task's assigned role to its executor.
	Roles *role.Registry
	// Bus receives lifecycle events. Optional.
	Bus *events.Bus
	// Project is project-level metadata passed to executors.
	Project map[string]any
}

// Spec describes a task to create.
type Spec struct {
	Type         string
	Priority     models.TaskPriority
	Role         string
	Dependencies []string
	Input        map[string]any
	Constraints  map[string]any
	Subtasks     []Spec
	// Source describes where the task came from (manual, workflow, ...).
	Source string
}

// Manager owns the in-memory task table and state machine.
type Manager struct {
	cfg Config

	mu        sync.RWMutex
	tasks     map[string]*models.Task
	executing map[string]bool
}

// NewManager creates a Manager and restores persisted tasks from the store.
// Recovered tasks are re-inserted at their last-known status with their
// restart counter incremented; they are not re-executed.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		tasks:     make(map[string]*models.Task),
		executing: make(map[string]bool),
	}

	if cfg.Store == nil {
		return m, nil
	}

	persisted, err := cfg.Store.LoadTasks()
	if err != nil {
		return nil, fmt.Errorf("restore tasks: %w", err)
	}

	now := time.Now()
	for _, t := range persisted {
		t.Meta.Restarts++
		recoveredAt := now
		t.Meta.RecoveredAt = &recoveredAt
		t.UpdatedAt = now
		m.tasks[t.ID] = t
		m.persistLocked(t)
	}
	if len(persisted) > 0 {
		logging.Debugf("[task] recovered %d tasks from store", len(persisted))
	}

	return m, nil
}

// CreateTask allocates an ID, registers the task as pending, persists it,
// and emits a creation event.
func (m *Manager) CreateTask(spec Spec) (*models.Task, error) {
	t := newTaskFromSpec(spec)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.persistLocked(t)
	m.mu.Unlock()

	m.publishTask(events.EventTypeTaskCreated, t, "")
	logging.Debugf("[task] created %s (role=%s, deps=%v)", t.ID, t.AssignedRole, t.Dependencies)

	return t.Clone(), nil
}

func newTaskFromSpec(spec Spec) *models.Task {
	now := time.Now()
	priority := spec.Priority
	if priority == "" {
		priority = models.PriorityMedium
	}
	source := spec.Source
	if source == "" {
		source = "manual"
	}

	t := &models.Task{
		ID:           uuid.New().String()[:8],
		Type:         spec.Type,
		Priority:     priority,
		Status:       models.TaskStatusPending,
		Dependencies: append([]string(nil), spec.Dependencies...),
		AssignedRole: spec.Role,
		Input:        spec.Input,
		Constraints:  spec.Constraints,
		Meta:         models.TaskMeta{Source: source},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for _, sub := range spec.Subtasks {
		st := newTaskFromSpec(sub)
		st.Meta.Source = "subtask"
		t.Subtasks = append(t.Subtasks, st)
	}
	return t
}

// Execute runs a task through its assigned role.
//
// It returns an error only for precondition violations: unknown ID,
// already-executing ID, and a task already in a terminal status (a retry
// flips the task back to pending first). Every other failure, including
// an unmet dependency (which leaves the task blocked) and any error from
// the role, is reported through the returned TaskResult and recorded on
// the task.
func (m *Manager) Execute(ctx context.Context, id string) (*models.TaskResult, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if m.executing[id] {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrTaskExecuting, id)
	}
	if t.Status.Terminal() {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrTaskTerminal, id, t.Status)
	}

	// Dependency gate: any missing or non-completed dependency blocks the
	// task. This is a status, not an error.
	depResults := make(map[string]*models.TaskResult, len(t.Dependencies))
	for _, depID := range t.Dependencies {
		dep, exists := m.tasks[depID]
		if !exists || dep.Status != models.TaskStatusCompleted {
			result := &models.TaskResult{
				Success: false,
				Error:   fmt.Sprintf("dependency %s is not completed", depID),
			}
			t.Result = result
			m.setStatusLocked(t, models.TaskStatusBlocked, result.Error)
			m.mu.Unlock()
			logging.Debugf("[task] %s blocked on dependency %s", id, depID)
			return cloneResult(result), nil
		}
		if dep.Result != nil {
			r := *dep.Result
			depResults[depID] = &r
		}
	}

	m.executing[id] = true
	m.setStatusLocked(t, models.TaskStatusInProgress, "")

	ec := &role.Context{
		Project:           m.cfg.Project,
		DependencyResults: depResults,
		Variables:         make(map[string]any),
	}
	if m.cfg.Roles != nil {
		ec.Tools = m.cfg.Roles.Names()
	}
	roleName := t.AssignedRole
	snapshot := t.Clone()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.executing, id)
		m.mu.Unlock()
	}()

	result, record := m.invokeRole(ctx, roleName, snapshot, ec)

	m.mu.Lock()
	t = m.tasks[id] // delete refuses while executing, so still present
	t.ExecutionRecords = append(t.ExecutionRecords, record)
	t.Result = result
	if result.Success {
		m.setStatusLocked(t, models.TaskStatusCompleted, "")
	} else {
		m.setStatusLocked(t, models.TaskStatusFailed, result.Error)
	}
	subtasks := t.Subtasks
	recorded := t.Clone()
	m.mu.Unlock()
	m.publishTask(events.EventTypeTaskExecutionRecorded, recorded, "")

	if result.Success && len(subtasks) > 0 {
		result = m.runSubtasks(ctx, id, subtasks, result)
	}

	return cloneResult(result), nil
}

// invokeRole resolves and calls the executor, translating every failure
// path (missing role, returned error, panic, nil result) into a structured
// result. It never lets an error escape.
func (m *Manager) invokeRole(ctx context.Context, roleName string, t *models.Task, ec *role.Context) (*models.TaskResult, models.ExecutionRecord) {
	started := time.Now()

	var out *role.Result
	var err error
	if m.cfg.Roles == nil {
		err = fmt.Errorf("role %q not registered", roleName)
	} else {
		var r role.Role
		r, err = m.cfg.Roles.Get(roleName)
		if err == nil {
			func() {
				defer func() {
					if p := recover(); p != nil {
						err = fmt.Errorf("role %s panicked: %v", roleName, p)
					}
				}()
				out, err = r.Execute(ctx, t, ec)
			}()
		}
	}

	finished := time.Now()
	record := models.ExecutionRecord{
		Role:        roleName,
		Action:      "execute",
		StartedAt:   started,
		CompletedAt: finished,
		Duration:    finished.Sub(started),
	}

	if err == nil && out == nil {
		err = fmt.Errorf("role %s returned no result", roleName)
	}
	if err != nil {
		ee := translateError(err)
		return &models.TaskResult{
			Success: false,
			Error:   ee.Message,
			Metadata: map[string]any{
				"code":        ee.Code,
				"category":    string(ee.Category),
				"suggestions": ee.Suggestions,
			},
		}, record
	}

	record.Tokens = out.Tokens
	record.Model = out.Model
	record.Provider = out.Provider

	return &models.TaskResult{
		Success:  out.Success,
		Output:   out.Output,
		Error:    out.Error,
		Metadata: out.Metadata,
	}, record
}

// runSubtasks executes the parent's subtasks sequentially. Any subtask
// failure flips the parent to failed.
func (m *Manager) runSubtasks(ctx context.Context, parentID string, subtasks []*models.Task, parentResult *models.TaskResult) *models.TaskResult {
	for _, st := range subtasks {
		m.mu.Lock()
		parent := m.tasks[parentID]
		now := time.Now()
		st.Status = models.TaskStatusInProgress
		st.StartedAt = &now
		st.UpdatedAt = now
		ec := &role.Context{
			Project:   m.cfg.Project,
			Variables: make(map[string]any),
		}
		if m.cfg.Roles != nil {
			ec.Tools = m.cfg.Roles.Names()
		}
		snapshot := st.Clone()
		m.persistLocked(parent)
		m.mu.Unlock()

		result, record := m.invokeRole(ctx, st.AssignedRole, snapshot, ec)

		m.mu.Lock()
		parent = m.tasks[parentID]
		st.ExecutionRecords = append(st.ExecutionRecords, record)
		st.Result = result
		done := time.Now()
		st.CompletedAt = &done
		st.UpdatedAt = done
		if result.Success {
			st.Status = models.TaskStatusCompleted
			m.persistLocked(parent)
			m.mu.Unlock()
			continue
		}

		st.Status = models.TaskStatusFailed
		failure := &models.TaskResult{
			Success:  false,
			Output:   parentResult.Output,
			Error:    fmt.Sprintf("subtask %s failed: %s", st.ID, result.Error),
			Metadata: result.Metadata,
		}
		parent.Result = failure
		m.setStatusLocked(parent, models.TaskStatusFailed, failure.Error)
		m.mu.Unlock()
		return failure
	}
	return parentResult
}

// ExecuteAll runs the given task IDs. In parallel mode all executions fire
// concurrently and it waits for all of them; in sequential mode it runs one
// at a time and stops at the first failure.
func (m *Manager) ExecuteAll(ctx context.Context, ids []string, parallel bool) ([]*models.TaskResult, error) {
	results := make([]*models.TaskResult, len(ids))

	if parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i, id := range ids {
			g.Go(func() error {
				res, err := m.Execute(gctx, id)
				if err != nil {
					return err
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
		return results, nil
	}

	for i, id := range ids {
		res, err := m.Execute(ctx, id)
		if err != nil {
			return results, err
		}
		results[i] = res
		if !res.Success {
			return results[:i+1], nil
		}
	}
	return results, nil
}

// Get returns a copy of the task with the given ID.
func (m *Manager) Get(id string) (*models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// List returns copies of all tasks, oldest first.
func (m *Manager) List() []*models.Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tasks := make([]*models.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

// Executing returns the IDs currently in the executing set.
func (m *Manager) Executing() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.executing))
	for id := range m.executing {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AddMessage appends a message to the task's conversational history.
func (m *Manager) AddMessage(id, msgRole, content string) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.Messages = append(t.Messages, models.Message{
		Role:      msgRole,
		Content:   content,
		Timestamp: time.Now(),
	})
	t.UpdatedAt = time.Now()
	m.persistLocked(t)
	snapshot := t.Clone()
	m.mu.Unlock()

	m.publishTask(events.EventTypeTaskMessageAdded, snapshot, "")
	return nil
}

// AddExecutionRecord appends an execution record to the task.
func (m *Manager) AddExecutionRecord(id string, rec models.ExecutionRecord) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.ExecutionRecords = append(t.ExecutionRecords, rec)
	t.UpdatedAt = time.Now()
	m.persistLocked(t)
	snapshot := t.Clone()
	m.mu.Unlock()

	m.publishTask(events.EventTypeTaskExecutionRecorded, snapshot, "")
	return nil
}

// SetResult stores a result on the task.
func (m *Manager) SetResult(id string, result *models.TaskResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.Result = cloneResult(result)
	t.UpdatedAt = time.Now()
	m.persistLocked(t)
	return nil
}

// AppendRetryRecord appends a retry-history entry to the task.
func (m *Manager) AppendRetryRecord(id string, rec models.RetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t.RetryHistory = append(t.RetryHistory, rec)
	t.UpdatedAt = time.Now()
	m.persistLocked(t)
	return nil
}

// MarkRetried stamps the latest retry-history entry with the retry time and
// initiating actor.
func (m *Manager) MarkRetried(id, actor string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if n := len(t.RetryHistory); n > 0 {
		now := time.Now()
		t.RetryHistory[n-1].RetriedAt = &now
		t.RetryHistory[n-1].RetriedBy = actor
	}
	t.UpdatedAt = time.Now()
	m.persistLocked(t)
	return nil
}

// UpdateProgress records completion percentage and an optional finished
// sub-step label.
func (m *Manager) UpdateProgress(id string, percent int, completedStep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.Progress.Percent = percent
	if completedStep != "" {
		t.Progress.CompletedSteps = append(t.Progress.CompletedSteps, completedStep)
	}
	t.UpdatedAt = time.Now()
	m.persistLocked(t)
	return nil
}

// allowedTransitions encodes the task state machine. completed and failed
// are terminal except for the retry path failed -> pending.
var allowedTransitions = map[models.TaskStatus][]models.TaskStatus{
	models.TaskStatusPending:    {models.TaskStatusInProgress, models.TaskStatusBlocked, models.TaskStatusFailed},
	models.TaskStatusInProgress: {models.TaskStatusCompleted, models.TaskStatusFailed, models.TaskStatusBlocked},
	models.TaskStatusBlocked:    {models.TaskStatusPending, models.TaskStatusInProgress},
	models.TaskStatusFailed:     {models.TaskStatusPending},
	models.TaskStatusCompleted:  {},
}

func transitionAllowed(from, to models.TaskStatus) bool {
	if from == to {
		return true
	}
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateStatus transitions the task through the state machine, stamping
// StartedAt on first entry to in_progress and CompletedAt on terminal
// transitions. Invalid transitions are caller errors.
func (m *Manager) UpdateStatus(id string, status models.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", status)
	}

	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !transitionAllowed(t.Status, status) {
		from := t.Status
		m.mu.Unlock()
		return fmt.Errorf("invalid status transition %s -> %s for task %s", from, status, id)
	}
	m.setStatusLocked(t, status, "")
	m.mu.Unlock()
	return nil
}

// DeleteTask removes a task. Refuses while any task is executing.
func (m *Manager) DeleteTask(id string) error {
	m.mu.Lock()
	if len(m.executing) > 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: cannot delete %s", ErrManagerBusy, id)
	}
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(m.tasks, id)
	if m.cfg.Store != nil {
		if err := m.cfg.Store.DeleteTask(id); err != nil {
			log.Printf("task %s: delete from store: %v", id, err)
		}
	}
	snapshot := t.Clone()
	m.mu.Unlock()

	m.publishTask(events.EventTypeTaskDeleted, snapshot, "")
	return nil
}

// Clear removes every task. Refuses while any task is executing.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.executing) > 0 {
		return fmt.Errorf("%w: cannot clear", ErrManagerBusy)
	}
	m.tasks = make(map[string]*models.Task)
	if m.cfg.Store != nil {
		if err := m.cfg.Store.SaveAll(nil); err != nil {
			log.Printf("clear store: %v", err)
		}
	}
	return nil
}

// WaitForTask polls until the task reaches a terminal status or the timeout
// elapses.
func (m *Manager) WaitForTask(ctx context.Context, id string, timeout time.Duration) (*models.TaskResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		t, err := m.Get(id)
		if err != nil {
			return nil, err
		}
		if t.Status.Terminal() {
			return cloneResult(t.Result), nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for task %s after %s", id, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// setStatusLocked applies a status change, stamps timestamps, persists, and
// emits the matching event. Caller must hold m.mu.
func (m *Manager) setStatusLocked(t *models.Task, status models.TaskStatus, errMsg string) {
	now := time.Now()
	t.Status = status
	t.UpdatedAt = now

	if status == models.TaskStatusInProgress && t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	if status.Terminal() {
		completed := now
		t.CompletedAt = &completed
	}

	m.persistLocked(t)

	var eventType string
	switch status {
	case models.TaskStatusInProgress:
		eventType = events.EventTypeTaskStarted
	case models.TaskStatusCompleted:
		eventType = events.EventTypeTaskCompleted
	case models.TaskStatusFailed:
		eventType = events.EventTypeTaskFailed
	case models.TaskStatusBlocked:
		eventType = events.EventTypeTaskBlocked
	default:
		return
	}
	m.publishTask(eventType, t, errMsg)
}

// persistLocked saves the task snapshot. Persistence failures are logged
// and do not fail the mutation; the next save retries implicitly.
func (m *Manager) persistLocked(t *models.Task) {
	if m.cfg.Store == nil {
		return
	}
	if err := m.cfg.Store.SaveTask(t); err != nil {
		log.Printf("task %s: persist: %v", t.ID, err)
		logging.Debugf("[task] persist %s failed: %v", t.ID, err)
	}
}

func (m *Manager) publishTask(eventType string, t *models.Task, errMsg string) {
	if m.cfg.Bus == nil {
		return
	}
	m.cfg.Bus.Publish(events.TopicTask, events.TaskEvent{
		Type:      eventType,
		ID:        t.ID,
		Status:    t.Status,
		Role:      t.AssignedRole,
		Error:     errMsg,
		Timestamp: time.Now(),
	})
}

func cloneResult(r *models.TaskResult) *models.TaskResult {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
