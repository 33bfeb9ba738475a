// Package workflow implements the dependency-aware workflow execution
// engine: registration and validation of workflow DAGs, topological
// ordering, step execution with per-step retry policy and timeout, and
// aggregation of step results into an execution record.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/internal/task"
	"maestro/pkg/models"
)

// TaskClient is the slice of the task manager the engine needs. The engine
// only creates tasks and reads their results; it never mutates task state
// directly.
type TaskClient interface {
	CreateTask(spec task.Spec) (*models.Task, error)
	Execute(ctx context.Context, id string) (*models.TaskResult, error)
}

// Engine registers workflows and executes them end to end.
type Engine struct {
	tasks TaskClient
	bus   *events.Bus

	mu         sync.RWMutex
	workflows  map[string]*models.Workflow
	graphs     map[string]*stepGraph
	executions map[string]*execState
}

// execState pairs an execution record with its cancellation flag. The
// record is mutated only by the run loop (and parallel fan-out) under mu.
type execState struct {
	mu        sync.Mutex
	exec      *models.WorkflowExecution
	cancelled bool
}

// NewEngine creates an Engine with the built-in templates pre-registered.
func NewEngine(tasks TaskClient, bus *events.Bus) *Engine {
	e := &Engine{
		tasks:      tasks,
		bus:        bus,
		workflows:  make(map[string]*models.Workflow),
		graphs:     make(map[string]*stepGraph),
		executions: make(map[string]*execState),
	}
	for _, tpl := range builtinTemplates() {
		// Templates are ordinary workflows; a broken one is a programming
		// error.
		if _, err := e.CreateWorkflow(tpl); err != nil {
			panic(fmt.Sprintf("invalid built-in workflow %q: %v", tpl.Name, err))
		}
	}
	return e
}

// CreateWorkflow validates and registers a workflow definition.
// Every step dependency must reference an existing step, and the step
// graph must be acyclic. Registered workflows are immutable.
func (e *Engine) CreateWorkflow(def models.Workflow) (*models.Workflow, error) {
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", def.Name)
	}
	if def.ID == "" {
		def.ID = uuid.New().String()[:8]
	}
	if def.Version == "" {
		def.Version = "1.0.0"
	}
	def.CreatedAt = time.Now()

	for i := range def.Steps {
		if def.Steps[i].Type == "" {
			def.Steps[i].Type = models.StepTypeRole
		}
	}

	g, err := buildStepGraph(def.Steps)
	if err != nil {
		return nil, fmt.Errorf("workflow %q: %w", def.Name, err)
	}
	if at, found := g.hasCycle(); found {
		return nil, fmt.Errorf("workflow %q: %w at step %q", def.Name, ErrCycleDetected, at)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[def.ID]; exists {
		return nil, fmt.Errorf("workflow %q already registered", def.ID)
	}
	stored := def
	e.workflows[def.ID] = &stored
	e.graphs[def.ID] = g

	logging.Debugf("[workflow] registered %s (%s, %d steps)", def.ID, def.Name, len(def.Steps))
	out := def
	return &out, nil
}

// ReplaceWorkflow registers def, overwriting any previously registered
// workflow with the same ID. In-flight executions of the old definition
// finish against the graph they started with.
func (e *Engine) ReplaceWorkflow(def models.Workflow) (*models.Workflow, error) {
	e.mu.Lock()
	delete(e.workflows, def.ID)
	delete(e.graphs, def.ID)
	e.mu.Unlock()
	return e.CreateWorkflow(def)
}

// GetWorkflow returns the registered workflow with the given ID.
func (e *Engine) GetWorkflow(id string) (*models.Workflow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	wf, ok := e.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", id)
	}
	out := *wf
	return &out, nil
}

// ListWorkflows returns all registered workflows.
func (e *Engine) ListWorkflows() []*models.Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(e.workflows))
	for _, wf := range e.workflows {
		c := *wf
		out = append(out, &c)
	}
	return out
}

// TopologicalSort returns the workflow's step IDs in dependency order.
func (e *Engine) TopologicalSort(workflowID string) ([]string, error) {
	e.mu.RLock()
	g, ok := e.graphs[workflowID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("workflow %q not found", workflowID)
	}
	return g.topoSort()
}

// ExecuteWorkflow runs a registered workflow: it creates an execution
// record, seeds the variable bag from input, and executes the steps
// strictly in topological order. Steps run sequentially even when their
// dependencies would permit parallelism; parallel-type steps opt in to
// fan-out explicitly.
//
// The returned execution is always populated; unexpected failures are
// recorded on it rather than escaping.
func (e *Engine) ExecuteWorkflow(ctx context.Context, workflowID string, input map[string]any) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	wf, ok := e.workflows[workflowID]
	g := e.graphs[workflowID]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("workflow %q not found", workflowID)
	}

	vars := make(map[string]any, len(input))
	for k, v := range input {
		vars[k] = v
	}

	st := &execState{
		exec: &models.WorkflowExecution{
			ID:         uuid.New().String()[:8],
			WorkflowID: workflowID,
			Status:     models.ExecutionRunning,
			Variables:  vars,
			Steps:      make(map[string]*models.StepResult),
			StartedAt:  time.Now(),
		},
	}

	e.mu.Lock()
	e.executions[st.exec.ID] = st
	e.mu.Unlock()

	e.publishWorkflow(events.EventTypeWorkflowStarted, st.exec, "")
	logging.Debugf("[workflow] execution %s of %s started", st.exec.ID, workflowID)

	e.runExecution(ctx, wf, g, st)

	return e.snapshotExecution(st), nil
}

// runExecution drives the step loop. Any panic is caught at this level,
// recorded as the execution error, and the execution marked failed.
func (e *Engine) runExecution(ctx context.Context, wf *models.Workflow, g *stepGraph, st *execState) {
	defer func() {
		if p := recover(); p != nil {
			st.mu.Lock()
			st.exec.Error = fmt.Sprintf("workflow execution panic: %v", p)
			e.finishLocked(st, models.ExecutionFailed)
			st.mu.Unlock()
		}
	}()

	order, err := g.topoSort()
	if err != nil {
		st.mu.Lock()
		st.exec.Error = err.Error()
		e.finishLocked(st, models.ExecutionFailed)
		st.mu.Unlock()
		return
	}

	for _, stepID := range order {
		st.mu.Lock()
		if st.cancelled {
			e.finishLocked(st, models.ExecutionCancelled)
			st.mu.Unlock()
			return
		}
		_, alreadyRan := st.exec.Steps[stepID]
		st.mu.Unlock()
		if alreadyRan {
			// Executed eagerly by a parallel fan-out step.
			continue
		}

		step := g.nodes[stepID]
		result := e.runStep(ctx, wf, g, st, step)

		st.mu.Lock()
		st.exec.Steps[stepID] = result
		st.exec.Order = append(st.exec.Order, stepID)
		e.storeStepVarsLocked(st, stepID, result)
		failed := result.Status == models.StepFailed
		if failed && !wf.ContinueOnFailure {
			st.exec.Error = fmt.Sprintf("step %s failed: %s", stepID, result.Error)
			e.finishLocked(st, models.ExecutionFailed)
			st.mu.Unlock()
			return
		}
		st.mu.Unlock()
	}

	st.mu.Lock()
	status := models.ExecutionCompleted
	for _, res := range st.exec.Steps {
		if res.Status == models.StepFailed {
			status = models.ExecutionFailed
			break
		}
	}
	e.finishLocked(st, status)
	st.mu.Unlock()
}

// runStep executes one step, applying its condition, retry policy, and
// timeout. It always returns a result; errors are captured in it.
func (e *Engine) runStep(ctx context.Context, wf *models.Workflow, g *stepGraph, st *execState, step *models.Step) *models.StepResult {
	result := &models.StepResult{
		StepID:    step.ID,
		Status:    models.StepRunning,
		StartedAt: time.Now(),
	}

	if step.Condition != "" && step.Type != models.StepTypeCondition {
		st.mu.Lock()
		pass, err := EvalPredicate(step.Condition, st.exec.Variables)
		st.mu.Unlock()
		if err != nil {
			result.Status = models.StepFailed
			result.Error = err.Error()
			closeStepResult(result)
			return result
		}
		if !pass {
			result.Status = models.StepSkipped
			closeStepResult(result)
			logging.Debugf("[workflow] step %s skipped (condition false)", step.ID)
			return result
		}
	}

	e.publishStep(events.EventTypeStepStarted, st.exec.ID, step.ID, 0, "")

	for {
		output, err := e.dispatch(ctx, wf, g, st, step)
		if err == nil {
			result.Status = models.StepCompleted
			result.Output = output
			break
		}

		if step.Retry == nil || result.Retries >= step.Retry.MaxRetries || !retryAllowed(step.Retry, err) {
			result.Status = models.StepFailed
			result.Error = err.Error()
			break
		}

		result.Retries++
		e.publishStep(events.EventTypeStepRetried, st.exec.ID, step.ID, result.Retries, err.Error())
		logging.Debugf("[workflow] step %s attempt %d failed, retrying: %v", step.ID, result.Retries, err)

		delay := step.Retry.Backoff << (result.Retries - 1)
		select {
		case <-ctx.Done():
			result.Status = models.StepFailed
			result.Error = ctx.Err().Error()
			closeStepResult(result)
			return result
		case <-time.After(delay):
		}
	}

	closeStepResult(result)

	switch result.Status {
	case models.StepCompleted:
		e.publishStep(events.EventTypeStepCompleted, st.exec.ID, step.ID, result.Retries, "")
	case models.StepFailed:
		e.publishStep(events.EventTypeStepFailed, st.exec.ID, step.ID, result.Retries, result.Error)
	}
	return result
}

// dispatch executes a step according to its type.
func (e *Engine) dispatch(ctx context.Context, wf *models.Workflow, g *stepGraph, st *execState, step *models.Step) (any, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	switch step.Type {
	case models.StepTypeTask, models.StepTypeRole:
		return e.runTaskStep(ctx, wf, st, step)

	case models.StepTypeParallel:
		return e.runParallelStep(ctx, wf, g, st, step)

	case models.StepTypeCondition:
		st.mu.Lock()
		defer st.mu.Unlock()
		return EvalPredicate(step.Condition, st.exec.Variables)

	case models.StepTypeScript:
		st.mu.Lock()
		defer st.mu.Unlock()
		return EvalPredicate(step.Script, st.exec.Variables)

	default:
		return nil, fmt.Errorf("unknown step type %q", step.Type)
	}
}

// runTaskStep materializes the step as a task and awaits its result.
func (e *Engine) runTaskStep(ctx context.Context, wf *models.Workflow, st *execState, step *models.Step) (any, error) {
	st.mu.Lock()
	varsCopy := make(map[string]any, len(st.exec.Variables))
	for k, v := range st.exec.Variables {
		varsCopy[k] = v
	}
	execID := st.exec.ID
	st.mu.Unlock()

	taskType := step.TaskType
	if taskType == "" {
		taskType = string(step.Type)
	}

	t, err := e.tasks.CreateTask(task.Spec{
		Type:   taskType,
		Role:   step.Role,
		Source: "workflow",
		Input: map[string]any{
			"workflow":  wf.ID,
			"execution": execID,
			"step":      step.ID,
			"step_name": step.Name,
			"variables": varsCopy,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create task for step %s: %w", step.ID, err)
	}

	res, err := e.tasks.Execute(ctx, t.ID)
	if err != nil {
		return nil, fmt.Errorf("execute task %s: %w", t.ID, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%s", res.Error)
	}
	return res.Output, nil
}

// runParallelStep fans out to the sibling steps that declare this step as
// a dependency, executing them concurrently. Their results are recorded so
// the main loop does not run them again.
func (e *Engine) runParallelStep(ctx context.Context, wf *models.Workflow, g *stepGraph, st *execState, step *models.Step) (any, error) {
	children := g.dependents(step.ID)
	if len(children) == 0 {
		return []string{}, nil
	}

	var wg sync.WaitGroup
	for _, childID := range children {
		child := g.nodes[childID]
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.runStep(ctx, wf, g, st, child)
			st.mu.Lock()
			st.exec.Steps[child.ID] = res
			st.exec.Order = append(st.exec.Order, child.ID)
			e.storeStepVarsLocked(st, child.ID, res)
			st.mu.Unlock()
		}()
	}
	wg.Wait()

	var failedSteps []string
	st.mu.Lock()
	for _, childID := range children {
		if res, ok := st.exec.Steps[childID]; ok && res.Status == models.StepFailed {
			failedSteps = append(failedSteps, childID)
		}
	}
	st.mu.Unlock()

	if len(failedSteps) > 0 {
		return children, fmt.Errorf("parallel children failed: %v", failedSteps)
	}
	return children, nil
}

// CancelExecution cooperatively cancels a running execution: it flips the
// cancelled flag and stamps completion. In-flight steps are not forcibly
// interrupted.
func (e *Engine) CancelExecution(id string) error {
	e.mu.RLock()
	st, ok := e.executions[id]
	e.mu.RUnlock()

	if !ok {
		return fmt.Errorf("execution %q not found", id)
	}

	st.mu.Lock()
	st.cancelled = true
	if st.exec.Status == models.ExecutionRunning {
		e.finishLocked(st, models.ExecutionCancelled)
	}
	st.mu.Unlock()
	return nil
}

// GetExecution returns a snapshot of the execution with the given ID.
func (e *Engine) GetExecution(id string) (*models.WorkflowExecution, error) {
	e.mu.RLock()
	st, ok := e.executions[id]
	e.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("execution %q not found", id)
	}
	return e.snapshotExecution(st), nil
}

// finishLocked stamps the terminal state and emits the matching event.
// Caller must hold st.mu. Finishing twice is a no-op.
func (e *Engine) finishLocked(st *execState, status models.ExecutionStatus) {
	if st.exec.Status != models.ExecutionRunning {
		return
	}
	st.exec.Status = status
	now := time.Now()
	st.exec.CompletedAt = &now

	var eventType string
	switch status {
	case models.ExecutionCompleted:
		eventType = events.EventTypeWorkflowCompleted
	case models.ExecutionFailed:
		eventType = events.EventTypeWorkflowFailed
	case models.ExecutionCancelled:
		eventType = events.EventTypeWorkflowCancelled
	default:
		return
	}
	e.publishWorkflow(eventType, st.exec, st.exec.Error)
	logging.Debugf("[workflow] execution %s finished: %s", st.exec.ID, status)
}

// storeStepVarsLocked publishes a step's outcome into the variable bag
// under step-scoped keys so later steps can reference it.
// Caller must hold st.mu.
func (e *Engine) storeStepVarsLocked(st *execState, stepID string, res *models.StepResult) {
	prefix := "step." + stepID
	st.exec.Variables[prefix+".output"] = res.Output
	st.exec.Variables[prefix+".success"] = res.Status == models.StepCompleted
	st.exec.Variables[prefix+".error"] = res.Error
}

func closeStepResult(res *models.StepResult) {
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
}

// retryAllowed reports whether the retry policy's allow-list matches the
// error. An empty allow-list retries everything.
func retryAllowed(policy *models.RetryPolicy, err error) bool {
	if len(policy.RetryableErrors) == 0 {
		return true
	}
	msg := err.Error()
	for _, substr := range policy.RetryableErrors {
		if substr != "" && strings.Contains(strings.ToLower(msg), strings.ToLower(substr)) {
			return true
		}
	}
	return false
}

func (e *Engine) snapshotExecution(st *execState) *models.WorkflowExecution {
	st.mu.Lock()
	defer st.mu.Unlock()

	c := *st.exec
	c.Order = append([]string(nil), st.exec.Order...)
	c.Steps = make(map[string]*models.StepResult, len(st.exec.Steps))
	for id, res := range st.exec.Steps {
		r := *res
		c.Steps[id] = &r
	}
	c.Variables = make(map[string]any, len(st.exec.Variables))
	for k, v := range st.exec.Variables {
		c.Variables[k] = v
	}
	if st.exec.CompletedAt != nil {
		ts := *st.exec.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

func (e *Engine) publishWorkflow(eventType string, exec *models.WorkflowExecution, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicWorkflow, events.WorkflowEvent{
		Type:        eventType,
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		Status:      exec.Status,
		Error:       errMsg,
		Timestamp:   time.Now(),
	})
}

func (e *Engine) publishStep(eventType, execID, stepID string, attempt int, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicStep, events.StepEvent{
		Type:        eventType,
		ExecutionID: execID,
		StepID:      stepID,
		Attempt:     attempt,
		Error:       errMsg,
		Timestamp:   time.Now(),
	})
}
