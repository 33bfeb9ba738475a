// Package scheduler implements the auto scheduler: a timer loop that
// discovers runnable pending tasks and drives their execution through the
// task manager, bounded by a concurrency budget.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"maestro/internal/events"
	"maestro/internal/logging"
	"maestro/pkg/models"
)

// TaskSource is the slice of the task manager the scheduler needs.
type TaskSource interface {
	List() []*models.Task
	Execute(ctx context.Context, id string) (*models.TaskResult, error)
}

// Config configures the scheduler.
type Config struct {
	// Interval is the timer tick between check cycles.
	Interval time.Duration
	// MaxConcurrentTasks bounds simultaneously running tasks.
	MaxConcurrentTasks int
	// PriorityEnabled orders admission by task priority.
	PriorityEnabled bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:           2 * time.Second,
		MaxConcurrentTasks: 3,
	}
}

// Scheduler polls the task set on a timer and admits runnable tasks up to
// the concurrency budget.
type Scheduler struct {
	cfg   Config
	tasks TaskSource
	bus   *events.Bus

	mu        sync.Mutex
	running   map[string]bool
	scheduled map[string]bool
	stop      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a Scheduler.
func New(cfg Config, tasks TaskSource, bus *events.Bus) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = DefaultConfig().MaxConcurrentTasks
	}
	return &Scheduler{
		cfg:       cfg,
		tasks:     tasks,
		bus:       bus,
		running:   make(map[string]bool),
		scheduled: make(map[string]bool),
	}
}

// Start launches the timer loop. Starting twice is a no-op after the first
// call.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	s.publish(events.SchedulerEvent{Type: events.EventTypeSchedulerStarted, Timestamp: time.Now()})
	logging.Debugf("[scheduler] started (interval=%s, max=%d)", s.cfg.Interval, s.cfg.MaxConcurrentTasks)

	go s.loop(ctx, stop, done)
}

// Stop halts the timer loop and clears running/scheduled bookkeeping.
// It does not cancel in-flight executions; it only stops the scheduler from
// tracking and re-admitting them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done

	s.mu.Lock()
	s.running = make(map[string]bool)
	s.scheduled = make(map[string]bool)
	s.mu.Unlock()

	s.publish(events.SchedulerEvent{Type: events.EventTypeSchedulerStopped, Timestamp: time.Now()})
	logging.Debugf("[scheduler] stopped")
}

// RunningCount returns how many admitted tasks are currently executing.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

func (s *Scheduler) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

// check runs one scheduling cycle. Failures are contained: they surface as
// a check_completed event carrying the error, and the next tick proceeds.
func (s *Scheduler) check(ctx context.Context) {
	var checkErr error
	var admitted int

	func() {
		defer func() {
			if p := recover(); p != nil {
				checkErr = fmt.Errorf("check cycle panic: %v", p)
			}
		}()
		admitted, checkErr = s.admit(ctx)
	}()

	evt := events.SchedulerEvent{
		Type:      events.EventTypeCheckCompleted,
		Scheduled: admitted,
		Running:   s.RunningCount(),
		Timestamp: time.Now(),
	}
	if checkErr != nil {
		evt.Error = checkErr.Error()
		logging.Debugf("[scheduler] check cycle error: %v", checkErr)
	}
	s.publish(evt)
}

// admit selects runnable tasks within the concurrency budget and launches
// them.
func (s *Scheduler) admit(ctx context.Context) (int, error) {
	all := s.tasks.List()

	completed := make(map[string]bool, len(all))
	for _, t := range all {
		if t.Status == models.TaskStatusCompleted {
			completed[t.ID] = true
		}
	}

	s.mu.Lock()
	budget := s.cfg.MaxConcurrentTasks - len(s.running)
	if budget <= 0 {
		s.mu.Unlock()
		return 0, nil
	}

	var candidates []*models.Task
	for _, t := range all {
		if t.Status.Terminal() || t.Status == models.TaskStatusInProgress {
			continue
		}
		if s.running[t.ID] || s.scheduled[t.ID] {
			continue
		}
		// Unmet dependencies leave the task untouched; no status change
		// here. The dependency gate in Execute owns the blocked
		// transition.
		ready := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		candidates = append(candidates, t)
	}

	if s.cfg.PriorityEnabled {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Priority.Rank() > candidates[j].Priority.Rank()
		})
	}

	if len(candidates) > budget {
		candidates = candidates[:budget]
	}
	for _, t := range candidates {
		s.scheduled[t.ID] = true
	}
	s.mu.Unlock()

	for _, t := range candidates {
		s.publish(events.SchedulerEvent{
			Type:      events.EventTypeTaskScheduled,
			TaskID:    t.ID,
			Timestamp: time.Now(),
		})
		logging.Debugf("[scheduler] admitting task %s (priority=%s)", t.ID, t.Priority)

		s.wg.Add(1)
		go s.run(ctx, t.ID)
	}

	return len(candidates), nil
}

// run executes one admitted task and releases its slot when done.
func (s *Scheduler) run(ctx context.Context, id string) {
	defer s.wg.Done()

	s.mu.Lock()
	delete(s.scheduled, id)
	s.running[id] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	if _, err := s.tasks.Execute(ctx, id); err != nil {
		// Precondition errors (deleted or concurrently executed task)
		// only cost this admission; the task table is untouched.
		logging.Debugf("[scheduler] execute %s: %v", id, err)
	}
}

// Wait blocks until all launched executions have returned. Used by tests
// and orderly shutdown.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) publish(evt events.SchedulerEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(events.TopicScheduler, evt)
}
