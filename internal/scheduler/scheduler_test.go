package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"maestro/internal/events"
	"maestro/pkg/models"
)

// fakeSource is an in-memory TaskSource that completes tasks on Execute.
type fakeSource struct {
	mu          sync.Mutex
	tasks       []*models.Task
	executed    []string
	inFlight    int
	maxInFlight int
	release     chan struct{}
	panicOnce   bool
}

func newFakeSource(tasks ...*models.Task) *fakeSource {
	return &fakeSource{tasks: tasks}
}

func (f *fakeSource) List() []*models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnce {
		f.panicOnce = false
		panic("list blew up")
	}
	out := make([]*models.Task, len(f.tasks))
	for i, t := range f.tasks {
		out[i] = t.Clone()
	}
	return out
}

func (f *fakeSource) Execute(ctx context.Context, id string) (*models.TaskResult, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.inFlight--
	f.executed = append(f.executed, id)
	for _, t := range f.tasks {
		if t.ID == id {
			t.Status = models.TaskStatusCompleted
		}
	}
	return &models.TaskResult{Success: true}, nil
}

func (f *fakeSource) executedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func pendingTask(id string, priority models.TaskPriority, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		Status:       models.TaskStatusPending,
		Priority:     priority,
		Dependencies: deps,
		CreatedAt:    time.Now(),
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition never became true")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerRespectsConcurrencyBudget(t *testing.T) {
	src := newFakeSource(
		pendingTask("a", models.PriorityMedium),
		pendingTask("b", models.PriorityMedium),
		pendingTask("c", models.PriorityMedium),
		pendingTask("d", models.PriorityMedium),
	)
	src.release = make(chan struct{})

	s := New(Config{Interval: 10 * time.Millisecond, MaxConcurrentTasks: 2}, src, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitUntil(t, 2*time.Second, func() bool { return s.RunningCount() == 2 })

	// Give the scheduler a few more ticks; the budget must hold.
	time.Sleep(50 * time.Millisecond)
	if got := s.RunningCount(); got > 2 {
		t.Fatalf("budget exceeded: %d running", got)
	}

	close(src.release)
	waitUntil(t, 2*time.Second, func() bool { return len(src.executedIDs()) == 4 })

	src.mu.Lock()
	defer src.mu.Unlock()
	if src.maxInFlight > 2 {
		t.Errorf("observed %d concurrent executions, budget is 2", src.maxInFlight)
	}
}

func TestSchedulerDependencyGating(t *testing.T) {
	src := newFakeSource(
		pendingTask("a", models.PriorityMedium),
		pendingTask("b", models.PriorityMedium, "a"),
	)

	s := New(Config{Interval: 10 * time.Millisecond, MaxConcurrentTasks: 3}, src, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		ids := src.executedIDs()
		return len(ids) == 2
	})

	ids := src.executedIDs()
	if ids[0] != "a" || ids[1] != "b" {
		t.Errorf("dependency order violated: %v", ids)
	}
}

func TestSchedulerPriorityOrdering(t *testing.T) {
	src := newFakeSource(
		pendingTask("low", models.PriorityLow),
		pendingTask("crit", models.PriorityCritical),
		pendingTask("med", models.PriorityMedium),
	)

	s := New(Config{
		Interval:           10 * time.Millisecond,
		MaxConcurrentTasks: 1,
		PriorityEnabled:    true,
	}, src, nil)
	s.Start(context.Background())
	defer s.Stop()

	waitUntil(t, 2*time.Second, func() bool { return len(src.executedIDs()) == 3 })

	ids := src.executedIDs()
	if ids[0] != "crit" {
		t.Errorf("expected critical first, got %v", ids)
	}
	if ids[2] != "low" {
		t.Errorf("expected low last, got %v", ids)
	}
}

func TestSchedulerEventsAndStop(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicScheduler, 64)

	src := newFakeSource(pendingTask("a", models.PriorityMedium))
	s := New(Config{Interval: 10 * time.Millisecond, MaxConcurrentTasks: 1}, src, bus)
	s.Start(context.Background())

	waitUntil(t, 2*time.Second, func() bool { return len(src.executedIDs()) == 1 })
	s.Wait()
	s.Stop()

	if s.RunningCount() != 0 {
		t.Errorf("expected cleared bookkeeping, got %d running", s.RunningCount())
	}

	seen := make(map[string]bool)
	timeout := time.After(time.Second)
	for !(seen[events.EventTypeSchedulerStarted] &&
		seen[events.EventTypeTaskScheduled] &&
		seen[events.EventTypeSchedulerStopped]) {
		select {
		case evt := <-ch:
			seen[evt.EventType()] = true
		case <-timeout:
			t.Fatalf("missing scheduler events, saw %v", seen)
		}
	}
}

func TestSchedulerStartIdempotentAndStopWithoutStart(t *testing.T) {
	src := newFakeSource()
	s := New(Config{Interval: 10 * time.Millisecond}, src, nil)

	s.Stop() // no-op

	s.Start(context.Background())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSchedulerCheckErrorContained(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicScheduler, 64)

	src := newFakeSource(pendingTask("a", models.PriorityMedium))
	src.panicOnce = true

	s := New(Config{Interval: 10 * time.Millisecond, MaxConcurrentTasks: 1}, src, bus)
	s.Start(context.Background())
	defer s.Stop()

	// The panicking first cycle surfaces as an errored check event and the
	// following cycles still admit the task.
	sawError := false
	timeout := time.After(2 * time.Second)
	for len(src.executedIDs()) == 0 {
		select {
		case evt := <-ch:
			se, ok := evt.(events.SchedulerEvent)
			if ok && se.Type == events.EventTypeCheckCompleted && se.Error != "" {
				sawError = true
			}
		case <-timeout:
			t.Fatal("scheduler never recovered from the check error")
		}
	}
	if !sawError {
		t.Error("expected a check_completed event carrying the error")
	}
}
