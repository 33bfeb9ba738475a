// Package retry schedules delayed re-queueing of failed tasks with
// exponential backoff. It owns the per-task retry timers; everything else
// about a task goes through the task manager.
package retry

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"maestro/internal/logging"
	"maestro/pkg/models"
)

// TaskClient is the slice of the task manager the retry manager needs.
type TaskClient interface {
	Get(id string) (*models.Task, error)
	AppendRetryRecord(id string, rec models.RetryRecord) error
	MarkRetried(id, actor string) error
	UpdateStatus(id string, status models.TaskStatus) error
}

// Config configures a Manager.
type Config struct {
	// MaxAttempts is the maximum number of automatic retries per task.
	MaxAttempts int
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps the computed backoff.
	MaxDelay time.Duration
	// Multiplier grows the delay between successive attempts.
	Multiplier float64
	// RetryableStatuses lists task statuses eligible for automatic retry.
	// Defaults to failed only.
	RetryableStatuses []models.TaskStatus
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          30 * time.Second,
		Multiplier:        2.0,
		RetryableStatuses: []models.TaskStatus{models.TaskStatusFailed},
	}
}

// Info reports the retry state of one task.
type Info struct {
	// Attempts is how many retries have been recorded.
	Attempts int
	// Remaining is how many automatic retries are left.
	Remaining int
	// NextRetryAt is when the pending retry fires, if one is scheduled.
	NextRetryAt *time.Time
}

// Manager computes backoff delays and schedules delayed re-queueing of
// failed tasks.
type Manager struct {
	cfg   Config
	tasks TaskClient
	// requeue is invoked when a scheduled retry fires. Optional; with the
	// auto scheduler polling, flipping the task to pending is enough.
	requeue func(id string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	nextAt map[string]time.Time
}

// NewManager creates a retry Manager.
func NewManager(cfg Config, tasks TaskClient) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultConfig().InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultConfig().Multiplier
	}
	if len(cfg.RetryableStatuses) == 0 {
		cfg.RetryableStatuses = DefaultConfig().RetryableStatuses
	}
	return &Manager{
		cfg:    cfg,
		tasks:  tasks,
		timers: make(map[string]*time.Timer),
		nextAt: make(map[string]time.Time),
	}
}

// OnRequeue sets the callback invoked when a scheduled retry fires.
func (m *Manager) OnRequeue(fn func(id string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeue = fn
}

// DelayFor returns the backoff before retry attempt n (1-based):
// min(MaxDelay, InitialDelay * Multiplier^(n-1)).
func (m *Manager) DelayFor(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialDelay
	b.MaxInterval = m.cfg.MaxDelay
	b.Multiplier = m.cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	// Reset seeds the current interval from InitialInterval; the
	// constructor already ran it against the library defaults.
	b.Reset()

	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// HandleFailure evaluates a task failure. If retries remain it appends a
// retry-history entry, flips the task back to pending, and schedules a
// delayed re-queue, returning true. Once the attempt count reaches
// MaxAttempts it refuses and the task stays failed.
func (m *Manager) HandleFailure(id, errMsg string) (bool, error) {
	t, err := m.tasks.Get(id)
	if err != nil {
		return false, err
	}

	if !m.retryable(t.Status) {
		return false, nil
	}

	attempt := len(t.RetryHistory) + 1
	if attempt > m.cfg.MaxAttempts {
		logging.Debugf("[retry] %s exhausted after %d attempts", id, attempt-1)
		return false, nil
	}

	delay := m.DelayFor(attempt)
	rec := models.RetryRecord{
		Attempt:  attempt,
		FailedAt: time.Now(),
		Error:    errMsg,
		Delay:    delay,
	}
	if err := m.tasks.AppendRetryRecord(id, rec); err != nil {
		return false, err
	}
	if err := m.tasks.UpdateStatus(id, models.TaskStatusPending); err != nil {
		return false, err
	}

	m.schedule(id, delay)
	logging.Debugf("[retry] %s attempt %d scheduled in %s", id, attempt, delay)
	return true, nil
}

// ManualRetry bypasses backoff entirely: it cancels any pending automatic
// retry, records the manual attempt, and flips the task to pending
// immediately.
func (m *Manager) ManualRetry(id, actor string) error {
	if actor == "" {
		return fmt.Errorf("manual retry requires an actor id")
	}

	t, err := m.tasks.Get(id)
	if err != nil {
		return err
	}
	if t.Status != models.TaskStatusFailed {
		return fmt.Errorf("task %s is %s, not failed", id, t.Status)
	}

	m.cancelTimer(id)

	now := time.Now()
	rec := models.RetryRecord{
		Attempt:   len(t.RetryHistory) + 1,
		FailedAt:  now,
		Error:     resultError(t),
		RetriedAt: &now,
		RetriedBy: actor,
	}
	if err := m.tasks.AppendRetryRecord(id, rec); err != nil {
		return err
	}
	if err := m.tasks.UpdateStatus(id, models.TaskStatusPending); err != nil {
		return err
	}

	m.mu.Lock()
	requeue := m.requeue
	m.mu.Unlock()
	if requeue != nil {
		requeue(id)
	}
	return nil
}

// CancelRetry clears any pending delayed re-queue and forces the task back
// to failed.
func (m *Manager) CancelRetry(id string) error {
	m.cancelTimer(id)

	t, err := m.tasks.Get(id)
	if err != nil {
		return err
	}
	if t.Status == models.TaskStatusFailed {
		return nil
	}
	return m.tasks.UpdateStatus(id, models.TaskStatusFailed)
}

// GetRetryInfo reports attempts used, attempts remaining, and the next
// scheduled retry time if one is pending.
func (m *Manager) GetRetryInfo(id string) (Info, error) {
	t, err := m.tasks.Get(id)
	if err != nil {
		return Info{}, err
	}

	info := Info{
		Attempts:  len(t.RetryHistory),
		Remaining: m.cfg.MaxAttempts - len(t.RetryHistory),
	}
	if info.Remaining < 0 {
		info.Remaining = 0
	}

	m.mu.Lock()
	if at, ok := m.nextAt[id]; ok {
		next := at
		info.NextRetryAt = &next
	}
	m.mu.Unlock()

	return info, nil
}

// Stop cancels all pending retry timers.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
		delete(m.nextAt, id)
	}
}

// schedule arms the delayed re-queue for a task. A new retry replaces any
// prior pending retry for the same id; timers never stack.
func (m *Manager) schedule(id string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if prior, ok := m.timers[id]; ok {
		prior.Stop()
	}
	m.nextAt[id] = time.Now().Add(delay)
	m.timers[id] = time.AfterFunc(delay, func() {
		m.fire(id)
	})
}

func (m *Manager) fire(id string) {
	m.mu.Lock()
	delete(m.timers, id)
	delete(m.nextAt, id)
	requeue := m.requeue
	m.mu.Unlock()

	if err := m.tasks.MarkRetried(id, "system"); err != nil {
		logging.Debugf("[retry] mark retried %s: %v", id, err)
		return
	}
	if requeue != nil {
		requeue(id)
	}
}

func (m *Manager) cancelTimer(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
		delete(m.nextAt, id)
	}
}

func (m *Manager) retryable(status models.TaskStatus) bool {
	for _, s := range m.cfg.RetryableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func resultError(t *models.Task) string {
	if t.Result != nil {
		return t.Result.Error
	}
	return ""
}
