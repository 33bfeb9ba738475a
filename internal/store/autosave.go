package store

import (
	"sync"
	"time"

	"maestro/internal/logging"
)

// Compile-time verification that both backends satisfy Store.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// AutoSaver periodically flushes a store as a safety net, even absent
// explicit mutations. Flush failures are logged and retried on the next
// cycle; they never crash the process.
type AutoSaver struct {
	store    Store
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewAutoSaver creates an AutoSaver flushing the store every interval.
func NewAutoSaver(s Store, interval time.Duration) *AutoSaver {
	return &AutoSaver{
		store:    s,
		interval: interval,
	}
}

// Start launches the flush timer. Starting twice is a no-op.
func (a *AutoSaver) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.done = make(chan struct{})

	go a.loop(a.stop, a.done)
}

// Stop halts the flush timer and waits for the loop to exit.
func (a *AutoSaver) Stop() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.stop, a.done = nil, nil
	a.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (a *AutoSaver) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := a.store.Flush(); err != nil {
				logging.Debugf("[store] auto-save failed, will retry next cycle: %v", err)
			}
		}
	}
}
