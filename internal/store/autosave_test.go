package store

import (
	"sync/atomic"
	"testing"
	"time"

	"maestro/pkg/models"
)

// flushCounter stubs Store to count Flush calls.
type flushCounter struct {
	flushes atomic.Int32
}

func (f *flushCounter) SaveTask(t *models.Task) error      { return nil }
func (f *flushCounter) DeleteTask(id string) error         { return nil }
func (f *flushCounter) LoadTasks() ([]*models.Task, error) { return nil, nil }
func (f *flushCounter) SaveAll(tasks []*models.Task) error { return nil }
func (f *flushCounter) Info() (Info, error)                { return Info{}, nil }
func (f *flushCounter) Close() error                       { return nil }
func (f *flushCounter) Flush() error {
	f.flushes.Add(1)
	return nil
}

func TestAutoSaverFlushesPeriodically(t *testing.T) {
	fc := &flushCounter{}
	saver := NewAutoSaver(fc, 10*time.Millisecond)
	saver.Start()

	deadline := time.After(2 * time.Second)
	for fc.flushes.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected at least 3 flushes, got %d", fc.flushes.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	saver.Stop()
	after := fc.flushes.Load()
	time.Sleep(30 * time.Millisecond)
	if fc.flushes.Load() != after {
		t.Error("flushes continued after Stop")
	}
}

func TestAutoSaverStartIdempotent(t *testing.T) {
	fc := &flushCounter{}
	saver := NewAutoSaver(fc, 10*time.Millisecond)
	saver.Start()
	saver.Start()
	saver.Stop()
}
