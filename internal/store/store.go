// Package store provides durable persistence for task snapshots.
// Two backends satisfy the same interface: a JSON snapshot file with atomic
// writes and rolling backups, and an SQLite database. The store never
// mutates a task; it only serializes and deserializes snapshots.
package store

import (
	"io"
	"time"

	"maestro/pkg/models"
)

// FormatVersion is the snapshot format version written into the envelope.
const FormatVersion = 1

// Counters are the aggregate counts persisted with the snapshot envelope.
type Counters struct {
	// Tasks is the number of task records in the store.
	Tasks int `json:"tasks"`
	// Completed is the number of tasks in completed status.
	Completed int `json:"completed"`
	// Failed is the number of tasks in failed status.
	Failed int `json:"failed"`
	// Saves is the total number of flushes performed on this store.
	Saves int `json:"saves"`
}

// Info describes the store-level envelope.
type Info struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`
	Counters
}

// Store is the durable task store contract.
// Implementations must serialize concurrent writes so a reader never
// observes a half-written record.
type Store interface {
	io.Closer

	// SaveTask persists one task snapshot, overwriting any prior record
	// with the same ID.
	SaveTask(t *models.Task) error
	// DeleteTask removes the record for the given task ID.
	// Deleting an unknown ID is not an error.
	DeleteTask(id string) error
	// LoadTasks returns every persisted task snapshot.
	LoadTasks() ([]*models.Task, error)
	// SaveAll replaces the store contents with the given task set.
	SaveAll(tasks []*models.Task) error
	// Flush forces pending state to durable storage. Used by the
	// auto-save safety net.
	Flush() error
	// Info returns the store envelope.
	Info() (Info, error)
}

func countByStatus(tasks []*models.Task) (completed, failed int) {
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			completed++
		case models.TaskStatusFailed:
			failed++
		}
	}
	return completed, failed
}
