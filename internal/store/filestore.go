package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"maestro/pkg/models"
)

// snapshot is the on-disk layout of the JSON file store.
type snapshot struct {
	Version  int                     `json:"version"`
	SavedAt  time.Time               `json:"saved_at"`
	Counters Counters                `json:"counters"`
	Tasks    map[string]*models.Task `json:"tasks"`
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	// Path is the snapshot file location.
	Path string
	// BackupDir, when non-empty, receives timestamped copies of each
	// flushed snapshot.
	BackupDir string
	// MaxBackups bounds the rolling backup set; oldest backups are pruned
	// once the count is exceeded. Zero disables pruning.
	MaxBackups int
}

// FileStore persists task snapshots as a single JSON file.
// Every write replaces the whole file via write-temp-then-rename, so a
// reader never observes a partial snapshot.
type FileStore struct {
	cfg   FileStoreConfig
	mu    sync.Mutex
	tasks map[string]*models.Task
	saves int
	dirty bool
}

// OpenFileStore opens (or creates) a JSON file store at cfg.Path and loads
// any existing snapshot into memory.
func OpenFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	fs := &FileStore{
		cfg:   cfg,
		tasks: make(map[string]*models.Task),
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Tasks != nil {
		fs.tasks = snap.Tasks
	}
	fs.saves = snap.Counters.Saves

	return fs, nil
}

// SaveTask persists one task snapshot.
func (fs *FileStore) SaveTask(t *models.Task) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.tasks[t.ID] = t.Clone()
	return fs.flushLocked()
}

// DeleteTask removes the record for the given task ID.
func (fs *FileStore) DeleteTask(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.tasks[id]; !ok {
		return nil
	}
	delete(fs.tasks, id)
	return fs.flushLocked()
}

// LoadTasks returns every persisted task snapshot.
func (fs *FileStore) LoadTasks() ([]*models.Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tasks := make([]*models.Task, 0, len(fs.tasks))
	for _, t := range fs.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// SaveAll replaces the store contents with the given task set.
func (fs *FileStore) SaveAll(tasks []*models.Task) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.tasks = make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		fs.tasks[t.ID] = t.Clone()
	}
	return fs.flushLocked()
}

// Flush rewrites the snapshot file from the in-memory task set.
func (fs *FileStore) Flush() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.flushLocked()
}

// Info returns the store envelope as currently held in memory.
func (fs *FileStore) Info() (Info, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return Info{
		Version:  FormatVersion,
		SavedAt:  time.Now(),
		Counters: fs.countersLocked(),
	}, nil
}

// Close flushes any dirty state. The file handle is not held open.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.dirty {
		return fs.flushLocked()
	}
	return nil
}

// Path returns the snapshot file location.
func (fs *FileStore) Path() string {
	return fs.cfg.Path
}

func (fs *FileStore) countersLocked() Counters {
	all := make([]*models.Task, 0, len(fs.tasks))
	for _, t := range fs.tasks {
		all = append(all, t)
	}
	completed, failed := countByStatus(all)
	return Counters{
		Tasks:     len(fs.tasks),
		Completed: completed,
		Failed:    failed,
		Saves:     fs.saves,
	}
}

// flushLocked writes the snapshot atomically. Caller must hold fs.mu.
func (fs *FileStore) flushLocked() error {
	fs.saves++
	snap := snapshot{
		Version:  FormatVersion,
		SavedAt:  time.Now(),
		Counters: fs.countersLocked(),
		Tasks:    fs.tasks,
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	// Write to a temporary path, then rename over the target so a reader
	// never observes a half-written file.
	tmp := fs.cfg.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, fs.cfg.Path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	fs.dirty = false

	if fs.cfg.BackupDir != "" {
		if err := fs.writeBackupLocked(data); err != nil {
			// Backups are best-effort; the primary snapshot is committed.
			return nil
		}
	}
	return nil
}

// writeBackupLocked mirrors the snapshot into the backup directory and
// prunes the oldest backups beyond MaxBackups.
func (fs *FileStore) writeBackupLocked(data []byte) error {
	if err := os.MkdirAll(fs.cfg.BackupDir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("snapshot-%s.json", time.Now().UTC().Format("20060102-150405.000000000"))
	if err := os.WriteFile(filepath.Join(fs.cfg.BackupDir, name), data, 0644); err != nil {
		return err
	}

	if fs.cfg.MaxBackups <= 0 {
		return nil
	}

	entries, err := filepath.Glob(filepath.Join(fs.cfg.BackupDir, "snapshot-*.json"))
	if err != nil {
		return err
	}
	if len(entries) <= fs.cfg.MaxBackups {
		return nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(entries)
	for _, old := range entries[:len(entries)-fs.cfg.MaxBackups] {
		os.Remove(old)
	}
	return nil
}
