package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"maestro/pkg/models"
)

// SQLiteStore persists task snapshots in an SQLite database.
// Each task is one row keyed by ID holding the full JSON snapshot, plus
// indexed columns for status queries. Writes go through transactions, so
// SQLite provides the atomicity the file store gets from rename.
type SQLiteStore struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// OpenSQLite opens an SQLite store at the given path.
// It creates the parent directories if they don't exist and applies any
// pending schema migrations. WAL mode is enabled for concurrent reads.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		conn: conn,
		path: path,
	}

	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

// migrate applies all pending schema migrations.
func (s *SQLiteStore) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Tasks},
		{2, migrationV2Meta},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Tasks = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'pending',
	priority TEXT NOT NULL DEFAULT 'medium',
	created_at DATETIME NOT NULL,
	snapshot TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
`

const migrationV2Meta = `
CREATE TABLE IF NOT EXISTS store_meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SaveTask persists one task snapshot, replacing any prior record.
func (s *SQLiteStore) SaveTask(t *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.saveTaskLocked(t)
}

func (s *SQLiteStore) saveTaskLocked(t *models.Task) error {
	blob, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", t.ID, err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO tasks (id, status, priority, created_at, snapshot)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			priority = excluded.priority,
			snapshot = excluded.snapshot
	`, t.ID, string(t.Status), string(t.Priority), formatTime(t.CreatedAt), string(blob))
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}

	return s.bumpSavesLocked()
}

// DeleteTask removes the record for the given task ID.
func (s *SQLiteStore) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	return nil
}

// LoadTasks returns every persisted task snapshot, oldest first.
func (s *SQLiteStore) LoadTasks() ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query("SELECT snapshot FROM tasks ORDER BY created_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var t models.Task
		if err := json.Unmarshal([]byte(blob), &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

// SaveAll replaces the store contents with the given task set in one
// transaction.
func (s *SQLiteStore) SaveAll(tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if _, err := tx.Exec("DELETE FROM tasks"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear tasks: %w", err)
	}

	for _, t := range tasks {
		blob, err := json.Marshal(t)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode task %s: %w", t.ID, err)
		}
		_, err = tx.Exec(`
			INSERT INTO tasks (id, status, priority, created_at, snapshot)
			VALUES (?, ?, ?, ?, ?)
		`, t.ID, string(t.Status), string(t.Priority), formatTime(t.CreatedAt), string(blob))
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return s.bumpSavesLocked()
}

// Flush checkpoints the WAL so all committed writes reach the main database
// file.
func (s *SQLiteStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Info returns the store envelope.
func (s *SQLiteStore) Info() (Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{Version: FormatVersion, SavedAt: time.Now()}

	row := s.conn.QueryRow("SELECT COUNT(*) FROM tasks")
	if err := row.Scan(&info.Tasks); err != nil {
		return info, fmt.Errorf("count tasks: %w", err)
	}
	row = s.conn.QueryRow("SELECT COUNT(*) FROM tasks WHERE status = ?", string(models.TaskStatusCompleted))
	if err := row.Scan(&info.Completed); err != nil {
		return info, fmt.Errorf("count completed: %w", err)
	}
	row = s.conn.QueryRow("SELECT COUNT(*) FROM tasks WHERE status = ?", string(models.TaskStatusFailed))
	if err := row.Scan(&info.Failed); err != nil {
		return info, fmt.Errorf("count failed: %w", err)
	}

	var saves sql.NullString
	row = s.conn.QueryRow("SELECT value FROM store_meta WHERE key = 'saves'")
	if err := row.Scan(&saves); err != nil && err != sql.ErrNoRows {
		return info, fmt.Errorf("read saves counter: %w", err)
	}
	if saves.Valid {
		fmt.Sscanf(saves.String, "%d", &info.Saves)
	}

	return info, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) bumpSavesLocked() error {
	_, err := s.conn.Exec(`
		INSERT INTO store_meta (key, value) VALUES ('saves', '1')
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT)
	`)
	if err != nil {
		return fmt.Errorf("bump saves counter: %w", err)
	}
	return nil
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
