package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()

	if cfg.Store.Backend != "file" {
		t.Errorf("Store.Backend = %q, want file", cfg.Store.Backend)
	}
	if cfg.Store.MaxBackups != 5 {
		t.Errorf("Store.MaxBackups = %d, want 5", cfg.Store.MaxBackups)
	}
	if cfg.Store.AutoSaveInterval != 30*time.Second {
		t.Errorf("Store.AutoSaveInterval = %v, want 30s", cfg.Store.AutoSaveInterval)
	}
	if cfg.Scheduler.Interval != 2*time.Second {
		t.Errorf("Scheduler.Interval = %v, want 2s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 3 {
		t.Errorf("Scheduler.MaxConcurrentTasks = %d, want 3", cfg.Scheduler.MaxConcurrentTasks)
	}
	if !cfg.Scheduler.PriorityEnabled {
		t.Error("Scheduler.PriorityEnabled should default to true")
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %d, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.InitialDelay != time.Second {
		t.Errorf("Retry.InitialDelay = %v, want 1s", cfg.Retry.InitialDelay)
	}
	if cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("Retry.MaxDelay = %v, want 30s", cfg.Retry.MaxDelay)
	}
	if cfg.Retry.Multiplier != 2.0 {
		t.Errorf("Retry.Multiplier = %v, want 2.0", cfg.Retry.Multiplier)
	}
	if cfg.Store.Path == "" {
		t.Error("Store.Path should have a default")
	}
}

func TestLoadFromPath(t *testing.T) {
	content := `
project: demo
store:
  backend: sqlite
  path: /tmp/demo.db
  max_backups: 9
scheduler:
  interval: 5s
  max_concurrent_tasks: 7
retry:
  max_attempts: 1
workflows:
  dir: /tmp/workflows
logging:
  debug_file: /tmp/debug.log
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Project != "demo" {
		t.Errorf("Project = %q, want demo", cfg.Project)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Store.Path != "/tmp/demo.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Store.MaxBackups != 9 {
		t.Errorf("Store.MaxBackups = %d, want 9", cfg.Store.MaxBackups)
	}
	if cfg.Scheduler.Interval != 5*time.Second {
		t.Errorf("Scheduler.Interval = %v, want 5s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 7 {
		t.Errorf("Scheduler.MaxConcurrentTasks = %d, want 7", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Errorf("Retry.MaxAttempts = %d, want 1", cfg.Retry.MaxAttempts)
	}
	if cfg.Workflows.Dir != "/tmp/workflows" {
		t.Errorf("Workflows.Dir = %q", cfg.Workflows.Dir)
	}
	if cfg.Logging.DebugFile != "/tmp/debug.log" {
		t.Errorf("Logging.DebugFile = %q", cfg.Logging.DebugFile)
	}
}

func TestLoadFromPathPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: sqlite\n"), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", cfg.Store.Backend)
	}
	if cfg.Scheduler.MaxConcurrentTasks != 3 {
		t.Errorf("Scheduler.MaxConcurrentTasks = %d, want default 3", cfg.Scheduler.MaxConcurrentTasks)
	}
	if cfg.Retry.Multiplier != 2.0 {
		t.Errorf("Retry.Multiplier = %v, want default 2.0", cfg.Retry.Multiplier)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestGetUserConfigPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := GetUserConfigPath(); got != "/custom/config/maestro/config.yaml" {
		t.Errorf("GetUserConfigPath() = %q", got)
	}
}
