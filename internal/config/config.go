// Package config handles configuration loading for maestro.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for maestro.
type Config struct {
	Project   string          `mapstructure:"project"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Workflows WorkflowsConfig `mapstructure:"workflows"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig holds durable task store settings.
type StoreConfig struct {
	// Backend selects the persistence layer: "file" or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path is the snapshot file (file backend) or database file (sqlite).
	Path string `mapstructure:"path"`
	// BackupDir receives timestamped snapshot copies (file backend only).
	BackupDir string `mapstructure:"backup_dir"`
	// MaxBackups bounds the rolling backup set; oldest are pruned.
	MaxBackups int `mapstructure:"max_backups"`
	// AutoSaveInterval is the periodic flush cadence. Zero disables it.
	AutoSaveInterval time.Duration `mapstructure:"auto_save_interval"`
}

// SchedulerConfig holds auto scheduler settings.
type SchedulerConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	MaxConcurrentTasks int           `mapstructure:"max_concurrent_tasks"`
	PriorityEnabled    bool          `mapstructure:"priority_enabled"`
}

// RetryConfig holds retry manager settings.
type RetryConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

// WorkflowsConfig holds workflow definition settings.
type WorkflowsConfig struct {
	// Dir is the directory of YAML workflow definitions. Empty disables
	// file loading; built-in templates are always available.
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds debug logging settings.
type LoggingConfig struct {
	// DebugFile receives debug log lines when set.
	DebugFile string `mapstructure:"debug_file"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
// 1. Environment variables (MAESTRO_*)
// 2. Project config (.maestro.yaml in current directory or parent)
// 3. User config (~/.config/maestro/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("project", "MAESTRO_PROJECT")
	v.BindEnv("store.backend", "MAESTRO_STORE_BACKEND")
	v.BindEnv("store.path", "MAESTRO_STORE_PATH")
	v.BindEnv("scheduler.max_concurrent_tasks", "MAESTRO_MAX_CONCURRENT_TASKS")
	v.BindEnv("logging.debug_file", "MAESTRO_DEBUG_FILE")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Store.Path = os.ExpandEnv(cfg.Store.Path)
	cfg.Store.BackupDir = os.ExpandEnv(cfg.Store.BackupDir)
	cfg.Workflows.Dir = os.ExpandEnv(cfg.Workflows.Dir)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("project", "")

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", filepath.Join(getUserDataDir(), "tasks.json"))
	v.SetDefault("store.backup_dir", filepath.Join(getUserDataDir(), "backups"))
	v.SetDefault("store.max_backups", 5)
	v.SetDefault("store.auto_save_interval", "30s")

	v.SetDefault("scheduler.interval", "2s")
	v.SetDefault("scheduler.max_concurrent_tasks", 3)
	v.SetDefault("scheduler.priority_enabled", true)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("workflows.dir", "")
	v.SetDefault("logging.debug_file", "")
}

// getUserConfigDir returns the XDG config directory for maestro.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "maestro")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "maestro")
	}
	return filepath.Join(home, ".config", "maestro")
}

// getUserDataDir returns the XDG data directory for maestro.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "maestro")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".local", "share", "maestro")
	}
	return filepath.Join(home, ".local", "share", "maestro")
}

// findProjectConfig searches for .maestro.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".maestro.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend:          "file",
			Path:             filepath.Join(getUserDataDir(), "tasks.json"),
			BackupDir:        filepath.Join(getUserDataDir(), "backups"),
			MaxBackups:       5,
			AutoSaveInterval: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Interval:           2 * time.Second,
			MaxConcurrentTasks: 3,
			PriorityEnabled:    true,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}
}
