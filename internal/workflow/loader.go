package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"maestro/pkg/models"
)

// fileWorkflow is the on-disk YAML shape of a workflow definition.
// Durations are written as strings ("30s", "5m") rather than raw
// nanosecond counts.
type fileWorkflow struct {
	ID                string     `yaml:"id"`
	Name              string     `yaml:"name"`
	Version           string     `yaml:"version"`
	Description       string     `yaml:"description"`
	Steps             []fileStep `yaml:"steps"`
	ContinueOnFailure bool       `yaml:"continue_on_failure"`
}

type fileStep struct {
	ID           string     `yaml:"id"`
	Name         string     `yaml:"name"`
	Type         string     `yaml:"type"`
	Role         string     `yaml:"role"`
	TaskType     string     `yaml:"task_type"`
	Dependencies []string   `yaml:"dependencies"`
	Condition    string     `yaml:"condition"`
	Script       string     `yaml:"script"`
	Timeout      string     `yaml:"timeout"`
	Retry        *fileRetry `yaml:"retry"`
}

type fileRetry struct {
	MaxRetries      int      `yaml:"max_retries"`
	Backoff         string   `yaml:"backoff"`
	RetryableErrors []string `yaml:"retryable_errors"`
}

// LoadFile reads a single workflow definition from a YAML file. The
// definition still goes through CreateWorkflow validation when it is
// registered; this only handles decoding.
func LoadFile(path string) (models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Workflow{}, fmt.Errorf("failed to read workflow file: %w", err)
	}

	var fw fileWorkflow
	if err := yaml.Unmarshal(data, &fw); err != nil {
		return models.Workflow{}, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	if fw.Name == "" {
		fw.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if fw.ID == "" {
		fw.ID = fw.Name
	}

	wf := models.Workflow{
		ID:                fw.ID,
		Name:              fw.Name,
		Version:           fw.Version,
		Description:       fw.Description,
		ContinueOnFailure: fw.ContinueOnFailure,
	}
	for i, fs := range fw.Steps {
		step, err := fs.toStep()
		if err != nil {
			return models.Workflow{}, fmt.Errorf("workflow file %s, step %d: %w", path, i, err)
		}
		wf.Steps = append(wf.Steps, step)
	}
	return wf, nil
}

func (fs fileStep) toStep() (models.Step, error) {
	step := models.Step{
		ID:           fs.ID,
		Name:         fs.Name,
		Type:         models.StepType(fs.Type),
		Role:         fs.Role,
		TaskType:     fs.TaskType,
		Dependencies: fs.Dependencies,
		Condition:    fs.Condition,
		Script:       fs.Script,
	}
	if fs.Timeout != "" {
		d, err := time.ParseDuration(fs.Timeout)
		if err != nil {
			return models.Step{}, fmt.Errorf("invalid timeout %q: %w", fs.Timeout, err)
		}
		step.Timeout = d
	}
	if fs.Retry != nil {
		policy := &models.RetryPolicy{
			MaxRetries:      fs.Retry.MaxRetries,
			RetryableErrors: fs.Retry.RetryableErrors,
		}
		if fs.Retry.Backoff != "" {
			d, err := time.ParseDuration(fs.Retry.Backoff)
			if err != nil {
				return models.Step{}, fmt.Errorf("invalid backoff %q: %w", fs.Retry.Backoff, err)
			}
			policy.Backoff = d
		}
		step.Retry = policy
	}
	return step, nil
}

// LoadDir reads every .yaml/.yml file in dir, sorted by name. Files that
// fail to decode are skipped with a returned error naming each one, but a
// bad file never blocks the good ones.
func LoadDir(dir string) ([]models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if isWorkflowFile(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var workflows []models.Workflow
	var loadErrs []string
	for _, name := range names {
		wf, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			loadErrs = append(loadErrs, err.Error())
			continue
		}
		workflows = append(workflows, wf)
	}
	if len(loadErrs) > 0 {
		return workflows, fmt.Errorf("some workflow files failed to load: %s", strings.Join(loadErrs, "; "))
	}
	return workflows, nil
}

func isWorkflowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
