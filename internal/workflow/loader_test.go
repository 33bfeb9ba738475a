package workflow

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"maestro/pkg/models"
)

const releaseYAML = `
id: release
name: Release
version: 2.0.0
description: Cut a release
continue_on_failure: false
steps:
  - id: build
    name: Build
    role: developer
    timeout: 30s
  - id: publish
    name: Publish
    role: developer
    dependencies: [build]
    condition: "channel == 'stable'"
    retry:
      max_retries: 3
      backoff: 5s
      retryable_errors: ["timeout", "rate limit"]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "release.yaml", releaseYAML)

	wf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if wf.ID != "release" || wf.Name != "Release" || wf.Version != "2.0.0" {
		t.Errorf("unexpected workflow header: %+v", wf)
	}
	if len(wf.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(wf.Steps))
	}

	build := wf.Steps[0]
	if build.Timeout != 30*time.Second {
		t.Errorf("build timeout = %v, want 30s", build.Timeout)
	}

	publish := wf.Steps[1]
	if publish.Condition != "channel == 'stable'" {
		t.Errorf("publish condition = %q", publish.Condition)
	}
	if publish.Retry == nil {
		t.Fatal("publish retry policy missing")
	}
	if publish.Retry.MaxRetries != 3 || publish.Retry.Backoff != 5*time.Second {
		t.Errorf("retry policy = %+v", publish.Retry)
	}
	if len(publish.Retry.RetryableErrors) != 2 {
		t.Errorf("retryable errors = %v", publish.Retry.RetryableErrors)
	}
}

func TestLoadFileDefaultsNameAndID(t *testing.T) {
	path := writeFile(t, t.TempDir(), "nightly-build.yaml", "steps:\n  - id: run\n    role: developer\n")

	wf, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if wf.Name != "nightly-build" {
		t.Errorf("Name = %q, want nightly-build", wf.Name)
	}
	if wf.ID != "nightly-build" {
		t.Errorf("ID = %q, want nightly-build", wf.ID)
	}
}

func TestLoadFileRejectsBadDuration(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.yaml", "steps:\n  - id: run\n    role: developer\n    timeout: soon\n")

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for unparseable timeout")
	}
}

func TestLoadDirSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a-good.yaml", "id: good\nsteps:\n  - id: run\n    role: developer\n")
	writeFile(t, dir, "broken.yaml", "steps: {not a list\n")
	writeFile(t, dir, "notes.txt", "not a workflow")

	workflows, err := LoadDir(dir)
	if err == nil {
		t.Error("expected aggregate error naming the broken file")
	} else if !strings.Contains(err.Error(), "broken.yaml") {
		t.Errorf("error does not name the broken file: %v", err)
	}
	if len(workflows) != 1 {
		t.Fatalf("got %d workflows, want 1", len(workflows))
	}
	if workflows[0].ID != "good" {
		t.Errorf("loaded workflow ID = %q, want good", workflows[0].ID)
	}
}

func TestLoadDirRoundTripsThroughEngine(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "release.yaml", releaseYAML)

	workflows, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}

	e := NewEngine(newStubClient(), nil)
	for _, wf := range workflows {
		if _, err := e.ReplaceWorkflow(wf); err != nil {
			t.Fatalf("ReplaceWorkflow(%s) failed: %v", wf.ID, err)
		}
	}
	loaded, err := e.GetWorkflow("release")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if loaded.Steps[1].Type != models.StepTypeRole {
		t.Errorf("step type not defaulted: %q", loaded.Steps[1].Type)
	}
}
