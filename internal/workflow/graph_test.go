package workflow

import (
	"errors"
	"testing"

	"maestro/pkg/models"
)

func step(id string, deps ...string) models.Step {
	return models.Step{ID: id, Name: id, Role: "developer", Dependencies: deps}
}

func TestBuildStepGraphRejectsDuplicateID(t *testing.T) {
	_, err := buildStepGraph([]models.Step{step("build"), step("build")})
	if err == nil {
		t.Fatal("expected error for duplicate step id")
	}
}

func TestBuildStepGraphRejectsUnknownDependency(t *testing.T) {
	_, err := buildStepGraph([]models.Step{step("test", "build")})
	if err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestBuildStepGraphRejectsEmptyID(t *testing.T) {
	_, err := buildStepGraph([]models.Step{{Name: "anonymous"}})
	if err == nil {
		t.Fatal("expected error for step without id")
	}
}

func TestHasCycleDetectsBackEdge(t *testing.T) {
	g, err := buildStepGraph([]models.Step{step("a", "b"), step("b", "a")})
	if err != nil {
		t.Fatalf("buildStepGraph failed: %v", err)
	}
	if _, cyclic := g.hasCycle(); !cyclic {
		t.Error("expected cycle between a and b")
	}

	if _, err := g.topoSort(); !errors.Is(err, ErrCycleDetected) {
		t.Errorf("topoSort error = %v, want ErrCycleDetected", err)
	}
}

func TestHasCycleAcceptsDAG(t *testing.T) {
	g, err := buildStepGraph([]models.Step{
		step("design"),
		step("implement", "design"),
		step("test", "implement"),
		step("review", "test"),
		step("document", "test", "review"),
	})
	if err != nil {
		t.Fatalf("buildStepGraph failed: %v", err)
	}
	if id, cyclic := g.hasCycle(); cyclic {
		t.Errorf("unexpected cycle at %q", id)
	}
}

func TestTopoSortRespectsDependencies(t *testing.T) {
	g, err := buildStepGraph([]models.Step{
		step("document", "test", "review"),
		step("review", "test"),
		step("test", "implement"),
		step("implement", "design"),
		step("design"),
	})
	if err != nil {
		t.Fatalf("buildStepGraph failed: %v", err)
	}

	order, err := g.topoSort()
	if err != nil {
		t.Fatalf("topoSort failed: %v", err)
	}
	if len(order) != 5 {
		t.Fatalf("topoSort returned %d steps, want 5", len(order))
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for id, deps := range g.edges {
		for _, dep := range deps {
			if pos[dep] >= pos[id] {
				t.Errorf("step %q sorted before its dependency %q: %v", id, dep, order)
			}
		}
	}
}

func TestDependents(t *testing.T) {
	g, err := buildStepGraph([]models.Step{
		step("design"),
		step("implement", "design"),
		step("test", "design"),
		step("review", "test"),
	})
	if err != nil {
		t.Fatalf("buildStepGraph failed: %v", err)
	}

	got := g.dependents("design")
	if len(got) != 2 {
		t.Fatalf("dependents(design) = %v, want 2 entries", got)
	}
	want := map[string]bool{"implement": true, "test": true}
	for _, id := range got {
		if !want[id] {
			t.Errorf("unexpected dependent %q", id)
		}
	}

	if deps := g.dependents("review"); len(deps) != 0 {
		t.Errorf("dependents(review) = %v, want none", deps)
	}
}
