package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gammazero/toposort"

	"maestro/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in a workflow's steps.
var ErrCycleDetected = errors.New("circular dependency detected")

// stepGraph models a workflow's steps as a directed graph with adjacency
// lists, for validation and topological ordering.
type stepGraph struct {
	// nodes maps step ID to the step definition.
	nodes map[string]*models.Step
	// edges maps step ID to the IDs of steps it depends on.
	edges map[string][]string
	order []string
}

// buildStepGraph constructs the graph from the workflow's steps.
// Returns an error for duplicate step IDs or dependencies on unknown steps.
func buildStepGraph(steps []models.Step) (*stepGraph, error) {
	g := &stepGraph{
		nodes: make(map[string]*models.Step, len(steps)),
		edges: make(map[string][]string, len(steps)),
	}

	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			return nil, fmt.Errorf("step %d has no id", i)
		}
		if _, exists := g.nodes[step.ID]; exists {
			return nil, fmt.Errorf("duplicate step id %q", step.ID)
		}
		g.nodes[step.ID] = step
		g.order = append(g.order, step.ID)
	}

	for _, step := range steps {
		for _, depID := range step.Dependencies {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("step %q depends on unknown step %q", step.ID, depID)
			}
			g.edges[step.ID] = append(g.edges[step.ID], depID)
		}
	}

	return g, nil
}

// hasCycle detects circular dependencies with an iterative depth-first
// search. A step re-encountered while still on the traversal stack is a
// back edge. Iterative to stay safe on large graphs.
func (g *stepGraph) hasCycle() (string, bool) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the traversal stack
		black = 2 // fully processed
	)
	colors := make(map[string]int, len(g.nodes))

	type frame struct {
		id   string
		next int
	}

	for _, start := range g.order {
		if colors[start] != white {
			continue
		}

		stack := []frame{{id: start}}
		colors[start] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.edges[top.id]

			if top.next >= len(deps) {
				colors[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			dep := deps[top.next]
			top.next++

			switch colors[dep] {
			case gray:
				return dep, true
			case white:
				colors[dep] = gray
				stack = append(stack, frame{id: dep})
			}
		}
	}

	return "", false
}

// topoSort returns step IDs in dependency order: every step appears after
// all of its dependencies. Cycles are rejected here as a second line of
// defense behind registration-time validation.
func (g *stepGraph) topoSort() ([]string, error) {
	var edges []toposort.Edge
	for _, id := range g.order {
		deps := g.edges[id]
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range deps {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCycleDetected, err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	if len(order) != len(g.nodes) {
		var missing []string
		found := make(map[string]bool, len(order))
		for _, id := range order {
			found[id] = true
		}
		for _, id := range g.order {
			if !found[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost steps: %s", strings.Join(missing, ", "))
	}

	return order, nil
}

// dependents returns the IDs of steps that declare the given step as a
// dependency.
func (g *stepGraph) dependents(id string) []string {
	var out []string
	for _, candidate := range g.order {
		for _, dep := range g.edges[candidate] {
			if dep == id {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}
