// Package graph builds and validates the dependency graph of spec.md §4.F:
// given every loaded Resource, it computes pairwise DependsOn edges, detects
// cycles, and exposes a topological execution order plus the pending/ready
// set operations the executor polls against. It is grounded on the
// teacher's graph/dag.go Kahn's-algorithm topological sort and DFS cycle
// check, generalized from "actions keyed by Identifier with an explicit
// Requires list" to "resources keyed by Key() with edges inferred from
// rendered body text via Resource.DependsOn."
package graph

import (
	"fmt"
	"sort"

	"github.com/dataforge/bqm2-engine/engineerr"
	"github.com/dataforge/bqm2-engine/resource"
)

// Graph is the built dependency graph: every resource keyed by Key(), plus
// the adjacency needed for cycle detection and topological traversal.
type Graph struct {
	nodes map[string]resource.Resource
	// dependsOn[k] is the set of keys that k depends on (edges point from
	// dependent to dependency, matching spec.md §4.F's "A depends on B").
	dependsOn map[string]map[string]bool
	// dependents[k] is the reverse adjacency: keys that depend on k.
	dependents map[string]map[string]bool
	order      []string // insertion order, for deterministic iteration
}

// Build constructs the dependency graph for resources by testing every
// ordered pair with DependsOn, per spec.md §4.F. Dataset resources never
// depend on anything (enforced by their own DependsOn returning false) and
// a resource never depends on itself (the pair is skipped outright).
func Build(resources []resource.Resource) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]resource.Resource, len(resources)),
		dependsOn:  make(map[string]map[string]bool, len(resources)),
		dependents: make(map[string]map[string]bool, len(resources)),
	}

	for _, r := range resources {
		k := r.Key()
		if _, dup := g.nodes[k]; dup {
			return nil, engineerr.New(engineerr.DuplicateKeyDivergent, k, "graph: two distinct resource objects share key %q", k)
		}
		g.nodes[k] = r
		g.dependsOn[k] = map[string]bool{}
		g.dependents[k] = map[string]bool{}
		g.order = append(g.order, k)
	}

	for _, a := range resources {
		for _, b := range resources {
			if a == b {
				continue
			}
			if a.Key() == b.Key() {
				continue
			}
			if a.DependsOn(b) {
				g.dependsOn[a.Key()][b.Key()] = true
				g.dependents[b.Key()][a.Key()] = true
			}
		}
	}

	if cycle := g.findCycle(); len(cycle) > 0 {
		sort.Strings(cycle)
		return nil, engineerr.New(engineerr.GraphCycle, cycle[0], "circular dependency among resources: %v", cycle)
	}

	return g, nil
}

// Resources returns every node in insertion order.
func (g *Graph) Resources() []resource.Resource {
	out := make([]resource.Resource, 0, len(g.order))
	for _, k := range g.order {
		out = append(out, g.nodes[k])
	}
	return out
}

// Get returns the resource at key, if present.
func (g *Graph) Get(key string) (resource.Resource, bool) {
	r, ok := g.nodes[key]
	return r, ok
}

// DependsOn returns the keys that key directly depends on.
func (g *Graph) DependsOn(key string) []string {
	return sortedKeys(g.dependsOn[key])
}

// Dependents returns the keys that directly depend on key.
func (g *Graph) Dependents(key string) []string {
	return sortedKeys(g.dependents[key])
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// findCycle implements the "strip zero-in-degree nodes repeatedly; survivors
// are the cycle set" check named in spec.md §4.F: it repeatedly removes any
// node whose unremoved dependency set is empty, until no further node can be
// removed. Whatever remains participates in at least one cycle.
func (g *Graph) findCycle() []string {
	remaining := make(map[string]bool, len(g.nodes))
	for k := range g.nodes {
		remaining[k] = true
	}

	removedSomething := true
	for removedSomething {
		removedSomething = false
		for k := range remaining {
			ready := true
			for dep := range g.dependsOn[k] {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				delete(remaining, k)
				removedSomething = true
			}
		}
	}

	out := make([]string, 0, len(remaining))
	for k := range remaining {
		out = append(out, k)
	}
	return out
}

// TopologicalOrder returns every node in a valid dependency-first order
// using Kahn's algorithm (dependencies before dependents), the same
// algorithm the teacher's GetExecutionOrder used, adapted from an explicit
// Requires list to the graph's inferred dependsOn adjacency. Build already
// rejects a cyclic resource set, so this never fails on a *Graph it
// produced.
func (g *Graph) TopologicalOrder() ([]resource.Resource, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for k := range g.nodes {
		inDegree[k] = len(g.dependsOn[k])
	}

	var queue []string
	for _, k := range g.order {
		if inDegree[k] == 0 {
			queue = append(queue, k)
		}
	}

	var result []string
	for len(queue) > 0 {
		sort.Strings(queue)
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for dependent := range g.dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, fmt.Errorf("graph: topological sort could not order every resource, a cycle slipped past Build")
	}

	out := make([]resource.Resource, 0, len(result))
	for _, k := range result {
		out = append(out, g.nodes[k])
	}
	return out, nil
}

// Leaves returns every resource with no dependents — the "top" of the
// graph in the teacher's sense of leaf-stripping display. The show/dump
// terminal modes do not call it; they peel the graph themselves.
func (g *Graph) Leaves() []resource.Resource {
	var out []resource.Resource
	for _, k := range g.order {
		if len(g.dependents[k]) == 0 {
			out = append(out, g.nodes[k])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Ready returns every key in pending whose full dependsOn set has already
// completed (is absent from pending), in "running-first then lexicographic"
// order — the exact ready-key iteration order spec.md §9 asks the executor
// to preserve: resources already mid-flight are re-checked before any new
// resource is considered ready to start.
func (g *Graph) Ready(pending map[string]bool, running map[string]bool) []string {
	var runningReady, freshReady []string
	for k := range pending {
		ready := true
		for dep := range g.dependsOn[k] {
			if pending[dep] {
				ready = false
				break
			}
		}
		if !ready {
			continue
		}
		if running[k] {
			runningReady = append(runningReady, k)
		} else {
			freshReady = append(freshReady, k)
		}
	}
	sort.Strings(runningReady)
	sort.Strings(freshReady)
	return append(runningReady, freshReady...)
}

// Dotml renders the graph in Graphviz `digraph` form, per the `dotml`
// terminal mode of spec.md §4.H.
func (g *Graph) Dotml() string {
	out := "digraph g {\n"
	for _, k := range g.order {
		deps := g.DependsOn(k)
		if len(deps) == 0 {
			out += fmt.Sprintf("  %q;\n", k)
			continue
		}
		for _, dep := range deps {
			out += fmt.Sprintf("  %q -> %q;\n", k, dep)
		}
	}
	out += "}\n"
	return out
}
