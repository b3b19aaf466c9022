// Package modes implements the terminal operations of spec.md §4.H: the
// CLI always ends by doing exactly one of show/dotml/dump/execute (plus the
// supplemented showJobs/printGlobalArgs diagnostics of SPEC_FULL.md §12)
// against an already-built graph.Graph. It is grounded on the teacher's
// main.go pattern of a small set of mutually exclusive top-level verbs each
// delegating to one focused function.
package modes

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dataforge/bqm2-engine/common"
	"github.com/dataforge/bqm2-engine/executor"
	"github.com/dataforge/bqm2-engine/graph"
)

// Show prints every resource in the graph in dependencies-first order,
// peeling leaves off one layer at a time, matching the teacher's console
// verbs that render a structure top-down rather than as a raw edge list.
func Show(w io.Writer, g *graph.Graph) {
	remaining := map[string]bool{}
	for _, r := range g.Resources() {
		remaining[r.Key()] = true
	}

	for len(remaining) > 0 {
		leaves := leavesOf(g, remaining)
		if len(leaves) == 0 {
			// A cycle would have been rejected by graph.Build already; this
			// is only reachable if remaining somehow still has entries with
			// unremoved dependencies, which should not happen.
			break
		}
		for _, key := range leaves {
			fmt.Fprintf(w, "would execute %s\n", key)
			delete(remaining, key)
		}
	}
}

// leavesOf returns, among the keys still in remaining, those with no
// dependency also still in remaining — i.e. this round's peelable leaves.
func leavesOf(g *graph.Graph, remaining map[string]bool) []string {
	var leaves []string
	for key := range remaining {
		isLeaf := true
		for _, dep := range g.DependsOn(key) {
			if remaining[dep] {
				isLeaf = false
				break
			}
		}
		if isLeaf {
			leaves = append(leaves, key)
		}
	}
	sort.Strings(leaves)
	return leaves
}

// Dotml prints the graph as a Graphviz `digraph`, per spec.md §4.H.
func Dotml(w io.Writer, g *graph.Graph) {
	fmt.Fprint(w, g.Dotml())
}

// Dump performs Show's leaf-stripping pass (printed to w for progress
// visibility) and additionally writes one `<folder>/<key>.debug` file per
// resource containing its Dump() text, per spec.md §4.H.
func Dump(w io.Writer, g *graph.Graph, folder string) error {
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return err
	}
	Show(w, g)
	for _, r := range g.Resources() {
		name := common.URLToFilePath(r.Key()) + ".debug"
		path := filepath.Join(folder, name)
		if err := os.WriteFile(path, []byte(r.Dump()), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "wrote %s\n", path)
	}
	return nil
}

// Execute runs the executor scheduler over the graph and reports the
// summary to w, returning an error if any resource failed.
func Execute(ctx context.Context, w io.Writer, g *graph.Graph, opts executor.Options) error {
	results, err := executor.Run(ctx, g, opts)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := results[k]
		fmt.Fprintf(w, "%-10s %s\n", r.Status, k)
	}

	ok, failed := executor.Summary(results)
	if !ok {
		return fmt.Errorf("execution failed for %d resource(s): %v", len(failed), failed)
	}
	return nil
}

// ShowJobs prints every currently-running job's resource key, the
// supplemented diagnostic mode of SPEC_FULL.md §12.1: a quick "what's still
// in flight" view distinct from Show's full static graph listing.
func ShowJobs(w io.Writer, results map[string]*executor.Result) {
	keys := make([]string, 0, len(results))
	for k, r := range results {
		if r.Status == executor.StatusRunning {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
}

// PrintGlobalArgs prints the resolved global binding map in `key=value`
// form, sorted by key, per SPEC_FULL.md §12.2 — a diagnostic mode for
// inspecting exactly what --var/--varsFile precedence resolved to before
// any descriptor is loaded.
func PrintGlobalArgs(w io.Writer, globals map[string]string) {
	keys := make([]string, 0, len(globals))
	for k := range globals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s=%s\n", k, globals[k])
	}
}
