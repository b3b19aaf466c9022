package graph

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/bqm2-engine/engineerr"
	"github.com/dataforge/bqm2-engine/resource"
)

// stub is a minimal resource.Resource that depends on a fixed set of other
// keys, letting graph tests build arbitrary edge shapes without going
// through the real template/explode/loader pipeline.
type stub struct {
	key     string
	depends map[string]bool
}

func newStub(key string, deps ...string) *stub {
	s := &stub{key: key, depends: map[string]bool{}}
	for _, d := range deps {
		s.depends[d] = true
	}
	return s
}

func (s *stub) Key() string                              { return s.key }
func (s *stub) Kind() resource.Kind                       { return resource.KindTable }
func (s *stub) Address() resource.Address                 { return resource.Address{Dataset: "ds", Name: s.key} }
func (s *stub) Exists(ctx context.Context) (bool, error)   { return true, nil }
func (s *stub) IsRunning(ctx context.Context) (bool, error) { return false, nil }
func (s *stub) ShouldUpdate(ctx context.Context) (bool, error) {
	return false, nil
}
func (s *stub) UpdateTime(ctx context.Context) (*time.Time, error) { return nil, nil }
func (s *stub) Create(ctx context.Context) error                   { return nil }
func (s *stub) DependsOn(other resource.Resource) bool              { return s.depends[other.Key()] }
func (s *stub) Dump() string                                        { return s.key }
func (s *stub) Fingerprint() string                                 { return s.key }

var _ resource.Resource = (*stub)(nil)

// TestBuildAndTopoOrder pins spec.md §8 S1: graph {a->b, b->c, c->∅}
// produces a leaves-first order c, b, a.
func TestBuildAndTopoOrder(t *testing.T) {
	a := newStub("a", "b")
	b := newStub("b", "c")
	c := newStub("c")

	g, err := Build([]resource.Resource{a, b, c})
	require.NoError(t, err)

	order, err := g.TopologicalOrder()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, r := range order {
		pos[r.Key()] = i
	}
	assert.Less(t, pos["c"], pos["b"])
	assert.Less(t, pos["b"], pos["a"])

	leaves := g.Leaves()
	require.Len(t, leaves, 1)
	assert.Equal(t, "a", leaves[0].Key())
}

// TestBuildCycleDetection pins spec.md §8 S2: a->b, b->c, c->a, d->∅
// produces cycle set {a,b,c}, d unaffected.
func TestBuildCycleDetection(t *testing.T) {
	a := newStub("a", "b")
	b := newStub("b", "c")
	c := newStub("c", "a")
	d := newStub("d")

	_, err := Build([]resource.Resource{a, b, c, d})
	require.Error(t, err)

	kind, ok := engineerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, engineerr.GraphCycle, kind)
}

func TestDependentsAndDependsOn(t *testing.T) {
	a := newStub("a", "b")
	b := newStub("b")
	g, err := Build([]resource.Resource{a, b})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, g.DependsOn("a"))
	assert.Equal(t, []string{"a"}, g.Dependents("b"))
}

func TestReadyOrderRunningFirst(t *testing.T) {
	a := newStub("a")
	b := newStub("b")
	c := newStub("c")
	g, err := Build([]resource.Resource{a, b, c})
	require.NoError(t, err)

	pending := map[string]bool{"a": true, "b": true, "c": true}
	running := map[string]bool{"b": true}

	ready := g.Ready(pending, running)
	require.Equal(t, []string{"b", "a", "c"}, ready)
}

// TestDotml pins spec.md §6's exact graph-output format: bounded by
// `digraph g {` / `}`, one `"A" -> "B"` line per edge.
func TestDotml(t *testing.T) {
	a := newStub("a", "b")
	b := newStub("b")
	g, err := Build([]resource.Resource{a, b})
	require.NoError(t, err)

	out := g.Dotml()
	assert.Contains(t, out, "digraph g {")
	assert.Contains(t, out, `"a" -> "b"`)
}
