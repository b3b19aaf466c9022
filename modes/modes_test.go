package modes

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/bqm2-engine/executor"
	"github.com/dataforge/bqm2-engine/graph"
	"github.com/dataforge/bqm2-engine/resource"
	"github.com/dataforge/bqm2-engine/warehouse"
)

// TestShowPrintsWouldExecutePerLeaf pins spec.md §8 S1: a graph {a->b,
// b->c, c->∅} prints, leaves-first, "would execute <k>" per resource.
func TestShowPrintsWouldExecutePerLeaf(t *testing.T) {
	client := warehouse.NewFakeClient()
	c := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "c"}, "SELECT 1", client)
	b := resource.NewView(resource.Address{Project: "p", Dataset: "ds", Name: "b"}, "SELECT * FROM ds.c", client)
	a := resource.NewView(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT * FROM ds.b", client)

	g, err := graph.Build([]resource.Resource{a, b, c})
	require.NoError(t, err)

	var buf bytes.Buffer
	Show(&buf, g)

	out := buf.String()
	assert.Contains(t, out, "would execute ds:c")
	assert.Contains(t, out, "would execute ds:b")
	assert.Contains(t, out, "would execute ds:a")

	cPos := indexOf(out, "ds:c")
	bPos := indexOf(out, "ds:b")
	aPos := indexOf(out, "ds:a")
	assert.Less(t, cPos, bPos)
	assert.Less(t, bPos, aPos)
}

func TestDotmlModeFormat(t *testing.T) {
	client := warehouse.NewFakeClient()
	b := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "b"}, "SELECT 1", client)
	a := resource.NewView(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT * FROM ds.b", client)

	g, err := graph.Build([]resource.Resource{a, b})
	require.NoError(t, err)

	var buf bytes.Buffer
	Dotml(&buf, g)

	out := buf.String()
	assert.True(t, out[:len("digraph g {")] == "digraph g {")
	assert.Contains(t, out, `"ds:a" -> "ds:b"`)
}

func TestDumpWritesDebugFiles(t *testing.T) {
	client := warehouse.NewFakeClient()
	a := resource.NewView(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)
	g, err := graph.Build([]resource.Resource{a})
	require.NoError(t, err)

	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, g, dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, filepath.Ext(entries[0].Name()) == ".debug")

	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", string(data))
}

func TestExecuteReportsFailure(t *testing.T) {
	client := warehouse.NewFakeClient()
	client.SubmitErr["ds:a"] = assertErr{}
	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)
	g, err := graph.Build([]resource.Resource{a})
	require.NoError(t, err)

	var buf bytes.Buffer
	opts := executor.Options{MaxConcurrent: 10, MaxRetry: 0, CheckFrequency: time.Millisecond}
	err = Execute(context.Background(), &buf, g, opts)
	assert.Error(t, err)
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
