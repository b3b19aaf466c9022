package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/bqm2-engine/warehouse"
)

// TestStrictSubstring pins spec.md §8.6's literal examples exactly,
// including the left-boundary-only match and its known false-positive
// "ds.tbl2" quirk (see StrictSubstring's doc comment).
func TestStrictSubstring(t *testing.T) {
	assert.False(t, StrictSubstring("A", "A"))
	assert.True(t, StrictSubstring("A", "AA"))
	assert.True(t, StrictSubstring("A", " Asxx "))
	assert.False(t, StrictSubstring("foo", "foobar"))
	assert.True(t, StrictSubstring("foo", "foo bar"))
	assert.True(t, StrictSubstring("ds.tbl", "select * from ds.tbl"))
	assert.True(t, StrictSubstring("ds.tbl", "select * from ds.tbl2"))
	assert.False(t, StrictSubstring("", "anything"))
}

func TestQualifiedIdentifiers(t *testing.T) {
	addr := Address{Project: "proj", Dataset: "ds", Name: "tbl"}
	idents := QualifiedIdentifiers(addr)
	assert.Contains(t, idents, "ds.tbl")
	assert.Contains(t, idents, "`proj:ds.tbl`")
	assert.Contains(t, idents, "`proj:ds:tbl`")
}

func TestViewDependsOnOtherTable(t *testing.T) {
	client := warehouse.NewFakeClient()
	other := NewTable(Address{Project: "p", Dataset: "ds", Name: "upstream"}, "SELECT 1", client)
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "downstream"}, "SELECT * FROM ds.upstream", client)

	assert.True(t, v.DependsOn(other))
	assert.False(t, other.DependsOn(v))
}

func TestDependsOnRejectsPrefixMatchWithNoBoundary(t *testing.T) {
	client := warehouse.NewFakeClient()
	other := NewTable(Address{Project: "p", Dataset: "ds", Name: "tbl"}, "SELECT 1", client)
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "downstream"}, "SELECT * FROM xds.tbl2", client)
	assert.False(t, v.DependsOn(other))
}

// TestDependsOnLeftBoundedPrefixCollisionIsAKnownQuirk mirrors the
// original's own "real example of dependency discovery mismatch" test: a
// reference that is bounded on the left (by a separator) but continues into
// a longer identifier on the right still counts as a match. This is a
// preserved false-positive dependency edge, not a bug.
func TestDependsOnLeftBoundedPrefixCollisionIsAKnownQuirk(t *testing.T) {
	client := warehouse.NewFakeClient()
	other := NewTable(Address{Project: "p", Dataset: "ds", Name: "tbl"}, "SELECT 1", client)
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "downstream"}, "SELECT * FROM ds.tbl2", client)
	assert.True(t, v.DependsOn(other))
}

func TestDependsOnSelfIsFalse(t *testing.T) {
	client := warehouse.NewFakeClient()
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "self"}, "SELECT * FROM ds.self", client)
	assert.False(t, v.DependsOn(v))
}

func TestDatasetNeverDependsOnAnything(t *testing.T) {
	client := warehouse.NewFakeClient()
	d := NewDataset(Address{Project: "p", Dataset: "ds"}, client)
	other := NewTable(Address{Project: "p", Dataset: "ds", Name: "tbl"}, "SELECT 1", client)
	assert.False(t, d.DependsOn(other))
}

func TestResourceDependsOnItsOwnDataset(t *testing.T) {
	client := warehouse.NewFakeClient()
	ds := NewDataset(Address{Project: "p", Dataset: "ds"}, client)
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "downstream"}, "SELECT * FROM `ds.other`", client)
	assert.True(t, v.DependsOn(ds))
}

func TestShouldUpdateNonExistent(t *testing.T) {
	client := warehouse.NewFakeClient()
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "t"}, "SELECT 1", client)

	should, err := v.ShouldUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, should)
}

func TestShouldUpdateDriftDetection(t *testing.T) {
	client := warehouse.NewFakeClient()
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "t"}, "SELECT 1", client)
	client.Seed("p", "ds", "t", "bqm2-fingerprint:"+v.Fingerprint(), time.Now())

	should, err := v.ShouldUpdate(context.Background())
	require.NoError(t, err)
	assert.False(t, should, "matching fingerprint means no update needed")

	v2 := NewView(Address{Project: "p", Dataset: "ds", Name: "t"}, "SELECT 2", client)
	should, err = v2.ShouldUpdate(context.Background())
	require.NoError(t, err)
	assert.True(t, should, "differing fingerprint means the definition drifted")
}

func TestUpdateTimeRefreshesAfterCreate(t *testing.T) {
	client := warehouse.NewFakeClient()
	v := NewView(Address{Project: "p", Dataset: "ds", Name: "t"}, "SELECT 1", client)

	exists, err := v.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, v.Create(context.Background()))
	running, err := v.IsRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running, "FakeClient's default JobDuration completes on first poll")

	updated, err := v.UpdateTime(context.Background())
	require.NoError(t, err)
	require.NotNil(t, updated, "UpdateTime must reflect the just-finished job, not a stale pre-create cache")
}
