package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/bqm2-engine/engineerr"
	"github.com/dataforge/bqm2-engine/graph"
	"github.com/dataforge/bqm2-engine/resource"
	"github.com/dataforge/bqm2-engine/warehouse"
)

func preconditionFailedErr(key string) error {
	return engineerr.New(engineerr.PreconditionFailed, key, "simulated precondition failure")
}

func fastOpts() Options {
	return Options{MaxConcurrent: 10, MaxRetry: 2, CheckFrequency: time.Millisecond}
}

// TestRunCreatesMissingResource exercises the simplest path: a and b where
// a doesn't exist yet, gets created, and the run completes.
func TestRunCreatesMissingResource(t *testing.T) {
	client := warehouse.NewFakeClient()
	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)

	g, err := graph.Build([]resource.Resource{a})
	require.NoError(t, err)

	results, err := Run(context.Background(), g, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, results["ds:a"].Status)

	exists, err := a.Exists(context.Background())
	require.NoError(t, err)
	assert.True(t, exists)
}

// TestRunSkipsUpToDateResource exercises spec.md §8 S6's first half: a
// resource that exists with a matching fingerprint is marked done with no
// create submitted.
func TestRunSkipsUpToDateResource(t *testing.T) {
	client := warehouse.NewFakeClient()
	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)
	client.Seed("p", "ds", "a", "bqm2-fingerprint:"+a.Fingerprint(), time.Now())

	g, err := graph.Build([]resource.Resource{a})
	require.NoError(t, err)

	results, err := Run(context.Background(), g, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, results["ds:a"].Status)
}

// TestRunDependencySchedulingWithDrift is spec.md §8 S6 verbatim: graph
// b->a; a exists and is up-to-date; b exists but has drifted (its stored
// fingerprint no longer matches). One execute pass must mark a done with no
// submission, resubmit b, and finish with an empty pending set (no error).
func TestRunDependencySchedulingWithDrift(t *testing.T) {
	client := warehouse.NewFakeClient()
	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)
	client.Seed("p", "ds", "a", "bqm2-fingerprint:"+a.Fingerprint(), time.Now())

	b := resource.NewView(resource.Address{Project: "p", Dataset: "ds", Name: "b"}, "SELECT * FROM ds.a", client)
	client.Seed("p", "ds", "b", "bqm2-fingerprint:stale-value", time.Now())

	g, err := graph.Build([]resource.Resource{a, b})
	require.NoError(t, err)
	require.True(t, b.DependsOn(a))

	results, err := Run(context.Background(), g, fastOpts())
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, results["ds:a"].Status)
	assert.Equal(t, StatusCompleted, results["ds:b"].Status)
}

// TestRunResubmitsWhenDependencyIsNewer exercises the third branch of
// spec.md §4.G step 3 (e): a dependent whose own UpdateTime predates its
// just-finished dependency's UpdateTime must be resubmitted even though its
// own fingerprint hasn't drifted.
func TestRunResubmitsWhenDependencyIsNewer(t *testing.T) {
	client := warehouse.NewFakeClient()
	past := time.Now().Add(-1 * time.Hour)

	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)
	// a does not exist yet, so it will be created and get a fresh (recent)
	// UpdateTime once its job completes.

	b := resource.NewView(resource.Address{Project: "p", Dataset: "ds", Name: "b"}, "SELECT * FROM ds.a", client)
	client.Seed("p", "ds", "b", "bqm2-fingerprint:"+b.Fingerprint(), past)

	g, err := graph.Build([]resource.Resource{a, b})
	require.NoError(t, err)

	results, err := Run(context.Background(), g, fastOpts())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, results["ds:a"].Status)
	assert.Equal(t, StatusCompleted, results["ds:b"].Status, "b must be rebuilt because a finished more recently than b's last build")
}

// TestRunRetriesPreconditionFailedThenSucceeds exercises the retry budget:
// the first two submissions fail with a retryable PreconditionFailed, the
// third succeeds, all within MaxRetry=2.
func TestRunRetriesPreconditionFailedThenSucceeds(t *testing.T) {
	client := warehouse.NewFakeClient()
	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)

	attempts := 0

	// Simulate two failing attempts via a tiny wrapper resource whose
	// Create fails until attempts reaches 2.
	flaky := &flakyCreateResource{Resource: a, failUntil: 2, attempts: &attempts}
	g, err := graph.Build([]resource.Resource{flaky})
	require.NoError(t, err)

	results, err := Run(context.Background(), g, fastOpts())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, results["ds:a"].Status)
	assert.Equal(t, 2, results["ds:a"].Retries)
}

// TestRunExhaustsRetryBudget confirms a resource whose Create always fails
// with a retryable error aborts the whole run once MaxRetry is exceeded.
func TestRunExhaustsRetryBudget(t *testing.T) {
	client := warehouse.NewFakeClient()
	a := resource.NewTable(resource.Address{Project: "p", Dataset: "ds", Name: "a"}, "SELECT 1", client)
	attempts := 0
	flaky := &flakyCreateResource{Resource: a, failUntil: 999, attempts: &attempts}

	g, err := graph.Build([]resource.Resource{flaky})
	require.NoError(t, err)

	opts := fastOpts()
	opts.MaxRetry = 1
	_, err = Run(context.Background(), g, opts)
	require.Error(t, err)
}

// TestRunRespectsMaxConcurrent runs a wide independent set with
// MaxConcurrent below its size and confirms every resource still completes;
// it does not count how many are in flight at once.
func TestRunRespectsMaxConcurrent(t *testing.T) {
	client := warehouse.NewFakeClient()
	client.JobDuration = 2

	var resources []resource.Resource
	for i := 0; i < 6; i++ {
		resources = append(resources, resource.NewTable(
			resource.Address{Project: "p", Dataset: "ds", Name: string(rune('a' + i))},
			"SELECT 1", client,
		))
	}

	g, err := graph.Build(resources)
	require.NoError(t, err)

	opts := fastOpts()
	opts.MaxConcurrent = 2
	results, err := Run(context.Background(), g, opts)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, StatusCompleted, r.Status)
	}
}

// flakyCreateResource wraps a real resource.Resource, failing Create with a
// retryable PreconditionFailed error for the first failUntil attempts.
type flakyCreateResource struct {
	resource.Resource
	failUntil int
	attempts  *int
}

func (f *flakyCreateResource) Create(ctx context.Context) error {
	*f.attempts++
	if *f.attempts <= f.failUntil {
		return preconditionFailedErr(f.Key())
	}
	return f.Resource.Create(ctx)
}
