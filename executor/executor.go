// Package executor implements the dependency-ordered, poll-driven
// scheduler of spec.md §4.G: a single-threaded cooperative loop that walks
// a graph.Graph's ready resources, starts as many as the concurrency cap
// allows, and polls in-flight ones to completion, retrying precondition and
// transient failures up to a fixed budget. It is grounded on the teacher's
// executor/executor.go Registry/Result shape, narrowed from "dispatch to
// whichever Executor.CanHandle matches" (bqm2 has exactly one execution
// path: Resource.Create) to the scheduling loop itself, and its Result/
// ExecutionStatus vocabulary is kept for the run summary returned to
// callers.
package executor

import (
	"context"
	"sort"
	"time"

	"github.com/dataforge/bqm2-engine/common"
	"github.com/dataforge/bqm2-engine/engineerr"
	"github.com/dataforge/bqm2-engine/graph"
	"github.com/dataforge/bqm2-engine/resource"
)

// ExecutionStatus is the coarse outcome of one resource's run, kept from the
// teacher's executor.go vocabulary.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped"
)

// Result is one resource's outcome within a Run, parallel to the teacher's
// Result struct but keyed by resource rather than semantic action.
type Result struct {
	Key       string
	Status    ExecutionStatus
	Err       error
	StartTime time.Time
	EndTime   time.Time
	Retries   int
}

// Options configures one Run.
type Options struct {
	MaxConcurrent  int           // default 10, per spec.md §6 --maxConcurrent
	MaxRetry       int           // default 2, per spec.md §6 --maxRetry
	CheckFrequency time.Duration // default 10s, per spec.md §6 --checkFrequency
	Logger         *common.ContextLogger
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 10
	}
	if o.MaxRetry < 0 {
		o.MaxRetry = 2
	}
	if o.CheckFrequency <= 0 {
		o.CheckFrequency = 10 * time.Second
	}
	return o
}

// Run executes every resource in g to completion in dependency order,
// returning one Result per resource keyed by Key(). It implements spec.md
// §4.G/§9's scheduler exactly:
//
//   - pending starts as every resource's key; running is the subset whose
//     Create has been called but has not yet finished.
//   - retries is a lazily-defaulted map: a key with no entry yet has 0
//     retries used.
//   - depUpdateTimes snapshots each resource's UpdateTime the first time it
//     is observed complete, so a dependent's staleness check compares
//     against a stable value rather than one that can change between
//     polls.
//   - graph.Ready returns running-keys before fresh-keys, in lexicographic
//     order within each group, and Run honors that order when deciding
//     which keys to consider this tick.
//   - the per-tick capacity check uses `break`, not `continue`, once
//     len(running) reaches MaxConcurrent: a tick that hits capacity stops
//     considering further ready keys entirely rather than skipping past
//     the full slots to see if a later key could still start, exactly
//     mirroring the original scheduler's behavior rather than "fixing" it
//     into a fuller packing (see spec.md §9 open question).
func Run(ctx context.Context, g *graph.Graph, opts Options) (map[string]*Result, error) {
	opts = opts.withDefaults()
	log := opts.Logger

	results := make(map[string]*Result, len(g.Resources()))
	pending := map[string]bool{}
	running := map[string]bool{}
	retries := map[string]int{}
	// depUpdateTimes[n] is the maximum UpdateTime observed, at the moment
	// each dependency of n finished, across every dependency of n that has
	// finished so far this run — snapshotted once per dependency per
	// spec.md §5's "subsequent out-of-band changes are not observed
	// mid-run" guarantee, never re-read from a live resource afterward.
	depUpdateTimes := map[string]*time.Time{}
	jobStarted := map[string]time.Time{}

	for _, r := range g.Resources() {
		pending[r.Key()] = true
		results[r.Key()] = &Result{Key: r.Key(), Status: StatusPending}
	}

	// finish marks key Done (removes it from pending), and propagates its
	// own UpdateTime into depUpdateTimes for every key that directly
	// depends on it, per spec.md §4.G step 4.
	finish := func(key string, r resource.Resource) error {
		delete(pending, key)
		t, err := r.UpdateTime(ctx)
		if err != nil {
			return err
		}
		for _, dependent := range g.Dependents(key) {
			if depUpdateTimes[dependent] == nil || (t != nil && t.After(*depUpdateTimes[dependent])) {
				depUpdateTimes[dependent] = t
			}
		}
		return nil
	}

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		ready := g.Ready(pending, running)

		for _, key := range ready {
			if !running[key] && len(running) >= opts.MaxConcurrent {
				// Capacity reached: stop considering further ready keys this
				// tick rather than skipping over full slots to look for a
				// smaller-footprint key further down the list.
				break
			}

			r, _ := g.Get(key)

			if running[key] {
				done, err := pollOne(ctx, r)
				if err != nil {
					if handled := handleFailure(key, err, retries, opts, results, log); !handled {
						return results, err
					}
					delete(running, key)
					continue
				}
				if done {
					delete(running, key)
					results[key].Status = StatusCompleted
					results[key].EndTime = time.Now()
					if err := finish(key, r); err != nil {
						if handled := handleFailure(key, err, retries, opts, results, log); !handled {
							return results, err
						}
						continue
					}
				}
				continue
			}

			exists, err := r.Exists(ctx)
			if err != nil {
				if handled := handleFailure(key, err, retries, opts, results, log); !handled {
					return results, err
				}
				continue
			}

			needsCreate := !exists
			if !needsCreate {
				needsCreate, err = r.ShouldUpdate(ctx)
				if err != nil {
					if handled := handleFailure(key, err, retries, opts, results, log); !handled {
						return results, err
					}
					continue
				}
			}
			if !needsCreate {
				if dep := depUpdateTimes[key]; dep != nil {
					own, err := r.UpdateTime(ctx)
					if err != nil {
						if handled := handleFailure(key, err, retries, opts, results, log); !handled {
							return results, err
						}
						continue
					}
					needsCreate = own == nil || own.Before(*dep)
				}
			}

			if !needsCreate {
				results[key].Status = StatusSkipped
				if err := finish(key, r); err != nil {
					if handled := handleFailure(key, err, retries, opts, results, log); !handled {
						return results, err
					}
				}
				continue
			}

			if err := r.Create(ctx); err != nil {
				if handled := handleFailure(key, err, retries, opts, results, log); !handled {
					return results, err
				}
				continue
			}

			running[key] = true
			jobStarted[key] = time.Now()
			results[key].Status = StatusRunning
			results[key].StartTime = jobStarted[key]
			if log != nil {
				log.WithField("key", key).Info("resource create submitted")
			}
		}

		if len(pending) == 0 {
			break
		}

		select {
		case <-ctx.Done():
			return results, ctx.Err()
		case <-time.After(opts.CheckFrequency):
		}
	}

	return results, nil
}

// pollOne checks an in-flight resource's IsRunning state, reporting done
// once the warehouse job is no longer running. Completion bookkeeping
// (UpdateTime snapshot, dependent propagation) is the caller's job via
// finish, so a retryable error here never leaves depUpdateTimes half
// updated.
func pollOne(ctx context.Context, r resource.Resource) (done bool, err error) {
	running, err := r.IsRunning(ctx)
	if err != nil {
		return false, err
	}
	return !running, nil
}

// handleFailure classifies err via engineerr and either consumes a retry
// slot (returning true, so the scheduler keeps this key pending for another
// attempt) or marks the key permanently failed and reports whether the
// whole run must abort (returning false).
func handleFailure(key string, err error, retries map[string]int, opts Options, results map[string]*Result, log *common.ContextLogger) bool {
	kind, known := engineerr.KindOf(err)
	result := results[key]

	if known && kind.Retryable() {
		used := retries[key]
		if used < opts.MaxRetry {
			retries[key] = used + 1
			result.Retries = used + 1
			if log != nil {
				log.WithField("key", key).WithField("attempt", used+1).WithError(err).Warn("retrying resource")
			}
			return true
		}
		result.Status = StatusFailed
		result.Err = engineerr.New(engineerr.RetriesExhausted, key, "exhausted %d retries: %v", opts.MaxRetry, err)
		return false
	}

	result.Status = StatusFailed
	result.Err = err
	return false
}

// Summary reports the run's overall success and the keys that failed, in
// deterministic order, for the CLI's exit-code and terminal-mode reporting.
func Summary(results map[string]*Result) (ok bool, failedKeys []string) {
	ok = true
	for k, r := range results {
		if r.Status == StatusFailed {
			ok = false
			failedKeys = append(failedKeys, k)
		}
	}
	sort.Strings(failedKeys)
	return ok, failedKeys
}
