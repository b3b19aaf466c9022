// Package warehouse declares the client SDK boundary the engine core
// depends on (spec.md §1: "assumed: submit query, get job, cancel job, list
// datasets/tables, schema introspection"). Per spec.md's scope, the engine
// core only needs this interface; concrete engines are external
// collaborators. httpclient.go provides one concrete, HTTP-RPC-backed
// implementation grounded on the teacher's executor/http_executor.go
// method-mapping pattern, usable against any warehouse exposing a
// BigQuery-style REST jobs API; snowflake.go provides the declared-but-
// unimplemented extension point named in spec.md §9.
package warehouse

import (
	"context"
	"errors"
	"time"
)

// JobState is the coarse state of a submitted warehouse job.
type JobState string

const (
	JobRunning   JobState = "running"
	JobDone      JobState = "done"
	JobError     JobState = "error"
	JobCancelled JobState = "cancelled"
)

// QuerySubmission is everything needed to (re)materialize one resource.
type QuerySubmission struct {
	Project     string
	Dataset     string
	Table       string
	SQL         string
	Description string // carries the embedded fingerprint, stored verbatim
	Location    string
	DryRun      bool
}

// LoadSubmission submits a data-load job (`.localdata`/`.gcsdata` resources)
// from either inline rows or an object-storage source URL.
type LoadSubmission struct {
	Project     string
	Dataset     string
	Table       string
	SourceURL   string // set for .gcsdata; empty for .localdata
	InlineData  []byte // set for .localdata
	Schema      []SchemaField
	Description string
}

// SchemaField is one column declaration, parsed either from a `.schema`
// sidecar JSON array or `name:type,...` CSV line, per SPEC_FULL.md §12.4.
type SchemaField struct {
	Name string
	Type string
}

// ObjectMetadata is the warehouse-side state of one addressed artifact.
type ObjectMetadata struct {
	Exists           bool
	Description      string
	LastModifiedTime *time.Time
	RunningJobID     string
}

// ErrNotFound is returned by HTTPClient calls that receive a 404. Describe
// does not return it: a missing artifact is reported as Exists=false with a
// nil error, the normal "not yet created" case.
var ErrNotFound = errors.New("warehouse: object not found")

// Client is the warehouse SDK boundary the resource model and executor are
// built against. A concrete Client is supplied by the host application
// (CLI or companion API); the engine core never imports a specific
// warehouse's SDK directly.
type Client interface {
	// SubmitQuery submits a CREATE/REPLACE-style materialization job and
	// returns a job ID immediately — "submit then return" per spec.md §5.
	SubmitQuery(ctx context.Context, q QuerySubmission) (jobID string, err error)

	// SubmitLoad submits a data-load job and returns a job ID immediately.
	SubmitLoad(ctx context.Context, l LoadSubmission) (jobID string, err error)

	// SubmitExternal registers an external table definition; external
	// tables have no asynchronous job, so this call is synchronous.
	SubmitExternal(ctx context.Context, project, dataset, table, definition, description string) error

	// JobStatus polls a previously submitted job's state.
	JobStatus(ctx context.Context, jobID string) (JobState, error)

	// CancelJob requests cancellation of an in-flight job. The executor
	// core never calls this itself (spec.md §5: "exposed by the
	// surrounding HTTP layer, not by the executor core"); it exists on the
	// boundary for the companion API to use.
	CancelJob(ctx context.Context, jobID string) error

	// Describe fetches current existence/description/lastModifiedTime for
	// one addressed artifact.
	Describe(ctx context.Context, project, dataset, table string) (ObjectMetadata, error)

	// ListDatasets lists a project's datasets (Dataset.Exists uses it);
	// ListTables lists a dataset's tables.
	ListDatasets(ctx context.Context, project string) ([]string, error)
	ListTables(ctx context.Context, project, dataset string) ([]string, error)

	// Schema introspects a table's column schema.
	Schema(ctx context.Context, project, dataset, table string) ([]SchemaField, error)

	// EstimateCost returns a pass-through dry-run cost estimate; no
	// optimization is performed, per spec.md §1 Non-goals.
	EstimateCost(ctx context.Context, q QuerySubmission) (bytesProcessed int64, err error)

	// CreateDataset ensures a dataset resource's backing container exists.
	CreateDataset(ctx context.Context, project, dataset, location string) error
}
