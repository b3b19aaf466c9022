// Package store implements the companion HTTP API's document persistence
// layer named in SPEC_FULL.md §11/§12.7: CRUD for warehouse Connections,
// registered Queries (descriptor folders bqm2 should build), and the
// JobExecution audit trail left by each /dataforge/execute call. It is
// grounded on the teacher's db/state_store.go CRUD-over-one-table idiom,
// generalized from a fixed Postgres table to a document-repository
// interface with two concrete backends: CouchRepository (production, via
// go-kivik/kivik's couchdb driver) and BoltRepository (offline/dev mode,
// via go.etcd.io/bbolt), matching the teacher's own pattern of swappable
// persistence behind one narrow interface.
package store

import (
	"context"
	"fmt"
	"time"
)

// Connection is one registered warehouse target the companion API can run
// descriptor folders against.
type Connection struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Project   string    `json:"project"`
	Location  string    `json:"location"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Query is one registered descriptor folder, the unit /dataforge/execute
// builds.
type Query struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	ConnectionID string    `json:"connectionId"`
	FolderPath   string    `json:"folderPath"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// JobExecution is one run of a Query: the resource keys it touched and how
// it finished.
type JobExecution struct {
	ID           string     `json:"id"`
	QueryID      string     `json:"queryId"`
	Status       string     `json:"status"`
	ResourceKeys []string   `json:"resourceKeys,omitempty"`
	FailedKeys   []string   `json:"failedKeys,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// ErrNotFound is returned by a Get when no document exists under the given
// ID, mirroring kivik's own NotFound status so callers don't need to
// special-case the two backends.
var ErrNotFound = fmt.Errorf("store: document not found")

// DocumentRepository is the persistence boundary the companion API's
// /dataforge routes are built against. Either backend below satisfies it.
type DocumentRepository interface {
	PutConnection(ctx context.Context, c *Connection) error
	GetConnection(ctx context.Context, id string) (*Connection, error)
	ListConnections(ctx context.Context) ([]*Connection, error)
	DeleteConnection(ctx context.Context, id string) error

	PutQuery(ctx context.Context, q *Query) error
	GetQuery(ctx context.Context, id string) (*Query, error)
	ListQueries(ctx context.Context) ([]*Query, error)
	DeleteQuery(ctx context.Context, id string) error

	PutJobExecution(ctx context.Context, j *JobExecution) error
	GetJobExecution(ctx context.Context, id string) (*JobExecution, error)
	ListJobExecutions(ctx context.Context, queryID string) ([]*JobExecution, error)
}
