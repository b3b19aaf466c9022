package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketConnections   = []byte("connections")
	bucketQueries       = []byte("queries")
	bucketJobExecutions = []byte("job_executions")
)

// BoltRepository implements DocumentRepository against a local bbolt file,
// the companion API's offline/dev-mode backend when no CouchDB endpoint is
// configured — the same "embedded store stands in for the networked one in
// local mode" idea the teacher applies to its fingerprint/event caches,
// adapted here to the full document-repository surface.
type BoltRepository struct {
	db *bbolt.DB
}

// NewBoltRepository opens (creating if needed) a bbolt file at path and
// ensures its three buckets exist.
func NewBoltRepository(path string) (*BoltRepository, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: opening bolt database %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketConnections, bucketQueries, bucketJobExecutions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: initializing buckets: %w", err)
	}

	return &BoltRepository{db: db}, nil
}

// Close releases the underlying file lock.
func (r *BoltRepository) Close() error { return r.db.Close() }

var _ DocumentRepository = (*BoltRepository)(nil)

func boltPut(db *bbolt.DB, bucket []byte, id string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: encoding document %q: %w", id, err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func boltGet(db *bbolt.DB, bucket []byte, id string, out interface{}) error {
	return db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, out)
	})
}

func boltDelete(db *bbolt.DB, bucket []byte, id string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

func boltList(db *bbolt.DB, bucket []byte, newItem func() interface{}, collect func(interface{})) error {
	return db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, data []byte) error {
			item := newItem()
			if err := json.Unmarshal(data, item); err != nil {
				return err
			}
			collect(item)
			return nil
		})
	})
}

func (r *BoltRepository) PutConnection(_ context.Context, c *Connection) error {
	return boltPut(r.db, bucketConnections, c.ID, c)
}

func (r *BoltRepository) GetConnection(_ context.Context, id string) (*Connection, error) {
	var c Connection
	if err := boltGet(r.db, bucketConnections, id, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *BoltRepository) ListConnections(_ context.Context) ([]*Connection, error) {
	var out []*Connection
	err := boltList(r.db, bucketConnections,
		func() interface{} { return &Connection{} },
		func(v interface{}) { out = append(out, v.(*Connection)) })
	return out, err
}

func (r *BoltRepository) DeleteConnection(_ context.Context, id string) error {
	return boltDelete(r.db, bucketConnections, id)
}

func (r *BoltRepository) PutQuery(_ context.Context, q *Query) error {
	return boltPut(r.db, bucketQueries, q.ID, q)
}

func (r *BoltRepository) GetQuery(_ context.Context, id string) (*Query, error) {
	var q Query
	if err := boltGet(r.db, bucketQueries, id, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (r *BoltRepository) ListQueries(_ context.Context) ([]*Query, error) {
	var out []*Query
	err := boltList(r.db, bucketQueries,
		func() interface{} { return &Query{} },
		func(v interface{}) { out = append(out, v.(*Query)) })
	return out, err
}

func (r *BoltRepository) DeleteQuery(_ context.Context, id string) error {
	return boltDelete(r.db, bucketQueries, id)
}

func (r *BoltRepository) PutJobExecution(_ context.Context, j *JobExecution) error {
	return boltPut(r.db, bucketJobExecutions, j.ID, j)
}

func (r *BoltRepository) GetJobExecution(_ context.Context, id string) (*JobExecution, error) {
	var j JobExecution
	if err := boltGet(r.db, bucketJobExecutions, id, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *BoltRepository) ListJobExecutions(_ context.Context, queryID string) ([]*JobExecution, error) {
	var out []*JobExecution
	err := boltList(r.db, bucketJobExecutions,
		func() interface{} { return &JobExecution{} },
		func(v interface{}) {
			j := v.(*JobExecution)
			if queryID == "" || j.QueryID == queryID {
				out = append(out, j)
			}
		})
	return out, err
}
