package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBoltRepository(t *testing.T) *BoltRepository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bqm2.db")
	repo, err := NewBoltRepository(path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestBoltRepositoryConnectionCRUD(t *testing.T) {
	repo := newTestBoltRepository(t)
	ctx := context.Background()

	_, err := repo.GetConnection(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	conn := &Connection{ID: "conn-1", Name: "warehouse-a"}
	require.NoError(t, repo.PutConnection(ctx, conn))

	fetched, err := repo.GetConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "warehouse-a", fetched.Name)

	list, err := repo.ListConnections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.DeleteConnection(ctx, "conn-1"))
	_, err = repo.GetConnection(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltRepositoryJobExecutionFilterByQuery(t *testing.T) {
	repo := newTestBoltRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.PutJobExecution(ctx, &JobExecution{ID: "job-1", QueryID: "q1", Status: "completed"}))
	require.NoError(t, repo.PutJobExecution(ctx, &JobExecution{ID: "job-2", QueryID: "q2", Status: "completed"}))

	jobs, err := repo.ListJobExecutions(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)

	all, err := repo.ListJobExecutions(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
