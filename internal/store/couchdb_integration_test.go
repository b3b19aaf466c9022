//go:build integration
// +build integration

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupCouchDBContainer starts a CouchDB container and returns a connection
// URL plus a cleanup function, the same testcontainers-go pattern the
// teacher's db/couchdb_integration_test.go uses.
func setupCouchDBContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "couchdb:3.3",
		ExposedPorts: []string{"5984/tcp"},
		Env: map[string]string{
			"COUCHDB_USER":     "admin",
			"COUCHDB_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForHTTP("/_up").WithPort("5984/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start couchdb container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5984")
	require.NoError(t, err)

	url := fmt.Sprintf("http://admin:testpass@%s:%s/", host, port.Port())

	return url, func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate couchdb container: %v", err)
		}
	}
}

func TestCouchRepository_Integration_ConnectionCRUD(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	repo, err := NewCouchRepository(ctx, url)
	require.NoError(t, err)

	conn := &Connection{ID: "conn-1", Name: "warehouse-a", Project: "p", Location: "US"}
	require.NoError(t, repo.PutConnection(ctx, conn))

	fetched, err := repo.GetConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "warehouse-a", fetched.Name)

	conn.Location = "EU"
	require.NoError(t, repo.PutConnection(ctx, conn))
	updated, err := repo.GetConnection(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "EU", updated.Location)

	require.NoError(t, repo.DeleteConnection(ctx, "conn-1"))
	_, err = repo.GetConnection(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCouchRepository_Integration_JobExecutionList(t *testing.T) {
	url, cleanup := setupCouchDBContainer(t)
	defer cleanup()

	ctx := context.Background()
	repo, err := NewCouchRepository(ctx, url)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		job := &JobExecution{
			ID:        fmt.Sprintf("job-%d", i),
			QueryID:   "query-1",
			Status:    "completed",
			StartedAt: time.Now(),
		}
		require.NoError(t, repo.PutJobExecution(ctx, job))
	}

	jobs, err := repo.ListJobExecutions(ctx, "query-1")
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}
