package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataforge/bqm2-engine/config"
	storepkg "github.com/dataforge/bqm2-engine/internal/store"
	storecache "github.com/dataforge/bqm2-engine/internal/store/cache"
)

func newTestServer(t *testing.T, run RunFunc) *Server {
	t.Helper()

	docs, err := storepkg.NewBoltRepository(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { docs.Close() })

	mr := miniredis.RunT(t)
	cache := storecache.NewRedisRepository(mr.Addr(), "", 0)

	return NewServer(
		config.ServerConfig{Host: "127.0.0.1", Port: 0},
		config.CORSConfig{AllowedOrigins: []string{"*"}},
		nil, // no JWT guard, exercising the open-auth path
		docs,
		cache,
		run,
	)
}

func TestConnectionCRUDRoundTrip(t *testing.T) {
	s := newTestServer(t, func(ctx context.Context, folder string) ([]string, []string, error) {
		return []string{"ds:a"}, nil, nil
	})

	body, _ := json.Marshal(map[string]string{"name": "warehouse-a", "project": "p"})
	req := httptest.NewRequest(http.MethodPost, "/dataforge/connections", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	id := created["id"].(string)
	require.NotEmpty(t, id)

	getReq := httptest.NewRequest(http.MethodGet, "/dataforge/connections/"+id, nil)
	getRec := httptest.NewRecorder()
	s.Echo.ServeHTTP(getRec, getReq)
	assert.Equal(t, http.StatusOK, getRec.Code)
}

func TestExecuteRunsQueryAndRecordsJobExecution(t *testing.T) {
	s := newTestServer(t, func(ctx context.Context, folder string) ([]string, []string, error) {
		assert.Equal(t, "/descriptors", folder)
		return []string{"ds:a", "ds:b"}, nil, nil
	})

	qBody, _ := json.Marshal(map[string]string{"name": "nightly", "folderPath": "/descriptors"})
	qReq := httptest.NewRequest(http.MethodPost, "/dataforge/queries", bytes.NewReader(qBody))
	qReq.Header.Set("Content-Type", "application/json")
	qRec := httptest.NewRecorder()
	s.Echo.ServeHTTP(qRec, qReq)
	require.Equal(t, http.StatusCreated, qRec.Code)

	var q map[string]interface{}
	require.NoError(t, json.Unmarshal(qRec.Body.Bytes(), &q))

	execBody, _ := json.Marshal(executeRequest{QueryID: q["id"].(string)})
	execReq := httptest.NewRequest(http.MethodPost, "/dataforge/execute", bytes.NewReader(execBody))
	execReq.Header.Set("Content-Type", "application/json")
	execRec := httptest.NewRecorder()
	s.Echo.ServeHTTP(execRec, execReq)
	require.Equal(t, http.StatusOK, execRec.Code)

	var job map[string]interface{}
	require.NoError(t, json.Unmarshal(execRec.Body.Bytes(), &job))
	assert.Equal(t, "completed", job["status"])
}
