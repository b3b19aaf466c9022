package warehouse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dataforge/bqm2-engine/engineerr"
)

// HTTPClient is a Client implementation speaking a BigQuery-jobs-style REST
// API: POST a job, GET its status, GET table metadata. It is grounded on
// the teacher's executor/http_executor.go request/response/method-mapping
// idiom, generalized from "one HTTP action" to the warehouse RPC surface
// this package's Client interface declares.
type HTTPClient struct {
	BaseURL    string
	HTTPClient *http.Client
	AuthToken  string // bound from GOOGLE_OAUTH_ACCESS_TOKEN per spec.md §6
}

// NewHTTPClient builds an HTTPClient with a sane request timeout, matching
// NewHTTPExecutor's default in the teacher.
func NewHTTPClient(baseURL, authToken string) *HTTPClient {
	return &HTTPClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		AuthToken:  authToken,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &engineerr.Error{Kind: engineerr.WarehouseTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &engineerr.Error{Kind: engineerr.WarehouseTransient, Message: err.Error()}
	}

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode == http.StatusPreconditionFailed {
		return &engineerr.Error{Kind: engineerr.PreconditionFailed, Message: string(respBody)}
	}
	if resp.StatusCode >= 500 {
		return &engineerr.Error{Kind: engineerr.WarehouseTransient, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode >= 400 {
		return &engineerr.Error{Kind: engineerr.WarehouseFatal, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, respBody)}
	}

	if out != nil && len(respBody) > 0 {
		return json.Unmarshal(respBody, out)
	}
	return nil
}

type jobResponse struct {
	JobID string `json:"jobId"`
}

func (c *HTTPClient) SubmitQuery(ctx context.Context, q QuerySubmission) (string, error) {
	var resp jobResponse
	err := c.do(ctx, http.MethodPost, "/jobs/query", q, &resp)
	return resp.JobID, err
}

func (c *HTTPClient) SubmitLoad(ctx context.Context, l LoadSubmission) (string, error) {
	var resp jobResponse
	err := c.do(ctx, http.MethodPost, "/jobs/load", l, &resp)
	return resp.JobID, err
}

func (c *HTTPClient) SubmitExternal(ctx context.Context, project, dataset, table, definition, description string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/datasets/%s/tables/%s/external", project, dataset, table),
		map[string]string{"definition": definition, "description": description}, nil)
}

type jobStatusResponse struct {
	State JobState `json:"state"`
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobID string) (JobState, error) {
	var resp jobStatusResponse
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &resp)
	return resp.State, err
}

func (c *HTTPClient) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/cancel", nil, nil)
}

type describeResponse struct {
	Exists           bool       `json:"exists"`
	Description      string     `json:"description"`
	LastModifiedTime *time.Time `json:"lastModifiedTime"`
	RunningJobID     string     `json:"runningJobId"`
}

func (c *HTTPClient) Describe(ctx context.Context, project, dataset, table string) (ObjectMetadata, error) {
	var resp describeResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%s/datasets/%s/tables/%s", project, dataset, table), nil, &resp)
	if err == ErrNotFound {
		return ObjectMetadata{Exists: false}, nil
	}
	if err != nil {
		return ObjectMetadata{}, err
	}
	return ObjectMetadata{
		Exists:           resp.Exists,
		Description:      resp.Description,
		LastModifiedTime: resp.LastModifiedTime,
		RunningJobID:     resp.RunningJobID,
	}, nil
}

func (c *HTTPClient) ListDatasets(ctx context.Context, project string) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%s/datasets", project), nil, &resp)
	return resp, err
}

func (c *HTTPClient) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%s/datasets/%s/tables", project, dataset), nil, &resp)
	return resp, err
}

func (c *HTTPClient) Schema(ctx context.Context, project, dataset, table string) ([]SchemaField, error) {
	var resp []SchemaField
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/projects/%s/datasets/%s/tables/%s/schema", project, dataset, table), nil, &resp)
	return resp, err
}

type costResponse struct {
	BytesProcessed int64 `json:"totalBytesProcessed"`
}

func (c *HTTPClient) EstimateCost(ctx context.Context, q QuerySubmission) (int64, error) {
	q.DryRun = true
	var resp costResponse
	err := c.do(ctx, http.MethodPost, "/jobs/query", q, &resp)
	return resp.BytesProcessed, err
}

func (c *HTTPClient) CreateDataset(ctx context.Context, project, dataset, location string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/projects/%s/datasets", project),
		map[string]string{"datasetId": dataset, "location": location}, nil)
}
