package warehouse

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FakeClient is a deterministic in-memory Client used by the engine's own
// test suite to exercise the resource model and executor without a real
// warehouse. It is not used by production code paths.
type FakeClient struct {
	mu      sync.Mutex
	objects map[string]*fakeObject
	jobs    map[string]*fakeJob

	// SubmitErr, when set, is returned by SubmitQuery for the given key
	// instead of succeeding — used to simulate PreconditionFailed/
	// transient/fatal conditions in executor tests.
	SubmitErr map[string]error

	// JobDuration controls how many JobStatus polls a submitted job stays
	// "running" before flipping to "done"; defaults to 0 (done immediately
	// on first poll after submit).
	JobDuration int
}

type fakeObject struct {
	exists           bool
	description      string
	lastModifiedTime *time.Time
	runningJobID     string
}

type fakeJob struct {
	pollsRemaining int
	key            string
}

// NewFakeClient returns an empty FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		objects:   map[string]*fakeObject{},
		jobs:      map[string]*fakeJob{},
		SubmitErr: map[string]error{},
	}
}

var _ Client = (*FakeClient)(nil)

func key(project, dataset, table string) string {
	return dataset + ":" + table
}

// Seed pre-populates an object's existence/description/modified-time, for
// setting up "exists & up-to-date" or "exists & drifted" test fixtures.
func (f *FakeClient) Seed(project, dataset, table, description string, modified time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key(project, dataset, table)] = &fakeObject{
		exists:           true,
		description:      description,
		lastModifiedTime: &modified,
	}
}

func (f *FakeClient) SubmitQuery(ctx context.Context, q QuerySubmission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(q.Project, q.Dataset, q.Table)
	if err, ok := f.SubmitErr[k]; ok && err != nil {
		return "", err
	}

	jobID := uuid.NewString()
	f.jobs[jobID] = &fakeJob{pollsRemaining: f.JobDuration, key: k}

	obj, ok := f.objects[k]
	if !ok {
		obj = &fakeObject{}
		f.objects[k] = obj
	}
	obj.runningJobID = jobID
	obj.description = q.Description
	return jobID, nil
}

func (f *FakeClient) SubmitLoad(ctx context.Context, l LoadSubmission) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(l.Project, l.Dataset, l.Table)
	jobID := uuid.NewString()
	f.jobs[jobID] = &fakeJob{pollsRemaining: f.JobDuration, key: k}
	obj, ok := f.objects[k]
	if !ok {
		obj = &fakeObject{}
		f.objects[k] = obj
	}
	obj.runningJobID = jobID
	obj.description = l.Description
	return jobID, nil
}

func (f *FakeClient) SubmitExternal(ctx context.Context, project, dataset, table, definition, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	f.objects[key(project, dataset, table)] = &fakeObject{
		exists:           true,
		description:      description,
		lastModifiedTime: &now,
	}
	return nil
}

func (f *FakeClient) JobStatus(ctx context.Context, jobID string) (JobState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return JobDone, nil
	}
	if job.pollsRemaining > 0 {
		job.pollsRemaining--
		return JobRunning, nil
	}

	obj := f.objects[job.key]
	if obj != nil {
		obj.exists = true
		obj.runningJobID = ""
		now := time.Now()
		obj.lastModifiedTime = &now
	}
	delete(f.jobs, jobID)
	return JobDone, nil
}

func (f *FakeClient) CancelJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, jobID)
	return nil
}

func (f *FakeClient) Describe(ctx context.Context, project, dataset, table string) (ObjectMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key(project, dataset, table)]
	if !ok {
		return ObjectMetadata{Exists: false}, nil
	}
	return ObjectMetadata{
		Exists:           obj.exists,
		Description:      obj.description,
		LastModifiedTime: obj.lastModifiedTime,
		RunningJobID:     obj.runningJobID,
	}, nil
}

func (f *FakeClient) ListDatasets(ctx context.Context, project string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for k := range f.objects {
		for i := 0; i < len(k); i++ {
			if k[i] == ':' {
				ds := k[:i]
				if !seen[ds] {
					seen[ds] = true
					out = append(out, ds)
				}
				break
			}
		}
	}
	return out, nil
}

func (f *FakeClient) ListTables(ctx context.Context, project, dataset string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := dataset + ":"
	var out []string
	for k := range f.objects {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k[len(prefix):])
		}
	}
	return out, nil
}

func (f *FakeClient) Schema(ctx context.Context, project, dataset, table string) ([]SchemaField, error) {
	return nil, nil
}

func (f *FakeClient) EstimateCost(ctx context.Context, q QuerySubmission) (int64, error) {
	return int64(len(q.SQL)), nil
}

func (f *FakeClient) CreateDataset(ctx context.Context, project, dataset, location string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[key(project, dataset, dataset)]; !ok {
		now := time.Now()
		f.objects[key(project, dataset, dataset)] = &fakeObject{exists: true, lastModifiedTime: &now}
	}
	return nil
}
