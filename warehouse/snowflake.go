package warehouse

import (
	"context"
	"errors"
)

// ErrEngineNotImplemented is returned by every SnowflakeEngine method. The
// original Python source ships this same extension point as an in-source
// stub raising NotImplementedError; spec.md §9 asks for the equivalent
// declared-but-unimplemented boundary rather than silently omitting the
// concern.
var ErrEngineNotImplemented = errors.New("warehouse: snowflake engine is not implemented")

// SnowflakeEngine is the declared extension point for a second warehouse
// backend. It has exactly the method set of the Client interface in
// warehouse.go; there is no separate engine interface and no connection
// test or query validation method. It implements Client so it can be wired in
// anywhere a Client is expected, immediately surfacing
// ErrEngineNotImplemented rather than silently no-op'ing.
type SnowflakeEngine struct{}

var _ Client = (*SnowflakeEngine)(nil)

func (SnowflakeEngine) SubmitQuery(context.Context, QuerySubmission) (string, error) {
	return "", ErrEngineNotImplemented
}

func (SnowflakeEngine) SubmitLoad(context.Context, LoadSubmission) (string, error) {
	return "", ErrEngineNotImplemented
}

func (SnowflakeEngine) SubmitExternal(context.Context, string, string, string, string, string) error {
	return ErrEngineNotImplemented
}

func (SnowflakeEngine) JobStatus(context.Context, string) (JobState, error) {
	return "", ErrEngineNotImplemented
}

func (SnowflakeEngine) CancelJob(context.Context, string) error {
	return ErrEngineNotImplemented
}

func (SnowflakeEngine) Describe(context.Context, string, string, string) (ObjectMetadata, error) {
	return ObjectMetadata{}, ErrEngineNotImplemented
}

func (SnowflakeEngine) ListDatasets(context.Context, string) ([]string, error) {
	return nil, ErrEngineNotImplemented
}

func (SnowflakeEngine) ListTables(context.Context, string, string) ([]string, error) {
	return nil, ErrEngineNotImplemented
}

func (SnowflakeEngine) Schema(context.Context, string, string, string) ([]SchemaField, error) {
	return nil, ErrEngineNotImplemented
}

func (SnowflakeEngine) EstimateCost(context.Context, QuerySubmission) (int64, error) {
	return 0, ErrEngineNotImplemented
}

func (SnowflakeEngine) CreateDataset(context.Context, string, string, string) error {
	return ErrEngineNotImplemented
}
