// Package metrics provides a Recorder that writes one row per resource
// outcome into a Postgres history table, the companion API's
// `ActionMetrics`-style materialization history named in SPEC_FULL.md §11.
// Neither the executor nor the API calls it. It is grounded on the
// teacher's db/state_store.go persistent-state idiom, adapted from pgx's
// raw-SQL style to gorm.io/gorm + gorm.io/driver/postgres so the schema is
// declared once as a Go struct and migrated automatically, matching how
// the rest of the pack's gorm-based repos manage their tables.
package metrics

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ResourceRun is one row of materialization history: a single resource's
// outcome within a single executor.Run.
type ResourceRun struct {
	ID           uint `gorm:"primaryKey"`
	ResourceKey  string
	Kind         string
	Status       string
	Retries      int
	ErrorMessage string
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// Recorder persists ResourceRun rows for the companion API's history and
// dashboarding endpoints.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder connects to dsn (a Postgres connection string) and migrates
// the ResourceRun table.
func NewRecorder(dsn string) (*Recorder, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ResourceRun{}); err != nil {
		return nil, err
	}
	return &Recorder{db: db}, nil
}

// Record inserts one ResourceRun row.
func (r *Recorder) Record(ctx context.Context, run *ResourceRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// History returns every recorded run for a resource key, most recent
// first.
func (r *Recorder) History(ctx context.Context, resourceKey string, limit int) ([]ResourceRun, error) {
	var runs []ResourceRun
	q := r.db.WithContext(ctx).Where("resource_key = ?", resourceKey).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&runs).Error
	return runs, err
}
