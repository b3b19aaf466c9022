// Package cache implements the companion API's job-status cache and
// distributed "is this key currently running elsewhere" lock named in
// SPEC_FULL.md §11, backed by go-redis/v9 (or alicebob/miniredis/v2 in
// tests). It is grounded on the teacher's cache-aside usage pattern for
// short-lived coordination state, narrowed to the two operations the
// companion API actually needs: a run-scoped lock and a status cache.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrAlreadyLocked is returned by Lock when another caller already holds
// the lock for key.
var ErrAlreadyLocked = errors.New("cache: key is already locked")

// Repository is the cache boundary the companion API's execute handler
// uses to avoid double-submitting a run for a query that's already
// in flight, and to let status polling avoid hitting the document store on
// every request.
type Repository interface {
	Lock(ctx context.Context, key string, ttl time.Duration) error
	Unlock(ctx context.Context, key string) error
	SetStatus(ctx context.Context, key, status string, ttl time.Duration) error
	GetStatus(ctx context.Context, key string) (string, bool, error)
}

// RedisRepository implements Repository against any redis-protocol server.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository builds a RedisRepository against addr (host:port).
func NewRedisRepository(addr, password string, db int) *RedisRepository {
	return &RedisRepository{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

var _ Repository = (*RedisRepository)(nil)

func lockKey(key string) string { return "bqm2:lock:" + key }
func statusKey(key string) string { return "bqm2:status:" + key }

// Lock acquires a TTL'd lock for key using SETNX semantics, returning
// ErrAlreadyLocked if another caller holds it.
func (r *RedisRepository) Lock(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, lockKey(key), "1", ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyLocked
	}
	return nil
}

// Unlock releases key's lock ahead of its TTL, used once a run finishes.
func (r *RedisRepository) Unlock(ctx context.Context, key string) error {
	return r.client.Del(ctx, lockKey(key)).Err()
}

// SetStatus caches status (an executor.ExecutionStatus string) for key,
// expiring after ttl.
func (r *RedisRepository) SetStatus(ctx context.Context, key, status string, ttl time.Duration) error {
	return r.client.Set(ctx, statusKey(key), status, ttl).Err()
}

// GetStatus returns the cached status for key, if present and unexpired.
func (r *RedisRepository) GetStatus(ctx context.Context, key string) (string, bool, error) {
	status, err := r.client.Get(ctx, statusKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}
