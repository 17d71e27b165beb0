// Package store/redis implements store.Store on top of go-redis/v9.
// Jobs, recurring definitions, DLQ entries, and server announcements are
// each stored as a single JSON blob under its own key, with Sorted Sets
// and Sets maintained alongside as secondary indices. Save and SaveBatch
// use go-redis's WATCH/MULTI optimistic-locking pattern to enforce the
// same Version contract the Postgres backend enforces with a conditional
// UPDATE.
package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/recurring"
	"github.com/daniiell3/jobrunr/roster"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ recurring.Store = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ roster.Store    = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
// The client must be a *goredis.Client (not a cluster or ring client)
// because Save/SaveBatch rely on Client.Watch for optimistic locking.
type Store struct {
	client *goredis.Client
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the client's
// lifecycle.
func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() *goredis.Client { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
