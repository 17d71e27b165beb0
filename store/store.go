package store

import (
	"context"

	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/recurring"
	"github.com/daniiell3/jobrunr/roster"
)

// Store is the aggregate persistence interface.
type Store interface {
	job.Store
	recurring.Store
	dlq.Store
	roster.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
