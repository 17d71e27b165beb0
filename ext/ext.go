// Package ext defines the extension system for jobrunr.
// Extensions are notified of job lifecycle events and can react to
// them — logging, metrics, tracing, webhooks, etc.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after the engine creates a job directly in the
// ENQUEUED state. A job created SCHEDULED, and a scheduled or recurring
// job that the coordinator later moves to ENQUEUED, do not fire it.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobProcessing is called when a server picks up an ENQUEUED job and
// moves it to PROCESSING.
type JobProcessing interface {
	OnJobProcessing(ctx context.Context, j *job.Job) error
}

// JobSucceeded is called after a job's handler returns without error
// and its state becomes SUCCEEDED.
type JobSucceeded interface {
	OnJobSucceeded(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called whenever a job's handler fails and the FAILED state
// is persisted, whether or not a retry filter reschedules it. A
// PROCESSING job that the coordinator fails as orphaned does not fire it.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobDeleted is called when a job is deleted by explicit request
// (Engine.Delete). Jobs that the coordinator moves to DELETED by
// retention cleanup do not fire it.
type JobDeleted interface {
	OnJobDeleted(ctx context.Context, j *job.Job, reason string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// RecurringFired is called when a recurring job's schedule comes due
// and a new occurrence is materialized.
type RecurringFired interface {
	OnRecurringFired(ctx context.Context, recurringID string, jobID id.JobID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
