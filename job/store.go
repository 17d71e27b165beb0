package job

import (
	"context"
	"errors"
	"time"

	"github.com/daniiell3/jobrunr/id"
)

// PageRequest bounds a page query: at most Limit jobs, skipping Offset.
type PageRequest struct {
	Offset int
	Limit  int
}

// Stats is a snapshot of per-state counts plus the lifetime succeeded
// counter, which survives DELETED retention and physical removal.
type Stats struct {
	Scheduled          int64
	Enqueued           int64
	Processing         int64
	Succeeded          int64
	Failed             int64
	SucceededLifetime  int64
	SubmittedLifetime  int64
	SubmittedRecurring int64
}

// ConcurrentModificationError is returned by Save when one or more jobs
// in the batch carried a stale Version. Conflicting holds the jobs as
// currently stored, so callers can decide how to reconcile.
type ConcurrentModificationError struct {
	Conflicting []*Job
}

func (e *ConcurrentModificationError) Error() string {
	return "jobrunr: concurrent job modification"
}

// ErrNotFound is returned by GetByID when no job with that ID exists.
var ErrNotFound = errors.New("jobrunr: job not found")

// Store is the job-facing slice of the StorageProvider contract: atomic
// optimistic-concurrency saves, paginated state/time queries, signature
// existence checks, and lifetime counters.
type Store interface {
	// Save persists j with optimistic concurrency on Version: if the
	// stored Version no longer matches j's Version-1, Save returns
	// *ConcurrentModificationError and leaves the store unchanged for
	// that job. On success j.Version is incremented by exactly one.
	Save(ctx context.Context, j *Job) error

	// SaveBatch persists jobs atomically: either every job's Version
	// advances by one, or (on any conflict) none are written and a
	// *ConcurrentModificationError names every job that conflicted.
	SaveBatch(ctx context.Context, jobs []*Job) error

	// GetByID retrieves a job by ID, or ErrNotFound.
	GetByID(ctx context.Context, jobID id.JobID) (*Job, error)

	// GetByState returns jobs currently in state, ordered by the state's
	// At() timestamp ascending.
	GetByState(ctx context.Context, state StateName, page PageRequest) ([]*Job, error)

	// GetByStateUpdatedBefore returns jobs in state whose current State.At()
	// is strictly before cutoff, ordered ascending.
	GetByStateUpdatedBefore(ctx context.Context, state StateName, cutoff time.Time, page PageRequest) ([]*Job, error)

	// GetScheduledBefore returns SCHEDULED jobs whose ScheduledAt is
	// before cutoff, ordered ascending by ScheduledAt.
	GetScheduledBefore(ctx context.Context, cutoff time.Time, page PageRequest) ([]*Job, error)

	// DeleteByStateUpdatedBefore physically removes jobs in state whose
	// current State.At() is before cutoff, returning the count removed.
	DeleteByStateUpdatedBefore(ctx context.Context, state StateName, cutoff time.Time) (int, error)

	// ExistsBySignature reports whether any job with the given
	// jobSignature currently occupies any of states.
	ExistsBySignature(ctx context.Context, signature string, states ...StateName) (bool, error)

	// CountByState returns the number of jobs currently in state.
	CountByState(ctx context.Context, state StateName) (int64, error)

	// GetStats returns a snapshot of per-state counts and lifetime counters.
	GetStats(ctx context.Context) (Stats, error)

	// PublishStatCounter increments the persisted lifetime counter for
	// state by delta.
	PublishStatCounter(ctx context.Context, state StateName, delta int64) error
}
