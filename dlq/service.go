package dlq

import (
	"context"
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds a DLQ Entry from a job that just reached a terminal
// FAILED state (the retry filter chose not to reschedule it) and
// persists it. Pushing is purely observational; it never mutates j.
func (s *Service) Push(ctx context.Context, j *job.Job) error {
	st := j.State()
	if st.Name != job.Failed {
		return nil
	}
	entry := &Entry{
		ID:             id.NewDLQID(),
		JobID:          j.ID,
		ExceptionClass: st.ExceptionClass,
		Message:        st.Message,
		Stacktrace:     st.Stacktrace,
		RetryCount:     j.CountState(job.Failed),
		FailedAt:       st.FailedAt,
		CreatedAt:      time.Now().UTC(),
	}
	entry.Details.Name = j.Details.Name
	entry.Details.Queue = j.Details.Queue
	entry.Details.Payload = j.Details.Payload
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access
// to List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
