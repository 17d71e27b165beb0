package dlq

import (
	"context"
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
)

// Replay re-enqueues a DLQ entry as a new ENQUEUED job and marks the
// entry as replayed. The new job gets a fresh ID and a history holding
// only its ENQUEUED state.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	details := job.Details{
		Name:    entry.Details.Name,
		Queue:   entry.Details.Queue,
		Payload: entry.Details.Payload,
	}
	j := job.New(id.NewJobID(), details, job.NewEnqueued(now))

	if err := s.jobStore.Save(ctx, j); err != nil {
		return nil, err
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		return j, err
	}

	return j, nil
}
