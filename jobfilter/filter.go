package jobfilter

import (
	"context"

	"github.com/daniiell3/jobrunr/job"
)

// StateElectionFilter is consulted before a state transition is
// persisted. It receives the state the coordinator elected to apply
// and may return a different state instead — most commonly turning a
// FAILED election into a SCHEDULED retry. Filters run in registration
// order, each seeing the previous filter's output.
type StateElectionFilter interface {
	OnStateElection(ctx context.Context, j *job.Job, elected job.State) job.State
}

// StateAppliedFilter is notified after a state transition has been
// persisted. previous is the state the job occupied immediately
// before, applied is the state now current. Unlike election filters,
// applied filters cannot change the outcome.
type StateAppliedFilter interface {
	OnStateApplied(ctx context.Context, j *job.Job, previous, applied job.State)
}
