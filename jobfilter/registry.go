package jobfilter

import (
	"context"

	"github.com/daniiell3/jobrunr/job"
)

// Registry holds registered filters and runs the election/applied
// pipeline over them. It type-caches each registration into the
// interfaces it implements, mirroring ext.Registry's dispatch pattern.
type Registry struct {
	election []StateElectionFilter
	applied  []StateAppliedFilter
}

// NewRegistry creates an empty filter registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a filter, type-asserting it into whichever of
// StateElectionFilter/StateAppliedFilter it implements. A filter may
// implement both.
func (r *Registry) Register(f any) {
	if ef, ok := f.(StateElectionFilter); ok {
		r.election = append(r.election, ef)
	}
	if af, ok := f.(StateAppliedFilter); ok {
		r.applied = append(r.applied, af)
	}
}

// Elect runs elected through every registered election filter in
// order, each seeing the previous filter's output, and returns the
// final state to persist.
func (r *Registry) Elect(ctx context.Context, j *job.Job, elected job.State) job.State {
	for _, f := range r.election {
		elected = f.OnStateElection(ctx, j, elected)
	}
	return elected
}

// Applied notifies every registered applied filter that previous has
// been superseded by applied on j.
func (r *Registry) Applied(ctx context.Context, j *job.Job, previous, applied job.State) {
	for _, f := range r.applied {
		f.OnStateApplied(ctx, j, previous, applied)
	}
}
