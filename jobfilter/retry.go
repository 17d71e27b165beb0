package jobfilter

import (
	"context"
	"fmt"

	"github.com/daniiell3/jobrunr/backoff"
	"github.com/daniiell3/jobrunr/clock"
	"github.com/daniiell3/jobrunr/job"
)

// RetryFilter is the default election filter: when a job's history has
// just gained a FAILED entry and it has not yet exhausted MaxRetries
// attempts, it elects a SCHEDULED retry to be appended on top of that
// FAILED entry, delayed per Backoff. Once MaxRetries is exhausted (or
// the failure is a JobClassNotFoundException), FAILED is left as the
// final state and the job becomes eligible for DLQ push.
type RetryFilter struct {
	MaxRetries int
	Backoff    backoff.Strategy
	Clock      clock.Clock
}

// NewRetryFilter creates a RetryFilter with the given max retry count.
// A nil backoff defaults to backoff.DefaultStrategy(); a nil clock
// defaults to clock.System{}.
func NewRetryFilter(maxRetries int, bo backoff.Strategy, c clock.Clock) *RetryFilter {
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	if c == nil {
		c = clock.System{}
	}
	return &RetryFilter{MaxRetries: maxRetries, Backoff: bo, Clock: c}
}

// OnStateElection intercepts FAILED elections and turns them into
// SCHEDULED retries until MaxRetries attempts have been recorded in j's
// history. The caller appends elected to History before running
// election, so CountState(job.Failed) already includes this failure.
//
// JobClassNotFoundException is never retried: it means no handler is
// registered for the job's name, a condition retrying cannot fix.
func (f *RetryFilter) OnStateElection(_ context.Context, j *job.Job, elected job.State) job.State {
	if elected.Name != job.Failed {
		return elected
	}
	if elected.ExceptionClass == job.ExceptionClassNotFound {
		return elected
	}

	attempt := j.CountState(job.Failed)
	if attempt > f.MaxRetries {
		return elected
	}

	delay := f.Backoff.Delay(attempt)
	reason := fmt.Sprintf("retry %d/%d after failure: %s", attempt, f.MaxRetries, elected.Message)
	return job.NewScheduled(f.Clock.Now().Add(delay), reason)
}
