package jobfilter_test

import (
	"context"
	"testing"
	"time"

	"github.com/daniiell3/jobrunr/backoff"
	"github.com/daniiell3/jobrunr/clock"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/jobfilter"
)

// newTestJob builds a job with priorFailures prior retry cycles already
// recorded ([FAILED, SCHEDULED] pairs), matching what pool.Executor.apply
// and coordinator.Coordinator.electAndApply actually write to History on
// a retried job. elected, the state under test, is appended as the
// caller (apply/electAndApply) would before ever invoking
// OnStateElection, so CountState(job.Failed) reflects it by the time the
// filter runs.
func newTestJob(priorFailures int, elected job.State) *job.Job {
	j := job.New(id.NewJobID(), job.Details{Name: "send-email"}, job.NewEnqueued(time.Unix(0, 0)))
	for i := 0; i < priorFailures; i++ {
		j.AppendState(job.NewFailed(time.Unix(0, 0), "boom", "boom", ""))
		j.AppendState(job.NewScheduled(time.Unix(0, 0), "retry"))
	}
	j.AppendState(elected)
	return j
}

func TestRetryFilter_SchedulesRetryUnderMax(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	f := jobfilter.NewRetryFilter(3, backoff.NewConstant(2*time.Second), fc)

	elected := job.NewFailed(fc.Now(), "boom", "boom", "")
	j := newTestJob(0, elected)

	got := f.OnStateElection(context.Background(), j, elected)
	if got.Name != job.Scheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.Name)
	}
	want := fc.Now().Add(2 * time.Second)
	if !got.ScheduledAt.Equal(want) {
		t.Fatalf("expected ScheduledAt %v, got %v", want, got.ScheduledAt)
	}
}

func TestRetryFilter_LeavesFailedAtMax(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	f := jobfilter.NewRetryFilter(2, backoff.NewConstant(time.Second), fc)

	elected := job.NewFailed(fc.Now(), "boom", "boom", "")
	j := newTestJob(2, elected)

	got := f.OnStateElection(context.Background(), j, elected)
	if got.Name != job.Failed {
		t.Fatalf("expected FAILED once max retries exhausted, got %s", got.Name)
	}
}

func TestRetryFilter_NeverReschedulesJobClassNotFound(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	f := jobfilter.NewRetryFilter(10, backoff.NewConstant(time.Second), fc)

	elected := job.NewFailed(fc.Now(), job.ExceptionClassNotFound, "no handler registered", "")
	j := newTestJob(0, elected)

	got := f.OnStateElection(context.Background(), j, elected)
	if got.Name != job.Failed {
		t.Fatalf("expected terminal FAILED for JobClassNotFoundException, got %s", got.Name)
	}
}

func TestRetryFilter_IgnoresNonFailedElections(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	f := jobfilter.NewRetryFilter(3, backoff.NewConstant(time.Second), fc)

	elected := job.NewSucceeded(fc.Now(), time.Millisecond)
	j := newTestJob(0, elected)

	got := f.OnStateElection(context.Background(), j, elected)
	if got.Name != job.Succeeded {
		t.Fatalf("expected election left untouched, got %s", got.Name)
	}
}

func TestRegistry_ElectRunsFiltersInOrder(t *testing.T) {
	r := jobfilter.NewRegistry()
	fc := clock.NewFake(time.Unix(1000, 0))
	r.Register(jobfilter.NewRetryFilter(3, backoff.NewConstant(time.Second), fc))

	elected := job.NewFailed(fc.Now(), "boom", "boom", "")
	j := newTestJob(0, elected)

	got := r.Elect(context.Background(), j, elected)
	if got.Name != job.Scheduled {
		t.Fatalf("expected SCHEDULED, got %s", got.Name)
	}
}

func TestRegistry_AppliedNotifiesFilters(t *testing.T) {
	r := jobfilter.NewRegistry()
	var calls int
	r.Register(&countingAppliedFilter{count: &calls})

	j := newTestJob(0, job.NewProcessing(time.Unix(1, 0), time.Unix(1, 0), "srv_1"))
	r.Applied(context.Background(), j, job.NewEnqueued(time.Unix(0, 0)), job.NewProcessing(time.Unix(1, 0), time.Unix(1, 0), "srv_1"))

	if calls != 1 {
		t.Fatalf("expected 1 applied call, got %d", calls)
	}
}

type countingAppliedFilter struct {
	count *int
}

func (f *countingAppliedFilter) OnStateApplied(_ context.Context, _ *job.Job, _, _ job.State) {
	*f.count++
}
