package pool_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daniiell3/jobrunr/backoff"
	"github.com/daniiell3/jobrunr/clock"
	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/ext"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/jobfilter"
	"github.com/daniiell3/jobrunr/pool"
	"github.com/daniiell3/jobrunr/store/memory"
)

func newTestPool(t *testing.T, concurrency int) (*pool.Pool, *job.Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	registry := job.NewRegistry()
	extensions := ext.NewRegistry(slog.Default())
	filters := jobfilter.NewRegistry()
	fc := clock.NewFake(time.Unix(1000, 0))
	filters.Register(jobfilter.NewRetryFilter(3, backoff.NewConstant(time.Second), fc))
	dlqService := dlq.NewService(store, store)

	exec := pool.NewExecutor(registry, extensions, filters, store, dlqService, fc, "srv_test", slog.Default())
	p := pool.NewPool(exec, slog.Default(), pool.WithConcurrency(concurrency))
	return p, registry, store
}

func TestPool_ExecutesSubmittedJob(t *testing.T) {
	p, registry, store := newTestPool(t, 2)

	var ran atomic.Bool
	done := make(chan struct{})
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "work",
		Handler: func(_ context.Context, _ struct{}) error {
			ran.Store(true)
			close(done)
			return nil
		},
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(ctx)

	j := job.New(id.NewJobID(), job.Details{Name: "work", Queue: "default"}, job.NewEnqueued(time.Unix(0, 0)))
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	if ok := p.Submit(ctx, j); !ok {
		t.Fatal("expected Submit to accept job")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run in time")
	}

	if !ran.Load() {
		t.Fatal("handler did not run")
	}
}

func TestPool_AvailableReflectsActiveJobs(t *testing.T) {
	p, registry, store := newTestPool(t, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "slow",
		Handler: func(_ context.Context, _ struct{}) error {
			close(started)
			<-release
			return nil
		},
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		close(release)
		p.Stop(ctx)
	}()

	if got := p.Available(); got != 1 {
		t.Fatalf("expected 1 available slot, got %d", got)
	}

	j := job.New(id.NewJobID(), job.Details{Name: "slow", Queue: "default"}, job.NewEnqueued(time.Unix(0, 0)))
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if ok := p.Submit(ctx, j); !ok {
		t.Fatal("expected Submit to accept job")
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start in time")
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if p.Available() == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected 0 available slots while job is running")
}

func TestPool_StopRejectsFurtherSubmits(t *testing.T) {
	p, _, _ := newTestPool(t, 1)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	j := job.New(id.NewJobID(), job.Details{Name: "work", Queue: "default"}, job.NewEnqueued(time.Unix(0, 0)))
	if ok := p.Submit(ctx, j); ok {
		t.Fatal("expected Submit to reject work after Stop")
	}
}

func TestPool_CancelJobCancelsContextOfRunningJob(t *testing.T) {
	p, registry, store := newTestPool(t, 1)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "slow",
		Handler: func(ctx context.Context, _ struct{}) error {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return ctx.Err()
		},
	})

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(ctx)

	j := job.New(id.NewJobID(), job.Details{Name: "slow", Queue: "default"}, job.NewEnqueued(time.Unix(0, 0)))
	if err := store.Save(ctx, j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	if ok := p.Submit(ctx, j); !ok {
		t.Fatal("expected Submit to accept job")
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start in time")
	}

	if ok := p.CancelJob(j.ID.String()); !ok {
		t.Fatal("expected CancelJob to find the running job")
	}

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("job context was not cancelled in time")
	}
}

func TestPool_CancelJobReportsFalseForUnknownID(t *testing.T) {
	p, _, _ := newTestPool(t, 1)

	if ok := p.CancelJob("job_does_not_exist"); ok {
		t.Fatal("expected CancelJob to report false for an unknown job ID")
	}
}
