package pool_test

import (
	"context"
	"errors"
	"log/slog"
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

func newExecutor(t *testing.T, maxRetries int, fc *clock.Fake) (*pool.Executor, *job.Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	registry := job.NewRegistry()
	extensions := ext.NewRegistry(slog.Default())
	filters := jobfilter.NewRegistry()
	filters.Register(jobfilter.NewRetryFilter(maxRetries, backoff.NewConstant(time.Second), fc))
	dlqService := dlq.NewService(store, store)

	exec := pool.NewExecutor(registry, extensions, filters, store, dlqService, fc, "srv_test", slog.Default())
	return exec, registry, store
}

func enqueuedJob(t *testing.T, store *memory.Store, name string) *job.Job {
	t.Helper()
	j := job.New(id.NewJobID(), job.Details{Name: name, Queue: "default"}, job.NewEnqueued(time.Unix(0, 0)))
	if err := store.Save(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return j
}

func TestExecutor_SucceedsAndPersists(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	exec, registry, store := newExecutor(t, 3, fc)

	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "noop",
		Handler: func(_ context.Context, _ struct{}) error {
			return nil
		},
	})

	j := enqueuedJob(t, store, "noop")
	if err := exec.Execute(context.Background(), j); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.StateName() != job.Succeeded {
		t.Fatalf("expected SUCCEEDED, got %s", j.StateName())
	}

	stored, err := store.GetByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.StateName() != job.Succeeded {
		t.Fatalf("expected persisted SUCCEEDED, got %s", stored.StateName())
	}
}

func TestExecutor_RetriesUnderMax(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	exec, registry, store := newExecutor(t, 3, fc)

	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "boom",
		Handler: func(_ context.Context, _ struct{}) error {
			return errors.New("boom")
		},
	})

	j := enqueuedJob(t, store, "boom")
	if err := exec.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error from failing handler")
	}

	if j.StateName() != job.Scheduled {
		t.Fatalf("expected SCHEDULED retry, got %s", j.StateName())
	}
	if n, err := store.CountDLQ(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected no dlq entries yet, got n=%d err=%v", n, err)
	}

}

func TestExecutor_PushesToDLQAfterMaxRetries(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	exec, registry, store := newExecutor(t, 0, fc)

	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "boom",
		Handler: func(_ context.Context, _ struct{}) error {
			return errors.New("boom")
		},
	})

	j := enqueuedJob(t, store, "boom")
	if err := exec.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error from failing handler")
	}

	if j.StateName() != job.Failed {
		t.Fatalf("expected terminal FAILED, got %s", j.StateName())
	}
	n, err := store.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", n)
	}
}

func TestExecutor_UnknownHandlerFailsTerminalWithoutRetry(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	exec, _, store := newExecutor(t, 3, fc)

	j := enqueuedJob(t, store, "unregistered")
	if err := exec.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error for unregistered handler")
	}

	if j.StateName() != job.Failed {
		t.Fatalf("expected terminal FAILED, not rescheduled, got %s", j.StateName())
	}
	if got := j.State().ExceptionClass; got != job.ExceptionClassNotFound {
		t.Fatalf("expected ExceptionClass %q, got %q", job.ExceptionClassNotFound, got)
	}

	n, err := store.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dlq entry, got %d", n)
	}
}

// TestExecutor_RetriesExactlyMaxRetriesTimesThenTerminatesAndPushesDLQ
// drives Execute through real, repeated handler failures (not
// hand-seeded history) and asserts the job only reaches terminal FAILED
// once MaxRetries SCHEDULED retries have been recorded.
func TestExecutor_RetriesExactlyMaxRetriesTimesThenTerminatesAndPushesDLQ(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	const maxRetries = 2
	exec, registry, store := newExecutor(t, maxRetries, fc)

	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "boom",
		Handler: func(_ context.Context, _ struct{}) error {
			return errors.New("boom")
		},
	})

	j := enqueuedJob(t, store, "boom")

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := exec.Execute(context.Background(), j); err == nil {
			t.Fatalf("attempt %d: expected error from failing handler", attempt)
		}
		if j.StateName() != job.Scheduled {
			t.Fatalf("attempt %d: expected SCHEDULED retry, got %s", attempt, j.StateName())
		}
		if got := j.CountState(job.Failed); got != attempt {
			t.Fatalf("attempt %d: expected %d recorded FAILED entries, got %d", attempt, attempt, got)
		}
		// The coordinator would re-enqueue a due SCHEDULED job before
		// submitting it back to the pool on a later tick.
		j.AppendState(job.NewEnqueued(fc.Now()))
	}

	if err := exec.Execute(context.Background(), j); err == nil {
		t.Fatal("expected error from failing handler")
	}
	if j.StateName() != job.Failed {
		t.Fatalf("expected terminal FAILED after %d retries, got %s", maxRetries, j.StateName())
	}
	if got := j.CountState(job.Failed); got != maxRetries+1 {
		t.Fatalf("expected %d recorded FAILED entries, got %d", maxRetries+1, got)
	}

	n, err := store.CountDLQ(context.Background())
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected exactly 1 dlq entry, got %d", n)
	}
}

// TestExecutor_DiscardsSucceededWriteWhenJobDeletedMidExecution simulates
// a cooperative delete landing while the handler is running: the handler
// itself deletes the job out from under the executor (standing in for a
// concurrent engine.Delete call), which makes the executor's own
// terminal Save lose the race on Version. Execute must discard its
// SUCCEEDED proposal rather than log and propagate a save error, and the
// DELETED state must be what survives in the store.
func TestExecutor_DiscardsSucceededWriteWhenJobDeletedMidExecution(t *testing.T) {
	fc := clock.NewFake(time.Unix(1000, 0))
	exec, registry, store := newExecutor(t, 3, fc)

	j := enqueuedJob(t, store, "slow")

	job.RegisterDefinition(registry, &job.Definition[struct{}]{
		Name: "slow",
		Handler: func(ctx context.Context, _ struct{}) error {
			stored, err := store.GetByID(ctx, j.ID)
			if err != nil {
				t.Fatalf("load job for concurrent delete: %v", err)
			}
			stored.AppendState(job.NewDeleted(fc.Now(), "deleted by request"))
			if err := store.Save(ctx, stored); err != nil {
				t.Fatalf("concurrent delete save: %v", err)
			}
			return nil
		},
	})

	if err := exec.Execute(context.Background(), j); err != nil {
		t.Fatalf("expected nil error when job was deleted mid-execution, got %v", err)
	}

	stored, err := store.GetByID(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.StateName() != job.Deleted {
		t.Fatalf("expected persisted DELETED to survive, got %s", stored.StateName())
	}
}
