package dlq_test

import (
	"context"
	"testing"
	"time"

	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/store/memory"
)

func newFailedTestJob(name string, payload []byte) *job.Job {
	now := time.Now().UTC()
	j := job.New(id.NewJobID(), job.Details{Name: name, Queue: "default", Payload: payload}, job.NewEnqueued(now))
	j.AppendState(job.NewProcessing(now, now, "srv-test"))
	j.AppendState(job.NewFailed(now, "smtp.Timeout", "smtp timeout", ""))
	return j
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newFailedTestJob("send-email", []byte(`{"to":"alice@example.com"}`))

	if err := svc.Push(ctx, j); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 10})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}

	entry := entries[0]
	if entry.JobID != j.ID {
		t.Errorf("JobID = %v, want %v", entry.JobID, j.ID)
	}
	if entry.Details.Name != "send-email" {
		t.Errorf("Details.Name = %q, want %q", entry.Details.Name, "send-email")
	}
	if entry.Details.Queue != "default" {
		t.Errorf("Details.Queue = %q, want %q", entry.Details.Queue, "default")
	}
	if string(entry.Details.Payload) != `{"to":"alice@example.com"}` {
		t.Errorf("Payload = %q, want %q", entry.Details.Payload, `{"to":"alice@example.com"}`)
	}
	if entry.Message != "smtp timeout" {
		t.Errorf("Message = %q, want %q", entry.Message, "smtp timeout")
	}
	if entry.FailedAt.IsZero() {
		t.Error("expected FailedAt to be set")
	}
	if entry.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestService_Push_IgnoresNonTerminalJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	now := time.Now().UTC()
	j := job.New(id.NewJobID(), job.Details{Name: "still-running"}, job.NewEnqueued(now))
	j.AppendState(job.NewProcessing(now, now, "srv-test"))

	if err := svc.Push(ctx, j); err != nil {
		t.Fatalf("Push: %v", err)
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 0 {
		t.Errorf("CountDLQ = %d, want 0 for non-terminal job", count)
	}
}

func TestService_Push_CountIncreases(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	for i := range 3 {
		j := newFailedTestJob("job-"+string(rune('a'+i)), nil)
		if err := svc.Push(ctx, j); err != nil {
			t.Fatalf("Push %d: %v", i, err)
		}
	}

	count, err := s.CountDLQ(ctx)
	if err != nil {
		t.Fatalf("CountDLQ: %v", err)
	}
	if count != 3 {
		t.Errorf("CountDLQ = %d, want 3", count)
	}
}

func TestService_Replay_CreatesNewEnqueuedJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	original := newFailedTestJob("replay-me", []byte(`{"key":"value"}`))
	if err := svc.Push(ctx, original); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", len(entries))
	}
	entryID := entries[0].ID

	replayed, err := svc.Replay(ctx, entryID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}

	if replayed.ID == original.ID {
		t.Error("replayed job should have a new ID")
	}
	if replayed.StateName() != job.Enqueued {
		t.Errorf("StateName() = %q, want %q", replayed.StateName(), job.Enqueued)
	}
	if replayed.Details.Name != "replay-me" {
		t.Errorf("Details.Name = %q, want %q", replayed.Details.Name, "replay-me")
	}
	if string(replayed.Details.Payload) != `{"key":"value"}` {
		t.Errorf("Payload = %q, want %q", replayed.Details.Payload, `{"key":"value"}`)
	}
}

func TestService_Replay_MarksDLQEntryAsReplayed(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	j := newFailedTestJob("replay-mark", nil)
	if err := svc.Push(ctx, j); err != nil {
		t.Fatalf("Push: %v", err)
	}

	entries, err := s.ListDLQ(ctx, dlq.ListOpts{Limit: 1})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	entryID := entries[0].ID

	if _, replayErr := svc.Replay(ctx, entryID); replayErr != nil {
		t.Fatalf("Replay: %v", replayErr)
	}

	entry, err := s.GetDLQ(ctx, entryID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if entry.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	fakeID := id.NewDLQID()
	_, err := svc.Replay(ctx, fakeID)
	if err == nil {
		t.Fatal("expected error for non-existent DLQ entry")
	}
}
