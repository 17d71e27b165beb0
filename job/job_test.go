package job_test

import (
	"testing"
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
)

func TestJob_StateIsLastHistoryEntry(t *testing.T) {
	jobID := id.NewJobID()
	now := time.Now().UTC()
	j := job.New(jobID, job.Details{Name: "send_email", Queue: "default"}, job.NewEnqueued(now))

	if got := j.StateName(); got != job.Enqueued {
		t.Fatalf("StateName() = %v, want %v", got, job.Enqueued)
	}

	j.AppendState(job.NewProcessing(now, now, "srv-1"))
	if got := j.StateName(); got != job.Processing {
		t.Fatalf("StateName() after append = %v, want %v", got, job.Processing)
	}
	if len(j.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(j.History))
	}
}

func TestJob_CountState(t *testing.T) {
	jobID := id.NewJobID()
	now := time.Now().UTC()
	j := job.New(jobID, job.Details{Name: "x"}, job.NewEnqueued(now))
	j.AppendState(job.NewProcessing(now, now, "srv-1"))
	j.AppendState(job.NewFailed(now, "boom", "msg", ""))
	j.AppendState(job.NewScheduled(now.Add(time.Second), "retry"))
	j.AppendState(job.NewEnqueued(now.Add(time.Second)))
	j.AppendState(job.NewProcessing(now, now, "srv-1"))
	j.AppendState(job.NewFailed(now, "boom", "msg", ""))

	if got := j.CountState(job.Failed); got != 2 {
		t.Fatalf("CountState(Failed) = %d, want 2", got)
	}
}

func TestJob_CloneIsIndependent(t *testing.T) {
	jobID := id.NewJobID()
	now := time.Now().UTC()
	j := job.New(jobID, job.Details{Name: "x"}, job.NewEnqueued(now))
	j.Metadata = map[string]string{"a": "1"}

	c := j.Clone()
	c.AppendState(job.NewProcessing(now, now, "srv-1"))
	c.Metadata["a"] = "2"

	if len(j.History) != 1 {
		t.Fatalf("original History mutated: len = %d, want 1", len(j.History))
	}
	if j.Metadata["a"] != "1" {
		t.Fatalf("original Metadata mutated: got %q, want %q", j.Metadata["a"], "1")
	}
}

func TestDetails_SignatureStableForIdenticalPayload(t *testing.T) {
	a := job.Details{Name: "send_email", Queue: "default", Payload: []byte(`{"to":"a@example.com"}`)}
	b := job.Details{Name: "send_email", Queue: "default", Payload: []byte(`{"to":"a@example.com"}`)}
	c := job.Details{Name: "send_email", Queue: "default", Payload: []byte(`{"to":"b@example.com"}`)}

	if a.Signature() != b.Signature() {
		t.Fatal("identical details produced different signatures")
	}
	if a.Signature() == c.Signature() {
		t.Fatal("different payloads produced the same signature")
	}
}

func TestState_At(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name string
		s    job.State
		want time.Time
	}{
		{"scheduled", job.NewScheduled(now, ""), now},
		{"enqueued", job.NewEnqueued(now), now},
		{"processing", job.NewProcessing(now.Add(-time.Minute), now, "srv-1"), now},
		{"succeeded", job.NewSucceeded(now, time.Second), now},
		{"failed", job.NewFailed(now, "E", "m", ""), now},
		{"deleted", job.NewDeleted(now, "r"), now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.At(); !got.Equal(tt.want) {
				t.Errorf("At() = %v, want %v", got, tt.want)
			}
		})
	}
}
