package notifier_test

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/notifier"
	"github.com/daniiell3/jobrunr/roster"
	"github.com/daniiell3/jobrunr/store/memory"
)

type statsCapture struct {
	calls atomic.Int32
	last  atomic.Value
}

func (c *statsCapture) OnStatsChanged(_ context.Context, stats job.Stats) error {
	c.calls.Add(1)
	c.last.Store(stats)
	return nil
}

type jobCapture struct {
	id     id.JobID
	calls  atomic.Int32
	closed atomic.Bool
}

func (c *jobCapture) JobID() id.JobID { return c.id }
func (c *jobCapture) OnJobChanged(_ context.Context, _ *job.Job) error {
	c.calls.Add(1)
	return nil
}
func (c *jobCapture) Close() error {
	c.closed.Store(true)
	return nil
}

type serverCapture struct {
	calls atomic.Int32
	n     atomic.Int32
}

func (c *serverCapture) OnServersChanged(_ context.Context, servers []*roster.Status) error {
	c.calls.Add(1)
	c.n.Store(int32(len(servers)))
	return nil
}

func TestNotifier_TickNotifiesStatsListeners(t *testing.T) {
	store := memory.New()
	n := notifier.New(store, store, slog.Default(), 5)

	sc := &statsCapture{}
	n.AddStatsListener(sc)

	n.Tick(context.Background())

	if sc.calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", sc.calls.Load())
	}
}

func TestNotifier_TickThrottlesBurstsOfStats(t *testing.T) {
	store := memory.New()
	n := notifier.New(store, store, slog.Default(), 5)

	sc := &statsCapture{}
	n.AddStatsListener(sc)

	for i := 0; i < 5; i++ {
		n.Tick(context.Background())
	}

	if sc.calls.Load() != 1 {
		t.Fatalf("expected burst to collapse to 1 call, got %d", sc.calls.Load())
	}
}

func TestNotifier_TickNotifiesJobListenerUntilJobDeleted(t *testing.T) {
	store := memory.New()
	n := notifier.New(store, store, slog.Default(), 5)

	jobID := id.NewJobID()
	j := job.New(jobID, job.Details{Name: "work", Queue: "default"}, job.NewEnqueued(time.Unix(0, 0)))
	if err := store.Save(context.Background(), j); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	jc := &jobCapture{id: jobID}
	n.AddJobListener(jc)

	n.Tick(context.Background())
	if jc.calls.Load() != 1 {
		t.Fatalf("expected 1 call while job exists, got %d", jc.calls.Load())
	}
	if jc.closed.Load() {
		t.Fatal("listener should not be closed while job exists")
	}

	if _, err := store.DeleteByStateUpdatedBefore(context.Background(), job.Enqueued, time.Unix(0, 1)); err != nil {
		t.Fatalf("delete job: %v", err)
	}

	n.Tick(context.Background())
	if !jc.closed.Load() {
		t.Fatal("expected listener to be closed once its job no longer exists")
	}
}

func TestNotifier_TickNotifiesServerListeners(t *testing.T) {
	store := memory.New()
	n := notifier.New(store, store, slog.Default(), 5)

	srv := &roster.Status{ID: id.NewServerID(), FirstHeartbeat: time.Unix(0, 0), LastHeartbeat: time.Unix(0, 0)}
	if err := store.Announce(context.Background(), srv); err != nil {
		t.Fatalf("announce: %v", err)
	}

	sc := &serverCapture{}
	n.AddServerListener(sc)

	n.Tick(context.Background())

	if sc.calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", sc.calls.Load())
	}
	if sc.n.Load() != 1 {
		t.Fatalf("expected 1 server in roster, got %d", sc.n.Load())
	}
}

func TestNotifier_RemoveStatsListenerStopsTimer(t *testing.T) {
	store := memory.New()
	n := notifier.New(store, store, slog.Default(), 5)

	sc := &statsCapture{}
	n.AddStatsListener(sc)
	n.RemoveStatsListener(sc)

	// A second Add after full removal should be able to start a fresh
	// timer without panicking or deadlocking.
	sc2 := &statsCapture{}
	n.AddStatsListener(sc2)
	n.Tick(context.Background())

	if sc2.calls.Load() != 1 {
		t.Fatalf("expected fresh listener to receive a tick, got %d", sc2.calls.Load())
	}
}
