package election_test

import (
	"testing"
	"time"

	"github.com/daniiell3/jobrunr/election"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/roster"
)

func status(t *testing.T, first, last time.Time) *roster.Status {
	t.Helper()
	return &roster.Status{
		ID:             id.NewServerID(),
		FirstHeartbeat: first,
		LastHeartbeat:  last,
		Running:        true,
	}
}

func TestMaster_EarliestFirstHeartbeatWins(t *testing.T) {
	now := time.Unix(1000, 0)
	early := status(t, time.Unix(100, 0), now)
	late := status(t, time.Unix(500, 0), now)

	master, ok := election.Master([]*roster.Status{late, early}, now, 15*time.Second)
	if !ok {
		t.Fatal("expected a master")
	}
	if master != early {
		t.Fatalf("expected earliest server to win")
	}
}

func TestMaster_TieBrokenByID(t *testing.T) {
	now := time.Unix(1000, 0)
	sameFirst := time.Unix(100, 0)
	a := status(t, sameFirst, now)
	b := status(t, sameFirst, now)

	want := a
	if b.ID.String() < a.ID.String() {
		want = b
	}

	master, ok := election.Master([]*roster.Status{a, b}, now, 15*time.Second)
	if !ok {
		t.Fatal("expected a master")
	}
	if master.ID.String() != want.ID.String() {
		t.Fatalf("expected tie-break by smallest ID")
	}
}

func TestMaster_IgnoresDeadServers(t *testing.T) {
	now := time.Unix(1000, 0)
	dead := status(t, time.Unix(10, 0), now.Add(-time.Hour))
	alive := status(t, time.Unix(500, 0), now)

	master, ok := election.Master([]*roster.Status{dead, alive}, now, 15*time.Second)
	if !ok {
		t.Fatal("expected a master")
	}
	if master != alive {
		t.Fatal("expected the dead earliest server to be skipped")
	}
}

func TestMaster_NoLiveServersReturnsFalse(t *testing.T) {
	now := time.Unix(1000, 0)
	dead := status(t, time.Unix(10, 0), now.Add(-time.Hour))

	_, ok := election.Master([]*roster.Status{dead}, now, 15*time.Second)
	if ok {
		t.Fatal("expected no master among only dead servers")
	}
}

func TestIsMaster_MatchesComputedMaster(t *testing.T) {
	now := time.Unix(1000, 0)
	early := status(t, time.Unix(100, 0), now)
	late := status(t, time.Unix(500, 0), now)

	if !election.IsMaster([]*roster.Status{early, late}, early.ID, now, 15*time.Second) {
		t.Fatal("expected earliest server to be master")
	}
	if election.IsMaster([]*roster.Status{early, late}, late.ID, now, 15*time.Second) {
		t.Fatal("expected later server to not be master")
	}
}

func TestMaster_ReEvaluatesAsRosterChanges(t *testing.T) {
	t1 := time.Unix(1000, 0)
	onlyServer := status(t, time.Unix(100, 0), t1)

	master, ok := election.Master([]*roster.Status{onlyServer}, t1, 15*time.Second)
	if !ok || master != onlyServer {
		t.Fatal("expected sole server to be master at t1")
	}

	t2 := t1.Add(time.Hour)
	earlier := status(t, time.Unix(50, 0), t2)
	_, ok = election.Master([]*roster.Status{onlyServer, earlier}, t2, 15*time.Second)
	if !ok {
		t.Fatal("expected a master at t2")
	}
	master2, _ := election.Master([]*roster.Status{onlyServer, earlier}, t2, 15*time.Second)
	if master2 != earlier {
		t.Fatal("expected mastership to move to the earlier-announced server on re-evaluation")
	}
}
