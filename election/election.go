package election

import (
	"time"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/roster"
)

// LivenessThreshold is the default multiple of the poll interval a
// server's LastHeartbeat must fall within to still count as alive.
const LivenessThreshold = 4

// Master returns the live roster member that should act as master as
// of now, given pollInterval (used to derive the liveness window via
// LivenessThreshold). It returns false if no server in servers is
// currently alive.
//
// Master is a pure function of its inputs: calling it again on the
// next tick with a fresh roster snapshot is how mastership is
// re-evaluated, not by renewing or releasing anything held over from
// the previous call.
func Master(servers []*roster.Status, now time.Time, pollInterval time.Duration) (*roster.Status, bool) {
	threshold := LivenessThreshold * pollInterval

	var master *roster.Status
	for _, s := range servers {
		if !s.IsAlive(now, threshold) {
			continue
		}
		if master == nil || wins(s, master) {
			master = s
		}
	}
	return master, master != nil
}

// IsMaster reports whether serverID is the elected master of servers
// as of now.
func IsMaster(servers []*roster.Status, serverID id.ServerID, now time.Time, pollInterval time.Duration) bool {
	master, ok := Master(servers, now, pollInterval)
	return ok && master.ID.String() == serverID.String()
}

// wins reports whether candidate should replace current as the
// provisional master: an earlier FirstHeartbeat wins outright; on an
// exact tie, the smaller ID wins so every server computing this over
// the same roster snapshot agrees.
func wins(candidate, current *roster.Status) bool {
	if candidate.FirstHeartbeat.Before(current.FirstHeartbeat) {
		return true
	}
	if candidate.FirstHeartbeat.After(current.FirstHeartbeat) {
		return false
	}
	return candidate.ID.String() < current.ID.String()
}
