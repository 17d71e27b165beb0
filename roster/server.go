package roster

import (
	"time"

	"github.com/daniiell3/jobrunr/id"
)

// Status is the announced state of a single server instance, as the
// rest of the cluster observes it. Every server periodically
// re-announces its own Status as a liveness heartbeat; the coordinator
// on every server uses the full roster to compute mastership and to
// recognize which servers are still alive.
type Status struct {
	ID id.ServerID `json:"id"`

	WorkerPoolSize      int           `json:"workerPoolSize"`
	PollInterval        time.Duration `json:"pollIntervalSeconds"`
	FirstHeartbeat      time.Time     `json:"firstHeartbeat"`
	LastHeartbeat       time.Time     `json:"lastHeartbeat"`
	Running             bool          `json:"running"`

	// Capacity metrics. The coordinator's heartbeat does not fill them,
	// so they are announced as zero.
	FreeMemoryBytes uint64  `json:"freeMemoryBytes"`
	CPULoad         float64 `json:"cpuLoad"`
	ProcessLoad     float64 `json:"processLoad"`
}

// IsAlive reports whether this status counts as a live roster member as
// of now, given the orphan/liveness threshold (4x poll interval).
func (s Status) IsAlive(now time.Time, threshold time.Duration) bool {
	return !s.LastHeartbeat.Before(now.Add(-threshold))
}
