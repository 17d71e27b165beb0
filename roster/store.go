package roster

import (
	"context"
	"time"

	"github.com/daniiell3/jobrunr/id"
)

// Store defines the persistence contract for server announcement and
// liveness. There is deliberately no "acquire leadership" primitive:
// mastership is not owned by the store, it is computed by the election
// package from the live roster on every tick (earliest FirstHeartbeat
// wins, ties broken by ID).
type Store interface {
	// Announce persists a new Status row, setting FirstHeartbeat.
	// Called once at server startup.
	Announce(ctx context.Context, s *Status) error

	// Heartbeat refreshes LastHeartbeat and capacity metrics for an
	// already-announced server.
	Heartbeat(ctx context.Context, s *Status) error

	// ListServers returns every announced server, regardless of liveness.
	ListServers(ctx context.Context) ([]*Status, error)

	// RemoveTimedOut deletes announced servers whose LastHeartbeat is
	// before cutoff, returning how many were removed.
	RemoveTimedOut(ctx context.Context, cutoff time.Time) (int, error)

	// Remove deregisters a server explicitly, on graceful shutdown.
	Remove(ctx context.Context, serverID id.ServerID) error
}
