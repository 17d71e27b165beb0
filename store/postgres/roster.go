package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/roster"
)

// Announce persists a new server row, setting FirstHeartbeat.
func (s *Store) Announce(ctx context.Context, srv *roster.Status) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobrunr_background_job_servers (
			id, worker_pool_size, poll_interval_ns, first_heartbeat, last_heartbeat,
			running, free_memory_bytes, cpu_load, process_load
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			worker_pool_size = EXCLUDED.worker_pool_size,
			poll_interval_ns = EXCLUDED.poll_interval_ns,
			last_heartbeat = EXCLUDED.last_heartbeat,
			running = EXCLUDED.running,
			free_memory_bytes = EXCLUDED.free_memory_bytes,
			cpu_load = EXCLUDED.cpu_load,
			process_load = EXCLUDED.process_load`,
		srv.ID.String(), srv.WorkerPoolSize, srv.PollInterval.Nanoseconds(), srv.FirstHeartbeat, srv.LastHeartbeat,
		srv.Running, srv.FreeMemoryBytes, srv.CPULoad, srv.ProcessLoad,
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: announce server: %w", err)
	}
	return nil
}

// Heartbeat refreshes LastHeartbeat and capacity metrics for an
// already-announced server.
func (s *Store) Heartbeat(ctx context.Context, srv *roster.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobrunr_background_job_servers SET
			last_heartbeat = $2, running = $3,
			free_memory_bytes = $4, cpu_load = $5, process_load = $6
		WHERE id = $1`,
		srv.ID.String(), srv.LastHeartbeat, srv.Running,
		srv.FreeMemoryBytes, srv.CPULoad, srv.ProcessLoad,
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: heartbeat server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.Announce(ctx, srv)
	}
	return nil
}

// ListServers returns every announced server, regardless of liveness.
func (s *Store) ListServers(ctx context.Context) ([]*roster.Status, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, worker_pool_size, poll_interval_ns, first_heartbeat, last_heartbeat,
			running, free_memory_bytes, cpu_load, process_load
		FROM jobrunr_background_job_servers
		ORDER BY first_heartbeat ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: list servers: %w", err)
	}
	defer rows.Close()

	var servers []*roster.Status
	for rows.Next() {
		srv, scanErr := scanServer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobrunr/postgres: scan server row: %w", scanErr)
		}
		servers = append(servers, srv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: iterate server rows: %w", err)
	}
	return servers, nil
}

// RemoveTimedOut deletes announced servers whose LastHeartbeat is before
// cutoff, returning how many were removed.
func (s *Store) RemoveTimedOut(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobrunr_background_job_servers WHERE last_heartbeat < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("jobrunr/postgres: remove timed out servers: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Remove deregisters a server explicitly, on graceful shutdown.
func (s *Store) Remove(ctx context.Context, serverID id.ServerID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM jobrunr_background_job_servers WHERE id = $1`,
		serverID.String(),
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: remove server: %w", err)
	}
	return nil
}

func scanServer(row pgx.Row) (*roster.Status, error) {
	var (
		srv          roster.Status
		idStr        string
		pollInterval int64
	)
	err := row.Scan(
		&idStr, &srv.WorkerPoolSize, &pollInterval, &srv.FirstHeartbeat, &srv.LastHeartbeat,
		&srv.Running, &srv.FreeMemoryBytes, &srv.CPULoad, &srv.ProcessLoad,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseServerID(idStr)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: parse server id %q: %w", idStr, err)
	}
	srv.ID = parsedID
	srv.PollInterval = time.Duration(pollInterval)

	return &srv, nil
}
