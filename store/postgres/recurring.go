package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/daniiell3/jobrunr/recurring"
)

// List returns every registered recurring job.
func (s *Store) List(ctx context.Context) ([]*recurring.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, queue, payload, schedule, zone_id, version
		FROM jobrunr_recurring_jobs
		ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: list recurring jobs: %w", err)
	}
	defer rows.Close()

	var entries []*recurring.Job
	for rows.Next() {
		r, scanErr := scanRecurring(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("jobrunr/postgres: scan recurring row: %w", scanErr)
		}
		entries = append(entries, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: iterate recurring rows: %w", err)
	}
	return entries, nil
}

// SaveRecurring creates or updates a recurring job definition.
func (s *Store) SaveRecurring(ctx context.Context, r *recurring.Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobrunr_recurring_jobs (id, name, queue, payload, schedule, zone_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, 1)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			queue = EXCLUDED.queue,
			payload = EXCLUDED.payload,
			schedule = EXCLUDED.schedule,
			zone_id = EXCLUDED.zone_id,
			version = jobrunr_recurring_jobs.version + 1`,
		r.ID, r.Details.Name, r.Details.Queue, r.Details.Payload, r.Schedule, r.Zone,
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: save recurring job: %w", err)
	}
	r.Version++
	return nil
}

// Delete removes a recurring job definition by ID and purges any
// SCHEDULED occurrence materialized from it, in the same transaction.
// An occurrence that has already moved on to ENQUEUED or PROCESSING is
// left alone; it runs to completion like any other job.
func (s *Store) Delete(ctx context.Context, recurringID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: delete recurring job: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is a no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM jobrunr_recurring_jobs WHERE id = $1`, recurringID); err != nil {
		return fmt.Errorf("jobrunr/postgres: delete recurring job: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM jobrunr_jobs WHERE recurring_job_id = $1 AND state = 'SCHEDULED'`,
		recurringID,
	); err != nil {
		return fmt.Errorf("jobrunr/postgres: purge scheduled occurrences: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("jobrunr/postgres: delete recurring job: commit: %w", err)
	}
	return nil
}

func scanRecurring(row pgx.Row) (*recurring.Job, error) {
	var r recurring.Job
	err := row.Scan(&r.ID, &r.Details.Name, &r.Details.Queue, &r.Details.Payload, &r.Schedule, &r.Zone, &r.Version)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
