package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
)

// Save persists j with optimistic concurrency on version. A brand-new
// job (Version 0) is inserted; an existing job is updated only if the
// stored version still matches j.Version.
func (s *Store) Save(ctx context.Context, j *job.Job) error {
	if j.Version == 0 {
		return s.insertJob(ctx, j)
	}
	return s.updateJob(ctx, j)
}

func (s *Store) insertJob(ctx context.Context, j *job.Job) error {
	history, metadata, err := encodeJob(j)
	if err != nil {
		return err
	}
	current := j.State()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobrunr_jobs (
			id, name, queue, payload, job_signature, recurring_job_id,
			version, priority, metadata, history, state, state_at,
			scheduled_at, scope_app_id, scope_org_id
		) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $10, $11, $12, $13, $14)`,
		j.ID.String(), j.Details.Name, j.Details.Queue, j.Details.Payload, j.JobSignature, j.RecurringJobID,
		j.Priority, metadata, history, string(current.Name), current.At(),
		scheduledAtOrNil(current), j.ScopeAppID, j.ScopeOrgID,
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: insert job: %w", err)
	}
	j.Version = 1
	return nil
}

func (s *Store) updateJob(ctx context.Context, j *job.Job) error {
	history, metadata, err := encodeJob(j)
	if err != nil {
		return err
	}
	current := j.State()

	tag, err := s.pool.Exec(ctx, `
		UPDATE jobrunr_jobs SET
			version = version + 1, priority = $3, metadata = $4, history = $5,
			state = $6, state_at = $7, scheduled_at = $8,
			scope_app_id = $9, scope_org_id = $10
		WHERE id = $1 AND version = $2`,
		j.ID.String(), j.Version, j.Priority, metadata, history,
		string(current.Name), current.At(), scheduledAtOrNil(current),
		j.ScopeAppID, j.ScopeOrgID,
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, getErr := s.GetByID(ctx, j.ID)
		if getErr != nil {
			return fmt.Errorf("jobrunr/postgres: update job: conflict, and reload failed: %w", getErr)
		}
		return &job.ConcurrentModificationError{Conflicting: []*job.Job{existing}}
	}
	j.Version++
	return nil
}

// SaveBatch persists jobs inside a single transaction: either every job's
// version advances, or none do.
func (s *Store) SaveBatch(ctx context.Context, jobs []*job.Job) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: save batch: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is a no-op after commit

	var conflicting []*job.Job
	for _, j := range jobs {
		history, metadata, encErr := encodeJob(j)
		if encErr != nil {
			return encErr
		}
		current := j.State()

		if j.Version == 0 {
			_, execErr := tx.Exec(ctx, `
				INSERT INTO jobrunr_jobs (
					id, name, queue, payload, job_signature, recurring_job_id,
					version, priority, metadata, history, state, state_at,
					scheduled_at, scope_app_id, scope_org_id
				) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8, $9, $10, $11, $12, $13, $14)`,
				j.ID.String(), j.Details.Name, j.Details.Queue, j.Details.Payload, j.JobSignature, j.RecurringJobID,
				j.Priority, metadata, history, string(current.Name), current.At(),
				scheduledAtOrNil(current), j.ScopeAppID, j.ScopeOrgID,
			)
			if execErr != nil {
				return fmt.Errorf("jobrunr/postgres: save batch: insert: %w", execErr)
			}
			continue
		}

		tag, execErr := tx.Exec(ctx, `
			UPDATE jobrunr_jobs SET
				version = version + 1, priority = $3, metadata = $4, history = $5,
				state = $6, state_at = $7, scheduled_at = $8,
				scope_app_id = $9, scope_org_id = $10
			WHERE id = $1 AND version = $2`,
			j.ID.String(), j.Version, j.Priority, metadata, history,
			string(current.Name), current.At(), scheduledAtOrNil(current),
			j.ScopeAppID, j.ScopeOrgID,
		)
		if execErr != nil {
			return fmt.Errorf("jobrunr/postgres: save batch: update: %w", execErr)
		}
		if tag.RowsAffected() == 0 {
			existing, getErr := s.getByIDTx(ctx, tx, j.ID)
			if getErr != nil {
				return fmt.Errorf("jobrunr/postgres: save batch: conflict reload: %w", getErr)
			}
			conflicting = append(conflicting, existing)
		}
	}

	if len(conflicting) > 0 {
		return &job.ConcurrentModificationError{Conflicting: conflicting}
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		return fmt.Errorf("jobrunr/postgres: save batch: commit: %w", commitErr)
	}
	for _, j := range jobs {
		if j.Version == 0 {
			j.Version = 1
		} else {
			j.Version++
		}
	}
	return nil
}

func (s *Store) GetByID(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, jobSelectColumns+` FROM jobrunr_jobs WHERE id = $1`, jobID.String())
	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("jobrunr/postgres: get job: %w", err)
	}
	return j, nil
}

func (s *Store) getByIDTx(ctx context.Context, tx pgx.Tx, jobID id.JobID) (*job.Job, error) {
	row := tx.QueryRow(ctx, jobSelectColumns+` FROM jobrunr_jobs WHERE id = $1`, jobID.String())
	return scanJob(row)
}

func (s *Store) GetByState(ctx context.Context, state job.StateName, page job.PageRequest) ([]*job.Job, error) {
	query := jobSelectColumns + ` FROM jobrunr_jobs WHERE state = $1 ORDER BY state_at ASC`
	args := []any{string(state)}
	query, args = applyPage(query, args, page)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: get by state: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) GetByStateUpdatedBefore(ctx context.Context, state job.StateName, cutoff time.Time, page job.PageRequest) ([]*job.Job, error) {
	query := jobSelectColumns + ` FROM jobrunr_jobs WHERE state = $1 AND state_at < $2 ORDER BY state_at ASC`
	args := []any{string(state), cutoff}
	query, args = applyPage(query, args, page)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: get by state updated before: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) GetScheduledBefore(ctx context.Context, cutoff time.Time, page job.PageRequest) ([]*job.Job, error) {
	query := jobSelectColumns + ` FROM jobrunr_jobs WHERE state = 'SCHEDULED' AND scheduled_at < $1 ORDER BY scheduled_at ASC`
	args := []any{cutoff}
	query, args = applyPage(query, args, page)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: get scheduled before: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

func (s *Store) DeleteByStateUpdatedBefore(ctx context.Context, state job.StateName, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobrunr_jobs WHERE state = $1 AND state_at < $2`,
		string(state), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("jobrunr/postgres: delete by state updated before: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ExistsBySignature(ctx context.Context, signature string, states ...job.StateName) (bool, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM jobrunr_jobs WHERE job_signature = $1 AND state = ANY($2)
		)`, signature, names,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("jobrunr/postgres: exists by signature: %w", err)
	}
	return exists, nil
}

func (s *Store) CountByState(ctx context.Context, state job.StateName) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobrunr_jobs WHERE state = $1`, string(state)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobrunr/postgres: count by state: %w", err)
	}
	return count, nil
}

func (s *Store) GetStats(ctx context.Context) (job.Stats, error) {
	var stats job.Stats
	rows, err := s.pool.Query(ctx, `SELECT state, COUNT(*) FROM jobrunr_jobs GROUP BY state`)
	if err != nil {
		return stats, fmt.Errorf("jobrunr/postgres: get stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			return stats, fmt.Errorf("jobrunr/postgres: scan stats row: %w", err)
		}
		switch job.StateName(state) {
		case job.Scheduled:
			stats.Scheduled = count
		case job.Enqueued:
			stats.Enqueued = count
		case job.Processing:
			stats.Processing = count
		case job.Succeeded:
			stats.Succeeded = count
		case job.Failed:
			stats.Failed = count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("jobrunr/postgres: iterate stats rows: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM jobrunr_job_counters WHERE state = $1`,
		string(job.Succeeded),
	).Scan(&stats.SucceededLifetime)
	if err != nil {
		return stats, fmt.Errorf("jobrunr/postgres: get succeeded lifetime: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(count), 0) FROM jobrunr_job_counters WHERE state IN ($1, $2)`,
		string(job.Enqueued), string(job.Scheduled),
	).Scan(&stats.SubmittedLifetime)
	if err != nil {
		return stats, fmt.Errorf("jobrunr/postgres: get submitted lifetime: %w", err)
	}

	return stats, nil
}

func (s *Store) PublishStatCounter(ctx context.Context, state job.StateName, delta int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO jobrunr_job_counters (state, count) VALUES ($1, $2)
		ON CONFLICT (state) DO UPDATE SET count = jobrunr_job_counters.count + EXCLUDED.count`,
		string(state), delta,
	)
	if err != nil {
		return fmt.Errorf("jobrunr/postgres: publish stat counter: %w", err)
	}
	return nil
}

const jobSelectColumns = `SELECT
	id, name, queue, payload, job_signature, recurring_job_id,
	version, priority, metadata, history, scope_app_id, scope_org_id`

func encodeJob(j *job.Job) (history, metadata []byte, err error) {
	history, err = json.Marshal(j.History)
	if err != nil {
		return nil, nil, fmt.Errorf("jobrunr/postgres: marshal history: %w", err)
	}
	if j.Metadata != nil {
		metadata, err = json.Marshal(j.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("jobrunr/postgres: marshal metadata: %w", err)
		}
	}
	return history, metadata, nil
}

func scheduledAtOrNil(s job.State) *time.Time {
	if s.Name != job.Scheduled {
		return nil
	}
	t := s.ScheduledAt
	return &t
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		idStr          string
		recurringJobID *string
		metadata       []byte
		history        []byte
		j              job.Job
	)
	err := row.Scan(
		&idStr, &j.Details.Name, &j.Details.Queue, &j.Details.Payload, &j.JobSignature, &recurringJobID,
		&j.Version, &j.Priority, &metadata, &history, &j.ScopeAppID, &j.ScopeOrgID,
	)
	if err != nil {
		return nil, err
	}

	parsedID, err := id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: parse job id %q: %w", idStr, err)
	}
	j.ID = parsedID
	j.RecurringJobID = recurringJobID

	if err := json.Unmarshal(history, &j.History); err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: unmarshal history: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
			return nil, fmt.Errorf("jobrunr/postgres: unmarshal metadata: %w", err)
		}
	}

	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("jobrunr/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobrunr/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}

func applyPage(query string, args []any, page job.PageRequest) (string, []any) {
	if page.Limit > 0 {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if page.Offset > 0 {
		args = append(args, page.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return query, args
}
