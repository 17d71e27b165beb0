// Package postgres implements store.Store using pgx/v5 with raw SQL and
// embedded migrations. A job's full History is stored as a JSONB array
// alongside denormalized state/state_at columns so GetByState and
// GetByStateUpdatedBefore can use a plain (state, state_at) index
// without re-deriving the current state from history on every query.
// Save/SaveBatch enforce optimistic concurrency with a conditional
// UPDATE ... WHERE version = $n; no SELECT FOR UPDATE is needed because
// every writer of job state goes through that version check.
package postgres
