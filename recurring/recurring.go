// Package recurring defines recurring job definitions and the store
// contract for materializing them into one-shot jobs on a cron
// schedule. Materialization itself is a master-only coordinator task;
// this package only holds the definition and its persistence contract.
package recurring

import (
	"context"

	"github.com/daniiell3/jobrunr/job"
)

// Job is a recurring job definition: identity, JobDetails template, cron
// expression, and time zone. Its identity is caller-chosen (or derived
// from the definition's name) and stable across materializations.
type Job struct {
	ID       string      `json:"id"`
	Details  job.Details `json:"jobDetails"`
	Schedule string      `json:"cronExpression"`
	Zone     string      `json:"zoneId"`
	Version  int         `json:"version"`
}

// Definition is a typed recurring job definition. T is the payload type
// registered once and enqueued on every occurrence.
type Definition[T any] struct {
	ID       string
	Name     string
	Schedule string
	Zone     string
	Payload  T
	Queue    string
}

// Store defines the persistence contract for recurring job definitions.
type Store interface {
	// List returns every registered recurring job.
	List(ctx context.Context) ([]*Job, error)

	// SaveRecurring creates or updates a recurring job definition.
	SaveRecurring(ctx context.Context, j *Job) error

	// Delete removes a recurring job definition by ID.
	Delete(ctx context.Context, id string) error
}
