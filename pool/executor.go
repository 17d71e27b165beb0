package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	jobrunr "github.com/daniiell3/jobrunr"
	"github.com/daniiell3/jobrunr/clock"
	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/ext"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/jobfilter"
	"github.com/daniiell3/jobrunr/middleware"
)

// Executor runs a single job through middleware and its registered
// handler, then elects and persists the resulting state transition
// through the jobfilter pipeline (PROCESSING → SUCCEEDED/FAILED, with
// the default retry filter able to append a SCHEDULED retry on top of
// a recorded FAILED entry before either is persisted).
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	filters    *jobfilter.Registry
	store      job.Store
	dlqService *dlq.Service
	clock      clock.Clock
	serverID   string
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
// serverID identifies this process in the PROCESSING state's ServerID
// field.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	filters *jobfilter.Registry,
	store job.Store,
	dlqService *dlq.Service,
	c clock.Clock,
	serverID string,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if c == nil {
		c = clock.System{}
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		filters:    filters,
		store:      store,
		dlqService: dlqService,
		clock:      c,
		serverID:   serverID,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs j through the middleware chain and its registered
// handler, electing and persisting PROCESSING, then the terminal
// SUCCEEDED/FAILED (or retry SCHEDULED) transition. The returned error
// is non-nil whenever the handler failed, regardless of whether the
// job was rescheduled for retry or moved to a terminal FAILED state.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Get(j.Details.Name)
	if !ok {
		err := fmt.Errorf("%w: %q", jobrunr.ErrJobClassNotFound, j.Details.Name)
		elected := job.NewFailed(e.clock.Now(), job.ExceptionClassNotFound, err.Error(), "")
		return e.handleFailure(ctx, j, err, elected)
	}

	now := e.clock.Now()
	if _, err := e.apply(ctx, j, job.NewProcessing(now, now, e.serverID)); err != nil {
		if deletedConflict(err, j.ID) {
			e.logger.Info("job was deleted before processing began", slog.String("job_id", j.ID.String()))
			return nil
		}
		return fmt.Errorf("pool: persist processing state: %w", err)
	}
	e.extensions.EmitJobProcessing(ctx, j)

	start := time.Now()
	terminal := func(ctx context.Context) error {
		return handler(ctx, j.Details.Payload)
	}
	handlerErr := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if handlerErr == nil {
		return e.handleSuccess(ctx, j, elapsed)
	}
	elected := job.NewFailed(e.clock.Now(), fmt.Sprintf("%T", handlerErr), handlerErr.Error(), "")
	return e.handleFailure(ctx, j, handlerErr, elected)
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	if _, err := e.apply(ctx, j, job.NewSucceeded(e.clock.Now(), elapsed)); err != nil {
		if deletedConflict(err, j.ID) {
			e.logger.Info("job was deleted while executing, discarding succeeded result",
				slog.String("job_id", j.ID.String()),
			)
			return nil
		}
		e.logger.Error("failed to persist succeeded state",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}
	e.extensions.EmitJobSucceeded(ctx, j, elapsed)
	return nil
}

// handleFailure persists elected (a FAILED proposal) through apply,
// which gives the retry filter a chance to add a SCHEDULED retry on top
// of it, then branches on the resulting final state. handlerErr is the
// error that triggered the failure; it is what Execute returns.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, elected job.State) error {
	applied, err := e.apply(ctx, j, elected)
	if err != nil {
		if deletedConflict(err, j.ID) {
			e.logger.Info("job was deleted while executing, discarding failure result",
				slog.String("job_id", j.ID.String()),
			)
			return nil
		}
		e.logger.Error("failed to persist failure state",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)

	switch applied.Name {
	case job.Scheduled:
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Details.Name),
			slog.Int("failure_count", j.CountState(job.Failed)),
			slog.Time("next_attempt_at", applied.ScheduledAt),
		)
	case job.Failed:
		if e.dlqService != nil {
			if dlqErr := e.dlqService.Push(ctx, j); dlqErr != nil {
				e.logger.Error("failed to push job to dead letter queue",
					slog.String("job_id", j.ID.String()),
					slog.String("error", dlqErr.Error()),
				)
			}
		}
		e.logger.Warn("job moved to terminal failure",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Details.Name),
			slog.Int("failure_count", j.CountState(job.Failed)),
			slog.String("error", handlerErr.Error()),
		)
	}

	return handlerErr
}

// apply appends proposed to j's history, then runs election over it.
// proposed is always recorded — so CountState and history-shaped
// invariants (e.g. a FAILED entry preceding a retry's SCHEDULED one) see
// it — and only if a filter elects something different is that second
// state appended on top. Both entries are persisted in the same Save;
// apply returns the final (elected) state.
func (e *Executor) apply(ctx context.Context, j *job.Job, proposed job.State) (job.State, error) {
	previous := j.State()
	j.AppendState(proposed)
	appended := 1

	elected := proposed
	if e.filters != nil {
		elected = e.filters.Elect(ctx, j, proposed)
	}
	if elected != proposed {
		j.AppendState(elected)
		appended++
	}

	if err := e.store.Save(ctx, j); err != nil {
		j.History = j.History[:len(j.History)-appended]
		return job.State{}, err
	}
	if e.filters != nil {
		e.filters.Applied(ctx, j, previous, elected)
	}
	return elected, nil
}

// deletedConflict reports whether err is a *job.ConcurrentModificationError
// caused by jobID having been cooperatively deleted out from under an
// in-flight execution, so the caller can discard its own terminal write
// instead of logging and propagating an ordinary save failure.
func deletedConflict(err error, jobID id.JobID) bool {
	var cmErr *job.ConcurrentModificationError
	if !errors.As(err, &cmErr) {
		return false
	}
	for _, conflicting := range cmErr.Conflicting {
		if conflicting.ID.String() == jobID.String() && conflicting.StateName() == job.Deleted {
			return true
		}
	}
	return false
}
