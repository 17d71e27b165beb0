package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	jobrunr "github.com/daniiell3/jobrunr"
	"github.com/daniiell3/jobrunr/backoff"
	"github.com/daniiell3/jobrunr/clock"
	"github.com/daniiell3/jobrunr/coordinator"
	"github.com/daniiell3/jobrunr/dlq"
	"github.com/daniiell3/jobrunr/ext"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/jobfilter"
	mw "github.com/daniiell3/jobrunr/middleware"
	"github.com/daniiell3/jobrunr/notifier"
	"github.com/daniiell3/jobrunr/observability"
	"github.com/daniiell3/jobrunr/pool"
	"github.com/daniiell3/jobrunr/recurring"
	"github.com/daniiell3/jobrunr/roster"
	"github.com/daniiell3/jobrunr/scope"
)

// defaultJobTimeout is used when neither an engine-level default nor a
// per-job override is set.
const defaultJobTimeout = 5 * time.Minute

// Engine wraps a Server with typed subsystem access: the job registry,
// the executor/pool that runs handlers, the coordinator that advances
// the state machine, and the change notifier dashboards subscribe to.
// Use Build() to create one from a Server.
type Engine struct {
	srv        *jobrunr.Server
	serverID   id.ServerID
	extensions *ext.Registry
	filters    *jobfilter.Registry
	registry   *job.Registry
	jobStore   job.Store
	dlqService *dlq.Service
	bo         backoff.Strategy
	executor   *pool.Executor
	pool       *pool.Pool
	coord      *coordinator.Coordinator
	notifier   *notifier.Notifier

	recurringStore recurring.Store

	mws            []mw.Middleware
	defaultTimeout time.Duration
	logger         *slog.Logger

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithJobFilter registers a job filter with the engine, in addition to
// the default retry filter always installed from Server.Config().MaxRetries.
func WithJobFilter(f any) Option {
	return func(eng *Engine) {
		eng.filters.Register(f)
	}
}

// WithMiddleware adds middleware to the engine's execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy the default retry filter
// uses. If not set, backoff.DefaultStrategy() (3^attempt seconds with
// ±50% jitter) is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithDefaultTimeout sets the execution deadline applied to jobs that
// carry no per-job timeout of their own (job.WithTimeout). Zero disables
// the deadline entirely.
func WithDefaultTimeout(d time.Duration) Option {
	return func(eng *Engine) {
		eng.defaultTimeout = d
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an already-configured Server. The
// Server's store must implement job.Store, dlq.Store, recurring.Store,
// and roster.Store — in practice, store.Store.
func Build(srv *jobrunr.Server, opts ...Option) (*Engine, error) {
	logger := srv.Logger()
	rawStore := srv.Store()
	if rawStore == nil {
		return nil, jobrunr.ErrNoStore
	}

	js, ok := rawStore.(job.Store)
	if !ok {
		return nil, fmt.Errorf("jobrunr: store does not implement job.Store")
	}
	ds, ok := rawStore.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("jobrunr: store does not implement dlq.Store")
	}
	rs, ok := rawStore.(recurring.Store)
	if !ok {
		return nil, fmt.Errorf("jobrunr: store does not implement recurring.Store")
	}
	ros, ok := rawStore.(roster.Store)
	if !ok {
		return nil, fmt.Errorf("jobrunr: store does not implement roster.Store")
	}

	eng := &Engine{
		srv:            srv,
		serverID:       id.NewServerID(),
		extensions:     ext.NewRegistry(logger),
		filters:        jobfilter.NewRegistry(),
		registry:       job.NewRegistry(),
		jobStore:       js,
		recurringStore: rs,
		defaultTimeout: defaultJobTimeout,
		logger:         logger,
	}

	for _, opt := range opts {
		opt(eng)
	}

	if eng.bo == nil {
		eng.bo = backoff.DefaultStrategy()
	}

	config := srv.Config()
	eng.filters.Register(jobfilter.NewRetryFilter(config.MaxRetries, eng.bo, clock.System{}))

	eng.dlqService = dlq.NewService(ds, js)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/daniiell3/jobrunr")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/daniiell3/jobrunr")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension alongside whatever
	// the caller registered via WithExtension.
	eng.extensions.Register(observability.NewMetricsExtension())

	// Default middleware stack: recover → tracing → metrics → logging →
	// scope → per-job timeout, followed by anything WithMiddleware added.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		perJobTimeout(logger, eng.defaultTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	eng.executor = pool.NewExecutor(
		eng.registry,
		eng.extensions,
		eng.filters,
		js,
		eng.dlqService,
		clock.System{},
		eng.serverID.String(),
		logger,
		allMws...,
	)

	eng.pool = pool.NewPool(eng.executor, logger, pool.WithConcurrency(config.WorkerPoolSize))

	eng.coord = coordinator.New(
		eng.serverID,
		config,
		js,
		rs,
		ros,
		eng.pool,
		eng.extensions,
		eng.filters,
		logger,
	)
	eng.pool.SetOnIdle(eng.coord.NotifyIdle)

	eng.notifier = notifier.New(js, ros, logger, config.ChangeNotificationRateLimit)

	srv.SetPool(eng.pool)
	srv.SetCoordinator(eng.coord)
	srv.SetExtensions(eng.extensions)

	return eng, nil
}

// perJobTimeout enforces an execution deadline per job: a per-job
// timeout set via job.WithTimeout (carried in Metadata["timeout"])
// overrides def; def itself is skipped entirely when zero.
func perJobTimeout(logger *slog.Logger, def time.Duration) mw.Middleware {
	return func(ctx context.Context, j *job.Job, next mw.Handler) error {
		d := def
		if raw, ok := j.Metadata["timeout"]; ok {
			if parsed, err := time.ParseDuration(raw); err == nil {
				d = parsed
			}
		}
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job timeout set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) {
	job.RegisterDefinition(eng.registry, def)
}

// Enqueue creates and persists a job with a typed payload, immediately
// ENQUEUED unless job.WithRunAt schedules it for the future.
func Enqueue[T any](ctx context.Context, eng *Engine, name string, payload T, opts ...job.Option) (*job.Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload for job %q: %w", name, err)
	}
	return eng.EnqueueRaw(ctx, name, data, opts...)
}

// EnqueueRaw enqueues a job with a pre-serialized payload.
func (eng *Engine) EnqueueRaw(ctx context.Context, name string, payload []byte, opts ...job.Option) (*job.Job, error) {
	appID, orgID := scope.Capture(ctx)

	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	details := job.Details{Name: name, Queue: jobOpts.Queue, Payload: payload}

	now := time.Now().UTC()
	var initial job.State
	if !jobOpts.RunAt.IsZero() && jobOpts.RunAt.After(now) {
		initial = job.NewScheduled(jobOpts.RunAt, "scheduled at enqueue time")
	} else {
		initial = job.NewEnqueued(now)
	}

	j := job.New(id.NewJobID(), details, initial)
	j.Priority = jobOpts.Priority
	j.ScopeAppID = appID
	j.ScopeOrgID = orgID
	if jobOpts.Timeout > 0 {
		j.Metadata = map[string]string{"timeout": jobOpts.Timeout.String()}
	}

	if err := eng.jobStore.Save(ctx, j); err != nil {
		return nil, err
	}

	if initial.Name == job.Enqueued {
		eng.extensions.EmitJobEnqueued(ctx, j)
	}
	return j, nil
}

// RegisterRecurring registers a typed recurring job definition. Its
// first occurrence is materialized by the coordinator's next master
// tick, not by this call.
func RegisterRecurring[T any](ctx context.Context, eng *Engine, def *recurring.Definition[T]) error {
	payload, err := json.Marshal(def.Payload)
	if err != nil {
		return fmt.Errorf("marshal recurring payload for %q: %w", def.Name, err)
	}

	rj := &recurring.Job{
		ID:       def.ID,
		Details:  job.Details{Name: def.Name, Queue: def.Queue, Payload: payload},
		Schedule: def.Schedule,
		Zone:     def.Zone,
	}
	return eng.recurringStore.SaveRecurring(ctx, rj)
}

// DeleteRecurring removes a recurring job definition. Any SCHEDULED
// occurrence already materialized from it is purged in the same call;
// occurrences that have moved on to ENQUEUED or PROCESSING are left to
// run to completion.
func (eng *Engine) DeleteRecurring(ctx context.Context, recurringID string) error {
	return eng.recurringStore.Delete(ctx, recurringID)
}

// Delete transitions j to DELETED on top of whatever state it
// currently occupies and, if a worker is currently executing it,
// cooperatively cancels that worker's context so a well-behaved
// handler stops as soon as it next observes ctx.Done(). The save races
// against whatever the job is doing concurrently — a PROCESSING
// heartbeat, or the executor persisting its own terminal state — so a
// ConcurrentModificationError is resolved by reloading and retrying
// against the latest version rather than treated as fatal.
func (eng *Engine) Delete(ctx context.Context, jobID id.JobID) error {
	j, err := eng.jobStore.GetByID(ctx, jobID)
	if err != nil {
		return err
	}

	for {
		if j.StateName() == job.Deleted {
			return nil
		}

		j.AppendState(job.NewDeleted(time.Now().UTC(), "deleted by request"))

		saveErr := eng.jobStore.Save(ctx, j)
		if saveErr == nil {
			break
		}
		var cmErr *job.ConcurrentModificationError
		if !errors.As(saveErr, &cmErr) {
			return saveErr
		}

		j, err = eng.jobStore.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
	}

	eng.extensions.EmitJobDeleted(ctx, j, "deleted by request")
	eng.pool.CancelJob(jobID.String())
	return nil
}

// Start starts the coordinator and the worker pool.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.srv.Start(ctx)
}

// Stop stops the storage-change notifier, then gracefully shuts down
// the worker pool and coordinator and closes the store.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.notifier.Stop()
	return eng.srv.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Filters returns the job filter registry.
func (eng *Engine) Filters() *jobfilter.Registry { return eng.filters }

// Registry returns the job handler registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Server returns the underlying Server.
func (eng *Engine) Server() *jobrunr.Server { return eng.srv }

// DLQService returns the engine's DLQ service for replay and inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqService }

// Notifier returns the change notifier dashboards and monitors can
// subscribe listeners to.
func (eng *Engine) Notifier() *notifier.Notifier { return eng.notifier }

// Pool returns the worker pool.
func (eng *Engine) Pool() *pool.Pool { return eng.pool }
