package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	jobrunr "github.com/daniiell3/jobrunr"
	"github.com/daniiell3/jobrunr/clock"
	"github.com/daniiell3/jobrunr/concurrency"
	"github.com/daniiell3/jobrunr/cronexpr"
	"github.com/daniiell3/jobrunr/election"
	"github.com/daniiell3/jobrunr/ext"
	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/jobfilter"
	"github.com/daniiell3/jobrunr/recurring"
	"github.com/daniiell3/jobrunr/roster"
)

// pageSize bounds every "page through until empty" master task batch.
const pageSize = 1000

// maxHeartbeatBatch bounds the single-page read used to heartbeat this
// server's own processing jobs; it is not a drain loop, since jobs
// owned by other servers that appear in the same page would otherwise
// never leave the front of an ascending-by-updatedAt scan.
const maxHeartbeatBatch = 1000

// maxConsecutiveTickExceptions is the number of back-to-back failing
// ticks tolerated before the coordinator stops itself: the first five
// are logged as warnings, the sixth triggers shutdown.
const maxConsecutiveTickExceptions = 6

// maxSaveBatchAttempts bounds how many times saveBatch re-resolves a
// ConcurrentModificationError against a fresh remote copy before giving
// up; a conflict storm beyond this is treated as fatal rather than
// retried indefinitely within a single tick.
const maxSaveBatchAttempts = 5

// Pool is the bounded execution surface the coordinator feeds. It is
// satisfied by *pool.Pool; declared locally to avoid a direct
// dependency from coordinator on pool's internals.
type Pool interface {
	Available() int
	Submit(ctx context.Context, j *job.Job) bool
}

// WorkDistributionStrategy decides how many ENQUEUED jobs to pull on a
// given tick, based on how much free capacity the local pool reports.
type WorkDistributionStrategy interface {
	NextPage(available int) job.PageRequest
}

// DefaultWorkDistributionStrategy pulls exactly as many jobs as the
// pool has free worker slots for.
type DefaultWorkDistributionStrategy struct{}

// NextPage returns a PageRequest with Limit equal to available, or a
// zero-limit request if there is no free capacity.
func (DefaultWorkDistributionStrategy) NextPage(available int) job.PageRequest {
	if available <= 0 {
		return job.PageRequest{}
	}
	return job.PageRequest{Limit: available}
}

// Coordinator is the JobZooKeeper-equivalent control loop run by a
// single server instance.
type Coordinator struct {
	serverID id.ServerID
	config   jobrunr.Config

	jobStore       job.Store
	recurringStore recurring.Store
	rosterStore    roster.Store

	pool       Pool
	extensions *ext.Registry
	filters    *jobfilter.Registry
	resolver   *concurrency.Resolver
	strategy   WorkDistributionStrategy
	exprCache  *cronexpr.Cache
	clock      clock.Clock
	logger     *slog.Logger

	firstHeartbeat time.Time

	started atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	tickMu sync.Mutex
	pullMu sync.Mutex

	exceptionCount atomic.Int32
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithStrategy overrides the default work distribution strategy.
func WithStrategy(s WorkDistributionStrategy) Option {
	return func(c *Coordinator) { c.strategy = s }
}

// WithResolver overrides the default concurrent-modification resolver.
func WithResolver(r *concurrency.Resolver) Option {
	return func(c *Coordinator) { c.resolver = r }
}

// WithClock overrides the coordinator's time source. Tests use this to
// inject clock.Fake.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// New creates a Coordinator. filters may be nil if no job filters are
// registered.
func New(
	serverID id.ServerID,
	config jobrunr.Config,
	jobStore job.Store,
	recurringStore recurring.Store,
	rosterStore roster.Store,
	pool Pool,
	extensions *ext.Registry,
	filters *jobfilter.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		serverID:       serverID,
		config:         config,
		jobStore:       jobStore,
		recurringStore: recurringStore,
		rosterStore:    rosterStore,
		pool:           pool,
		extensions:     extensions,
		filters:        filters,
		resolver:       concurrency.NewResolver(nil),
		strategy:       DefaultWorkDistributionStrategy{},
		exprCache:      cronexpr.NewCache(),
		clock:          clock.System{},
		logger:         logger,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start announces this server in the roster and launches the tick
// loop. It is idempotent; calling Start on an already-started
// Coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	now := c.clock.Now()
	c.firstHeartbeat = now
	status := &roster.Status{
		ID:             c.serverID,
		WorkerPoolSize: c.config.WorkerPoolSize,
		PollInterval:   c.config.PollInterval,
		FirstHeartbeat: now,
		LastHeartbeat:  now,
		Running:        true,
	}
	if err := c.rosterStore.Announce(ctx, status); err != nil {
		c.started.Store(false)
		return fmt.Errorf("coordinator: announce server: %w", err)
	}

	c.wg.Add(1)
	go c.run(ctx)
	return nil
}

// Stop signals the tick loop to exit, waits for the in-flight tick (if
// any) to finish, and deregisters this server from the roster.
func (c *Coordinator) Stop(ctx context.Context) error {
	if !c.started.CompareAndSwap(true, false) {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()

	if err := c.rosterStore.Remove(ctx, c.serverID); err != nil {
		c.logger.Warn("coordinator: failed to deregister server", slog.String("error", err.Error()))
	}
	return nil
}

// NotifyIdle opportunistically triggers an enqueued-work pull outside
// the poll-interval wait, the only cross-goroutine entry point into
// the coordinator's pull path. pullEnqueuedWork's own tryLock makes
// this safe to call concurrently with a tick's own pull.
func (c *Coordinator) NotifyIdle() {
	go func() {
		if err := c.pullEnqueuedWork(context.Background()); err != nil {
			c.logger.Warn("coordinator: opportunistic pull failed", slog.String("error", err.Error()))
		}
	}()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// tick enforces the non-reentrant invariant: if the previous tick is
// still running when the next one fires, the next is skipped entirely.
func (c *Coordinator) tick(ctx context.Context) {
	if !c.tickMu.TryLock() {
		return
	}
	defer c.tickMu.Unlock()

	if err := c.runTick(ctx); err != nil {
		if errors.Is(err, jobrunr.ErrStoreUnavailable) {
			c.logger.Warn("coordinator: storage unavailable, skipping rest of tick",
				slog.String("error", err.Error()))
			return
		}
		n := c.exceptionCount.Add(1)
		c.logger.Warn("coordinator: tick failed",
			slog.Int("consecutive_exceptions", int(n)),
			slog.String("error", err.Error()),
		)
		if n >= maxConsecutiveTickExceptions {
			c.logger.Error("coordinator: too many consecutive tick exceptions, shutting down")
			go func() {
				if stopErr := c.Stop(context.Background()); stopErr != nil {
					c.logger.Error("coordinator: shutdown after exception threshold failed",
						slog.String("error", stopErr.Error()))
				}
			}()
		}
		return
	}
	c.exceptionCount.Store(0)
}

func (c *Coordinator) runTick(ctx context.Context) error {
	now := c.clock.Now()

	if err := c.heartbeatSelf(ctx, now); err != nil {
		return fmt.Errorf("heartbeat self: %w", err)
	}

	canOnboard := c.pool.Available() > 0

	if canOnboard {
		servers, err := c.rosterStore.ListServers(ctx)
		if err != nil {
			return fmt.Errorf("list servers: %w", err)
		}
		if election.IsMaster(servers, c.serverID, now, c.config.PollInterval) {
			if err := c.runMasterTasks(ctx, now); err != nil {
				return err
			}
		}
	}

	if err := c.heartbeatProcessing(ctx, now); err != nil {
		return fmt.Errorf("heartbeat processing jobs: %w", err)
	}

	if canOnboard {
		if err := c.pullEnqueuedWork(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (c *Coordinator) heartbeatSelf(ctx context.Context, now time.Time) error {
	status := &roster.Status{
		ID:             c.serverID,
		WorkerPoolSize: c.config.WorkerPoolSize,
		PollInterval:   c.config.PollInterval,
		FirstHeartbeat: c.firstHeartbeat,
		LastHeartbeat:  now,
		Running:        true,
	}
	return c.rosterStore.Heartbeat(ctx, status)
}

func (c *Coordinator) heartbeatProcessing(ctx context.Context, now time.Time) error {
	jobs, err := c.jobStore.GetByState(ctx, job.Processing, job.PageRequest{Limit: maxHeartbeatBatch})
	if err != nil {
		return fmt.Errorf("get processing jobs: %w", err)
	}

	mine := jobs[:0]
	for _, j := range jobs {
		if j.State().ServerID == c.serverID.String() {
			mine = append(mine, j)
		}
	}
	if len(mine) == 0 {
		return nil
	}

	return c.refreshProcessing(ctx, mine, now)
}

// refreshProcessing advances each job's current PROCESSING entry's
// UpdatedAt in place, via Job.ReplaceLastState, instead of running it
// through electAndApply: a heartbeat refreshes liveness, it is not a
// state transition, and appending a fresh PROCESSING entry every poll
// interval would grow a long-running job's history without bound.
func (c *Coordinator) refreshProcessing(ctx context.Context, jobs []*job.Job, now time.Time) error {
	previous := make([]job.State, len(jobs))
	for i, j := range jobs {
		previous[i] = j.State()
		s := previous[i]
		j.ReplaceLastState(job.NewProcessing(s.StartedAt, now, s.ServerID))
	}

	if err := c.saveBatch(ctx, jobs); err != nil {
		for i, j := range jobs {
			j.ReplaceLastState(previous[i])
		}
		return err
	}
	return nil
}

func (c *Coordinator) pullEnqueuedWork(ctx context.Context) error {
	if !c.pullMu.TryLock() {
		return nil
	}
	defer c.pullMu.Unlock()

	page := c.strategy.NextPage(c.pool.Available())
	if page.Limit == 0 {
		return nil
	}

	jobs, err := c.jobStore.GetByState(ctx, job.Enqueued, page)
	if err != nil {
		return fmt.Errorf("get enqueued jobs: %w", err)
	}

	for _, j := range jobs {
		if !c.pool.Submit(ctx, j) {
			c.logger.Debug("coordinator: pool at capacity, leaving job enqueued for next tick",
				slog.String("job_id", j.ID.String()))
			return nil
		}
	}
	return nil
}

// electAndApply proposes a next state for each job in jobs (via
// propose), appends it, runs it through the election phase, persists
// the batch with concurrent-modification resolution, then runs the
// applied phase. It mirrors pool.Executor.apply but operates on a
// whole batch at once, since master tasks transition many jobs
// together.
//
// proposed is always appended before election runs, so a filter that
// elects something else (e.g. the retry filter turning a FAILED
// proposal into a SCHEDULED retry) adds a second entry on top of it
// rather than replacing it — the FAILED entry must survive in History
// for CountState-based bookkeeping to see it.
func (c *Coordinator) electAndApply(ctx context.Context, jobs []*job.Job, propose func(*job.Job) job.State) error {
	if len(jobs) == 0 {
		return nil
	}

	previous := make([]job.State, len(jobs))
	elected := make([]job.State, len(jobs))
	appended := make([]int, len(jobs))
	for i, j := range jobs {
		previous[i] = j.State()
		proposed := propose(j)
		j.AppendState(proposed)
		appended[i] = 1

		elected[i] = proposed
		if c.filters != nil {
			elected[i] = c.filters.Elect(ctx, j, proposed)
		}
		if elected[i] != proposed {
			j.AppendState(elected[i])
			appended[i] = 2
		}
	}

	if err := c.saveBatch(ctx, jobs); err != nil {
		for i, j := range jobs {
			j.History = j.History[:len(j.History)-appended[i]]
		}
		return err
	}

	if c.filters != nil {
		for i, j := range jobs {
			c.filters.Applied(ctx, j, previous[i], elected[i])
		}
	}
	return nil
}

// saveBatch persists jobs, reconciling any ConcurrentModificationError
// through the resolver. ErrRetryTick drops the batch (logged, not
// treated as an error); any other resolver outcome is fatal and
// propagates, incrementing the tick's exception counter. The resolved
// retry is itself subject to the same reconciliation, up to
// maxSaveBatchAttempts, so a second conflict on the retry save is never
// a surprise fatal error at the tick level.
func (c *Coordinator) saveBatch(ctx context.Context, jobs []*job.Job) error {
	for attempt := 0; attempt < maxSaveBatchAttempts; attempt++ {
		err := c.jobStore.SaveBatch(ctx, jobs)
		var cmErr *job.ConcurrentModificationError
		if !errors.As(err, &cmErr) {
			return err
		}

		retry, resolveErr := c.resolver.Resolve(jobs, cmErr)
		if errors.Is(resolveErr, concurrency.ErrRetryTick) {
			c.logger.Info("coordinator: dropping batch after conflicting remote state", slog.Int("count", len(jobs)))
			return nil
		}
		if resolveErr != nil {
			return resolveErr
		}
		jobs = retry
	}
	return fmt.Errorf("coordinator: gave up after %d attempts reconciling concurrent modification", maxSaveBatchAttempts)
}

func (c *Coordinator) runMasterTasks(ctx context.Context, now time.Time) error {
	if err := c.materializeRecurring(ctx, now); err != nil {
		return fmt.Errorf("materialize recurring jobs: %w", err)
	}
	if err := c.enqueueScheduledDue(ctx, now); err != nil {
		return fmt.Errorf("enqueue scheduled jobs: %w", err)
	}
	if err := c.reapOrphaned(ctx, now); err != nil {
		return fmt.Errorf("reap orphaned jobs: %w", err)
	}
	if err := c.retireSucceeded(ctx, now); err != nil {
		return fmt.Errorf("retire succeeded jobs: %w", err)
	}
	if err := c.purgeDeleted(ctx, now); err != nil {
		return fmt.Errorf("purge deleted jobs: %w", err)
	}
	return nil
}

func (c *Coordinator) materializeRecurring(ctx context.Context, now time.Time) error {
	defs, err := c.recurringStore.List(ctx)
	if err != nil {
		return fmt.Errorf("list recurring jobs: %w", err)
	}

	var materialized []*job.Job
	for _, def := range defs {
		exists, err := c.jobStore.ExistsBySignature(ctx, def.Details.Signature(), job.Scheduled, job.Enqueued, job.Processing)
		if err != nil {
			return fmt.Errorf("check existing occurrence for recurring job %q: %w", def.ID, err)
		}
		if exists {
			continue
		}

		expr, err := c.exprCache.Get(def.Schedule, def.Zone)
		if err != nil {
			c.logger.Warn("coordinator: invalid recurring job schedule",
				slog.String("recurring_id", def.ID), slog.String("error", err.Error()))
			continue
		}

		rid := def.ID
		next := expr.NextInstantAfter(now)
		j := job.New(id.NewJobID(), def.Details, job.NewScheduled(next, "recurring job materialization"))
		j.RecurringJobID = &rid
		materialized = append(materialized, j)
	}

	if err := c.saveBatch(ctx, materialized); err != nil {
		return fmt.Errorf("save materialized occurrences: %w", err)
	}
	for _, j := range materialized {
		c.extensions.EmitRecurringFired(ctx, *j.RecurringJobID, j.ID)
	}
	return nil
}

func (c *Coordinator) enqueueScheduledDue(ctx context.Context, now time.Time) error {
	cutoff := now.Add(c.config.PollInterval)
	for {
		jobs, err := c.jobStore.GetScheduledBefore(ctx, cutoff, job.PageRequest{Limit: pageSize})
		if err != nil {
			return fmt.Errorf("get scheduled jobs due: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		if err := c.electAndApply(ctx, jobs, func(*job.Job) job.State {
			return job.NewEnqueued(now)
		}); err != nil {
			return fmt.Errorf("enqueue due scheduled jobs: %w", err)
		}
		if len(jobs) < pageSize {
			return nil
		}
	}
}

func (c *Coordinator) reapOrphaned(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-c.config.OrphanThreshold())
	for {
		jobs, err := c.jobStore.GetByStateUpdatedBefore(ctx, job.Processing, cutoff, job.PageRequest{Limit: pageSize})
		if err != nil {
			return fmt.Errorf("get orphaned jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		if err := c.electAndApply(ctx, jobs, func(*job.Job) job.State {
			return job.NewFailed(now, "OrphanedJobException", "Orphaned job", "")
		}); err != nil {
			return fmt.Errorf("reap orphaned jobs: %w", err)
		}
		if len(jobs) < pageSize {
			return nil
		}
	}
}

func (c *Coordinator) retireSucceeded(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-c.config.DeleteSucceededJobsAfter)
	var total int
	for {
		jobs, err := c.jobStore.GetByStateUpdatedBefore(ctx, job.Succeeded, cutoff, job.PageRequest{Limit: pageSize})
		if err != nil {
			return fmt.Errorf("get succeeded jobs for retention: %w", err)
		}
		if len(jobs) == 0 {
			break
		}
		if err := c.electAndApply(ctx, jobs, func(*job.Job) job.State {
			return job.NewDeleted(now, "succeeded retention window elapsed")
		}); err != nil {
			return fmt.Errorf("retire succeeded jobs: %w", err)
		}
		total += len(jobs)
		if len(jobs) < pageSize {
			break
		}
	}
	if total > 0 {
		if err := c.jobStore.PublishStatCounter(ctx, job.Succeeded, int64(total)); err != nil {
			c.logger.Warn("coordinator: failed to publish succeeded stat counter", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (c *Coordinator) purgeDeleted(ctx context.Context, now time.Time) error {
	cutoff := now.Add(-c.config.PermanentlyDeleteDeletedJobsAfter)
	n, err := c.jobStore.DeleteByStateUpdatedBefore(ctx, job.Deleted, cutoff)
	if err != nil {
		return fmt.Errorf("purge deleted jobs: %w", err)
	}
	if n > 0 {
		c.logger.Debug("coordinator: purged deleted jobs", slog.Int("count", n))
	}
	return nil
}
