package pool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/daniiell3/jobrunr/job"
)

// Pool manages a bounded set of worker goroutines that execute jobs
// pulled off a work channel. The coordinator is the only source of
// work: it pulls ENQUEUED jobs from the store and calls Submit, so
// Pool itself never touches storage.
type Pool struct {
	executor    *Executor
	concurrency int
	logger      *slog.Logger

	work chan *job.Job

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu sync.Mutex
	active   map[string]context.CancelFunc

	idleMu sync.RWMutex
	onIdle func()
}

// Option configures a Pool.
type Option func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithOnIdle registers a callback invoked every time a worker finishes
// a job and has a free slot to offer. Set at construction time when
// the caller (the coordinator) already exists; otherwise use SetOnIdle
// once it does.
func WithOnIdle(f func()) Option {
	return func(p *Pool) { p.onIdle = f }
}

// NewPool creates a worker pool around executor.
func NewPool(executor *Executor, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		executor:    executor,
		concurrency: 10,
		logger:      logger,
		stopCh:      make(chan struct{}),
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.work = make(chan *job.Job, p.concurrency)
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting", slog.Int("concurrency", p.concurrency))

	for range p.concurrency {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return nil
}

// Stop signals all workers to stop accepting new work and waits for
// in-flight jobs to finish. If ctx is cancelled first, active jobs are
// cancelled instead of waited on.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping")
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// SetOnIdle registers f as the idle callback after construction,
// resolving the construction-order cycle between a Pool and the
// coordinator that feeds it: the coordinator needs a *Pool to build
// itself, so the pool is constructed first with no callback and wired
// up afterward via SetOnIdle. Safe to call while the pool is running.
func (p *Pool) SetOnIdle(f func()) {
	p.idleMu.Lock()
	p.onIdle = f
	p.idleMu.Unlock()
}

// Available returns how many worker slots are not currently executing
// a job. The coordinator uses this to bound how many ENQUEUED jobs it
// pulls from the store on a given tick.
func (p *Pool) Available() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	n := p.concurrency - len(p.active)
	if n < 0 {
		return 0
	}
	return n
}

// Submit hands j to the pool for execution, blocking until a worker
// slot opens or ctx is cancelled. It returns false if the pool is not
// accepting work (stopped, stopping, or ctx done before a slot freed
// up) so the coordinator can leave j ENQUEUED for the next tick
// instead of losing it.
func (p *Pool) Submit(ctx context.Context, j *job.Job) bool {
	select {
	case <-p.stopCh:
		return false
	default:
	}

	select {
	case p.work <- j:
		return true
	case <-p.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case j := <-p.work:
			p.runOne(j)
		}
	}
}

func (p *Pool) runOne(j *job.Job) {
	ctx, cancel := context.WithCancel(context.Background())
	p.trackActive(j.ID.String(), cancel)
	defer func() {
		p.untrackActive(j.ID.String())
		cancel()

		p.idleMu.RLock()
		onIdle := p.onIdle
		p.idleMu.RUnlock()
		if onIdle != nil {
			onIdle()
		}
	}()

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Debug("job execution returned error",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Details.Name),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) trackActive(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.active[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackActive(jobID string) {
	p.activeMu.Lock()
	delete(p.active, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.active {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}

// CancelJob cancels the context of the in-flight job with the given
// ID, if one is currently running on this pool. It reports whether a
// matching job was found. The engine calls this from Delete so a
// cooperative in-flight job stops as soon as its handler observes
// ctx.Done(), instead of running to completion and overwriting the
// DELETED state with SUCCEEDED or FAILED.
func (p *Pool) CancelJob(jobID string) bool {
	p.activeMu.Lock()
	cancel, ok := p.active[jobID]
	p.activeMu.Unlock()
	if ok {
		p.logger.Info("cancelling deleted job", slog.String("job_id", jobID))
		cancel()
	}
	return ok
}
