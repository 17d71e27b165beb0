package notifier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/daniiell3/jobrunr/id"
	"github.com/daniiell3/jobrunr/job"
	"github.com/daniiell3/jobrunr/roster"
)

const (
	initialDelay = 3 * time.Second
	period       = 5 * time.Second
)

// StatsListener receives the latest aggregate job counts on every tick.
type StatsListener interface {
	OnStatsChanged(ctx context.Context, stats job.Stats) error
}

// JobListener watches a single job by ID and receives its latest state
// on every tick in which that job still exists.
type JobListener interface {
	JobID() id.JobID
	OnJobChanged(ctx context.Context, j *job.Job) error
}

// ServerListener receives the latest server roster on every tick.
type ServerListener interface {
	OnServersChanged(ctx context.Context, servers []*roster.Status) error
}

// Closer lets a listener release resources when Notifier removes it,
// either explicitly or because the job it watched no longer exists.
type Closer interface {
	Close() error
}

// Notifier runs the single repeating timer that fans out storage
// change notifications. It is safe for concurrent use.
type Notifier struct {
	jobStore    job.Store
	rosterStore roster.Store
	logger      *slog.Logger
	limiter     *rate.Limiter

	mu              sync.Mutex
	statsListeners  []StatsListener
	jobListeners    map[string][]JobListener
	serverListeners []ServerListener
	stopCh          chan struct{}

	starting atomic.Bool
}

// New creates a Notifier. ratePerSecond caps how many times per second
// notifyStats fetches and publishes stats to statsListeners; it does
// not affect job or server listeners, or the fixed tick interval
// itself. A non-positive ratePerSecond falls back to one notification
// per tick (1/period).
func New(jobStore job.Store, rosterStore roster.Store, logger *slog.Logger, ratePerSecond float64) *Notifier {
	if ratePerSecond <= 0 {
		ratePerSecond = float64(time.Second) / float64(period)
	}
	return &Notifier{
		jobStore:     jobStore,
		rosterStore:  rosterStore,
		logger:       logger,
		limiter:      rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		jobListeners: make(map[string][]JobListener),
		stopCh:       make(chan struct{}),
	}
}

// AddStatsListener registers l and starts the fan-out timer if it is
// not already running.
func (n *Notifier) AddStatsListener(l StatsListener) {
	n.mu.Lock()
	n.statsListeners = append(n.statsListeners, l)
	n.mu.Unlock()
	n.ensureStarted()
}

// AddJobListener registers l, grouped by l.JobID(), and starts the
// fan-out timer if it is not already running.
func (n *Notifier) AddJobListener(l JobListener) {
	key := l.JobID().String()
	n.mu.Lock()
	n.jobListeners[key] = append(n.jobListeners[key], l)
	n.mu.Unlock()
	n.ensureStarted()
}

// AddServerListener registers l and starts the fan-out timer if it is
// not already running.
func (n *Notifier) AddServerListener(l ServerListener) {
	n.mu.Lock()
	n.serverListeners = append(n.serverListeners, l)
	n.mu.Unlock()
	n.ensureStarted()
}

// RemoveStatsListener unregisters l. If it was the last listener of
// any kind, the fan-out timer is stopped.
func (n *Notifier) RemoveStatsListener(l StatsListener) {
	n.mu.Lock()
	n.statsListeners = removeListener(n.statsListeners, l)
	empty := n.isEmptyLocked()
	n.mu.Unlock()
	if empty {
		n.Stop()
	}
}

// RemoveJobListener unregisters l. If it was the last listener of any
// kind, the fan-out timer is stopped.
func (n *Notifier) RemoveJobListener(l JobListener) {
	key := l.JobID().String()
	n.mu.Lock()
	n.jobListeners[key] = removeListener(n.jobListeners[key], l)
	if len(n.jobListeners[key]) == 0 {
		delete(n.jobListeners, key)
	}
	empty := n.isEmptyLocked()
	n.mu.Unlock()
	if empty {
		n.Stop()
	}
}

// RemoveServerListener unregisters l. If it was the last listener of
// any kind, the fan-out timer is stopped.
func (n *Notifier) RemoveServerListener(l ServerListener) {
	n.mu.Lock()
	n.serverListeners = removeListener(n.serverListeners, l)
	empty := n.isEmptyLocked()
	n.mu.Unlock()
	if empty {
		n.Stop()
	}
}

func (n *Notifier) isEmptyLocked() bool {
	return len(n.statsListeners) == 0 && len(n.jobListeners) == 0 && len(n.serverListeners) == 0
}

// ensureStarted is the non-blocking tryLock spec describes: if another
// goroutine already flipped starting to true, this call is a no-op
// rather than blocking on it.
func (n *Notifier) ensureStarted() {
	if !n.starting.CompareAndSwap(false, true) {
		return
	}
	n.mu.Lock()
	stopCh := n.stopCh
	n.mu.Unlock()
	go n.loop(stopCh)
}

// Stop cancels the fan-out timer. It is idempotent; calling it when
// the timer is not running is a no-op. A later AddXListener call
// starts a fresh timer.
func (n *Notifier) Stop() {
	if !n.starting.CompareAndSwap(true, false) {
		return
	}
	n.mu.Lock()
	close(n.stopCh)
	n.stopCh = make(chan struct{})
	n.mu.Unlock()
}

func (n *Notifier) loop(stopCh chan struct{}) {
	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-timer.C:
			n.Tick(context.Background())
			timer.Reset(period)
		}
	}
}

// Tick runs one round of notifications: job stats (throttled), then
// per-job updates grouped by job ID, then the server roster. It is
// exported so tests and a coordinator that wants an out-of-band
// refresh can drive it directly instead of waiting on the timer.
// Listener errors are logged and never stop the remaining listeners
// from running.
func (n *Notifier) Tick(ctx context.Context) {
	n.notifyStats(ctx)
	n.notifyJobs(ctx)
	n.notifyServers(ctx)
}

func (n *Notifier) notifyStats(ctx context.Context) {
	n.mu.Lock()
	listeners := append([]StatsListener(nil), n.statsListeners...)
	n.mu.Unlock()
	if len(listeners) == 0 || !n.limiter.Allow() {
		return
	}

	stats, err := n.jobStore.GetStats(ctx)
	if err != nil {
		n.logger.Warn("notifier: failed to fetch job stats", slog.String("error", err.Error()))
		return
	}
	for _, l := range listeners {
		if err := l.OnStatsChanged(ctx, stats); err != nil {
			n.logger.Warn("notifier: stats listener failed", slog.String("error", err.Error()))
		}
	}
}

func (n *Notifier) notifyJobs(ctx context.Context) {
	n.mu.Lock()
	groups := make(map[string][]JobListener, len(n.jobListeners))
	for key, listeners := range n.jobListeners {
		groups[key] = append([]JobListener(nil), listeners...)
	}
	n.mu.Unlock()

	for key, listeners := range groups {
		jobID, err := id.ParseJobID(key)
		if err != nil {
			n.logger.Warn("notifier: invalid job listener key", slog.String("key", key))
			continue
		}

		j, err := n.jobStore.GetByID(ctx, jobID)
		if errors.Is(err, job.ErrNotFound) {
			n.closeJobGroup(key, listeners)
			continue
		}
		if err != nil {
			n.logger.Warn("notifier: failed to fetch job",
				slog.String("job_id", key), slog.String("error", err.Error()))
			continue
		}

		for _, l := range listeners {
			if err := l.OnJobChanged(ctx, j); err != nil {
				n.logger.Warn("notifier: job listener failed",
					slog.String("job_id", key), slog.String("error", err.Error()))
			}
		}
	}
}

// closeJobGroup removes every listener watching a job that no longer
// exists and closes those that implement Closer.
func (n *Notifier) closeJobGroup(key string, listeners []JobListener) {
	n.mu.Lock()
	delete(n.jobListeners, key)
	empty := n.isEmptyLocked()
	n.mu.Unlock()

	for _, l := range listeners {
		if closer, ok := l.(Closer); ok {
			if err := closer.Close(); err != nil {
				n.logger.Warn("notifier: failed to close listener for deleted job",
					slog.String("job_id", key), slog.String("error", err.Error()))
			}
		}
	}
	if empty {
		n.Stop()
	}
}

func (n *Notifier) notifyServers(ctx context.Context) {
	n.mu.Lock()
	listeners := append([]ServerListener(nil), n.serverListeners...)
	n.mu.Unlock()
	if len(listeners) == 0 {
		return
	}

	servers, err := n.rosterStore.ListServers(ctx)
	if err != nil {
		n.logger.Warn("notifier: failed to list servers", slog.String("error", err.Error()))
		return
	}
	for _, l := range listeners {
		if err := l.OnServersChanged(ctx, servers); err != nil {
			n.logger.Warn("notifier: server listener failed", slog.String("error", err.Error()))
		}
	}
}

func removeListener[T comparable](list []T, target T) []T {
	out := make([]T, 0, len(list))
	for _, item := range list {
		if item != target {
			out = append(out, item)
		}
	}
	return out
}
