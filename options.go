package jobrunr

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Server.
type Option func(*Server) error

// Storer is the minimal store interface held by a Server. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
// Implementations satisfy store.Store, which embeds all subsystem
// store interfaces (job, recurring, dlq, roster).
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// coordinatorRunner is an internal interface for the master-tasks and
// enqueued-job tick loop.
type coordinatorRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Server is a single node in a jobrunr cluster. It durably enqueues jobs,
// competes for master status against its peers, and runs a bounded pool
// of workers against a shared StorageProvider.
//
// Create one with New() and functional options, then wire subsystem
// components with the internal Set* methods from the engine package
// before calling Start.
type Server struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	pool       poolRunner
	coord      coordinatorRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Server with the given options.
func New(opts ...Option) (*Server, error) {
	s := &Server{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Logger returns the server's logger.
func (s *Server) Logger() *slog.Logger { return s.logger }

// Store returns the server's store.
func (s *Server) Store() Storer { return s.store }

// Config returns a copy of the server's configuration.
func (s *Server) Config() Config { return s.config }

// SetPool sets the worker pool (called by the engine package).
func (s *Server) SetPool(p poolRunner) { s.pool = p }

// SetCoordinator sets the coordinator (called by the engine package).
func (s *Server) SetCoordinator(c coordinatorRunner) { s.coord = c }

// SetExtensions sets the extension emitter (called by the engine package).
func (s *Server) SetExtensions(e extensionEmitter) { s.extensions = e }

// Start registers this server, then starts the coordinator and the
// worker pool. The coordinator competes for master status and, once
// elected, runs the master-only tasks; every server, master or not,
// dequeues and executes enqueued work through the pool.
func (s *Server) Start(ctx context.Context) error {
	if s.pool == nil || s.coord == nil {
		return ErrNoStore
	}
	if err := s.coord.Start(ctx); err != nil {
		return err
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the server: stop accepting new work, let
// in-flight jobs finish within Config.ShutdownTimeout, then close the
// store.
func (s *Server) Stop(ctx context.Context) error {
	if s.pool != nil && s.started {
		stopCtx := ctx
		if s.config.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			stopCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
			defer cancel()
		}
		if err := s.pool.Stop(stopCtx); err != nil {
			s.logger.Error("pool stop error", "error", err)
		}
	}
	if s.coord != nil && s.started {
		if err := s.coord.Stop(ctx); err != nil {
			s.logger.Error("coordinator stop error", "error", err)
		}
	}
	if s.extensions != nil {
		s.extensions.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithWorkerPoolSize sets the maximum number of jobs this server
// processes concurrently.
func WithWorkerPoolSize(n int) Option {
	return func(s *Server) error {
		s.config.WorkerPoolSize = n
		return nil
	}
}

// WithQueues sets Config.Queues. Enqueued jobs are pulled from every
// queue regardless of this list.
func WithQueues(queues []string) Option {
	return func(s *Server) error {
		s.config.Queues = queues
		return nil
	}
}

// WithPollInterval sets the coordinator's tick cadence. The orphan
// detection threshold scales with it (4x).
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) error {
		s.config.PollInterval = d
		return nil
	}
}

// WithMaxRetries sets how many times the default retry filter retries a
// FAILED job before sending it to the dead-letter queue.
func WithMaxRetries(n int) Option {
	return func(s *Server) error {
		s.config.MaxRetries = n
		return nil
	}
}

// WithLogger sets the structured logger for the server.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the server. The store must
// implement Storer at minimum; typically it will be a store.Store which
// embeds all subsystem store interfaces.
func WithStore(s2 Storer) Option {
	return func(s *Server) error {
		s.store = s2
		return nil
	}
}
