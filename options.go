package ppt2img

import (
	"context"
	"log/slog"
)

// Option configures a Service.
type Option func(*Service) error

// Storer is the minimal store interface held by the Service. It covers
// lifecycle operations only; the full contract (job.Store) is used by the
// subsystem layers, which would otherwise create an import cycle with
// this package.
type Storer interface {
	Ping(ctx context.Context) error
	Close() error
}

// poolRunner is an internal interface for worker pool lifecycle.
type poolRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// hookEmitter is an internal interface for lifecycle shutdown events.
type hookEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Service is the central coordinator for conversion job processing.
//
// Create one with New() and functional options, then use engine.Build to
// wire the store, worker pool, fan-out broker, and callback notifier
// together. The Service holds subsystem references via internal
// interfaces to avoid import cycles.
type Service struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  hookEmitter
	pool   poolRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Service with the given options.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the service's logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// Store returns the service's store.
func (s *Service) Store() Storer { return s.store }

// Config returns a copy of the service's configuration.
func (s *Service) Config() Config { return s.config }

// SetPool sets the worker pool (called by the engine package).
func (s *Service) SetPool(p poolRunner) { s.pool = p }

// SetHooks sets the lifecycle hook emitter (called by the engine package).
func (s *Service) SetHooks(h hookEmitter) { s.hooks = h }

// Start begins job processing.
func (s *Service) Start(ctx context.Context) error {
	if s.pool == nil {
		return ErrNoStore
	}
	if err := s.pool.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the service: the pool drains in-flight
// conversions (bounded by ctx), shutdown hooks fire, and the store closes.
func (s *Service) Stop(ctx context.Context) error {
	if s.pool != nil && s.started {
		if err := s.pool.Stop(ctx); err != nil {
			s.logger.Error("pool stop error", "error", err)
		}
	}
	if s.hooks != nil {
		s.hooks.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of concurrent conversion workers.
func WithConcurrency(n int) Option {
	return func(s *Service) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithMaxActiveJobs sets the admission limit on queued plus processing jobs.
func WithMaxActiveJobs(n int) Option {
	return func(s *Service) error {
		s.config.MaxActiveJobs = n
		return nil
	}
}

// WithLogger sets the structured logger for the service.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the service. The store must
// implement Storer at minimum; typically it is a job.Store.
func WithStore(st Storer) Option {
	return func(s *Service) error {
		s.store = st
		return nil
	}
}

// WithConfig replaces the whole configuration in one call.
func WithConfig(cfg Config) Option {
	return func(s *Service) error {
		s.config = cfg
		return nil
	}
}

// WithOutputRoot sets the directory for rendered slide images.
func WithOutputRoot(dir string) Option {
	return func(s *Service) error {
		s.config.OutputRoot = dir
		return nil
	}
}

// WithUploadRoot sets the directory for uploaded source decks.
func WithUploadRoot(dir string) Option {
	return func(s *Service) error {
		s.config.UploadRoot = dir
		return nil
	}
}
