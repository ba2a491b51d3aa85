package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/backoff"
	"github.com/pengcunfu/YushuRobotPPT2IMG/callback"
	"github.com/pengcunfu/YushuRobotPPT2IMG/convert"
	"github.com/pengcunfu/YushuRobotPPT2IMG/hook"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
	mw "github.com/pengcunfu/YushuRobotPPT2IMG/middleware"
	"github.com/pengcunfu/YushuRobotPPT2IMG/recovery"
	"github.com/pengcunfu/YushuRobotPPT2IMG/storage"
	aggstore "github.com/pengcunfu/YushuRobotPPT2IMG/store"
	"github.com/pengcunfu/YushuRobotPPT2IMG/stream"
	"github.com/pengcunfu/YushuRobotPPT2IMG/worker"
)

// Engine wraps a Service with the fully wired conversion subsystems.
// Use Build() to create one.
type Engine struct {
	svc      *ppt2img.Service
	store    job.Store
	hooks    *hook.Registry
	broker   *stream.Broker
	notifier *callback.Notifier
	pool     *worker.Pool
	uploader storage.Uploader
	logger   *slog.Logger
	cfg      ppt2img.Config
	gate     *queuedGate

	mws       []mw.Middleware
	userHooks []hook.Hook

	// OpenTelemetry meter provider (optional; nil means use global).
	meterProvider metric.MeterProvider

	cleanupStop chan struct{}
	cleanupWG   sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithHook registers an additional lifecycle hook with the engine.
func WithHook(h hook.Hook) Option {
	return func(eng *Engine) {
		eng.userHooks = append(eng.userHooks, h)
	}
}

// WithMiddleware adds middleware to the engine's execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithUploader enables object-storage upload of rendered slides.
func WithUploader(u storage.Uploader) Option {
	return func(eng *Engine) {
		eng.uploader = u
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Service and a conversion pipeline.
// The Service's store must implement job.Store.
func Build(svc *ppt2img.Service, pipeline convert.Pipeline, opts ...Option) (*Engine, error) {
	logger := svc.Logger()
	store := svc.Store()

	if store == nil {
		return nil, ppt2img.ErrNoStore
	}
	js, ok := store.(aggstore.Store)
	if !ok {
		return nil, fmt.Errorf("ppt2img: store does not implement store.Store")
	}

	eng := &Engine{
		svc:         svc,
		store:       js,
		logger:      logger,
		cfg:         svc.Config(),
		gate:        newQueuedGate(),
		cleanupStop: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Hook registry with the stream broker and callback notifier first,
	// then any user hooks.
	eng.hooks = hook.NewRegistry(logger)
	eng.broker = stream.NewBroker(logger)
	eng.hooks.Register(eng.broker)

	eng.notifier = callback.NewNotifier(logger,
		callback.WithRetries(eng.cfg.CallbackRetries),
		callback.WithBackoff(backoff.NewConstant(eng.cfg.CallbackDelay)),
		callback.WithHTTPClient(&http.Client{Timeout: eng.cfg.CallbackTimeout}),
	)
	eng.hooks.Register(eng.notifier)

	for _, h := range eng.userHooks {
		eng.hooks.Register(h)
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/pengcunfu/YushuRobotPPT2IMG")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → metrics → logging.
	allMws := []mw.Middleware{
		mw.Recover(logger),
		metricsMw,
		mw.Logging(logger),
	}
	allMws = append(allMws, eng.mws...)

	execOpts := []worker.ExecutorOption{
		worker.WithOutputRoot(eng.cfg.OutputRoot),
		worker.WithBucket(eng.cfg.Bucket),
		worker.WithMiddleware(allMws...),
	}
	if eng.uploader != nil {
		execOpts = append(execOpts, worker.WithUploader(eng.uploader))
	}
	executor := worker.NewExecutor(pipeline, js, eng.hooks, logger, execOpts...)

	eng.pool = worker.NewPool(js, executor, eng.hooks, logger,
		worker.WithPoolConcurrency(eng.cfg.Concurrency),
		worker.WithPollInterval(eng.cfg.PollInterval),
		worker.WithStartSync(eng.gate.wait),
	)

	// Wire back into the Service.
	svc.SetPool(eng.pool)
	svc.SetHooks(eng.hooks)

	return eng, nil
}

// Submit admits a new conversion job. When all execution slots are
// occupied it returns a *ppt2img.BusyError (errors.Is ErrServerBusy)
// and persists nothing; on success the job is queued and JobQueued
// fires. Submit returns as soon as the job is admitted, conversion runs
// in the background.
func (eng *Engine) Submit(ctx context.Context, src job.Source, opts ...job.Option) (*job.Job, error) {
	jobOpts := job.DefaultOptions()
	jobOpts.Width = eng.cfg.DefaultWidth
	jobOpts.Height = eng.cfg.DefaultHeight
	jobOpts.Bucket = eng.cfg.Bucket
	for _, opt := range opts {
		opt(&jobOpts)
	}

	jobID := jobOpts.ID
	if jobID.IsNil() {
		jobID = id.NewJobID()
	}

	j := &job.Job{
		Entity:      ppt2img.NewEntity(),
		ID:          jobID,
		Source:      src,
		Width:       jobOpts.Width,
		Height:      jobOpts.Height,
		Bucket:      jobOpts.Bucket,
		CallbackURL: jobOpts.CallbackURL,
		Status:      job.StatusCreated,
	}

	// Hold dequeuing workers back from emitting started until the
	// queued event is out.
	eng.gate.arm(jobID)
	defer eng.gate.open(jobID)

	if err := eng.store.AdmitJob(ctx, j, eng.cfg.MaxActiveJobs); err != nil {
		return nil, err
	}

	eng.hooks.EmitJobQueued(ctx, j)

	eng.logger.Info("job admitted",
		slog.String("job_id", j.ID.String()),
		slog.String("source", src.Name),
	)
	return j, nil
}

// Job retrieves one job by ID.
func (eng *Engine) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.store.GetJob(ctx, jobID)
}

// Jobs lists jobs newest-first.
func (eng *Engine) Jobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.store.ListJobs(ctx, opts)
}

// Stats returns a census of jobs by status.
func (eng *Engine) Stats(ctx context.Context) (job.Stats, error) {
	return eng.store.Stats(ctx)
}

// Subscribe attaches a stream subscriber to one job's event topic and
// returns the job's current snapshot so the caller can render state
// that predates the subscription.
func (eng *Engine) Subscribe(ctx context.Context, subscriberID string, jobID id.JobID) (*stream.Subscriber, *job.Job, error) {
	snap, err := eng.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	sub := eng.broker.Subscribe(subscriberID, stream.JobTopic(jobID.String()))
	return sub, snap, nil
}

// Unsubscribe removes a subscriber from all topics and closes its
// channel.
func (eng *Engine) Unsubscribe(subscriberID string) {
	eng.broker.RemoveSubscriber(subscriberID)
}

// Start begins job processing: the bucket is ensured, completed jobs
// are recovered from surviving artifacts, the cleanup sweeper starts,
// and the worker pool begins polling.
func (eng *Engine) Start(ctx context.Context) error {
	if eng.uploader != nil {
		if err := eng.uploader.EnsureBucket(ctx, eng.cfg.Bucket); err != nil {
			eng.logger.Warn("bucket check failed",
				slog.String("bucket", eng.cfg.Bucket),
				slog.String("error", err.Error()),
			)
		}
	}

	// Restore completed jobs from a previous run (best-effort).
	scanner := recovery.NewScanner(eng.store, eng.logger, eng.cfg.OutputRoot, eng.cfg.UploadRoot)
	restored, err := scanner.Scan(ctx)
	if err != nil {
		eng.logger.Warn("recovery scan failed", slog.String("error", err.Error()))
	} else if restored > 0 {
		eng.logger.Info("recovered jobs from previous run", slog.Int("count", restored))
	}

	if eng.cfg.CleanupInterval > 0 && eng.cfg.RetainFor > 0 {
		eng.cleanupWG.Add(1)
		go eng.cleanupLoop()
	}

	return eng.svc.Start(ctx)
}

// Stop gracefully shuts down the engine: the sweeper exits, the pool
// drains, shutdown hooks fire (closing stream subscribers and draining
// pending callbacks), and the store closes.
func (eng *Engine) Stop(ctx context.Context) error {
	close(eng.cleanupStop)
	eng.cleanupWG.Wait()
	return eng.svc.Stop(ctx)
}

// Hooks returns the lifecycle hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Broker returns the stream broker for subscriber management.
func (eng *Engine) Broker() *stream.Broker { return eng.broker }

// Service returns the underlying Service.
func (eng *Engine) Service() *ppt2img.Service { return eng.svc }

// WorkerID returns the worker pool's identifier.
func (eng *Engine) WorkerID() id.WorkerID { return eng.pool.WorkerID() }

// cleanupLoop periodically removes outputs and uploads older than the
// retention window.
func (eng *Engine) cleanupLoop() {
	defer eng.cleanupWG.Done()

	ticker := time.NewTicker(eng.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-eng.cleanupStop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-eng.cfg.RetainFor)
			eng.sweep(eng.cfg.OutputRoot, cutoff)
			eng.sweep(eng.cfg.UploadRoot, cutoff)
		}
	}
}

func (eng *Engine) sweep(root string, cutoff time.Time) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			eng.logger.Warn("cleanup failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		eng.logger.Debug("removed expired files", slog.String("path", path))
	}
}
