// Package worker provides the conversion execution engine — an Executor
// that runs one job through the pipeline and middleware, and a Pool that
// manages concurrent worker goroutines polling the store for queued
// jobs.
package worker

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/convert"
	"github.com/pengcunfu/YushuRobotPPT2IMG/hook"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
	"github.com/pengcunfu/YushuRobotPPT2IMG/middleware"
	"github.com/pengcunfu/YushuRobotPPT2IMG/storage"
)

// Executor runs a single job through the middleware chain and the
// conversion pipeline, uploads the resulting images when an uploader is
// configured, and funnels every outcome through the store so lifecycle
// hooks always observe committed state.
type Executor struct {
	pipeline   convert.Pipeline
	store      job.Store
	hooks      *hook.Registry
	uploader   storage.Uploader
	mw         middleware.Middleware
	logger     *slog.Logger
	bucket     string
	outputRoot string
	urlExpiry  time.Duration
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithUploader enables object-storage upload of rendered images.
func WithUploader(u storage.Uploader) ExecutorOption {
	return func(e *Executor) { e.uploader = u }
}

// WithBucket sets the destination bucket for uploads.
func WithBucket(bucket string) ExecutorOption {
	return func(e *Executor) { e.bucket = bucket }
}

// WithOutputRoot sets the directory holding per-job output folders.
func WithOutputRoot(dir string) ExecutorOption {
	return func(e *Executor) { e.outputRoot = dir }
}

// WithURLExpiry sets the lifetime of presigned artifact URLs.
func WithURLExpiry(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.urlExpiry = d }
}

// WithMiddleware wraps job execution in the given middleware chain.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// NewExecutor creates an Executor.
func NewExecutor(
	pipeline convert.Pipeline,
	store job.Store,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		pipeline:   pipeline,
		store:      store,
		hooks:      hooks,
		mw:         middleware.Chain(),
		logger:     logger,
		bucket:     "images",
		outputRoot: "outputs",
		urlExpiry:  storage.DefaultURLExpiry,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a dequeued job to a terminal state.
// On success: artifacts are recorded, the job is marked completed, and
// JobCompleted fires. On failure: the job is marked failed with the
// error text and JobFailed fires. The returned error reports execution
// failure to the pool for logging only; job state is already committed.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	start := time.Now()
	outputDir := filepath.Join(e.outputRoot, j.ID.String())

	var artifacts []job.Artifact
	terminal := func(ctx context.Context) error {
		arts, err := e.pipeline.Convert(ctx, convert.Request{
			SourcePath: j.Source.Path,
			SourceURL:  j.Source.URL,
			Name:       j.Source.Name,
			Width:      j.Width,
			Height:     j.Height,
			OutputDir:  outputDir,
		}, e.progressFunc(ctx, j))
		if err != nil {
			return err
		}
		if e.uploader != nil {
			arts, err = e.upload(ctx, j, outputDir, arts)
			if err != nil {
				return err
			}
		}
		artifacts = arts
		return nil
	}

	err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.handleFailure(ctx, j, err)
	}
	return e.handleSuccess(ctx, j, artifacts, elapsed)
}

// progressFunc adapts pipeline progress into store updates and hook
// emissions. Hooks receive the committed snapshot, never the pipeline's
// view of the job.
func (e *Executor) progressFunc(ctx context.Context, j *job.Job) convert.ProgressFunc {
	return func(percent int, message string) {
		snap, err := e.store.UpdateProgress(ctx, j.ID, percent, 0, 0)
		if err != nil {
			e.logger.Warn("progress update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		e.hooks.EmitJobProgress(ctx, snap, snap.Progress, message)
	}
}

// upload pushes each rendered image to object storage and fills in the
// artifact download URLs.
func (e *Executor) upload(ctx context.Context, j *job.Job, outputDir string, arts []job.Artifact) ([]job.Artifact, error) {
	deck := deckName(j)
	total := len(arts)

	for i := range arts {
		objectName := storage.ObjectName(deck, arts[i].Filename)
		localPath := filepath.Join(outputDir, arts[i].Filename)

		if _, err := e.uploader.UploadFile(ctx, e.bucket, objectName, localPath); err != nil {
			return nil, convert.StageError(convert.StageUpload, err)
		}
		url, err := e.uploader.PresignedURL(ctx, e.bucket, objectName, e.urlExpiry)
		if err != nil {
			return nil, convert.StageError(convert.StageUpload, err)
		}
		arts[i].URL = url

		percent := 90 + (i+1)*10/total
		message := convert.StageMessage(convert.StageUpload, "uploading image (%d/%d)", i+1, total)
		snap, err := e.store.UpdateProgress(ctx, j.ID, percent, i+1, total)
		if err != nil {
			e.logger.Warn("progress update failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.hooks.EmitJobProgress(ctx, snap, snap.Progress, message)
	}
	return arts, nil
}

func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, artifacts []job.Artifact, elapsed time.Duration) error {
	snap, err := e.store.CompleteJob(ctx, j.ID, artifacts)
	if err != nil {
		e.logger.Error("failed to mark job completed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.hooks.EmitJobCompleted(ctx, snap, elapsed)

	e.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("source", j.Source.Name),
		slog.Int("pages", len(artifacts)),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (e *Executor) handleFailure(ctx context.Context, j *job.Job, execErr error) error {
	snap, err := e.store.FailJob(ctx, j.ID, execErr.Error())
	if err != nil {
		e.logger.Error("failed to mark job failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	e.hooks.EmitJobFailed(ctx, snap, execErr)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("source", j.Source.Name),
		slog.String("error", execErr.Error()),
	)
	return execErr
}

// deckName derives the storage namespace for a job's images from the
// source filename, falling back to the job ID.
func deckName(j *job.Job) string {
	name := filepath.Base(j.Source.Name)
	if name == "" || name == "." {
		return j.ID.String()
	}
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		return j.ID.String()
	}
	return name
}
