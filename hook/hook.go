package hook

import (
	"context"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Hook is the base interface all lifecycle hooks must implement.
type Hook interface {
	// Name returns a unique human-readable name for the hook.
	Name() string
}

// JobQueued is called after a job passes admission and enters the queue.
type JobQueued interface {
	OnJobQueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins converting a deck.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when conversion progress advances. The job
// snapshot reflects the committed store state; stage is a short tag for
// the current phase, e.g. "DOWNLOAD", "CONVERT", "UPLOAD".
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, percent int, stage string) error
}

// JobCompleted is called after all slides rendered successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a conversion fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
