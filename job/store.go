package job

import (
	"context"

	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
}

// Stats is a point-in-time census of jobs by status.
type Stats struct {
	Queued     int64 `json:"queued"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// Active returns the number of jobs counted against the admission limit.
func (s Stats) Active() int64 { return s.Queued + s.Processing }

// Store defines the persistence contract for conversion jobs.
//
// All state transitions go through the store so that every backend
// enforces the state machine and the admission limit atomically.
// Methods that return a *Job return a snapshot: mutating it does not
// affect persisted state.
type Store interface {
	// AdmitJob atomically checks the active-job count against limit and,
	// if capacity remains, persists j in queued state with QueuedAt set.
	// When the count of queued plus processing jobs is already at or
	// above limit it returns a *ppt2img.BusyError and persists nothing.
	// A limit of zero or below disables the check.
	AdmitJob(ctx context.Context, j *Job, limit int) error

	// DequeueJobs atomically claims up to limit queued jobs in FIFO order
	// by QueuedAt, sets them to processing with StartedAt, and returns
	// them. An empty slice means no work is available.
	DequeueJobs(ctx context.Context, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// ListJobs returns jobs ordered newest-first by creation time.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// UpdateProgress records conversion progress for a processing job.
	// Percent is clamped to [0,100] and never regresses; done and total
	// update the page counters. It returns the committed snapshot. Calls
	// against a job that is not processing fail with
	// ppt2img.ErrInvalidTransition (or ErrAlreadyTerminal).
	UpdateProgress(ctx context.Context, jobID id.JobID, percent, done, total int) (*Job, error)

	// CompleteJob moves a processing job to completed, stores the
	// artifacts, forces Progress to 100, and sets CompletedAt. It returns
	// the committed snapshot.
	CompleteJob(ctx context.Context, jobID id.JobID, artifacts []Artifact) (*Job, error)

	// FailJob moves a processing job to failed with the given message and
	// sets CompletedAt. It returns the committed snapshot.
	FailJob(ctx context.Context, jobID id.JobID, errMsg string) (*Job, error)

	// InsertCompleted persists a job directly in completed state,
	// bypassing admission and the state machine. Used by startup recovery
	// to restore jobs whose artifacts survived a restart. Fails with
	// ppt2img.ErrJobAlreadyExists if the ID is taken.
	InsertCompleted(ctx context.Context, j *Job) error

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// Stats returns a census of jobs by status.
	Stats(ctx context.Context) (Stats, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
