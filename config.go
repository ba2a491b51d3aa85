package ppt2img

import "time"

// Config holds configuration for the conversion service.
type Config struct {
	// Concurrency is the number of worker goroutines executing conversions.
	Concurrency int

	// MaxActiveJobs is the admission limit: the maximum number of jobs
	// allowed in the queued or processing states at any time. Submissions
	// above the limit are rejected with ErrServerBusy rather than queued
	// unboundedly. Typically equal to Concurrency.
	MaxActiveJobs int

	// PollInterval is how often idle workers poll for queued jobs.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight
	// conversions during graceful shutdown before cancelling them.
	ShutdownTimeout time.Duration

	// OutputRoot is the directory under which per-job slide images are
	// written (one subdirectory per job). It is also the tree scanned at
	// startup to recover completed jobs from a previous run.
	OutputRoot string

	// UploadRoot is the directory holding uploaded source decks.
	UploadRoot string

	// Bucket is the default object-storage bucket for rendered slides.
	Bucket string

	// DefaultWidth and DefaultHeight are the render dimensions used when
	// a submission does not specify them.
	DefaultWidth  int
	DefaultHeight int

	// CallbackTimeout bounds a single webhook delivery request.
	CallbackTimeout time.Duration

	// CallbackRetries is the number of additional delivery attempts after
	// the first failed one.
	CallbackRetries int

	// CallbackDelay is the fixed delay before each callback retry.
	CallbackDelay time.Duration

	// CleanupInterval is how often expired uploads and outputs are swept.
	// Zero disables the sweeper.
	CleanupInterval time.Duration

	// RetainFor is how long job artifacts are kept on disk before the
	// sweeper may remove them.
	RetainFor time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     5,
		MaxActiveJobs:   5,
		PollInterval:    200 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
		OutputRoot:      "outputs",
		UploadRoot:      "uploads",
		Bucket:          "images",
		DefaultWidth:    1920,
		DefaultHeight:   1080,
		CallbackTimeout: 10 * time.Second,
		CallbackRetries: 3,
		CallbackDelay:   5 * time.Second,
		CleanupInterval: time.Hour,
		RetainFor:       24 * time.Hour,
	}
}
