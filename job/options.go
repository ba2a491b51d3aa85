package job

import "github.com/pengcunfu/YushuRobotPPT2IMG/id"

// Options configures per-job render behavior.
type Options struct {
	// ID pre-assigns the job identifier. The zero value means a fresh ID
	// is generated at submission. Upload handlers assign the ID early so
	// the stored file can be named after it before admission.
	ID id.JobID

	// Width is the rendered image width in pixels.
	Width int

	// Height is the rendered image height in pixels.
	Height int

	// Bucket is the object storage bucket for rendered images.
	Bucket string

	// CallbackURL is an HTTP endpoint notified when the job reaches a
	// terminal state. Empty disables callbacks.
	CallbackURL string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Width:  1920,
		Height: 1080,
		Bucket: "images",
	}
}

// Option is a functional option for configuring a job submission.
type Option func(*Options)

// WithJobID pre-assigns the job identifier.
func WithJobID(jobID id.JobID) Option {
	return func(o *Options) {
		o.ID = jobID
	}
}

// WithWidth sets the rendered image width in pixels.
func WithWidth(w int) Option {
	return func(o *Options) {
		o.Width = w
	}
}

// WithHeight sets the rendered image height in pixels.
func WithHeight(h int) Option {
	return func(o *Options) {
		o.Height = h
	}
}

// WithBucket sets the object storage bucket for rendered images.
func WithBucket(b string) Option {
	return func(o *Options) {
		o.Bucket = b
	}
}

// WithCallbackURL sets the terminal-state notification endpoint.
func WithCallbackURL(u string) Option {
	return func(o *Options) {
		o.CallbackURL = u
	}
}
