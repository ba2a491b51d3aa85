package job_test

import (
	"errors"
	"testing"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    job.Status
		to      job.Status
		wantErr error
	}{
		{"created to queued", job.StatusCreated, job.StatusQueued, nil},
		{"queued to processing", job.StatusQueued, job.StatusProcessing, nil},
		{"processing to completed", job.StatusProcessing, job.StatusCompleted, nil},
		{"processing to failed", job.StatusProcessing, job.StatusFailed, nil},
		{"created to processing", job.StatusCreated, job.StatusProcessing, ppt2img.ErrInvalidTransition},
		{"queued to completed", job.StatusQueued, job.StatusCompleted, ppt2img.ErrInvalidTransition},
		{"queued to failed", job.StatusQueued, job.StatusFailed, ppt2img.ErrInvalidTransition},
		{"completed to processing", job.StatusCompleted, job.StatusProcessing, ppt2img.ErrAlreadyTerminal},
		{"completed to failed", job.StatusCompleted, job.StatusFailed, ppt2img.ErrAlreadyTerminal},
		{"failed to queued", job.StatusFailed, job.StatusQueued, ppt2img.ErrAlreadyTerminal},
		{"processing to queued", job.StatusProcessing, job.StatusQueued, ppt2img.ErrInvalidTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := job.ValidateTransition(tt.from, tt.to)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected nil, got %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []job.Status{job.StatusCreated, job.StatusQueued, job.StatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []job.Status{job.StatusCompleted, job.StatusFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestCloneIsolation(t *testing.T) {
	orig := &job.Job{
		Status: job.StatusCompleted,
		Result: []job.Artifact{{Page: 1, Filename: "slide_1.png"}},
	}

	cp := orig.Clone()
	cp.Result[0].Filename = "mutated.png"
	cp.Status = job.StatusFailed

	if orig.Result[0].Filename != "slide_1.png" {
		t.Errorf("clone mutation leaked into original artifact: %q", orig.Result[0].Filename)
	}
	if orig.Status != job.StatusCompleted {
		t.Errorf("clone mutation leaked into original status: %q", orig.Status)
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := job.DefaultOptions()
	if opts.Width != 1920 || opts.Height != 1080 {
		t.Errorf("unexpected default dimensions: %dx%d", opts.Width, opts.Height)
	}
	if opts.Bucket != "images" {
		t.Errorf("unexpected default bucket: %q", opts.Bucket)
	}

	for _, o := range []job.Option{
		job.WithWidth(800),
		job.WithHeight(600),
		job.WithBucket("slides"),
		job.WithCallbackURL("http://example.com/cb"),
	} {
		o(&opts)
	}
	if opts.Width != 800 || opts.Height != 600 || opts.Bucket != "slides" || opts.CallbackURL != "http://example.com/cb" {
		t.Errorf("options not applied: %+v", opts)
	}
}
