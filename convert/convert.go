package convert

import (
	"context"
	"fmt"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Stage identifies the phase of the pipeline an error or progress
// message originates from. Stage tags are embedded in progress messages
// so subscribers can tell a slow download from a slow render.
type Stage string

const (
	StageDownload Stage = "DOWNLOAD"
	StageConvert  Stage = "CONVERT"
	StageUpload   Stage = "UPLOAD"
)

// Error wraps a pipeline failure with the stage it occurred in.
type Error struct {
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("convert: [%s] %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// StageError builds an Error for the given stage.
func StageError(stage Stage, err error) *Error {
	return &Error{Stage: stage, Err: err}
}

// StageMessage formats a progress message with its stage tag, matching
// the "[CONVERT] rendering page 3/12" shape surfaced to subscribers.
func StageMessage(stage Stage, format string, args ...any) string {
	return fmt.Sprintf("[%s] ", stage) + fmt.Sprintf(format, args...)
}

// ProgressFunc receives pipeline progress. Implementations must be safe
// to call from the worker goroutine running the conversion; percent is
// in [0,100] and non-decreasing within a run.
type ProgressFunc func(percent int, message string)

// Request describes one conversion. Exactly one of SourcePath or
// SourceURL is set: uploaded decks arrive as local files, remote decks
// as URLs fetched by the pipeline.
type Request struct {
	SourcePath string
	SourceURL  string
	Name       string
	Width      int
	Height     int
	OutputDir  string
}

// Pipeline turns a source document into per-page PNG artifacts written
// under Request.OutputDir. Artifacts carry page number, filename and
// byte size; the URL field is filled in later by the uploader.
type Pipeline interface {
	Convert(ctx context.Context, req Request, progress ProgressFunc) ([]job.Artifact, error)
}

// PipelineFunc adapts a function to the Pipeline interface.
type PipelineFunc func(ctx context.Context, req Request, progress ProgressFunc) ([]job.Artifact, error)

func (f PipelineFunc) Convert(ctx context.Context, req Request, progress ProgressFunc) ([]job.Artifact, error) {
	return f(ctx, req, progress)
}
