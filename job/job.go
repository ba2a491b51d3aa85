package job

import (
	"fmt"
	"time"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
)

// Status represents the lifecycle state of a conversion job.
type Status string

const (
	// StatusCreated means the job exists but has not been admitted yet.
	StatusCreated Status = "created"
	// StatusQueued means the job passed admission and awaits a worker.
	StatusQueued Status = "queued"
	// StatusProcessing means a worker is currently converting the deck.
	StatusProcessing Status = "processing"
	// StatusCompleted means all slides rendered successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the conversion failed and will not be retried.
	StatusFailed Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions maps each status to the statuses it may move to.
var transitions = map[Status][]Status{
	StatusCreated:    {StatusQueued},
	StatusQueued:     {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// ValidateTransition returns nil if from → to is a legal state machine
// transition. It returns ppt2img.ErrAlreadyTerminal when from is terminal
// and ppt2img.ErrInvalidTransition otherwise.
func ValidateTransition(from, to Status) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s", ppt2img.ErrAlreadyTerminal, from)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s", ppt2img.ErrInvalidTransition, from, to)
}

// Source describes where the presentation deck comes from. Exactly one of
// URL or Path is set: URL for remote decks fetched at conversion time,
// Path for decks already saved under the upload directory.
type Source struct {
	// URL is the remote location of the deck.
	URL string `json:"url,omitempty"`
	// Path is the local filesystem path of an uploaded deck.
	Path string `json:"path,omitempty"`
	// Name is the original filename as the client supplied it.
	Name string `json:"name"`
}

// Artifact is one rendered slide image.
type Artifact struct {
	// Page is the 1-based slide number.
	Page int `json:"page"`
	// Filename is the image name within the job's output directory,
	// e.g. "slide_3.png".
	Filename string `json:"filename"`
	// URL is a download location for the image. When object storage is
	// configured this is a presigned URL; otherwise a server-relative path.
	URL string `json:"url,omitempty"`
	// Size is the image size in bytes.
	Size int64 `json:"size,omitempty"`
}

// Job represents one presentation-to-image conversion.
type Job struct {
	ppt2img.Entity

	ID          id.JobID    `json:"id"`
	Source      Source      `json:"source"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Bucket      string      `json:"bucket,omitempty"`
	CallbackURL string      `json:"callback_url,omitempty"`
	Status      Status      `json:"status"`
	Progress    int         `json:"progress"`
	TotalPages  int         `json:"total_pages,omitempty"`
	DonePages   int         `json:"done_pages,omitempty"`
	Result      []Artifact  `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
	WorkerID    id.WorkerID `json:"worker_id,omitempty"`
	QueuedAt    *time.Time  `json:"queued_at,omitempty"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the job. Stores hand out clones so callers
// can never mutate persisted state through a returned pointer.
func (j *Job) Clone() *Job {
	cp := *j
	if j.Result != nil {
		cp.Result = make([]Artifact, len(j.Result))
		copy(cp.Result, j.Result)
	}
	if j.QueuedAt != nil {
		t := *j.QueuedAt
		cp.QueuedAt = &t
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		cp.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
