// Package callback delivers terminal job notifications to the
// submitter's callback URL.
//
// The Notifier hooks into the job lifecycle: when a job with a
// callback_url reaches completed or failed, a background goroutine
// POSTs a JSON payload to the URL, retrying a bounded number of times
// on non-2xx responses. Delivery failures are logged and never affect
// job state.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/backoff"
	"github.com/pengcunfu/YushuRobotPPT2IMG/hook"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

var (
	_ hook.JobCompleted = (*Notifier)(nil)
	_ hook.JobFailed    = (*Notifier)(nil)
	_ hook.Shutdown     = (*Notifier)(nil)
)

// Image is one rendered slide in the callback payload.
type Image struct {
	Slide int    `json:"slide"`
	Path  string `json:"path"`
}

// Payload is the JSON body POSTed to the callback URL.
type Payload struct {
	TaskID           string  `json:"task_id"`
	Status           string  `json:"status"`
	Filename         string  `json:"filename"`
	OriginalFilename string  `json:"original_filename"`
	CreatedAt        string  `json:"created_at"`
	ImageCount       int     `json:"image_count,omitempty"`
	Images           []Image `json:"images,omitempty"`
	CompletedAt      string  `json:"completed_at,omitempty"`
	Error            string  `json:"error,omitempty"`
}

// Notifier sends terminal-state callbacks. One delivery goroutine runs
// per terminal job with a callback URL; OnShutdown waits for in-flight
// deliveries to drain.
type Notifier struct {
	client  *http.Client
	backoff backoff.Strategy
	retries int
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithHTTPClient sets the client used for callback requests.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithRetries sets how many times a failed delivery is retried after
// the initial attempt.
func WithRetries(retries int) Option {
	return func(n *Notifier) {
		if retries >= 0 {
			n.retries = retries
		}
	}
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(strategy backoff.Strategy) Option {
	return func(n *Notifier) {
		if strategy != nil {
			n.backoff = strategy
		}
	}
}

// NewNotifier creates a Notifier. Defaults: 3 retries after the initial
// attempt, 5s constant delay, 10s request timeout.
func NewNotifier(logger *slog.Logger, opts ...Option) *Notifier {
	n := &Notifier{
		client:  &http.Client{Timeout: 10 * time.Second},
		backoff: backoff.DefaultStrategy(),
		retries: 3,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements hook.Hook.
func (n *Notifier) Name() string { return "callback-notifier" }

// OnJobCompleted implements hook.JobCompleted.
func (n *Notifier) OnJobCompleted(_ context.Context, j *job.Job, _ time.Duration) error {
	n.dispatch(j)
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (n *Notifier) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	n.dispatch(j)
	return nil
}

// OnShutdown implements hook.Shutdown. It waits for in-flight
// deliveries until the context expires.
func (n *Notifier) OnShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		n.logger.Warn("shutdown before all callbacks were delivered")
		return ctx.Err()
	}
}

func (n *Notifier) dispatch(j *job.Job) {
	if j.CallbackURL == "" {
		return
	}
	snap := j.Clone()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliver(snap)
	}()
}

func (n *Notifier) deliver(j *job.Job) {
	body, err := json.Marshal(buildPayload(j))
	if err != nil {
		n.logger.Error("callback payload marshal failed",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	attempts := 1 + n.retries
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			time.Sleep(n.backoff.Delay(attempt - 1))
		}

		err := n.post(j.CallbackURL, body)
		if err == nil {
			n.logger.Info("callback delivered",
				slog.String("job_id", j.ID.String()),
				slog.String("url", j.CallbackURL),
				slog.Int("attempt", attempt),
			)
			return
		}

		n.logger.Warn("callback attempt failed",
			slog.String("job_id", j.ID.String()),
			slog.String("url", j.CallbackURL),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", err.Error()),
		)
	}

	n.logger.Error("callback delivery exhausted",
		slog.String("job_id", j.ID.String()),
		slog.String("url", j.CallbackURL),
		slog.Int("attempts", attempts),
	)
}

func (n *Notifier) post(url string, body []byte) error {
	resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

func buildPayload(j *job.Job) Payload {
	p := Payload{
		TaskID:           j.ID.String(),
		Status:           string(j.Status),
		Filename:         storedFilename(j),
		OriginalFilename: j.Source.Name,
		CreatedAt:        j.CreatedAt.Format(time.RFC3339),
	}

	switch j.Status {
	case job.StatusCompleted:
		p.ImageCount = len(j.Result)
		p.Images = make([]Image, 0, len(j.Result))
		for _, a := range j.Result {
			path := a.URL
			if path == "" {
				path = a.Filename
			}
			p.Images = append(p.Images, Image{Slide: a.Page, Path: path})
		}
		if j.CompletedAt != nil {
			p.CompletedAt = j.CompletedAt.Format(time.RFC3339)
		}
	case job.StatusFailed:
		p.Error = j.Error
	}
	return p
}

// storedFilename is the on-disk name of the uploaded source, which
// differs from the original name for uploads saved under the job ID.
func storedFilename(j *job.Job) string {
	if j.Source.Path != "" {
		return filepath.Base(j.Source.Path)
	}
	return j.Source.Name
}
