package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// SubmitRequest describes a URL-based conversion submission.
type SubmitRequest struct {
	PPTURL      string `json:"ppt_url"`
	PPTName     string `json:"ppt_name,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// SubmitResult is the server's acknowledgement of an admitted job.
type SubmitResult struct {
	TaskID           string    `json:"task_id"`
	Status           string    `json:"status"`
	Filename         string    `json:"filename,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	CreatedAt        time.Time `json:"created_at"`
	Width            int       `json:"width"`
	Height           int       `json:"height"`
}

// Submit queues a conversion of a deck fetched from a URL.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ppt2img/client: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var result SubmitResult
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadOption adds a form field to an upload submission.
type UploadOption func(w *multipart.Writer) error

// UploadWidth sets the render width for an uploaded deck.
func UploadWidth(width int) UploadOption {
	return func(w *multipart.Writer) error {
		return w.WriteField("width", strconv.Itoa(width))
	}
}

// UploadHeight sets the render height for an uploaded deck.
func UploadHeight(height int) UploadOption {
	return func(w *multipart.Writer) error {
		return w.WriteField("height", strconv.Itoa(height))
	}
}

// UploadCallback sets the completion webhook for an uploaded deck.
func UploadCallback(url string) UploadOption {
	return func(w *multipart.Writer) error {
		return w.WriteField("callback_url", url)
	}
}

// Upload submits a local deck file for conversion.
func (c *Client) Upload(ctx context.Context, path string, opts ...UploadOption) (*SubmitResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ppt2img/client: open deck: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, fmt.Errorf("ppt2img/client: read deck: %w", err)
	}
	for _, opt := range opts {
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var result SubmitResult
	if err := c.do(httpReq, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Job retrieves a job snapshot by ID.
func (c *Client) Job(ctx context.Context, taskID string) (*job.Job, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/jobs/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := c.do(httpReq, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// ListOption narrows a Jobs query.
type ListOption func(url.Values)

// ListLimit caps the number of jobs returned.
func ListLimit(limit int) ListOption {
	return func(v url.Values) { v.Set("limit", strconv.Itoa(limit)) }
}

// ListOffset skips jobs for pagination.
func ListOffset(offset int) ListOption {
	return func(v url.Values) { v.Set("offset", strconv.Itoa(offset)) }
}

// ListStatus filters jobs by status.
func ListStatus(status job.Status) ListOption {
	return func(v url.Values) { v.Set("status", string(status)) }
}

// Jobs lists jobs newest-first.
func (c *Client) Jobs(ctx context.Context, opts ...ListOption) ([]*job.Job, error) {
	q := url.Values{}
	for _, opt := range opts {
		opt(q)
	}
	u := c.baseURL + "/jobs"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Jobs []*job.Job `json:"jobs"`
	}
	if err := c.do(httpReq, &body); err != nil {
		return nil, err
	}
	return body.Jobs, nil
}

// Stats retrieves job and stream statistics from the server.
func (c *Client) Stats(ctx context.Context) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := c.do(httpReq, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Download streams a rendered slide into w.
func (c *Client) Download(ctx context.Context, taskID, filename string, w io.Writer) error {
	u := c.baseURL + "/download/" + url.PathEscape(taskID) + "/" + url.PathEscape(filename)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ppt2img/client: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "download failed"}
	}
	_, err = io.Copy(w, resp.Body)
	return err
}
