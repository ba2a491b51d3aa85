// Package stream provides a real-time event broker for conversion
// lifecycle events. It bridges the hook system to connected clients via
// topic-based pub/sub; the server package exposes it over WebSocket.
package stream

import (
	"encoding/json"
	"time"

	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventJobQueued    EventType = "job.queued"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID      string         `json:"job_id"`
	Name       string         `json:"name,omitempty"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Stage      string         `json:"stage,omitempty"`
	TotalPages int            `json:"total_pages,omitempty"`
	DonePages  int            `json:"done_pages,omitempty"`
	Artifacts  []job.Artifact `json:"artifacts,omitempty"`
	Error      string         `json:"error,omitempty"`
	ElapsedMs  int64          `json:"elapsed_ms,omitempty"`
}

// jobEventData builds the common payload fields from a job snapshot.
func jobEventData(j *job.Job) JobEventData {
	return JobEventData{
		JobID:      j.ID.String(),
		Name:       j.Source.Name,
		Status:     string(j.Status),
		Progress:   j.Progress,
		TotalPages: j.TotalPages,
		DonePages:  j.DonePages,
	}
}
