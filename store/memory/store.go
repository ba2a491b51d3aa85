// Package memory provides a fully in-memory job store.
//
// Safe for concurrent access. Intended for unit testing, development, and
// single-process deployments that accept losing job state on restart
// (the recovery scanner rebuilds completed jobs from surviving artifacts).
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// Ensure Store implements job.Store at compile time.
var _ job.Store = (*Store)(nil)

// Store is a fully in-memory implementation of job.Store.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs: make(map[string]*job.Job),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Ping / Close
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Admission / Dequeue
// ──────────────────────────────────────────────────

// AdmitJob atomically checks the active-job count against limit and, if
// capacity remains, persists j in queued state. The count check and the
// insert happen under one lock so concurrent admissions can never exceed
// the limit.
func (m *Store) AdmitJob(_ context.Context, j *job.Job, limit int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return ppt2img.ErrJobAlreadyExists
	}

	if limit > 0 {
		active := 0
		for _, existing := range m.jobs {
			if existing.Status == job.StatusQueued || existing.Status == job.StatusProcessing {
				active++
			}
		}
		if active >= limit {
			return &ppt2img.BusyError{Active: active, Limit: limit}
		}
	}

	now := time.Now().UTC()
	cp := j.Clone()
	cp.Status = job.StatusQueued
	cp.QueuedAt = &now
	if cp.CreatedAt.IsZero() {
		cp.Entity = ppt2img.NewEntity()
	}
	cp.Touch()
	m.jobs[key] = cp

	// Reflect the committed state back to the caller.
	*j = *cp.Clone()
	return nil
}

// DequeueJobs atomically claims up to limit queued jobs in FIFO order by
// QueuedAt, sets them to processing, and returns them.
func (m *Store) DequeueJobs(_ context.Context, limit int) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status == job.StatusQueued {
			candidates = append(candidates, j)
		}
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].QueuedAt.Before(*candidates[k].QueuedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := time.Now().UTC()
	result := make([]*job.Job, len(candidates))
	for i, j := range candidates {
		j.Status = job.StatusProcessing
		n := now
		j.StartedAt = &n
		j.Touch()
		result[i] = j.Clone()
	}

	return result, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ppt2img.ErrJobNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns jobs ordered newest-first by creation time.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// Stats returns a census of jobs by status.
func (m *Store) Stats(_ context.Context) (job.Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s job.Stats
	for _, j := range m.jobs {
		switch j.Status {
		case job.StatusQueued:
			s.Queued++
		case job.StatusProcessing:
			s.Processing++
		case job.StatusCompleted:
			s.Completed++
		case job.StatusFailed:
			s.Failed++
		}
		s.Total++
	}
	return s, nil
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// UpdateProgress records conversion progress for a processing job.
// Percent is clamped to [0,100] and never regresses.
func (m *Store) UpdateProgress(_ context.Context, jobID id.JobID, percent, done, total int) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ppt2img.ErrJobNotFound
	}
	if j.Status != job.StatusProcessing {
		if j.Status.Terminal() {
			return nil, fmt.Errorf("%w: %s", ppt2img.ErrAlreadyTerminal, j.Status)
		}
		return nil, fmt.Errorf("%w: progress on %s job", ppt2img.ErrInvalidTransition, j.Status)
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > j.Progress {
		j.Progress = percent
	}
	if done > j.DonePages {
		j.DonePages = done
	}
	if total > 0 {
		j.TotalPages = total
	}
	j.Touch()

	return j.Clone(), nil
}

// CompleteJob moves a processing job to completed and stores the artifacts.
func (m *Store) CompleteJob(_ context.Context, jobID id.JobID, artifacts []job.Artifact) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ppt2img.ErrJobNotFound
	}
	if err := job.ValidateTransition(j.Status, job.StatusCompleted); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.Progress = 100
	j.Result = make([]job.Artifact, len(artifacts))
	copy(j.Result, artifacts)
	j.DonePages = len(artifacts)
	if j.TotalPages == 0 {
		j.TotalPages = len(artifacts)
	}
	j.CompletedAt = &now
	j.Touch()

	return j.Clone(), nil
}

// FailJob moves a processing job to failed with the given message.
func (m *Store) FailJob(_ context.Context, jobID id.JobID, errMsg string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, ppt2img.ErrJobNotFound
	}
	if err := job.ValidateTransition(j.Status, job.StatusFailed); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.Error = errMsg
	j.CompletedAt = &now
	j.Touch()

	return j.Clone(), nil
}

// InsertCompleted persists a job directly in completed state, bypassing
// admission. Used by startup recovery.
func (m *Store) InsertCompleted(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return ppt2img.ErrJobAlreadyExists
	}

	cp := j.Clone()
	cp.Status = job.StatusCompleted
	cp.Progress = 100
	if cp.CreatedAt.IsZero() {
		cp.Entity = ppt2img.NewEntity()
	}
	if cp.CompletedAt == nil {
		now := time.Now().UTC()
		cp.CompletedAt = &now
	}
	cp.Touch()
	m.jobs[key] = cp
	return nil
}
