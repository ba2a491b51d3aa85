package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
)

// admitScript checks the active-job count against the limit and, if
// capacity remains, registers the job and writes its hash in one atomic
// step. Returns {1} on admission, {0, active} on rejection.
var admitScript = goredis.NewScript(`
local limit = tonumber(ARGV[1])
local jid = ARGV[2]
if redis.call('EXISTS', KEYS[4]) == 1 then
  return {-1, 0}
end
local active = redis.call('SCARD', KEYS[1])
if limit > 0 and active >= limit then
  return {0, active}
end
redis.call('SADD', KEYS[1], jid)
redis.call('SADD', KEYS[2], jid)
redis.call('ZADD', KEYS[3], ARGV[3], jid)
redis.call('HSET', KEYS[4], unpack(ARGV, 4))
return {1, active}
`)

// AdmitJob atomically checks the active-job count against limit and, if
// capacity remains, persists j in queued state.
func (s *Store) AdmitJob(ctx context.Context, j *job.Job, limit int) error {
	now := time.Now().UTC()
	cp := j.Clone()
	cp.Status = job.StatusQueued
	cp.QueuedAt = &now
	if cp.CreatedAt.IsZero() {
		cp.Entity = ppt2img.NewEntity()
	}
	cp.Touch()

	jID := cp.ID.String()
	args := []interface{}{
		strconv.Itoa(limit),
		jID,
		strconv.FormatInt(now.UnixMilli(), 10),
	}
	for k, v := range jobToMap(cp) {
		args = append(args, k, v)
	}

	res, err := admitScript.Run(ctx, s.client,
		[]string{activeKey, jobIDsKey, queueKey, jobKey(jID)},
		args...,
	).Result()
	if err != nil {
		return fmt.Errorf("ppt2img/redis: admit job: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return fmt.Errorf("ppt2img/redis: admit job: unexpected script result %v", res)
	}
	code, _ := vals[0].(int64)
	switch code {
	case -1:
		return ppt2img.ErrJobAlreadyExists
	case 0:
		active, _ := vals[1].(int64)
		return &ppt2img.BusyError{Active: int(active), Limit: limit}
	}

	*j = *cp.Clone()
	return nil
}

// DequeueJobs atomically pops up to limit queued jobs in FIFO order and
// marks them processing.
func (s *Store) DequeueJobs(ctx context.Context, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()

	members, err := s.client.ZPopMin(ctx, queueKey, int64(limit)).Result()
	if err != nil {
		return nil, fmt.Errorf("ppt2img/redis: dequeue zpopmin: %w", err)
	}

	jobs := make([]*job.Job, 0, len(members))
	for _, z := range members {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}

		key := jobKey(jID)
		_, err = s.client.HSet(ctx, key,
			"status", string(job.StatusProcessing),
			"started_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		).Result()
		if err != nil {
			return nil, fmt.Errorf("ppt2img/redis: dequeue update: %w", err)
		}

		j, getErr := s.getJobByKey(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// ListJobs returns jobs ordered newest-first by creation time.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("ppt2img/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// UpdateProgress records conversion progress for a processing job.
// A single worker owns each processing job, so the read-modify-write here
// does not race with another progress writer.
func (s *Store) UpdateProgress(ctx context.Context, jobID id.JobID, percent, done, total int) (*job.Job, error) {
	key := jobKey(jobID.String())
	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return nil, err
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

	now := time.Now().UTC()
	j.UpdatedAt = now
	_, err = s.client.HSet(ctx, key,
		"progress", strconv.Itoa(j.Progress),
		"done_pages", strconv.Itoa(j.DonePages),
		"total_pages", strconv.Itoa(j.TotalPages),
		"updated_at", now.Format(time.RFC3339Nano),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("ppt2img/redis: update progress: %w", err)
	}
	return j, nil
}

// CompleteJob moves a processing job to completed and stores the artifacts.
func (s *Store) CompleteJob(ctx context.Context, jobID id.JobID, artifacts []job.Artifact) (*job.Job, error) {
	jID := jobID.String()
	key := jobKey(jID)
	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return nil, err
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
	j.UpdatedAt = now

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(job.StatusCompleted),
		"progress", "100",
		"done_pages", strconv.Itoa(j.DonePages),
		"total_pages", strconv.Itoa(j.TotalPages),
		"result", marshalJSON(j.Result),
		"completed_at", now.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.SRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ppt2img/redis: complete job: %w", err)
	}
	return j, nil
}

// FailJob moves a processing job to failed with the given message.
func (s *Store) FailJob(ctx context.Context, jobID id.JobID, errMsg string) (*job.Job, error) {
	jID := jobID.String()
	key := jobKey(jID)
	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := job.ValidateTransition(j.Status, job.StatusFailed); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	j.Status = job.StatusFailed
	j.Error = errMsg
	j.CompletedAt = &now
	j.UpdatedAt = now

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(job.StatusFailed),
		"error", errMsg,
		"completed_at", now.Format(time.RFC3339Nano),
		"updated_at", now.Format(time.RFC3339Nano),
	)
	pipe.SRem(ctx, activeKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ppt2img/redis: fail job: %w", err)
	}
	return j, nil
}

// InsertCompleted persists a job directly in completed state, bypassing
// admission. Used by startup recovery.
func (s *Store) InsertCompleted(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ppt2img/redis: insert completed exists: %w", err)
	}
	if exists > 0 {
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

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, jobToMap(cp))
	pipe.SAdd(ctx, jobIDsKey, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ppt2img/redis: insert completed: %w", err)
	}
	return nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("ppt2img/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		count++
	}
	return count, nil
}

// Stats returns a census of jobs by status.
func (s *Store) Stats(ctx context.Context) (job.Stats, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return job.Stats{}, fmt.Errorf("ppt2img/redis: stats smembers: %w", err)
	}

	var stats job.Stats
	for _, jID := range ids {
		status, getErr := s.client.HGet(ctx, jobKey(jID), "status").Result()
		if getErr != nil {
			if errors.Is(getErr, goredis.Nil) {
				continue
			}
			return job.Stats{}, fmt.Errorf("ppt2img/redis: stats hget: %w", getErr)
		}
		switch job.Status(status) {
		case job.StatusQueued:
			stats.Queued++
		case job.StatusProcessing:
			stats.Processing++
		case job.StatusCompleted:
			stats.Completed++
		case job.StatusFailed:
			stats.Failed++
		}
		stats.Total++
	}
	return stats, nil
}

// ── helpers ──

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":           j.ID.String(),
		"source":       marshalJSON(j.Source),
		"width":        strconv.Itoa(j.Width),
		"height":       strconv.Itoa(j.Height),
		"bucket":       j.Bucket,
		"callback_url": j.CallbackURL,
		"status":       string(j.Status),
		"progress":     strconv.Itoa(j.Progress),
		"total_pages":  strconv.Itoa(j.TotalPages),
		"done_pages":   strconv.Itoa(j.DonePages),
		"error":        j.Error,
		"worker_id":    j.WorkerID.String(),
		"created_at":   j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":   j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if len(j.Result) > 0 {
		m["result"] = marshalJSON(j.Result)
	}
	if j.QueuedAt != nil {
		m["queued_at"] = j.QueuedAt.Format(time.RFC3339Nano)
	}
	if j.StartedAt != nil {
		m["started_at"] = j.StartedAt.Format(time.RFC3339Nano)
	}
	if j.CompletedAt != nil {
		m["completed_at"] = j.CompletedAt.Format(time.RFC3339Nano)
	}
	return m
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("ppt2img/redis: get job: %w", err)
	}
	if len(vals) == 0 {
		return nil, ppt2img.ErrJobNotFound
	}
	return mapToJob(vals)
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("ppt2img/redis: parse job id: %w", err)
	}

	width, _ := strconv.Atoi(m["width"])            //nolint:errcheck // best-effort parse from trusted Redis data
	height, _ := strconv.Atoi(m["height"])          //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])      //nolint:errcheck // best-effort parse from trusted Redis data
	totalPages, _ := strconv.Atoi(m["total_pages"]) //nolint:errcheck // best-effort parse from trusted Redis data
	donePages, _ := strconv.Atoi(m["done_pages"])   //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	var source job.Source
	_ = json.Unmarshal([]byte(m["source"]), &source) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: ppt2img.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:          jID,
		Source:      source,
		Width:       width,
		Height:      height,
		Bucket:      m["bucket"],
		CallbackURL: m["callback_url"],
		Status:      job.Status(m["status"]),
		Progress:    progress,
		TotalPages:  totalPages,
		DonePages:   donePages,
		Error:       m["error"],
	}

	if v := m["result"]; v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &j.Result) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["queued_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.QueuedAt = &t
	}
	if v := m["started_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.StartedAt = &t
	}
	if v := m["completed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.CompletedAt = &t
	}

	return j, nil
}

// marshalJSON is a helper to marshal to JSON string.
func marshalJSON(v interface{}) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}
