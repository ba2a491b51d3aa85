package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/convert"
	"github.com/pengcunfu/YushuRobotPPT2IMG/engine"
	"github.com/pengcunfu/YushuRobotPPT2IMG/id"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
	"github.com/pengcunfu/YushuRobotPPT2IMG/store/memory"
	"github.com/pengcunfu/YushuRobotPPT2IMG/stream"
)

func fastConfig() ppt2img.Config {
	cfg := ppt2img.DefaultConfig()
	cfg.Concurrency = 1
	cfg.MaxActiveJobs = 5
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 0
	return cfg
}

func buildTestEngine(t *testing.T, cfg ppt2img.Config, pipeline convert.Pipeline, opts ...engine.Option) *engine.Engine {
	t.Helper()
	cfg.OutputRoot = t.TempDir()
	cfg.UploadRoot = t.TempDir()

	svc, err := ppt2img.New(
		ppt2img.WithStore(memory.New()),
		ppt2img.WithConfig(cfg),
		ppt2img.WithLogger(slog.Default()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	eng, err := engine.Build(svc, pipeline, opts...)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	return eng
}

func okPipeline(pages int) convert.Pipeline {
	return convert.PipelineFunc(func(_ context.Context, _ convert.Request, progress convert.ProgressFunc) ([]job.Artifact, error) {
		arts := make([]job.Artifact, 0, pages)
		for i := 1; i <= pages; i++ {
			progress(30+i*60/pages, "[CONVERT] exporting page")
			arts = append(arts, job.Artifact{Page: i, Filename: "slide_1.png", Size: 10})
		}
		return arts, nil
	})
}

func waitForStatus(t *testing.T, eng *engine.Engine, jobID id.JobID, want job.Status) *job.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		got, err := eng.Job(context.Background(), jobID)
		if err == nil && got.Status == want {
			return got
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for job %s to reach %q", jobID, want)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func TestBuild_RequiresStore(t *testing.T) {
	svc, err := ppt2img.New()
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = engine.Build(svc, okPipeline(1))
	if !errors.Is(err, ppt2img.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

func TestEngine_SubmitToCompletion(t *testing.T) {
	eng := buildTestEngine(t, fastConfig(), okPipeline(3))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(context.Background(), job.Source{Name: "deck.pptx", Path: "/tmp/deck.pptx"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.Status != job.StatusQueued {
		t.Errorf("submitted status = %q, want %q", j.Status, job.StatusQueued)
	}
	if j.Width != 1920 || j.Height != 1080 {
		t.Errorf("defaults not applied: %dx%d", j.Width, j.Height)
	}

	got := waitForStatus(t, eng, j.ID, job.StatusCompleted)
	if got.Progress != 100 {
		t.Errorf("progress = %d, want 100", got.Progress)
	}
	if len(got.Result) != 3 {
		t.Errorf("result length = %d, want 3", len(got.Result))
	}
}

func TestEngine_SubmitWithOptions(t *testing.T) {
	eng := buildTestEngine(t, fastConfig(), okPipeline(1))

	preset := id.NewJobID()
	j, err := eng.Submit(context.Background(), job.Source{Name: "deck.pptx"},
		job.WithJobID(preset),
		job.WithWidth(1280),
		job.WithHeight(720),
		job.WithCallbackURL("http://example.com/callback"),
	)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if j.ID != preset {
		t.Errorf("job ID = %s, want preset %s", j.ID, preset)
	}
	if j.Width != 1280 || j.Height != 720 {
		t.Errorf("size = %dx%d, want 1280x720", j.Width, j.Height)
	}
	if j.CallbackURL != "http://example.com/callback" {
		t.Errorf("callback URL = %q", j.CallbackURL)
	}
}

func TestEngine_BusyRejection(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxActiveJobs = 1

	release := make(chan struct{})
	pipeline := convert.PipelineFunc(func(_ context.Context, _ convert.Request, _ convert.ProgressFunc) ([]job.Artifact, error) {
		<-release
		return []job.Artifact{{Page: 1, Filename: "slide_1.png"}}, nil
	})
	eng := buildTestEngine(t, cfg, pipeline)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopEngine(t, eng)

	first, err := eng.Submit(context.Background(), job.Source{Name: "first.pptx"})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err = eng.Submit(context.Background(), job.Source{Name: "second.pptx"})
	if !errors.Is(err, ppt2img.ErrServerBusy) {
		t.Fatalf("expected ErrServerBusy, got %v", err)
	}
	var busy *ppt2img.BusyError
	if !errors.As(err, &busy) {
		t.Fatal("expected *BusyError")
	}

	// Rejected job must not be stored.
	jobs, err := eng.Jobs(context.Background(), job.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Errorf("store has %d jobs, want 1", len(jobs))
	}

	// Finishing the first job frees the slot.
	close(release)
	waitForStatus(t, eng, first.ID, job.StatusCompleted)

	if _, err := eng.Submit(context.Background(), job.Source{Name: "third.pptx"}); err != nil {
		t.Fatalf("submit after slot freed: %v", err)
	}
}

func TestEngine_SubscribeReceivesLifecycle(t *testing.T) {
	eng := buildTestEngine(t, fastConfig(), okPipeline(2))

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(context.Background(), job.Source{Name: "deck.pptx"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	sub, snap, err := eng.Subscribe(context.Background(), "conn-1", j.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer eng.Unsubscribe("conn-1")
	if snap.ID != j.ID {
		t.Errorf("snapshot ID = %s, want %s", snap.ID, j.ID)
	}

	var sawCompleted bool
	deadline := time.After(5 * time.Second)
	for !sawCompleted {
		select {
		case evt := <-sub.C():
			if evt.Type == stream.EventJobCompleted {
				sawCompleted = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for job.completed event")
		}
	}
}

func TestEngine_QueuedPrecedesStarted(t *testing.T) {
	eng := buildTestEngine(t, fastConfig(), okPipeline(1))

	// Watch the aggregate topic so every job's lifecycle lands in one
	// ordered stream.
	sub := eng.Broker().Subscribe("order-watch", stream.TopicJobs)
	defer eng.Broker().RemoveSubscriber("order-watch")

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopEngine(t, eng)

	const jobCount = 5
	submitted := make(map[string]bool, jobCount)
	for i := 0; i < jobCount; i++ {
		j, err := eng.Submit(context.Background(), job.Source{Name: "deck.pptx"})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		submitted[j.ID.String()] = true
	}

	seenQueued := make(map[string]bool, jobCount)
	completed := 0
	deadline := time.After(5 * time.Second)
	for completed < jobCount {
		select {
		case evt := <-sub.C():
			var data stream.JobEventData
			if err := json.Unmarshal(evt.Data, &data); err != nil {
				t.Fatalf("unmarshal event data: %v", err)
			}
			if !submitted[data.JobID] {
				continue
			}
			switch evt.Type {
			case stream.EventJobQueued:
				seenQueued[data.JobID] = true
			case stream.EventJobStarted:
				if !seenQueued[data.JobID] {
					t.Fatalf("job %s: started observed before queued", data.JobID)
				}
			case stream.EventJobCompleted:
				completed++
			}
		case <-deadline:
			t.Fatalf("timed out; %d of %d jobs completed", completed, jobCount)
		}
	}
}

func TestEngine_SubscribeUnknownJob(t *testing.T) {
	eng := buildTestEngine(t, fastConfig(), okPipeline(1))

	_, _, err := eng.Subscribe(context.Background(), "conn-1", id.NewJobID())
	if !errors.Is(err, ppt2img.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestEngine_FailedJobVisible(t *testing.T) {
	pipeline := convert.PipelineFunc(func(_ context.Context, _ convert.Request, _ convert.ProgressFunc) ([]job.Artifact, error) {
		return nil, errors.New("render exploded")
	})
	eng := buildTestEngine(t, fastConfig(), pipeline)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopEngine(t, eng)

	j, err := eng.Submit(context.Background(), job.Source{Name: "bad.pptx"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	got := waitForStatus(t, eng, j.ID, job.StatusFailed)
	if got.Error == "" {
		t.Error("expected failure message on job")
	}

	stats, err := eng.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Failed != 1 {
		t.Errorf("stats.Failed = %d, want 1", stats.Failed)
	}
}

func TestEngine_UserHookFires(t *testing.T) {
	var queued atomic.Bool
	h := &queuedHook{flag: &queued}

	eng := buildTestEngine(t, fastConfig(), okPipeline(1), engine.WithHook(h))

	if _, err := eng.Submit(context.Background(), job.Source{Name: "deck.pptx"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !queued.Load() {
		t.Error("expected user hook to observe JobQueued")
	}
}

func stopEngine(t *testing.T, eng *engine.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Errorf("stop: %v", err)
	}
}

type queuedHook struct {
	flag *atomic.Bool
}

func (h *queuedHook) Name() string { return "queued-tracker" }

func (h *queuedHook) OnJobQueued(_ context.Context, _ *job.Job) error {
	h.flag.Store(true)
	return nil
}
