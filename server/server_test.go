package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	ppt2img "github.com/pengcunfu/YushuRobotPPT2IMG"
	"github.com/pengcunfu/YushuRobotPPT2IMG/convert"
	"github.com/pengcunfu/YushuRobotPPT2IMG/engine"
	"github.com/pengcunfu/YushuRobotPPT2IMG/job"
	"github.com/pengcunfu/YushuRobotPPT2IMG/server"
	"github.com/pengcunfu/YushuRobotPPT2IMG/store/memory"
	"github.com/pengcunfu/YushuRobotPPT2IMG/stream"
)

type testEnv struct {
	srv   *httptest.Server
	eng   *engine.Engine
	store *memory.Store
	cfg   ppt2img.Config
}

func newTestEnv(t *testing.T, pipeline convert.Pipeline, mutate func(*ppt2img.Config)) *testEnv {
	t.Helper()

	cfg := ppt2img.DefaultConfig()
	cfg.Concurrency = 1
	cfg.PollInterval = 10 * time.Millisecond
	cfg.CleanupInterval = 0
	cfg.OutputRoot = t.TempDir()
	cfg.UploadRoot = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}

	st := memory.New()
	svc, err := ppt2img.New(
		ppt2img.WithStore(st),
		ppt2img.WithConfig(cfg),
		ppt2img.WithLogger(slog.Default()),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	eng, err := engine.Build(svc, pipeline)
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	s := server.New(eng, slog.Default())
	httpSrv := httptest.NewServer(s.Handler())
	t.Cleanup(httpSrv.Close)

	return &testEnv{srv: httpSrv, eng: eng, store: st, cfg: cfg}
}

func noopPipeline() convert.Pipeline {
	return convert.PipelineFunc(func(_ context.Context, _ convert.Request, _ convert.ProgressFunc) ([]job.Artifact, error) {
		return []job.Artifact{{Page: 1, Filename: "slide_1.png", Size: 10}}, nil
	})
}

func uploadDeck(t *testing.T, env *testEnv, filename string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte("pptx-bytes")); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Post(env.srv.URL+"/upload", w.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeJSON(t *testing.T, r io.Reader, v any) {
	t.Helper()
	if err := json.NewDecoder(r).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestUpload_AdmitsJob(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	resp := uploadDeck(t, env, "deck.pptx", map[string]string{"width": "1280", "height": "720"})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		TaskID   string `json:"task_id"`
		Status   string `json:"status"`
		Filename string `json:"filename"`
		Original string `json:"original_filename"`
		Width    int    `json:"width"`
		Height   int    `json:"height"`
	}
	decodeJSON(t, resp.Body, &body)

	if body.TaskID == "" {
		t.Fatal("expected task_id")
	}
	if body.Status != "queued" {
		t.Errorf("status = %q, want %q", body.Status, "queued")
	}
	if body.Original != "deck.pptx" {
		t.Errorf("original_filename = %q", body.Original)
	}
	if body.Width != 1280 || body.Height != 720 {
		t.Errorf("size = %dx%d, want 1280x720", body.Width, body.Height)
	}
	wantStored := body.TaskID + "_deck.pptx"
	if body.Filename != wantStored {
		t.Errorf("filename = %q, want %q", body.Filename, wantStored)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.UploadRoot, wantStored)); err != nil {
		t.Errorf("stored upload missing: %v", err)
	}
}

func TestUpload_BusyRemovesFile(t *testing.T) {
	release := make(chan struct{})
	blocking := convert.PipelineFunc(func(_ context.Context, _ convert.Request, _ convert.ProgressFunc) ([]job.Artifact, error) {
		<-release
		return []job.Artifact{{Page: 1, Filename: "slide_1.png"}}, nil
	})
	env := newTestEnv(t, blocking, func(cfg *ppt2img.Config) {
		cfg.MaxActiveJobs = 1
	})
	defer close(release)

	first := uploadDeck(t, env, "first.pptx", nil)
	first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", first.StatusCode)
	}

	second := uploadDeck(t, env, "second.pptx", nil)
	defer second.Body.Close()
	if second.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second upload status = %d, want 503", second.StatusCode)
	}

	var body struct {
		Error  string `json:"error"`
		Active int    `json:"active"`
		Limit  int    `json:"limit"`
	}
	decodeJSON(t, second.Body, &body)
	if !strings.Contains(body.Error, "server busy") {
		t.Errorf("error = %q, want server busy message", body.Error)
	}
	if body.Active != 1 || body.Limit != 1 {
		t.Errorf("active/limit = %d/%d, want 1/1", body.Active, body.Limit)
	}

	// The rejected upload must not linger on disk.
	entries, err := os.ReadDir(env.cfg.UploadRoot)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), "second.pptx") {
			t.Errorf("rejected upload still on disk: %s", e.Name())
		}
	}
}

func TestSubmitURL(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	payload := `{"ppt_url":"http://example.com/deck.pptx","ppt_name":"deck.pptx","callback_url":"http://example.com/cb"}`
	resp, err := http.Post(env.srv.URL+"/jobs", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	decodeJSON(t, resp.Body, &body)
	if body.TaskID == "" || body.Status != "queued" {
		t.Errorf("unexpected response: %+v", body)
	}
}

func TestSubmitURL_MissingURL(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	resp, err := http.Post(env.srv.URL+"/jobs", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGetJob(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	j, err := env.eng.Submit(context.Background(), job.Source{Name: "deck.pptx"})
	if err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.srv.URL + "/jobs/" + j.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got job.Job
	decodeJSON(t, resp.Body, &got)
	if got.ID != j.ID {
		t.Errorf("job ID = %s, want %s", got.ID, j.ID)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	resp, err := http.Get(env.srv.URL + "/jobs/job_00000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetJob_InvalidID(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	resp, err := http.Get(env.srv.URL + "/jobs/not-a-job-id")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	for _, name := range []string{"a.pptx", "b.pptx", "c.pptx"} {
		if _, err := env.eng.Submit(context.Background(), job.Source{Name: name}); err != nil {
			t.Fatal(err)
		}
	}

	resp, err := http.Get(env.srv.URL + "/jobs?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Jobs  []job.Job `json:"jobs"`
		Count int       `json:"count"`
	}
	decodeJSON(t, resp.Body, &body)
	if body.Count != 2 || len(body.Jobs) != 2 {
		t.Errorf("count = %d, jobs = %d, want 2", body.Count, len(body.Jobs))
	}
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	j, err := env.eng.Submit(context.Background(), job.Source{Name: "deck.pptx"})
	if err != nil {
		t.Fatal(err)
	}
	// Drive the job to completed with an artifact on disk.
	if _, err := env.store.DequeueJobs(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.CompleteJob(context.Background(), j.ID, []job.Artifact{
		{Page: 1, Filename: "slide_1.png", Size: 9},
	}); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(env.cfg.OutputRoot, j.ID.String())
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(outDir, "slide_1.png"), []byte("png-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.srv.URL + "/download/" + j.ID.String() + "/slide_1.png")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	if string(data) != "png-bytes" {
		t.Errorf("body = %q", data)
	}

	// A filename outside the recorded artifacts is rejected.
	resp2, err := http.Get(env.srv.URL + "/download/" + j.ID.String() + "/slide_2.png")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp2.StatusCode)
	}
}

func TestStatsAndHealth(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	if _, err := env.eng.Submit(context.Background(), job.Source{Name: "deck.pptx"}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(env.srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Jobs job.Stats `json:"jobs"`
	}
	decodeJSON(t, resp.Body, &body)
	if body.Jobs.Queued != 1 {
		t.Errorf("stats.Queued = %d, want 1", body.Jobs.Queued)
	}

	health, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", health.StatusCode)
	}
}

func TestWebSocket_SubscribeFlow(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	j, err := env.eng.Submit(context.Background(), job.Source{Name: "deck.pptx"})
	if err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// ws.Dial may have buffered frames that arrived with the handshake
	// response; drain them before reading from the conn directly.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}

	readFrame := func() map[string]json.RawMessage {
		t.Helper()
		data, err := wsutil.ReadServerText(rw)
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		var frame map[string]json.RawMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		return frame
	}
	frameType := func(frame map[string]json.RawMessage) string {
		var s string
		_ = json.Unmarshal(frame["type"], &s)
		return s
	}

	if got := frameType(readFrame()); got != "connected" {
		t.Fatalf("first frame type = %q, want %q", got, "connected")
	}

	sub, _ := json.Marshal(map[string]string{"action": "subscribe", "job_id": j.ID.String()})
	if err := wsutil.WriteClientText(conn, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	frame := readFrame()
	if got := frameType(frame); got != "snapshot" {
		t.Fatalf("frame type = %q, want %q", got, "snapshot")
	}
	var snap job.Job
	if err := json.Unmarshal(frame["job"], &snap); err != nil {
		t.Fatalf("unmarshal snapshot job: %v", err)
	}
	if snap.ID != j.ID {
		t.Errorf("snapshot job ID = %s, want %s", snap.ID, j.ID)
	}

	bad, _ := json.Marshal(map[string]string{"action": "subscribe", "job_id": "bogus"})
	if err := wsutil.WriteClientText(conn, bad); err != nil {
		t.Fatal(err)
	}
	if got := frameType(readFrame()); got != "error" {
		t.Errorf("frame type = %q, want %q", got, "error")
	}
}

func TestWebSocket_SustainedStream(t *testing.T) {
	env := newTestEnv(t, noopPipeline(), nil)

	j, err := env.eng.Submit(context.Background(), job.Source{Name: "deck.pptx"})
	if err != nil {
		t.Fatal(err)
	}

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// ws.Dial may have buffered frames that arrived with the handshake
	// response; drain them before reading from the conn directly.
	var rw io.ReadWriter = conn
	if br != nil {
		rw = struct {
			io.Reader
			io.Writer
		}{io.MultiReader(br, conn), conn}
	}

	// connected greeting, then subscribe and consume the snapshot.
	if _, err := wsutil.ReadServerText(rw); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	sub, _ := json.Marshal(map[string]string{"action": "subscribe", "job_id": j.ID.String()})
	if err := wsutil.WriteClientText(conn, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if _, err := wsutil.ReadServerText(rw); err != nil {
		t.Fatalf("read snapshot frame: %v", err)
	}

	// Push well past the subscriber's starting credit budget. A client
	// that keeps draining must receive every event, no matter how long
	// the stream runs. Batches stay under the channel buffer so nothing
	// is legitimately dropped.
	const batch = 100
	batches := int(stream.DefaultCredits)/batch + 3
	broker := env.eng.Broker()

	for b := 0; b < batches; b++ {
		for i := 0; i < batch; i++ {
			if err := broker.OnJobProgress(context.Background(), j, i%100, "[CONVERT] exporting page"); err != nil {
				t.Fatalf("publish progress: %v", err)
			}
		}
		for i := 0; i < batch; i++ {
			if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
				t.Fatal(err)
			}
			data, err := wsutil.ReadServerText(rw)
			if err != nil {
				t.Fatalf("read event %d: %v", b*batch+i+1, err)
			}
			var evt struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &evt); err != nil {
				t.Fatalf("unmarshal event: %v", err)
			}
			if evt.Type != "job.progress" {
				t.Fatalf("event %d type = %q, want %q", b*batch+i+1, evt.Type, "job.progress")
			}
		}
	}
}
