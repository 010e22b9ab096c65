package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/avelaz/genbridge/pkg/broadcast"
	"github.com/avelaz/genbridge/pkg/config"
	"github.com/avelaz/genbridge/pkg/engine"
	"github.com/avelaz/genbridge/pkg/graph"
	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/models"
	"github.com/avelaz/genbridge/pkg/monitor"
	"github.com/avelaz/genbridge/pkg/registry"
)

// fakeEngine scripts the engine-facing calls the handlers make
type fakeEngine struct {
	submitID    string
	submitErr   error
	history     map[string]*engine.HistoryRecord
	queue       *engine.QueueState
	interrupted  []string
	queueCleared bool
	viewData     []byte
	uploadName   string
	submitted    []*graph.Graph
}

func (f *fakeEngine) Submit(ctx context.Context, g *graph.Graph) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, g)
	return f.submitID, nil
}

func (f *fakeEngine) History(ctx context.Context, jobID string) (map[string]*engine.HistoryRecord, error) {
	return f.history, nil
}

func (f *fakeEngine) Queue(ctx context.Context) (*engine.QueueState, error) {
	if f.queue == nil {
		return &engine.QueueState{}, nil
	}
	return f.queue, nil
}

func (f *fakeEngine) ClearQueue(ctx context.Context) error {
	f.queueCleared = true
	return nil
}

func (f *fakeEngine) Interrupt(ctx context.Context, jobID string) error {
	f.interrupted = append(f.interrupted, jobID)
	return nil
}

func (f *fakeEngine) View(ctx context.Context, filename, subfolder, folderType string) ([]byte, error) {
	return f.viewData, nil
}

func (f *fakeEngine) Upload(ctx context.Context, filename string, data []byte, overwrite bool) (string, error) {
	if f.uploadName != "" {
		return f.uploadName, nil
	}
	return filename, nil
}

func (f *fakeEngine) SystemStats(ctx context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"devices": []interface{}{}}, nil
}

// settleAwaiter immediately reports success for every job
type settleAwaiter struct{}

func (settleAwaiter) Await(ctx context.Context, jobID string, src engine.EventSource, timeout time.Duration) (*models.Outcome, error) {
	return &models.Outcome{JobID: jobID, Status: models.StatusSucceeded}, nil
}

type idleSource struct{ events chan models.ExecutionEvent }

func (s *idleSource) Events() <-chan models.ExecutionEvent { return s.events }
func (s *idleSource) Close() error                         { return nil }

type testAPI struct {
	engine *fakeEngine
	reg    *registry.Registry
	mon    *monitor.Monitor
	router *mux.Router
}

func newTestAPI(t *testing.T, eng *fakeEngine) *testAPI {
	t.Helper()
	log := logging.NewLogger(logging.ERROR, false)
	reg := registry.New()
	bus := broadcast.New()

	factory := func(ctx context.Context, jobID string) (engine.EventSource, error) {
		return &idleSource{events: make(chan models.ExecutionEvent)}, nil
	}
	mon := monitor.New(settleAwaiter{}, reg, bus, nil, factory, log)

	cfg := &config.Config{
		ListenAddr:     ":0",
		EngineURL:      "http://engine",
		EventMode:      config.EventModeWebsocket,
		PollInterval:   time.Second,
		JobTimeout:     time.Minute,
		MaxUploadBytes: 1 << 20,
	}
	h := NewHandler(eng, reg, bus, mon, nil, cfg, log)

	router := mux.NewRouter()
	h.RegisterRoutes(router)
	return &testAPI{engine: eng, reg: reg, mon: mon, router: router}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func validVideoBody() map[string]interface{} {
	return map[string]interface{}{
		"prompt":         "a cat stretches",
		"duration":       5,
		"width":          832,
		"height":         480,
		"frame_rate":     16,
		"seed":           42,
		"image_filename": "cat.png",
	}
}

func TestGenerateVideoAccepted(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{submitID: "job-1"})

	rec := api.do(t, http.MethodPost, "/api/video/generate", validVideoBody())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var task models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if task.JobID != "job-1" || task.Kind != "video" {
		t.Errorf("unexpected task: %+v", task)
	}

	// The monitor settles the task in the background
	api.mon.Wait()
	stored, err := api.reg.Get("job-1")
	if err != nil {
		t.Fatalf("task not registered: %v", err)
	}
	if stored.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", stored.Status)
	}
}

func TestGenerateVideoOmittedSeedIsRandom(t *testing.T) {
	eng := &fakeEngine{submitID: "job-1"}
	api := newTestAPI(t, eng)

	body := validVideoBody()
	delete(body, "seed")

	for i := 0; i < 2; i++ {
		if rec := api.do(t, http.MethodPost, "/api/video/generate", body); rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
	}
	api.mon.Wait()

	if len(eng.submitted) != 2 {
		t.Fatalf("submitted %d graphs, want 2", len(eng.submitted))
	}
	seeds := make([]int64, 2)
	for i, g := range eng.submitted {
		seed, ok := g.Node("seg0_sampler").Inputs["seed"].Literal().(int64)
		if !ok {
			t.Fatalf("seed literal has type %T, want int64", g.Node("seg0_sampler").Inputs["seed"].Literal())
		}
		if seed < 0 {
			t.Errorf("request %d: derived seed %d is negative", i, seed)
		}
		seeds[i] = seed
	}
	if seeds[0] == seeds[1] {
		t.Errorf("both seedless requests derived seed %d; omitting the seed must randomize it", seeds[0])
	}
}

func TestGenerateImageOmittedSeedIsRandom(t *testing.T) {
	eng := &fakeEngine{submitID: "job-img"}
	api := newTestAPI(t, eng)

	body := map[string]interface{}{
		"prompt": "a lighthouse",
		"width":  1024,
		"height": 768,
	}
	for i := 0; i < 2; i++ {
		if rec := api.do(t, http.MethodPost, "/api/image/generate", body); rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
	}
	api.mon.Wait()

	if len(eng.submitted) != 2 {
		t.Fatalf("submitted %d graphs, want 2", len(eng.submitted))
	}
	seeds := make([]int64, 2)
	for i, g := range eng.submitted {
		seed, ok := g.Node("sampler").Inputs["seed"].Literal().(int64)
		if !ok {
			t.Fatalf("seed literal has type %T, want int64", g.Node("sampler").Inputs["seed"].Literal())
		}
		seeds[i] = seed
	}
	if seeds[0] == seeds[1] {
		t.Errorf("both seedless requests derived seed %d; omitting the seed must randomize it", seeds[0])
	}
}

func TestGenerateVideoInvalidRequest(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{submitID: "job-1"})

	body := validVideoBody()
	body["duration"] = 7

	rec := api.do(t, http.MethodPost, "/api/video/generate", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "duration") {
		t.Errorf("error body %q does not name the bad field", rec.Body.String())
	}
	if api.reg.Len() != 0 {
		t.Error("invalid request left a registered task behind")
	}
}

func TestGenerateVideoEngineRejection(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{
		submitErr: &models.SubmissionError{
			Message:    "invalid prompt",
			NodeErrors: map[string]interface{}{"seg0_sampler": "bad input"},
		},
	})

	rec := api.do(t, http.MethodPost, "/api/video/generate", validVideoBody())
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var resp struct {
		Error      string                 `json:"error"`
		NodeErrors map[string]interface{} `json:"node_errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if _, ok := resp.NodeErrors["seg0_sampler"]; !ok {
		t.Errorf("node errors not forwarded: %+v", resp)
	}
}

func TestGenerateImageAccepted(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{submitID: "job-img"})

	rec := api.do(t, http.MethodPost, "/api/image/generate", map[string]interface{}{
		"prompt": "a lighthouse",
		"width":  1024,
		"height": 768,
		"seed":   7,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	api.mon.Wait()
}

func TestGetTaskFromRegistry(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{})
	api.reg.Add(&models.Task{JobID: "job-1", Kind: "video", Status: models.StatusRunning, CreatedAt: time.Now()})

	rec := api.do(t, http.MethodGet, "/api/tasks/job-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var task models.Task
	json.Unmarshal(rec.Body.Bytes(), &task)
	if task.Status != models.StatusRunning {
		t.Errorf("status = %s, want running", task.Status)
	}
}

func TestGetTaskQueueFallback(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{
		queue: &engine.QueueState{
			Running: [][]interface{}{{float64(0), "job-foreign"}},
		},
	})

	rec := api.do(t, http.MethodGet, "/api/tasks/job-foreign", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var task models.Task
	json.Unmarshal(rec.Body.Bytes(), &task)
	if task.Status != models.StatusRunning {
		t.Errorf("status = %s, want running from the queue fallback", task.Status)
	}
}

func TestGetTaskHistoryFallback(t *testing.T) {
	var rec engine.HistoryRecord
	if err := json.Unmarshal([]byte(`{
		"status": {
			"messages": [
				["execution_start", {"prompt_id": "job-old", "timestamp": 1700000000000}],
				["execution_success", {"prompt_id": "job-old", "timestamp": 1700000060000}]
			]
		},
		"outputs": {"video_out": {"gifs": [{"filename": "out.mp4", "type": "output"}]}}
	}`), &rec); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}

	api := newTestAPI(t, &fakeEngine{
		history: map[string]*engine.HistoryRecord{"job-old": &rec},
	})

	w := api.do(t, http.MethodGet, "/api/tasks/job-old", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var task models.Task
	json.Unmarshal(w.Body.Bytes(), &task)
	if task.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want succeeded from history", task.Status)
	}
	if task.Result == nil || len(task.Result.Artifacts.Videos) != 1 {
		t.Errorf("artifacts not reconstructed: %+v", task.Result)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{})

	rec := api.do(t, http.MethodGet, "/api/tasks/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestCancelTask(t *testing.T) {
	eng := &fakeEngine{}
	api := newTestAPI(t, eng)
	api.reg.Add(&models.Task{JobID: "job-1", Status: models.StatusRunning, CreatedAt: time.Now()})

	rec := api.do(t, http.MethodPost, "/api/tasks/job-1/cancel", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(eng.interrupted) != 1 || eng.interrupted[0] != "job-1" {
		t.Errorf("interrupt calls = %v", eng.interrupted)
	}
}

func TestCancelTerminalTaskConflicts(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{})
	api.reg.Add(&models.Task{JobID: "job-1", Status: models.StatusSucceeded, CreatedAt: time.Now()})

	rec := api.do(t, http.MethodPost, "/api/tasks/job-1/cancel", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{})
	rec := api.do(t, http.MethodPost, "/api/tasks/ghost/cancel", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestClearQueue(t *testing.T) {
	eng := &fakeEngine{}
	api := newTestAPI(t, eng)

	rec := api.do(t, http.MethodPost, "/api/queue/clear", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !eng.queueCleared {
		t.Error("engine queue was not cleared")
	}
}

func TestViewArtifact(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{viewData: []byte("video-bytes")})

	rec := api.do(t, http.MethodGet, "/api/artifacts/view?filename=out.mp4", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "video-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = api.do(t, http.MethodGet, "/api/artifacts/view", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing filename: status = %d, want 400", rec.Code)
	}
}

func TestListTasks(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{})
	api.reg.Add(&models.Task{JobID: "a", Status: models.StatusPending, CreatedAt: time.Now()})
	api.reg.Add(&models.Task{JobID: "b", Status: models.StatusRunning, CreatedAt: time.Now()})

	rec := api.do(t, http.MethodGet, "/api/tasks", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var tasks []models.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(tasks) != 2 {
		t.Errorf("got %d tasks, want 2", len(tasks))
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, &fakeEngine{})
	rec := api.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"cat.png", "cat.png"},
		{"../../etc/passwd", "passwd"},
		{"my photo (1).png", "my_photo__1_.png"},
		{".hidden", "hidden"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
