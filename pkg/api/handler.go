package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/avelaz/genbridge/pkg/broadcast"
	"github.com/avelaz/genbridge/pkg/config"
	"github.com/avelaz/genbridge/pkg/engine"
	"github.com/avelaz/genbridge/pkg/graph"
	"github.com/avelaz/genbridge/pkg/logging"
	"github.com/avelaz/genbridge/pkg/metrics"
	"github.com/avelaz/genbridge/pkg/models"
	"github.com/avelaz/genbridge/pkg/monitor"
	"github.com/avelaz/genbridge/pkg/registry"
)

// Engine is the slice of the engine client the API layer depends on
type Engine interface {
	Submit(ctx context.Context, g *graph.Graph) (string, error)
	History(ctx context.Context, jobID string) (map[string]*engine.HistoryRecord, error)
	Queue(ctx context.Context) (*engine.QueueState, error)
	ClearQueue(ctx context.Context) error
	Interrupt(ctx context.Context, jobID string) error
	View(ctx context.Context, filename, subfolder, folderType string) ([]byte, error)
	Upload(ctx context.Context, filename string, data []byte, overwrite bool) (string, error)
	SystemStats(ctx context.Context) (map[string]interface{}, error)
}

// Handler serves the public HTTP API
type Handler struct {
	engine   Engine
	registry *registry.Registry
	bus      *broadcast.Broadcaster
	monitor  *monitor.Monitor
	metrics  *metrics.Metrics
	cfg      *config.Config
	log      *logging.Logger
	started  time.Time
}

func NewHandler(eng Engine, reg *registry.Registry, bus *broadcast.Broadcaster, mon *monitor.Monitor, m *metrics.Metrics, cfg *config.Config, log *logging.Logger) *Handler {
	return &Handler{
		engine:   eng,
		registry: reg,
		bus:      bus,
		monitor:  mon,
		metrics:  m,
		cfg:      cfg,
		log:      log,
		started:  time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/video/generate", h.GenerateVideo).Methods("POST")
	r.HandleFunc("/api/video/upload_and_generate", h.UploadAndGenerate).Methods("POST")
	r.HandleFunc("/api/image/generate", h.GenerateImage).Methods("POST")

	r.HandleFunc("/api/tasks", h.ListTasks).Methods("GET")
	r.HandleFunc("/api/tasks/{id}", h.GetTask).Methods("GET")
	r.HandleFunc("/api/tasks/{id}/cancel", h.CancelTask).Methods("POST")

	r.HandleFunc("/api/queue", h.GetQueue).Methods("GET")
	r.HandleFunc("/api/queue/clear", h.ClearQueue).Methods("POST")

	r.HandleFunc("/api/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/api/history/{id}", h.GetHistory).Methods("GET")
	r.HandleFunc("/api/artifacts/view", h.ViewArtifact).Methods("GET")

	r.HandleFunc("/api/system", h.SystemInfo).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ws", h.ServeWS).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// submitAndTrack builds the common tail of every generate endpoint:
// submit the graph, register the pending task, start the monitor, and
// answer with the accepted task.
func (h *Handler) submitAndTrack(w http.ResponseWriter, r *http.Request, g *graph.Graph, kind string, params map[string]interface{}, timeout time.Duration) {
	jobID, err := h.engine.Submit(r.Context(), g)
	if err != nil {
		var subErr *models.SubmissionError
		if errors.As(err, &subErr) {
			h.log.Warn("engine rejected graph", map[string]interface{}{"error": subErr.Error()})
			writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error":       subErr.Message,
				"node_errors": subErr.NodeErrors,
			})
			return
		}
		h.log.Error("submission failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusBadGateway, "engine unavailable: "+err.Error())
		return
	}

	task := &models.Task{
		JobID:     jobID,
		Kind:      kind,
		Params:    params,
		Status:    models.StatusPending,
		CreatedAt: time.Now(),
	}
	h.registry.Add(task)
	if h.metrics != nil {
		h.metrics.GraphSubmitted(g.Len())
	}

	// Monitoring must outlive this request; detach from its context.
	h.monitor.Watch(context.Background(), jobID, timeout)

	h.log.Info("task accepted", map[string]interface{}{
		"job_id": jobID,
		"kind":   kind,
		"nodes":  g.Len(),
	})
	writeJSON(w, http.StatusAccepted, task)
}

// Health reports service liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"uptime":  time.Since(h.started).String(),
		"tracked": h.registry.Len(),
	})
}
