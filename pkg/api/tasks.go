package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/avelaz/genbridge/pkg/engine"
	"github.com/avelaz/genbridge/pkg/models"
)

// ListTasks returns all tracked tasks, newest first
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.List())
}

// GetTask resolves a job id through three widening lookups: the local
// registry, the engine's live queue, and finally the engine's history.
// The fallbacks answer for jobs this process never tracked, such as ones
// submitted before a restart.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	task, err := h.registry.Get(jobID)
	if err == nil {
		writeJSON(w, http.StatusOK, task)
		return
	}
	if !errors.Is(err, models.ErrTaskNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if queue, qErr := h.engine.Queue(r.Context()); qErr == nil {
		if phase, ok := queue.Contains(jobID); ok {
			status := models.StatusPending
			if phase == "running" {
				status = models.StatusRunning
			}
			writeJSON(w, http.StatusOK, &models.Task{JobID: jobID, Status: status})
			return
		}
	}

	records, hErr := h.engine.History(r.Context(), jobID)
	if hErr == nil {
		if rec, ok := records[jobID]; ok {
			writeJSON(w, http.StatusOK, taskFromHistory(jobID, rec))
			return
		}
	}

	writeError(w, http.StatusNotFound, models.ErrTaskNotFound.Error())
}

// taskFromHistory reconstructs a terminal task from an engine history record
func taskFromHistory(jobID string, rec *engine.HistoryRecord) *models.Task {
	status, reason := engine.ClassifyHistory(rec)
	startedAt, completedAt := engine.Timestamps(rec)

	task := &models.Task{
		JobID:       jobID,
		Status:      status,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if startedAt != nil {
		task.CreatedAt = *startedAt
	}

	outcome := &models.Outcome{
		JobID:  jobID,
		Status: status,
		Reason: reason,
		Raw:    rec.Raw,
	}
	if status == models.StatusSucceeded {
		outcome.Artifacts = engine.ExtractArtifacts(rec)
	} else {
		task.Error = reason
	}
	task.Result = outcome
	return task
}

// CancelTask asks the engine to interrupt a job. The terminal state
// arrives through the normal event path, so the response only confirms
// the interrupt was delivered.
func (h *Handler) CancelTask(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	task, err := h.registry.Get(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, models.ErrTaskNotFound.Error())
		return
	}
	if task.Status.IsTerminal() {
		writeError(w, http.StatusConflict, "task already "+string(task.Status))
		return
	}

	if err := h.engine.Interrupt(r.Context(), jobID); err != nil {
		h.log.Error("interrupt failed", map[string]interface{}{
			"job_id": jobID, "error": err.Error(),
		})
		writeError(w, http.StatusBadGateway, "failed to interrupt: "+err.Error())
		return
	}

	h.log.Info("interrupt requested", map[string]interface{}{"job_id": jobID})
	writeJSON(w, http.StatusAccepted, map[string]string{
		"task_id": jobID,
		"status":  "interrupt_requested",
	})
}

// GetQueue proxies the engine's live queue state
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := h.engine.Queue(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to read queue: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"running": len(queue.Running),
		"pending": len(queue.Pending),
		"queue":   queue,
	})
}

// ClearQueue drops every pending job at the engine. Running jobs keep
// running; tracked tasks settle through their monitors as the engine
// reports interrupts or silence times them out.
func (h *Handler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearQueue(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "failed to clear queue: "+err.Error())
		return
	}
	h.log.Info("engine queue cleared", nil)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
