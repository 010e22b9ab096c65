package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// GetHistory proxies the engine's history, whole or for a single job
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]

	records, err := h.engine.History(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch history: "+err.Error())
		return
	}
	if jobID != "" {
		rec, ok := records[jobID]
		if !ok {
			writeError(w, http.StatusNotFound, "no history for job "+jobID)
			return
		}
		writeJSON(w, http.StatusOK, rec.Raw)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ViewArtifact streams a generated file from the engine to the client
func (h *Handler) ViewArtifact(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filename := q.Get("filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	folderType := q.Get("type")
	if folderType == "" {
		folderType = "output"
	}

	data, err := h.engine.View(r.Context(), filename, q.Get("subfolder"), folderType)
	if err != nil {
		writeError(w, http.StatusBadGateway, "failed to fetch artifact: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
