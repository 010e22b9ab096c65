package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/avelaz/genbridge/pkg/engine"
	"github.com/avelaz/genbridge/pkg/graph"
	"github.com/avelaz/genbridge/pkg/models"
)

// GenerateVideo accepts a video request for an image already present on
// the engine and responds 202 with the tracked task.
func (h *Handler) GenerateVideo(w http.ResponseWriter, r *http.Request) {
	// An absent seed means "pick one", not seed 0
	req := models.VideoRequest{Seed: -1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	h.startVideo(w, r, &req)
}

func (h *Handler) startVideo(w http.ResponseWriter, r *http.Request, req *models.VideoRequest) {
	g, err := graph.BuildVideo(req)
	if err != nil {
		var invalid *models.InvalidRequestError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.log.Error("graph build failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to build graph")
		return
	}

	timeout := engine.AwaitTimeoutFor(req.Duration)
	if h.cfg.JobTimeout > timeout {
		timeout = h.cfg.JobTimeout
	}

	params := map[string]interface{}{
		"duration":   req.Duration,
		"width":      req.Width,
		"height":     req.Height,
		"frame_rate": req.FrameRate,
		"image":      req.ImageFilename,
	}
	h.submitAndTrack(w, r, g, "video", params, timeout)
}

// UploadAndGenerate takes a multipart form with an "image" file plus the
// video parameters as form fields, uploads the image to the engine, fits
// the render dimensions to the source aspect ratio when none were given,
// and then proceeds exactly like GenerateVideo.
func (h *Handler) UploadAndGenerate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(h.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image: "+err.Error())
		return
	}
	if int64(len(data)) > h.cfg.MaxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
		return
	}

	req, err := videoRequestFromForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Width == 0 || req.Height == 0 {
		cfg, _, decodeErr := image.DecodeConfig(bytes.NewReader(data))
		if decodeErr != nil {
			writeError(w, http.StatusBadRequest, "unsupported image format: "+decodeErr.Error())
			return
		}
		req.Width, req.Height = graph.FitDimensions(cfg.Width, cfg.Height)
	}

	stored, err := h.engine.Upload(r.Context(), sanitizeFilename(header.Filename), data, true)
	if err != nil {
		h.log.Error("image upload failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusBadGateway, "failed to upload image: "+err.Error())
		return
	}
	req.ImageFilename = stored

	h.startVideo(w, r, req)
}

func videoRequestFromForm(r *http.Request) (*models.VideoRequest, error) {
	req := &models.VideoRequest{
		Prompt:         r.FormValue("prompt"),
		NegativePrompt: r.FormValue("negative_prompt"),
		Seed:           -1,
	}

	if raw := r.FormValue("prompts"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Prompts); err != nil {
			return nil, &models.InvalidRequestError{Field: "prompts", Reason: "must be a JSON array of strings"}
		}
	}

	intFields := []struct {
		name string
		dst  *int
	}{
		{"duration", &req.Duration},
		{"width", &req.Width},
		{"height", &req.Height},
		{"frame_rate", &req.FrameRate},
		{"steps", &req.Steps},
	}
	for _, f := range intFields {
		raw := r.FormValue(f.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &models.InvalidRequestError{Field: f.name, Reason: "must be an integer"}
		}
		*f.dst = v
	}

	if raw := r.FormValue("seed"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &models.InvalidRequestError{Field: "seed", Reason: "must be an integer"}
		}
		req.Seed = v
	}

	return req, nil
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// sanitizeFilename strips path components and unsafe characters from a
// client-supplied name before it is forwarded to the engine.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	name = unsafeFilename.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		name = "upload_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return name
}

// GenerateImage accepts a single text-to-image request
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	// An absent seed means "pick one", not seed 0
	req := models.ImageRequest{Seed: -1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	g, err := graph.BuildImage(&req)
	if err != nil {
		var invalid *models.InvalidRequestError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		h.log.Error("graph build failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to build graph")
		return
	}

	params := map[string]interface{}{
		"width":  req.Width,
		"height": req.Height,
		"steps":  req.Steps,
	}
	h.submitAndTrack(w, r, g, "image", params, h.cfg.JobTimeout)
}
