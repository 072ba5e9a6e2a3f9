package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/steadyshot/internal/store"
)

// CaptureHandler handles HTTP requests for the capture gallery.
type CaptureHandler struct {
	store *store.Store
}

// NewCaptureHandler creates a new CaptureHandler with the given store.
func NewCaptureHandler(s *store.Store) *CaptureHandler {
	return &CaptureHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *CaptureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/captures or /api/captures/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/captures")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type captureResponse struct {
	ID        string `json:"id"`
	Mode      string `json:"mode"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Manual    bool   `json:"manual"`
	Timestamp int64  `json:"timestamp"`
	FileName  string `json:"fileName"`
	URL       string `json:"url"`
}

type listCapturesResponse struct {
	Captures []captureResponse `json:"captures"`
	Total    int               `json:"total"`
}

func toResponse(c *store.Capture) captureResponse {
	return captureResponse{
		ID:        c.ID,
		Mode:      c.Mode,
		Width:     c.Width,
		Height:    c.Height,
		Manual:    c.Manual,
		Timestamp: c.Timestamp,
		FileName:  c.FileName(),
		URL:       "/api/captures/" + c.ID,
	}
}

// list handles GET /api/captures and returns the gallery newest first.
func (h *CaptureHandler) list(w http.ResponseWriter, r *http.Request) {
	captures, err := h.store.Captures().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list captures")
		return
	}

	response := listCapturesResponse{
		Captures: make([]captureResponse, 0, len(captures)),
		Total:    len(captures),
	}
	for _, c := range captures {
		response.Captures = append(response.Captures, toResponse(c))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/captures/{id} and serves the PNG. ?download=1 asks for an attachment.
func (h *CaptureHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.store.Captures().Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Capture not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get capture")
		return
	}

	disposition := "inline"
	if r.URL.Query().Get("download") != "" {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(c.Image)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, c.FileName()))
	w.WriteHeader(http.StatusOK)
	w.Write(c.Image)
}

// delete handles DELETE /api/captures/{id}.
func (h *CaptureHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.Captures().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Capture not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete capture")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
