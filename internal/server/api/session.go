package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/ayusman/steadyshot/internal/app"
	"github.com/ayusman/steadyshot/internal/scan"
	"github.com/ayusman/steadyshot/internal/store"
)

// TriggerTimeout bounds how long a manual capture request waits for the session loop.
const TriggerTimeout = 5 * time.Second

// Scanner is the part of the capture session the API drives.
type Scanner interface {
	Snapshot() app.Snapshot
	SetMode(mode scan.Mode) error
	Trigger(ctx context.Context) (scan.Result, error)
}

// SessionHandler serves status, mode switching and the manual capture trigger.
type SessionHandler struct {
	scanner Scanner
	store   *store.Store
}

// NewSessionHandler creates a SessionHandler. The store is optional; when set the
// selected mode is remembered in its settings.
func NewSessionHandler(scanner Scanner, s *store.Store) *SessionHandler {
	return &SessionHandler{scanner: scanner, store: s}
}

// ServeHTTP routes /api/status, /api/mode and /api/capture.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/status":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, h.scanner.Snapshot())
	case "/api/mode":
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, modeRequest{Mode: string(h.scanner.Snapshot().Mode)})
		case http.MethodPut:
			h.setMode(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "/api/capture":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.trigger(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type triggerResponse struct {
	Mode      scan.Mode `json:"mode"`
	Timestamp int64     `json:"timestamp"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Manual    bool      `json:"manual"`
}

// setMode handles PUT /api/mode. The session discards all progress and restarts its detector.
func (h *SessionHandler) setMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	mode, err := scan.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.scanner.SetMode(mode); err != nil {
		log.Printf("Error switching to %s: %v", mode, err)
		if prev, rerr := RestoreMode(h.scanner, h.store, mode); rerr != nil {
			log.Printf("Error restoring previous mode: %v", rerr)
		} else if prev != "" {
			log.Printf("Restored %s mode", prev)
		}
		writeError(w, http.StatusInternalServerError, "Failed to switch mode")
		return
	}

	if h.store != nil {
		if err := h.store.Settings().Set(store.KeyMode, string(mode)); err != nil {
			log.Printf("Error saving mode setting: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, h.scanner.Snapshot())
}

// RestoreMode switches scanner back to the last mode saved in the settings after
// switching to failed went wrong. It returns the mode restored, or "" when nothing
// was saved or the saved mode is the one that failed.
func RestoreMode(scanner Scanner, s *store.Store, failed scan.Mode) (scan.Mode, error) {
	if s == nil {
		return "", nil
	}
	saved, err := s.Settings().Get(store.KeyMode)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read mode setting: %w", err)
	}
	prev, err := scan.ParseMode(saved)
	if err != nil {
		return "", fmt.Errorf("saved mode: %w", err)
	}
	if prev == failed {
		return "", nil
	}
	if err := scanner.SetMode(prev); err != nil {
		return "", fmt.Errorf("switch back to %s: %w", prev, err)
	}
	return prev, nil
}

// trigger handles POST /api/capture.
func (h *SessionHandler) trigger(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), TriggerTimeout)
	defer cancel()

	res, err := h.scanner.Trigger(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, triggerResponse{
			Mode:      res.Mode,
			Timestamp: res.Timestamp,
			Width:     res.Width,
			Height:    res.Height,
			Manual:    res.Manual,
		})
	case errors.Is(err, app.ErrTriggerIgnored):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Capture timed out")
	default:
		log.Printf("Error on manual capture: %v", err)
		writeError(w, http.StatusInternalServerError, "Capture failed")
	}
}
