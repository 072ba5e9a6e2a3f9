package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/ayusman/steadyshot/internal/app"
	"github.com/ayusman/steadyshot/internal/scan"
	"github.com/ayusman/steadyshot/internal/store"
)

// newTestStore creates a new Store with an in-memory database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(store.MemoryDSN)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

type fakeScanner struct {
	mu         sync.Mutex
	snapshot   app.Snapshot
	modeErr    error
	failModes  map[scan.Mode]error
	switches   []scan.Mode
	result     scan.Result
	triggerErr error
	triggers   int
}

func (f *fakeScanner) Snapshot() app.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeScanner) SetMode(mode scan.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, mode)
	if f.modeErr != nil {
		return f.modeErr
	}
	if err := f.failModes[mode]; err != nil {
		f.snapshot.Mode = mode
		f.snapshot.Status = scan.StatusError
		return err
	}
	f.snapshot.Mode = mode
	f.snapshot.Status = scan.StatusSearching
	f.snapshot.Progress = 0
	return nil
}

func (f *fakeScanner) Trigger(ctx context.Context) (scan.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
	return f.result, f.triggerErr
}

func TestSessionHandler_Status(t *testing.T) {
	scanner := &fakeScanner{snapshot: app.Snapshot{
		Status:   scan.StatusLocking,
		Message:  "Hold steady...",
		Progress: 0.5,
		Mode:     scan.ModeFace,
		Running:  true,
	}}
	handler := NewSessionHandler(scanner, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var got map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["status"] != "LOCKING" || got["mode"] != "FACE" || got["progress"] != 0.5 {
		t.Errorf("unexpected status body: %v", got)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/status", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST /api/status: expected %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}

func TestSessionHandler_SetMode(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		modeErr    error
		wantStatus int
		wantMode   scan.Mode
	}{
		{name: "id card", body: `{"mode":"ID_CARD"}`, wantStatus: http.StatusOK, wantMode: scan.ModeIDCard},
		{name: "lower case", body: `{"mode":"face"}`, wantStatus: http.StatusOK, wantMode: scan.ModeFace},
		{name: "unknown mode", body: `{"mode":"passport"}`, wantStatus: http.StatusBadRequest},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "detector failure", body: `{"mode":"ID_CARD"}`, modeErr: errors.New("no model"), wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			scanner := &fakeScanner{snapshot: app.Snapshot{Mode: scan.ModeFace}, modeErr: tt.modeErr}
			handler := NewSessionHandler(scanner, s)

			req := httptest.NewRequest(http.MethodPut, "/api/mode", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}

			var snap app.Snapshot
			if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if snap.Mode != tt.wantMode {
				t.Errorf("mode = %v, want %v", snap.Mode, tt.wantMode)
			}

			saved, err := s.Settings().Get(store.KeyMode)
			if err != nil || saved != string(tt.wantMode) {
				t.Errorf("saved mode = %q, %v; want %q", saved, err, tt.wantMode)
			}
		})
	}
}

func TestSessionHandler_SetModeFailureRestoresSavedMode(t *testing.T) {
	tests := []struct {
		name         string
		saved        string
		failModes    map[scan.Mode]error
		wantSwitches []scan.Mode
		wantMode     scan.Mode
		wantStatus   scan.Status
	}{
		{
			name:         "back to the saved mode",
			saved:        "FACE",
			failModes:    map[scan.Mode]error{scan.ModeIDCard: errors.New("no model")},
			wantSwitches: []scan.Mode{scan.ModeIDCard, scan.ModeFace},
			wantMode:     scan.ModeFace,
			wantStatus:   scan.StatusSearching,
		},
		{
			name:         "nothing saved",
			failModes:    map[scan.Mode]error{scan.ModeIDCard: errors.New("no model")},
			wantSwitches: []scan.Mode{scan.ModeIDCard},
			wantMode:     scan.ModeIDCard,
			wantStatus:   scan.StatusError,
		},
		{
			name:         "saved mode fails too",
			saved:        "FACE",
			failModes:    map[scan.Mode]error{scan.ModeIDCard: errors.New("camera gone"), scan.ModeFace: errors.New("camera gone")},
			wantSwitches: []scan.Mode{scan.ModeIDCard, scan.ModeFace},
			wantMode:     scan.ModeFace,
			wantStatus:   scan.StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			if tt.saved != "" {
				if err := s.Settings().Set(store.KeyMode, tt.saved); err != nil {
					t.Fatalf("Set() error = %v", err)
				}
			}
			scanner := &fakeScanner{snapshot: app.Snapshot{Mode: scan.ModeFace}, failModes: tt.failModes}
			handler := NewSessionHandler(scanner, s)

			req := httptest.NewRequest(http.MethodPut, "/api/mode", strings.NewReader(`{"mode":"ID_CARD"}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rec.Code)
			}
			if !reflect.DeepEqual(scanner.switches, tt.wantSwitches) {
				t.Errorf("switches = %v, want %v", scanner.switches, tt.wantSwitches)
			}
			if snap := scanner.Snapshot(); snap.Mode != tt.wantMode || snap.Status != tt.wantStatus {
				t.Errorf("snapshot = %+v, want %v %v", snap, tt.wantMode, tt.wantStatus)
			}
			if saved, _ := s.Settings().Get(store.KeyMode); saved != tt.saved {
				t.Errorf("saved mode = %q, want %q unchanged", saved, tt.saved)
			}
		})
	}
}

func TestSessionHandler_Trigger(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "captured", wantStatus: http.StatusCreated},
		{name: "ignored", err: app.ErrTriggerIgnored, wantStatus: http.StatusConflict},
		{name: "not running", err: app.ErrNotRunning, wantStatus: http.StatusServiceUnavailable},
		{name: "capture failed", err: app.ErrCaptureFailed, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scanner := &fakeScanner{
				result:     scan.Result{Mode: scan.ModeIDCard, Timestamp: 42, Width: 800, Height: 500, Manual: true},
				triggerErr: tt.err,
			}
			handler := NewSessionHandler(scanner, nil)

			req := httptest.NewRequest(http.MethodPost, "/api/capture", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if scanner.triggers != 1 {
				t.Errorf("Trigger called %d times, want 1", scanner.triggers)
			}
			if tt.err != nil {
				return
			}

			var got triggerResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if got.Width != 800 || got.Height != 500 || !got.Manual || got.Mode != scan.ModeIDCard {
				t.Errorf("unexpected trigger response: %+v", got)
			}
		})
	}

	t.Run("only POST", func(t *testing.T) {
		handler := NewSessionHandler(&fakeScanner{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/capture", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func addCapture(t *testing.T, s *store.Store, ts int64) *store.Capture {
	t.Helper()
	c := &store.Capture{Mode: "FACE", Width: 2, Height: 3, Timestamp: ts, Image: []byte{0x89, 'P', 'N', 'G', byte(ts)}}
	if err := s.Captures().Add(c); err != nil {
		t.Fatalf("failed to add capture: %v", err)
	}
	return c
}

func TestCaptureHandler_List(t *testing.T) {
	s := newTestStore(t)
	handler := NewCaptureHandler(s)

	addCapture(t, s, 100)
	newest := addCapture(t, s, 200)

	req := httptest.NewRequest(http.MethodGet, "/api/captures", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response listCapturesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Total != 2 || len(response.Captures) != 2 {
		t.Fatalf("expected 2 captures, got %+v", response)
	}
	first := response.Captures[0]
	if first.ID != newest.ID {
		t.Errorf("first capture = %s, want newest %s", first.ID, newest.ID)
	}
	if first.FileName != "capture-200.png" || first.URL != "/api/captures/"+newest.ID {
		t.Errorf("unexpected capture links: %+v", first)
	}
}

func TestCaptureHandler_Get(t *testing.T) {
	s := newTestStore(t)
	handler := NewCaptureHandler(s)
	c := addCapture(t, s, 1700000000000)

	t.Run("inline image", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/captures/"+c.ID, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Content-Type = %s, want image/png", ct)
		}
		if !bytes.Equal(rec.Body.Bytes(), c.Image) {
			t.Errorf("body = %v, want %v", rec.Body.Bytes(), c.Image)
		}
		if cd := rec.Header().Get("Content-Disposition"); cd != `inline; filename="capture-1700000000000.png"` {
			t.Errorf("Content-Disposition = %s", cd)
		}
	})

	t.Run("download", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/captures/"+c.ID+"?download=1", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if cd := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment;") {
			t.Errorf("Content-Disposition = %s, want attachment", cd)
		}
	})

	t.Run("not found", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/captures/missing", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestCaptureHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	handler := NewCaptureHandler(s)
	c := addCapture(t, s, 1)

	req := httptest.NewRequest(http.MethodDelete, "/api/captures/"+c.ID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/captures/"+c.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected status %d, got %d", http.StatusNotFound, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/captures", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST collection: expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
