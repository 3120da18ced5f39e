package web

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io/fs"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/export"
	"github.com/cjeanneret/BoothGo/internal/logic/session"
	"github.com/cjeanneret/BoothGo/internal/logic/strip"
)

const (
	maxBodyBytes   = 1 << 20
	previewWidth   = 640
	previewQuality = 80
)

// Booth is the session surface driven over HTTP. *session.Session implements it.
type Booth interface {
	Launch(ctx context.Context, mode capture.Mode) error
	Snapshot() session.Snapshot
	Cancel()
	Export(ctx context.Context, sink export.Sink) (string, error)
	Preview(maxWidth int) (image.Image, error)
}

// StartRequest is the body of POST /session.
type StartRequest struct {
	Mode string `json:"mode"`
}

// UIConfig holds the values the page needs to render the flow.
type UIConfig struct {
	Modes         []string `json:"modes"`
	DefaultMode   string   `json:"default_mode"`
	CountdownFrom int      `json:"countdown_from"`
	TickMs        int      `json:"tick_ms"`
	FlashMs       int      `json:"flash_ms"`
	InterShotMs   int      `json:"inter_shot_ms"`
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Booth       Booth
	UI          UIConfig

	// MinStartInterval rejects a new session started sooner than this after
	// the previous one with 429. Zero disables the limit.
	MinStartInterval time.Duration

	startMu   sync.Mutex
	lastStart time.Time
	staticFS  fs.FS
}

// NewHandlers creates handlers with the given dependencies.
// If booth is nil, session endpoints return 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, booth Booth, ui UIConfig, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Booth:       booth,
		UI:          ui,
		staticFS:    staticFS,
	}
}

// HandleConfig returns the UI configuration as JSON.
func (h *Handlers) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.UI)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStart handles POST /session to start a capture session.
func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req StartRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	mode, err := capture.ParseMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.Booth == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}

	h.startMu.Lock()
	if h.MinStartInterval > 0 && !h.lastStart.IsZero() && time.Since(h.lastStart) < h.MinStartInterval {
		h.startMu.Unlock()
		http.Error(w, "too many session starts, wait a moment", http.StatusTooManyRequests)
		return
	}
	err = h.Booth.Launch(context.Background(), mode)
	if err == nil {
		h.lastStart = time.Now()
	}
	h.startMu.Unlock()

	switch {
	case errors.Is(err, session.ErrBusy):
		http.Error(w, "session already in progress", http.StatusConflict)
		return
	case errors.Is(err, session.ErrIllegalState):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		log.Printf("session start failed: %v", err)
		http.Error(w, "session start failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, h.Booth.Snapshot())
}

// HandleSession handles GET /session and returns the session snapshot.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	if h.Booth == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Booth.Snapshot())
}

// HandleCancel handles POST /session/cancel. It always leaves the session idle.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if h.Booth == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	h.Booth.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// HandleExport handles POST /session/export and sends the strip as a download.
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	if h.Booth == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}

	tw := &trackingWriter{ResponseWriter: w}
	name, err := h.Booth.Export(r.Context(), export.ResponseSink{W: tw})
	if err != nil {
		var ce *strip.CompositionError
		switch {
		case tw.wroteHeader:
			log.Printf("export download interrupted: %v", err)
		case errors.Is(err, session.ErrIllegalState), errors.Is(err, session.ErrBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.As(err, &ce):
			h.Broadcaster.Broadcast("error", "Export failed: "+err.Error())
			http.Error(w, "strip composition failed", http.StatusInternalServerError)
		default:
			h.Broadcaster.Broadcast("error", "Export failed: "+err.Error())
			http.Error(w, "export failed", http.StatusInternalServerError)
		}
		return
	}
	h.Broadcaster.Broadcast("info", "Exported "+name)
}

// HandlePreview handles GET /preview.jpg with the current mirrored frame.
func (h *Handlers) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if h.Booth == nil {
		http.Error(w, "camera not configured", http.StatusServiceUnavailable)
		return
	}
	img, err := h.Booth.Preview(previewWidth)
	if errors.Is(err, session.ErrInactive) {
		http.Error(w, "camera not active", http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, "preview unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	if err := jpeg.Encode(w, img, &jpeg.Options{Quality: previewQuality}); err != nil {
		log.Printf("preview encode: %v", err)
	}
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	if h.Booth != nil {
		snap := h.Booth.Snapshot()
		if data, err := json.Marshal(StatusEvent{
			Time:    time.Now().Format(time.RFC3339),
			Kind:    KindState,
			Level:   "info",
			Value:   snap,
			Session: snap.ID,
		}); err == nil {
			w.Write([]byte("data: " + string(data) + "\n\n"))
		}
	}
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// trackingWriter remembers whether a response has been started.
type trackingWriter struct {
	http.ResponseWriter
	wroteHeader bool
}

func (t *trackingWriter) WriteHeader(code int) {
	t.wroteHeader = true
	t.ResponseWriter.WriteHeader(code)
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.wroteHeader = true
	return t.ResponseWriter.Write(p)
}
