package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/export"
	"github.com/cjeanneret/BoothGo/internal/logic/session"
	"github.com/cjeanneret/BoothGo/internal/logic/strip"
)

// fakeBooth records calls and returns canned results.
type fakeBooth struct {
	mu         sync.Mutex
	launchErr  error
	launched   []capture.Mode
	snap       session.Snapshot
	cancels    int
	exportErr  error
	exportData []byte
	preview    image.Image
	previewErr error
}

func (f *fakeBooth) Launch(_ context.Context, mode capture.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return f.launchErr
	}
	f.launched = append(f.launched, mode)
	f.snap = session.Snapshot{ID: "run-1", State: session.AwaitingDevice, Mode: mode.String()}
	return nil
}

func (f *fakeBooth) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeBooth) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeBooth) Export(_ context.Context, sink export.Sink) (string, error) {
	if f.exportErr != nil {
		return "", f.exportErr
	}
	name := "photo-booth-single-1.jpg"
	return name, sink.Save(name, f.exportData)
}

func (f *fakeBooth) Preview(int) (image.Image, error) {
	return f.preview, f.previewErr
}

// ---------- Handler helpers ----------

func newTestHandlers(booth Booth) *Handlers {
	staticFS := fstest.MapFS{
		"index.html": &fstest.MapFile{Data: []byte("<html>test</html>")},
	}
	return NewHandlers(
		NewStatusBroadcaster(),
		booth,
		UIConfig{
			Modes:         []string{"single", "burst"},
			DefaultMode:   "single",
			CountdownFrom: 3,
			TickMs:        1000,
			FlashMs:       150,
			InterShotMs:   1500,
		},
		staticFS,
	)
}

func startBody(mode string) *bytes.Reader {
	data, _ := json.Marshal(StartRequest{Mode: mode})
	return bytes.NewReader(data)
}

// ---------- HandleStart ----------

func TestHandleStart_ValidPost(t *testing.T) {
	booth := &fakeBooth{}
	h := newTestHandlers(booth)
	req := httptest.NewRequest(http.MethodPost, "/session", startBody("burst"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.HandleStart(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["state"] != "awaiting_device" || resp["mode"] != "burst" {
		t.Errorf("response = %v", resp)
	}
	if len(booth.launched) != 1 || booth.launched[0] != capture.Burst {
		t.Errorf("launched = %v, want [burst]", booth.launched)
	}
}

func TestHandleStart_TripleAlias(t *testing.T) {
	booth := &fakeBooth{}
	h := newTestHandlers(booth)
	w := httptest.NewRecorder()
	h.HandleStart(w, httptest.NewRequest(http.MethodPost, "/session", startBody("triple")))

	if w.Code != http.StatusAccepted || booth.launched[0] != capture.Burst {
		t.Errorf("status = %d, launched = %v", w.Code, booth.launched)
	}
}

func TestHandleStart_GetMethodNotAllowed(t *testing.T) {
	h := newTestHandlers(&fakeBooth{})
	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	w := httptest.NewRecorder()

	h.HandleStart(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleStart_BadRequests(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"not_json", "not json"},
		{"unknown_mode", `{"mode":"quad"}`},
		{"empty_mode", `{}`},
		{"oversized", `{"mode":"` + strings.Repeat("x", 2<<20) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			booth := &fakeBooth{}
			h := newTestHandlers(booth)
			w := httptest.NewRecorder()

			h.HandleStart(w, httptest.NewRequest(http.MethodPost, "/session", strings.NewReader(tc.body)))

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			if len(booth.launched) != 0 {
				t.Errorf("session launched for a bad request")
			}
		})
	}
}

func TestHandleStart_NilBooth(t *testing.T) {
	h := newTestHandlers(nil)
	w := httptest.NewRecorder()

	h.HandleStart(w, httptest.NewRequest(http.MethodPost, "/session", startBody("single")))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleStart_Conflicts(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"busy", session.ErrBusy},
		{"complete", session.ErrIllegalState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(&fakeBooth{launchErr: tc.err})
			w := httptest.NewRecorder()

			h.HandleStart(w, httptest.NewRequest(http.MethodPost, "/session", startBody("single")))

			if w.Code != http.StatusConflict {
				t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
			}
		})
	}
}

func TestHandleStart_RateLimiting(t *testing.T) {
	h := newTestHandlers(&fakeBooth{})
	h.MinStartInterval = 5 * time.Second

	w1 := httptest.NewRecorder()
	h.HandleStart(w1, httptest.NewRequest(http.MethodPost, "/session", startBody("single")))
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first request: status = %d, want %d", w1.Code, http.StatusAccepted)
	}

	w2 := httptest.NewRecorder()
	h.HandleStart(w2, httptest.NewRequest(http.MethodPost, "/session", startBody("single")))
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("rate-limited request: status = %d, want %d", w2.Code, http.StatusTooManyRequests)
	}
}

// ---------- Session endpoints ----------

func TestHandleSession(t *testing.T) {
	booth := &fakeBooth{snap: session.Snapshot{ID: "x", State: session.Countdown, Countdown: 2, Mode: "single"}}
	h := newTestHandlers(booth)
	w := httptest.NewRecorder()

	h.HandleSession(w, httptest.NewRequest(http.MethodGet, "/session", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["state"] != "countdown" || resp["countdown"] != float64(2) {
		t.Errorf("response = %v", resp)
	}
}

func TestHandleCancel(t *testing.T) {
	booth := &fakeBooth{}
	h := newTestHandlers(booth)
	w := httptest.NewRecorder()

	h.HandleCancel(w, httptest.NewRequest(http.MethodPost, "/session/cancel", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if booth.cancels != 1 {
		t.Errorf("cancels = %d, want 1", booth.cancels)
	}
}

// ---------- HandleExport ----------

func TestHandleExport_Download(t *testing.T) {
	booth := &fakeBooth{exportData: []byte("strip")}
	h := newTestHandlers(booth)
	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	w := httptest.NewRecorder()

	h.HandleExport(w, httptest.NewRequest(http.MethodPost, "/session/export", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "photo-booth-single-1.jpg") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if w.Body.String() != "strip" {
		t.Errorf("body = %q", w.Body.String())
	}
	if evt := nextEvent(t, ch); !strings.Contains(evt.Msg, "Exported photo-booth-single-1.jpg") {
		t.Errorf("event = %+v", evt)
	}
}

func TestHandleExport_Errors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not_complete", session.ErrIllegalState, http.StatusConflict},
		{"busy", session.ErrBusy, http.StatusConflict},
		{"composition", &strip.CompositionError{Photo: 1, Err: strip.ErrDecode}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandlers(&fakeBooth{exportErr: tc.err})
			w := httptest.NewRecorder()

			h.HandleExport(w, httptest.NewRequest(http.MethodPost, "/session/export", nil))

			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

// ---------- HandlePreview ----------

func TestHandlePreview_Inactive(t *testing.T) {
	h := newTestHandlers(&fakeBooth{previewErr: session.ErrInactive})
	w := httptest.NewRecorder()

	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandlePreview_Frame(t *testing.T) {
	h := newTestHandlers(&fakeBooth{preview: image.NewRGBA(image.Rect(0, 0, 32, 18))})
	w := httptest.NewRecorder()

	h.HandlePreview(w, httptest.NewRequest(http.MethodGet, "/preview.jpg", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	cfg, err := jpeg.DecodeConfig(w.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 18 {
		t.Errorf("preview = %dx%d, want 32x18", cfg.Width, cfg.Height)
	}
}

// ---------- HandleConfig ----------

func TestHandleConfig(t *testing.T) {
	h := newTestHandlers(&fakeBooth{})
	w := httptest.NewRecorder()

	h.HandleConfig(w, httptest.NewRequest(http.MethodGet, "/config", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var ui UIConfig
	if err := json.NewDecoder(w.Body).Decode(&ui); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ui.Modes) != 2 || ui.CountdownFrom != 3 || ui.TickMs != 1000 {
		t.Errorf("config = %+v", ui)
	}
}

// ---------- ServeIndex ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(&fakeBooth{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if !strings.Contains(w.Body.String(), "<html>") {
		t.Error("body should contain HTML content")
	}
}

func TestServeIndex_Missing(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), nil, UIConfig{}, fstest.MapFS{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ---------- HandleStatusStream ----------

func TestHandleStatusStream(t *testing.T) {
	booth := &fakeBooth{snap: session.Snapshot{ID: "live", State: session.Idle}}
	h := newTestHandlers(booth)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "data: ") {
				lines <- strings.TrimPrefix(line, "data: ")
			}
		}
		close(lines)
	}()

	first := nextEvent(t, lines)
	if first.Kind != KindState || first.Session != "live" {
		t.Errorf("initial event = %+v, want current session state", first)
	}

	h.Broadcaster.Broadcast("info", "hello stream")
	if evt := nextEvent(t, lines); evt.Msg != "hello stream" {
		t.Errorf("event = %+v", evt)
	}
	cancel()
}

// ---------- Full flow over the mux ----------

func TestServer_CaptureAndExportFlow(t *testing.T) {
	src := camera.NewFrameSource(camera.PatternProvider{}, camera.Constraints{FacingMode: "user", Width: 64, Height: 48})
	b := NewStatusBroadcaster()
	sess := session.New(src, session.Options{
		Timing: capture.Timing{
			CountdownFrom: 3,
			Tick:          time.Microsecond,
			Settle:        time.Microsecond,
			Flash:         time.Microsecond,
			InterShot:     time.Microsecond,
			Quality:       90,
		},
		Layout:     strip.DefaultLayout(),
		ResetDelay: time.Microsecond,
		Observer:   NewSessionEvents(b),
	})
	srv := httptest.NewServer(NewServer("", b, sess, UIConfig{}).Mux())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/session", "application/json", startBody("burst"))
	if err != nil {
		t.Fatalf("POST /session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start status = %d", resp.StatusCode)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sess.Snapshot().State != session.Complete {
		if time.Now().After(deadline) {
			t.Fatalf("session never completed: %+v", sess.Snapshot())
		}
		time.Sleep(time.Millisecond)
	}

	resp, err = http.Post(srv.URL+"/session/export", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /session/export: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "photo-booth-triple-") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	cfg, err := jpeg.DecodeConfig(resp.Body)
	if err != nil {
		t.Fatalf("decode strip: %v", err)
	}
	if cfg.Width != 184 || cfg.Height != 304 {
		t.Errorf("strip = %dx%d, want 184x304", cfg.Width, cfg.Height)
	}

	// The reset runs once the download has been written.
	deadline = time.Now().Add(5 * time.Second)
	for sess.Snapshot().State != session.Idle {
		if time.Now().After(deadline) {
			t.Fatalf("session not reset after export: %+v", sess.Snapshot())
		}
		time.Sleep(time.Millisecond)
	}

	resp, err = http.Post(srv.URL+"/session/export", "application/json", nil)
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("export while idle: status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}
