package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/export"
	"github.com/cjeanneret/BoothGo/internal/logic/strip"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

var (
	// ErrBusy is returned while a capture run or an export is in progress.
	ErrBusy = errors.New("session busy")
	// ErrIllegalState is returned when an operation is not allowed in the current state.
	ErrIllegalState = errors.New("operation not allowed in current session state")
	// ErrNoPhotos is recorded when a run ends without a single usable photo.
	ErrNoPhotos = errors.New("no photo could be captured")
	// ErrInactive is returned by Preview when the camera is not open.
	ErrInactive = errors.New("camera not active")
)

// Camera is the frame source a session drives. *camera.FrameSource implements it.
type Camera interface {
	Open(ctx context.Context) error
	Snapshot() (image.Image, error)
	Close() error
	Active() bool
}

// Observer receives session changes and capture signals. Calls may come
// from several goroutines.
type Observer interface {
	SessionChanged(s Snapshot)
	Flash(id string, on bool)
	Shot(id string, shot, total int, err error)
}

type nopObserver struct{}

func (nopObserver) SessionChanged(Snapshot)      {}
func (nopObserver) Flash(string, bool)           {}
func (nopObserver) Shot(string, int, int, error) {}

// Options configures a Session. Zero values fall back to the booth defaults.
type Options struct {
	Flash      camera.Flash
	Timing     capture.Timing
	Layout     strip.Layout
	ResetDelay time.Duration
	Observer   Observer
	Exporter   *export.Exporter
}

// Session owns the photos of one booth visit and the camera lifecycle.
type Session struct {
	cam        Camera
	seq        *capture.Sequencer
	exporter   *export.Exporter
	layout     strip.Layout
	resetDelay time.Duration
	observer   Observer

	mu        sync.Mutex
	id        string
	state     State
	countdown int
	mode      capture.Mode
	photos    []capture.Photo
	lastErr   error
	cancel    context.CancelFunc
	done      chan struct{}
	exporting bool
}

// New creates an idle session on cam.
func New(cam Camera, opts Options) *Session {
	if opts.Timing == (capture.Timing{}) {
		opts.Timing = capture.DefaultTiming()
	}
	if opts.Layout.HoleCount == 0 {
		opts.Layout = strip.DefaultLayout()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Exporter == nil {
		opts.Exporter = export.New()
	}
	s := &Session{
		cam:        cam,
		exporter:   opts.Exporter,
		layout:     opts.Layout,
		resetDelay: opts.ResetDelay,
		observer:   opts.Observer,
	}
	s.seq = capture.NewSequencer(cam, opts.Flash, opts.Timing, sequencerSignals{s})
	return s
}

// Snapshot returns the current session view.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		ID:     s.id,
		State:  s.state,
		Mode:   s.mode.String(),
		Photos: len(s.photos),
	}
	if s.state == Countdown {
		snap.Countdown = s.countdown
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// Photos returns a copy of the captured photos.
func (s *Session) Photos() []capture.Photo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capture.Photo(nil), s.photos...)
}

// update applies fn under the lock and notifies the observer if the view changed.
func (s *Session) update(fn func()) {
	s.mu.Lock()
	before := s.snapshotLocked()
	fn()
	after := s.snapshotLocked()
	s.mu.Unlock()

	if before == after {
		return
	}
	if before.State != after.State {
		debug.State(before.State.String(), after.State.String())
	}
	s.observer.SessionChanged(after)
}

// Start runs a complete capture session and blocks until it ends.
func (s *Session) Start(ctx context.Context, mode capture.Mode) error {
	runCtx, err := s.begin(ctx, mode)
	if err != nil {
		return err
	}
	return s.run(runCtx, mode)
}

// Launch starts a capture session in the background. Busy and illegal-state
// errors are reported synchronously; the outcome of the run is reported
// through the observer and Snapshot.
func (s *Session) Launch(ctx context.Context, mode capture.Mode) error {
	runCtx, err := s.begin(ctx, mode)
	if err != nil {
		return err
	}
	go s.run(runCtx, mode)
	return nil
}

func (s *Session) begin(ctx context.Context, mode capture.Mode) (context.Context, error) {
	var (
		runCtx context.Context
		err    error
	)
	s.update(func() {
		switch {
		case s.done != nil || s.exporting:
			err = ErrBusy
			return
		case s.state == Complete:
			err = fmt.Errorf("%w: export or reset the completed strip first", ErrIllegalState)
			return
		}
		runCtx, s.cancel = context.WithCancel(ctx)
		s.done = make(chan struct{})
		s.id = uuid.NewString()
		s.mode = mode
		s.photos = nil
		s.lastErr = nil
		s.countdown = 0
		s.state = AwaitingDevice
	})
	if err != nil {
		return nil, err
	}
	debug.Summary(fmt.Sprintf("Session %s: %s (%d shot(s))", s.Snapshot().ID, mode, mode.ShotCount()))
	return runCtx, nil
}

func (s *Session) run(ctx context.Context, mode capture.Mode) error {
	defer func() {
		s.mu.Lock()
		s.cancel()
		close(s.done)
		s.cancel, s.done = nil, nil
		s.mu.Unlock()
	}()

	if err := s.cam.Open(ctx); err != nil {
		s.update(func() {
			s.releaseCameraLocked()
			s.state = Failed
			s.lastErr = err
		})
		debug.Error(err)
		return err
	}

	photos, err := s.seq.Run(ctx, mode.ShotCount())

	switch {
	case err != nil && ctx.Err() != nil:
		s.update(func() {
			s.releaseCameraLocked()
			s.state = Idle
			s.photos = nil
		})
		debug.Info("Session cancelled")
		return err
	case err != nil:
		s.update(func() {
			s.releaseCameraLocked()
			s.state = Failed
			s.lastErr = err
		})
		debug.Error(err)
		return err
	case len(photos) == 0:
		s.update(func() {
			s.releaseCameraLocked()
			s.state = Failed
			s.lastErr = ErrNoPhotos
		})
		return ErrNoPhotos
	}

	s.update(func() {
		s.releaseCameraLocked()
		s.photos = photos
		s.state = Complete
	})
	debug.Info("Session complete: %d/%d photo(s)", len(photos), mode.ShotCount())
	return nil
}

// releaseCameraLocked closes the camera in the same critical section as the
// state change that leaves AwaitingDevice/Countdown/Capturing.
func (s *Session) releaseCameraLocked() {
	if err := s.cam.Close(); err != nil {
		debug.Warn("Camera close: %v", err)
	}
}

// Cancel stops an in-flight run, waits for the camera to be released, and resets the session.
func (s *Session) Cancel() {
	debug.Live("Session: cancel requested")
	s.Reset()
}

// Reset returns the session to Idle with no photos and the camera closed.
func (s *Session) Reset() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}

	s.update(func() {
		s.releaseCameraLocked()
		s.state = Idle
		s.photos = nil
		s.countdown = 0
		s.lastErr = nil
	})
}

// Export composes the strip, hands it to sink, then resets the session after
// the reset delay. On failure the session keeps its photos and may retry.
func (s *Session) Export(ctx context.Context, sink export.Sink) (string, error) {
	var (
		photos []capture.Photo
		mode   capture.Mode
		err    error
	)
	s.mu.Lock()
	switch {
	case s.exporting:
		err = ErrBusy
	case s.state != Complete || len(s.photos) == 0:
		err = fmt.Errorf("%w: export needs a complete session, state is %s", ErrIllegalState, s.state)
	default:
		s.exporting = true
		photos = append(photos, s.photos...)
		mode = s.mode
	}
	s.mu.Unlock()
	if err != nil {
		return "", err
	}
	defer func() {
		s.mu.Lock()
		s.exporting = false
		s.mu.Unlock()
	}()

	data, err := strip.Compose(photos, mode, s.layout)
	if err != nil {
		debug.Error(err)
		return "", err
	}
	name, err := s.exporter.Export(sink, data, mode)
	if err != nil {
		debug.Error(err)
		return "", err
	}

	if s.resetDelay > 0 {
		t := time.NewTimer(s.resetDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	s.resetAfterExport()
	return name, nil
}

func (s *Session) resetAfterExport() {
	s.update(func() {
		s.state = Idle
		s.photos = nil
		s.countdown = 0
	})
}

// Preview returns the current mirrored frame, scaled down to at most maxWidth pixels wide.
func (s *Session) Preview(maxWidth int) (image.Image, error) {
	if !s.cam.Active() {
		return nil, ErrInactive
	}
	frame, err := s.cam.Snapshot()
	if err != nil {
		if errors.Is(err, camera.ErrNotOpen) {
			return nil, ErrInactive
		}
		return nil, err
	}
	b := frame.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return frame, nil
	}
	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), frame, b, draw.Src, nil)
	return dst, nil
}

// sequencerSignals maps capture choreography onto session states.
type sequencerSignals struct {
	s *Session
}

func (o sequencerSignals) StateChanged(st capture.State) {
	// Countdown is entered by the first Countdown(n) signal.
	switch st {
	case capture.StatePostCountdownPause, capture.StateFlashing, capture.StateCapturing, capture.StateAdvancing:
		o.s.update(func() { o.s.state = Capturing })
	}
}

func (o sequencerSignals) Countdown(n int) {
	o.s.update(func() {
		o.s.countdown = n
		if n > 0 {
			o.s.state = Countdown
		}
	})
}

func (o sequencerSignals) Flash(on bool) {
	id, _ := o.s.current()
	o.s.observer.Flash(id, on)
}

func (o sequencerSignals) ShotTaken(shot, total int) {
	id, _ := o.s.current()
	o.s.observer.Shot(id, shot, total, nil)
}

func (o sequencerSignals) ShotSkipped(shot int, err error) {
	id, total := o.s.current()
	o.s.observer.Shot(id, shot, total, err)
}

// current returns the run ID and its planned shot count.
func (s *Session) current() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.mode.ShotCount()
}
