package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
)

var (
	// ErrBusy is returned by Run while another run is in progress.
	ErrBusy = errors.New("capture sequence already running")
	// ErrInvalidShotCount is returned for a shot count other than 1 or 3.
	ErrInvalidShotCount = errors.New("shot count must be 1 or 3")
)

// State is the sequencer's position in the capture choreography.
type State int

const (
	StateIdle State = iota
	StateCountdown
	StatePostCountdownPause
	StateFlashing
	StateCapturing
	StateAdvancing
	StateDone
)

var stateNames = [...]string{
	StateIdle:               "idle",
	StateCountdown:          "countdown",
	StatePostCountdownPause: "post_countdown_pause",
	StateFlashing:           "flashing",
	StateCapturing:          "capturing",
	StateAdvancing:          "advancing",
	StateDone:               "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Snapshotter produces mirrored stills from an open camera.
type Snapshotter interface {
	Snapshot() (image.Image, error)
}

// Observer receives the signals the presentation layer renders.
// Flash(false) may be delivered from a timer goroutine.
type Observer interface {
	StateChanged(s State)
	Countdown(n int) // n == 0 clears the countdown display
	Flash(on bool)
	ShotTaken(shot, total int)
	ShotSkipped(shot int, err error)
}

// NopObserver ignores every signal.
type NopObserver struct{}

func (NopObserver) StateChanged(State)     {}
func (NopObserver) Countdown(int)          {}
func (NopObserver) Flash(bool)             {}
func (NopObserver) ShotTaken(int, int)     {}
func (NopObserver) ShotSkipped(int, error) {}

// Timing defines the delays of the capture choreography.
type Timing struct {
	CountdownFrom int           // first countdown value, counts down to 1
	Tick          time.Duration // how long each countdown value is shown
	Settle        time.Duration // pause between countdown end and shutter
	Flash         time.Duration // flash cue duration, overlaps the capture
	InterShot     time.Duration // dead time between two shots
	Quality       int           // JPEG quality of each photo
}

// DefaultTiming returns the photo booth's standard choreography.
func DefaultTiming() Timing {
	return Timing{
		CountdownFrom: 3,
		Tick:          1000 * time.Millisecond,
		Settle:        200 * time.Millisecond,
		Flash:         150 * time.Millisecond,
		InterShot:     1500 * time.Millisecond,
		Quality:       90,
	}
}

// Sequencer runs timed countdown/flash/capture cycles against a camera.
type Sequencer struct {
	source   Snapshotter
	flash    camera.Flash
	timing   Timing
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	running bool
	state   State
}

// NewSequencer creates a sequencer. A nil flash or observer is replaced by a no-op.
func NewSequencer(source Snapshotter, flash camera.Flash, timing Timing, observer Observer) *Sequencer {
	if flash == nil {
		flash = camera.NoFlash{}
	}
	if observer == nil {
		observer = NopObserver{}
	}
	if timing.Quality <= 0 {
		timing.Quality = DefaultTiming().Quality
	}
	return &Sequencer{
		source:   source,
		flash:    flash,
		timing:   timing,
		observer: observer,
		now:      time.Now,
	}
}

// State returns the current choreography state.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Running reports whether a run is in progress.
func (s *Sequencer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Sequencer) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	debug.Trace("Sequencer: %s", st)
	s.observer.StateChanged(st)
}

// Run takes shotCount photos and returns them in capture order.
// A failed snapshot is skipped, so fewer photos than requested may come back.
// On cancellation Run returns ctx.Err() together with the photos taken so far.
// A completed run waits for the last flash cue to finish and leaves the
// sequencer idle.
func (s *Sequencer) Run(ctx context.Context, shotCount int) ([]Photo, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if shotCount != 1 && shotCount != 3 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: got %d", ErrInvalidShotCount, shotCount)
	}
	s.running = true
	s.mu.Unlock()

	cue := &flashCue{flash: s.flash, observer: s.observer}
	defer func() {
		cue.release()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	debug.Verbose("Sequencer: %d shot(s), countdown from %d", shotCount, s.timing.CountdownFrom)
	photos := make([]Photo, 0, shotCount)
	var last time.Time

	for i := 0; i < shotCount; i++ {
		shot := i + 1

		s.setState(StateCountdown)
		for n := s.timing.CountdownFrom; n >= 1; n-- {
			s.observer.Countdown(n)
			debug.Countdown(shot, n)
			if err := sleep(ctx, s.timing.Tick); err != nil {
				return s.abort(photos, err)
			}
		}
		s.observer.Countdown(0)
		debug.Countdown(shot, 0)

		s.setState(StatePostCountdownPause)
		if err := sleep(ctx, s.timing.Settle); err != nil {
			return s.abort(photos, err)
		}

		s.setState(StateFlashing)
		cue.fire(s.timing.Flash)

		s.setState(StateCapturing)
		if photo, err := s.take(&last); err != nil {
			debug.Warn("Shot %d/%d skipped: %v", shot, shotCount, err)
			s.observer.ShotSkipped(shot, err)
		} else {
			photos = append(photos, photo)
			debug.Shot(shot, shotCount)
			s.observer.ShotTaken(shot, shotCount)
		}

		if shot < shotCount {
			s.setState(StateAdvancing)
			if err := sleep(ctx, s.timing.InterShot); err != nil {
				return s.abort(photos, err)
			}
		}
		if err := cue.wait(ctx); err != nil {
			return s.abort(photos, err)
		}
	}

	s.setState(StateDone)
	s.setState(StateIdle)
	return photos, nil
}

// take snapshots and encodes one photo with a timestamp strictly after *last.
func (s *Sequencer) take(last *time.Time) (Photo, error) {
	img, err := s.source.Snapshot()
	if err != nil {
		return Photo{}, err
	}
	ts := s.now()
	if !ts.After(*last) {
		ts = last.Add(time.Nanosecond)
	}
	photo, err := encodePhoto(img, s.timing.Quality, ts)
	if err != nil {
		return Photo{}, err
	}
	*last = ts
	return photo, nil
}

func (s *Sequencer) abort(photos []Photo, err error) ([]Photo, error) {
	debug.Live("Sequencer: cancelled after %d photo(s)", len(photos))
	s.setState(StateIdle)
	return photos, err
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// flashCue pairs every flash-on with exactly one flash-off.
// The off edge is scheduled on a timer so it overlaps the capture.
type flashCue struct {
	flash    camera.Flash
	observer Observer

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	done    chan struct{} // closed when the current cue's off edge is delivered
}

func (c *flashCue) fire(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	if err := c.flash.On(); err != nil {
		debug.Warn("Flash lamp on: %v", err)
	}
	debug.Flash(true)
	c.observer.Flash(true)
	c.pending = true
	c.done = make(chan struct{})
	c.timer = time.AfterFunc(d, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.offLocked()
	})
}

// wait blocks until the last fired cue has run its full duration.
func (c *flashCue) wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release cancels the pending timer and delivers the outstanding flash-off.
func (c *flashCue) release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *flashCue) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.offLocked()
}

func (c *flashCue) offLocked() {
	if !c.pending {
		return
	}
	c.pending = false
	if err := c.flash.Off(); err != nil {
		debug.Warn("Flash lamp off: %v", err)
	}
	debug.Flash(false)
	c.observer.Flash(false)
	close(c.done)
}
