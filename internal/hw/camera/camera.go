package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/disintegration/gift"
)

var (
	// ErrNoDevice reports that no usable video device exists.
	ErrNoDevice = errors.New("no video device available")
	// ErrPermissionDenied reports that the device exists but cannot be opened.
	ErrPermissionDenied = errors.New("permission to use the video device denied")
	// ErrAlreadyOpen is returned by Open while a stream is held.
	ErrAlreadyOpen = errors.New("frame source already open")
	// ErrNotOpen is returned by Snapshot when no stream is held.
	ErrNotOpen = errors.New("frame source not open")
	// ErrFrameNotReady is returned by a stream that has not produced a frame yet.
	ErrFrameNotReady = errors.New("video not ready")
	// ErrSnapshot wraps any failure to produce a still from an open stream.
	ErrSnapshot = errors.New("snapshot failed")
)

// DeviceError is returned when a video stream cannot be acquired.
// errors.Is reaches ErrNoDevice / ErrPermissionDenied through it.
type DeviceError struct {
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Device, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Constraints are the stream properties requested from a provider.
// Width and Height are ideal values; providers may deliver another size.
type Constraints struct {
	FacingMode string // "user" for the front-facing (selfie) camera
	Width      int
	Height     int
}

// DefaultConstraints requests a front-facing 1280x720 stream.
func DefaultConstraints() Constraints {
	return Constraints{FacingMode: "user", Width: 1280, Height: 720}
}

// Provider opens live video streams.
type Provider interface {
	Name() string
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open live video feed.
type Stream interface {
	// Frame returns the current frame at the stream's native size.
	Frame() (image.Image, error)
	// Stop releases the device.
	Stop() error
}

// FrameSource holds at most one open stream and turns its frames into
// mirrored stills, matching the mirrored preview shown to the subject.
type FrameSource struct {
	provider    Provider
	constraints Constraints

	mu     sync.Mutex
	stream Stream
}

// NewFrameSource creates a closed frame source backed by provider.
func NewFrameSource(provider Provider, c Constraints) *FrameSource {
	return &FrameSource{provider: provider, constraints: c}
}

// Open acquires the video stream. Provider failures are returned as *DeviceError.
func (f *FrameSource) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stream != nil {
		return ErrAlreadyOpen
	}

	debug.Verbose("Camera: opening %s (%dx%d, facing=%s)",
		f.provider.Name(), f.constraints.Width, f.constraints.Height, f.constraints.FacingMode)
	stream, err := f.provider.Open(ctx, f.constraints)
	if err != nil {
		return &DeviceError{Device: f.provider.Name(), Err: err}
	}
	f.stream = stream
	debug.Info("Camera %s opened", f.provider.Name())
	return nil
}

// Snapshot captures the current frame, mirrored horizontally.
func (f *FrameSource) Snapshot() (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stream == nil {
		return nil, ErrNotOpen
	}
	frame, err := f.stream.Frame()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSnapshot, err)
	}
	if frame == nil || frame.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrSnapshot)
	}
	return Mirror(frame), nil
}

// Close releases the stream. It is safe to call any number of times.
func (f *FrameSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stream == nil {
		return nil
	}
	err := f.stream.Stop()
	f.stream = nil
	debug.Info("Camera %s released", f.provider.Name())
	if err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}

// Active reports whether a stream is currently held.
func (f *FrameSource) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stream != nil
}

// Mirror returns a horizontally flipped copy of img with bounds at the origin.
func Mirror(img image.Image) *image.RGBA {
	g := gift.New(gift.FlipHorizontal())
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}
