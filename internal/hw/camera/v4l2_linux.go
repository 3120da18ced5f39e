//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io/fs"
	"sync"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

const stopTimeout = 2 * time.Second

// V4L2Provider opens a Video4Linux capture device delivering MJPEG frames.
type V4L2Provider struct {
	Device string // e.g. /dev/video0
}

func (p V4L2Provider) Name() string { return p.Device }

func (p V4L2Provider) Open(ctx context.Context, c Constraints) (Stream, error) {
	dev, err := device.Open(
		p.Device,
		device.WithBufferSize(1),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(c.Width),
			Height:      uint32(c.Height),
		}),
	)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: %w", ErrNoDevice, err)
		}
		return nil, fmt.Errorf("open device: %w", err)
	}

	if pix, err := dev.GetPixFormat(); err == nil {
		debug.Verbose("Camera: %s negotiated %dx%d", p.Device, pix.Width, pix.Height)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	if err := dev.Start(streamCtx); err != nil {
		cancel()
		_ = dev.Close()
		return nil, fmt.Errorf("start stream: %w", err)
	}

	s := &v4l2Stream{path: p.Device, dev: dev, cancel: cancel, done: make(chan struct{})}
	go s.pump()
	return s, nil
}

// v4l2Stream keeps the latest MJPEG frame produced by the device.
type v4l2Stream struct {
	path   string
	dev    *device.Device
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	latest []byte

	stopOnce sync.Once
	stopErr  error
}

func (s *v4l2Stream) pump() {
	defer close(s.done)
	for frame := range s.dev.GetOutput() {
		buf := make([]byte, len(frame))
		copy(buf, frame)
		s.mu.Lock()
		s.latest = buf
		s.mu.Unlock()
	}
}

func (s *v4l2Stream) Frame() (image.Image, error) {
	s.mu.Lock()
	data := s.latest
	s.mu.Unlock()

	if len(data) == 0 {
		return nil, ErrFrameNotReady
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mjpeg frame: %w", err)
	}
	return img, nil
}

func (s *v4l2Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(stopTimeout):
			debug.Warn("Camera: %s capture loop did not stop within %v", s.path, stopTimeout)
		}
		s.stopErr = s.dev.Close()
	})
	return s.stopErr
}
