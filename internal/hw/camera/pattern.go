package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
)

// PatternProvider produces a synthetic test card instead of a real camera.
// A vertical bar sweeps left to right so successive frames differ and the
// left/right orientation of a still is easy to check.
type PatternProvider struct{}

func (PatternProvider) Name() string { return "pattern" }

func (PatternProvider) Open(_ context.Context, c Constraints) (Stream, error) {
	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = DefaultConstraints().Width, DefaultConstraints().Height
	}
	return &patternStream{w: w, h: h}, nil
}

type patternStream struct {
	mu      sync.Mutex
	w, h    int
	frame   int
	stopped bool
}

func (s *patternStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, ErrNotOpen
	}
	s.frame++

	img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	barW := s.w / 16
	if barW < 1 {
		barW = 1
	}
	barX := (s.frame * barW) % s.w
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			c := color.RGBA{
				R: uint8(x * 255 / s.w),
				G: uint8(y * 255 / s.h),
				B: 0x60,
				A: 0xff,
			}
			if x >= barX && x < barX+barW {
				c = color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

func (s *patternStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
