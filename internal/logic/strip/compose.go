package strip

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomono"
)

const (
	bodyColor    = "#111111"
	bandColor    = "#ffffff"
	borderColor  = "#111111"
	captionColor = "#cccccc"
	chipAlpha    = 0.7
)

var (
	// ErrNoPhotos is returned when there is nothing to compose.
	ErrNoPhotos = errors.New("no photos to compose")
	// ErrDecode is returned when a photo's JPEG data cannot be read.
	ErrDecode = errors.New("photo could not be decoded")
	// ErrEncode is returned when the strip cannot be JPEG encoded.
	ErrEncode = errors.New("strip could not be encoded")
)

// CompositionError reports a failed composition. The photos are left untouched.
type CompositionError struct {
	Photo int // 1-based index of the offending photo, 0 when not photo specific
	Err   error
}

func (e *CompositionError) Error() string {
	if e.Photo > 0 {
		return fmt.Sprintf("compose strip: photo %d: %v", e.Photo, e.Err)
	}
	return fmt.Sprintf("compose strip: %v", e.Err)
}

func (e *CompositionError) Unwrap() error {
	return e.Err
}

var (
	monoOnce sync.Once
	monoFont *truetype.Font
	monoErr  error
)

func monoFace(size int) (font.Face, error) {
	monoOnce.Do(func() {
		monoFont, monoErr = truetype.Parse(gomono.TTF)
	})
	if monoErr != nil {
		return nil, monoErr
	}
	return truetype.NewFace(monoFont, &truetype.Options{Size: float64(size)}), nil
}

// Compose paints photos onto a film strip and returns it JPEG encoded.
// The first photo's size sets the frame size; other sizes are scaled to it.
func Compose(photos []capture.Photo, mode capture.Mode, l Layout) ([]byte, error) {
	if len(photos) == 0 {
		return nil, &CompositionError{Err: ErrNoPhotos}
	}

	images := make([]image.Image, len(photos))
	for i, p := range photos {
		img, err := p.Decode()
		if err != nil {
			return nil, &CompositionError{Photo: i + 1, Err: fmt.Errorf("%w: %w", ErrDecode, err)}
		}
		images[i] = img
	}

	first := images[0].Bounds()
	g := Plan(mode, len(photos), first.Dx(), first.Dy(), l)
	debug.Verbose("Strip: %dx%d, %d photo(s) of %dx%d, font %dpx", g.Width, g.Height, len(photos), g.PhotoW, g.PhotoH, g.FontSize)

	face, err := monoFace(g.FontSize)
	if err != nil {
		return nil, &CompositionError{Err: fmt.Errorf("load caption font: %w", err)}
	}
	defer face.Close()

	dc := gg.NewContext(g.Width, g.Height)
	paintFrame(dc, g)

	loc := l.Location
	for i, img := range images {
		at := g.Photos[i]
		dc.DrawImage(fit(img, g.PhotoW, g.PhotoH), at.X, at.Y)

		ts := photos[i].Timestamp
		if loc != nil {
			ts = ts.In(loc)
		} else {
			ts = ts.Local()
		}
		paintCaption(dc, face, Caption(l.CaptionPrefix, ts), at, g.FontSize, l)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: l.Quality}); err != nil {
		return nil, &CompositionError{Err: fmt.Errorf("%w: %w", ErrEncode, err)}
	}
	debug.Info("Strip composed: %dx%d, %d bytes", g.Width, g.Height, buf.Len())
	return buf.Bytes(), nil
}

// paintFrame draws the body, band, borders and perforations.
func paintFrame(dc *gg.Context, g Geometry) {
	dc.SetHexColor(bodyColor)
	dc.DrawRectangle(0, 0, float64(g.Width), float64(g.Height))
	dc.Fill()

	dc.SetHexColor(bandColor)
	dc.DrawRectangle(g.Band.X, g.Band.Y, g.Band.W, g.Band.H)
	dc.Fill()

	dc.SetHexColor(borderColor)
	for _, b := range g.Borders {
		dc.DrawRectangle(b.X, b.Y, b.W, b.H)
		dc.Fill()
	}

	dc.SetHexColor(bodyColor)
	for i := range g.LeftHoles {
		for _, h := range []Circle{g.LeftHoles[i], g.RightHoles[i]} {
			dc.DrawCircle(h.X, h.Y, h.R)
			dc.Fill()
		}
	}
}

// paintCaption draws the date chip over the photo's top-left corner.
func paintCaption(dc *gg.Context, face font.Face, text string, at image.Point, size int, l Layout) {
	dc.SetFontFace(face)
	textW, _ := dc.MeasureString(text)
	x := float64(at.X + l.CaptionInset)
	y := float64(at.Y + l.CaptionInset)
	pad := float64(l.CaptionPadding)

	dc.SetRGBA(0, 0, 0, chipAlpha)
	dc.DrawRectangle(x-pad/2, y-pad/2, textW+pad, float64(size)+pad/1.5)
	dc.Fill()

	dc.SetHexColor(captionColor)
	// Anchor (0, 1) puts the top of the text at y.
	dc.DrawStringAnchored(text, x, y, 0, 1)
}

// fit returns img unchanged when it is already w x h, otherwise a scaled copy.
func fit(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h && b.Min == (image.Point{}) {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
