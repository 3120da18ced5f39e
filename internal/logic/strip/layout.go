package strip

import (
	"fmt"
	"image"
	"math"
	"time"

	"github.com/cjeanneret/BoothGo/internal/logic/capture"
)

// Layout holds the constants of the film-strip look.
type Layout struct {
	HoleSize       int     // perforation diameter and side margin width (px)
	FramePadding   int     // white margin around each photo (px)
	BorderHeight   int     // dark band at the top and bottom edges (px)
	HoleCount      int     // perforations per side
	Quality        int     // JPEG quality of the strip (1-100)
	CaptionPrefix  string  // text before the date
	FontScale      float64 // caption font size as a fraction of photo height
	CaptionPadding int     // chip padding around the caption text (px)
	CaptionInset   int     // caption offset from the photo's top-left corner (px)

	// Location is the zone used to format caption dates; nil means time.Local.
	Location *time.Location
}

// DefaultLayout returns the classic booth strip.
func DefaultLayout() Layout {
	return Layout{
		HoleSize:       20,
		FramePadding:   40,
		BorderHeight:   16,
		HoleCount:      5,
		Quality:        100,
		CaptionPrefix:  "BOOTHGO",
		FontScale:      0.035,
		CaptionPadding: 6,
		CaptionInset:   4,
	}
}

// Rect is an axis-aligned rectangle in canvas coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Circle is a filled perforation.
type Circle struct {
	X, Y, R float64
}

// Geometry is everything needed to paint one strip. It is derived, never stored.
type Geometry struct {
	Width, Height int
	PhotoW        int
	PhotoH        int
	Band          Rect
	Borders       [2]Rect // top, bottom
	LeftHoles     []Circle
	RightHoles    []Circle
	Photos        []image.Point // top-left corner of each photo
	FontSize      int
}

// Plan computes the strip geometry for count photos of photoW x photoH.
// A Single strip is always sized for one photo.
func Plan(mode capture.Mode, count, photoW, photoH int, l Layout) Geometry {
	width := photoW + 2*l.FramePadding + 2*l.HoleSize
	height := photoH + 2*l.FramePadding
	if mode == capture.Burst {
		height = count*(photoH+l.FramePadding) + l.FramePadding
	}

	g := Geometry{
		Width:  width,
		Height: height,
		PhotoW: photoW,
		PhotoH: photoH,
		Band:   Rect{X: float64(l.HoleSize), Y: 0, W: float64(width - 2*l.HoleSize), H: float64(height)},
		Borders: [2]Rect{
			{X: float64(l.HoleSize), Y: 0, W: float64(width - 2*l.HoleSize), H: float64(l.BorderHeight)},
			{X: float64(l.HoleSize), Y: float64(height - l.BorderHeight), W: float64(width - 2*l.HoleSize), H: float64(l.BorderHeight)},
		},
		FontSize: fontSize(photoH, l.FontScale),
	}

	r := float64(l.HoleSize) / 2
	spacing := float64(height) / float64(l.HoleCount+1)
	for k := 1; k <= l.HoleCount; k++ {
		y := spacing * float64(k)
		g.LeftHoles = append(g.LeftHoles, Circle{X: r, Y: y, R: r})
		g.RightHoles = append(g.RightHoles, Circle{X: float64(width) - r, Y: y, R: r})
	}

	for i := 0; i < count; i++ {
		g.Photos = append(g.Photos, image.Pt(l.HoleSize+l.FramePadding, l.FramePadding+i*(photoH+l.FramePadding)))
	}
	return g
}

func fontSize(photoH int, scale float64) int {
	size := int(math.Floor(float64(photoH) * scale))
	if size < 1 {
		return 1
	}
	return size
}

// Caption formats the date line printed on a photo, e.g. "BOOTHGO 3.5.24".
func Caption(prefix string, t time.Time) string {
	return fmt.Sprintf("%s %d.%d.%02d", prefix, int(t.Month()), t.Day(), t.Year()%100)
}
