package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"time"
)

// Mode selects how many shots a session takes.
type Mode int

const (
	Single Mode = iota // one shot
	Burst              // three shots stacked in one strip
)

// ShotCount returns the number of photos the mode produces.
func (m Mode) ShotCount() int {
	if m == Burst {
		return 3
	}
	return 1
}

func (m Mode) String() string {
	if m == Burst {
		return "burst"
	}
	return "single"
}

// FileToken is the mode name used in export filenames.
func (m Mode) FileToken() string {
	if m == Burst {
		return "triple"
	}
	return "single"
}

// ParseMode accepts "single", "burst" and its alias "triple".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single":
		return Single, nil
	case "burst", "triple":
		return Burst, nil
	}
	return Single, fmt.Errorf("unknown photo mode %q (want single or burst)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(b []byte) error {
	parsed, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Photo is one mirrored still, JPEG encoded. It is never modified once taken.
type Photo struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// Decode returns the photo's pixels.
func (p Photo) Decode() (image.Image, error) {
	return jpeg.Decode(bytes.NewReader(p.Data))
}

// encodePhoto turns a still into a Photo taken at ts.
func encodePhoto(img image.Image, quality int, ts time.Time) (Photo, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return Photo{}, fmt.Errorf("encode photo: %w", err)
	}
	b := img.Bounds()
	return Photo{
		Data:      buf.Bytes(),
		Width:     b.Dx(),
		Height:    b.Dy(),
		Timestamp: ts,
	}, nil
}
