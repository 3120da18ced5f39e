package export

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
)

// ErrEmptyImage is returned when asked to export no data.
var ErrEmptyImage = errors.New("nothing to export")

// Filename returns the download name of a strip exported at t,
// e.g. photo-booth-triple-1709649000000.jpg.
func Filename(mode capture.Mode, t time.Time) string {
	return "photo-booth-" + mode.FileToken() + "-" + strconv.FormatInt(t.UnixMilli(), 10) + ".jpg"
}

// Sink receives an exported strip.
type Sink interface {
	Save(name string, data []byte) error
}

// DirSink writes strips into a directory, creating it when needed.
type DirSink struct {
	Dir string
}

// Save writes data to Dir/name through a temporary file so readers never see a partial strip.
func (s DirSink) Save(name string, data []byte) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("invalid export name %q", name)
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, ".export-*.jpg")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod export: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.Dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename export: %w", err)
	}
	return nil
}

// ResponseSink sends the strip as an HTTP attachment download.
type ResponseSink struct {
	W http.ResponseWriter
}

func (s ResponseSink) Save(name string, data []byte) error {
	h := s.W.Header()
	h.Set("Content-Type", "image/jpeg")
	h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	h.Set("Content-Length", strconv.Itoa(len(data)))
	h.Set("Cache-Control", "no-store")
	s.W.WriteHeader(http.StatusOK)
	_, err := s.W.Write(data)
	return err
}

// Exporter names strips and hands them to a sink.
type Exporter struct {
	now func() time.Time
}

// New creates an exporter stamping names with the wall clock.
func New() *Exporter {
	return &Exporter{now: time.Now}
}

// NewWithClock creates an exporter using now for filenames.
func NewWithClock(now func() time.Time) *Exporter {
	return &Exporter{now: now}
}

// Export saves data to sink and returns the filename it used.
func (e *Exporter) Export(sink Sink, data []byte, mode capture.Mode) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	name := Filename(mode, e.now())
	if err := sink.Save(name, data); err != nil {
		return "", fmt.Errorf("export %s: %w", name, err)
	}
	debug.Info("Exported %s (%d bytes)", name, len(data))
	return name, nil
}
