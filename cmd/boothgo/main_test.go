package main

import (
	"context"
	"image/jpeg"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/logic/session"
)

// ---------- validateCLIOverrides ----------

func TestValidateCLIOverrides_Empty(t *testing.T) {
	if err := validateCLIOverrides(cliOverrides{}); err != nil {
		t.Errorf("empty overrides should be valid (use config defaults), got: %v", err)
	}
}

func TestValidateCLIOverrides_Valid(t *testing.T) {
	cases := []cliOverrides{
		{Mode: "single"},
		{Mode: "burst"},
		{Mode: "triple"},
		{OutDir: "exports"},
		{Mode: "burst", OutDir: "/tmp/strips"},
	}
	for _, o := range cases {
		if err := validateCLIOverrides(o); err != nil {
			t.Errorf("%+v: expected valid, got: %v", o, err)
		}
	}
}

func TestValidateCLIOverrides_Invalid(t *testing.T) {
	cases := []struct {
		name string
		o    cliOverrides
	}{
		{"unknown_mode", cliOverrides{Mode: "quad"}},
		{"uppercase_mode", cliOverrides{Mode: "SINGLE"}},
		{"root_out_dir", cliOverrides{OutDir: "/"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := validateCLIOverrides(tc.o); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------- webPortFlag ----------

func TestWebPortFlag_EmptyString(t *testing.T) {
	w := &webPortFlag{defaultPort: 8080}
	if err := w.Set(""); err != nil {
		t.Fatalf("Set(\"\") error: %v", err)
	}
	if w.port() != 8080 {
		t.Errorf("expected default port 8080, got %d", w.port())
	}
}

func TestWebPortFlag_ValidPorts(t *testing.T) {
	cases := []struct {
		input string
		want  int
	}{
		{"8080", 8080},
		{"1", 1},
		{"65535", 65535},
		{"3000", 3000},
	}
	for _, tc := range cases {
		t.Run(tc.input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(tc.input); err != nil {
				t.Fatalf("Set(%q) error: %v", tc.input, err)
			}
			if w.port() != tc.want {
				t.Errorf("port() = %d, want %d", w.port(), tc.want)
			}
		})
	}
}

func TestWebPortFlag_InvalidPorts(t *testing.T) {
	cases := []string{"0", "65536", "-1", "abc", "8080.5"}
	for _, input := range cases {
		t.Run(input, func(t *testing.T) {
			w := &webPortFlag{defaultPort: 8080}
			if err := w.Set(input); err == nil {
				t.Errorf("Set(%q) should fail, got nil", input)
			}
		})
	}
}

func TestWebPortFlag_String(t *testing.T) {
	w := &webPortFlag{val: 0}
	if s := w.String(); s != "0" {
		t.Errorf("String() = %q, want \"0\"", s)
	}
	w.val = 9090
	if s := w.String(); s != "9090" {
		t.Errorf("String() = %q, want \"9090\"", s)
	}
}

// ---------- config mapping ----------

func newTestConfig(t *testing.T) *config.Config {
	return &config.Config{
		Camera: config.CameraConfig{Type: config.CameraPattern, Width: 64, Height: 48, JPEGQuality: 90},
		Timing: config.TimingConfig{
			CountdownFrom: 3,
			TickMs:        1,
			SettleMs:      1,
			FlashMs:       1,
			InterShotMs:   1,
			ResetDelayMs:  1,
		},
		Strip: config.StripConfig{
			HoleSize:      20,
			FramePadding:  40,
			BorderHeight:  16,
			Quality:       95,
			CaptionPrefix: "TEST",
			FontScale:     0.05,
		},
		Export:   config.ExportConfig{Dir: t.TempDir()},
		Defaults: config.DefaultsConfig{Mode: "single", MockGPIO: true},
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := newTestConfig(t)
	origDir := cfg.Export.Dir

	applyOverrides(cfg, cliOverrides{Mode: "burst"})
	if cfg.Defaults.Mode != "burst" {
		t.Errorf("Mode = %q, want burst", cfg.Defaults.Mode)
	}
	if cfg.Export.Dir != origDir {
		t.Errorf("Export.Dir changed to %q", cfg.Export.Dir)
	}

	applyOverrides(cfg, cliOverrides{OutDir: "elsewhere"})
	if cfg.Export.Dir != "elsewhere" || cfg.Defaults.Mode != "burst" {
		t.Errorf("after partial override: dir=%q mode=%q", cfg.Export.Dir, cfg.Defaults.Mode)
	}
}

func TestTimingFromConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Timing.TickMs = 1000
	cfg.Timing.FlashMs = 150

	timing := timingFromConfig(cfg)
	if timing.Tick != time.Second || timing.Flash != 150*time.Millisecond {
		t.Errorf("timing = %+v", timing)
	}
	if timing.CountdownFrom != 3 || timing.Quality != 90 {
		t.Errorf("timing = %+v", timing)
	}
}

func TestLayoutFromConfig(t *testing.T) {
	l := layoutFromConfig(newTestConfig(t))
	if l.CaptionPrefix != "TEST" || l.Quality != 95 || l.FontScale != 0.05 {
		t.Errorf("layout = %+v", l)
	}
	if l.HoleCount != 5 || l.CaptionPadding != 6 {
		t.Errorf("layout lost defaults: %+v", l)
	}
}

func TestUIConfigFromConfig(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Defaults.Mode = "triple"
	ui := uiConfigFromConfig(cfg)
	if ui.DefaultMode != "burst" {
		t.Errorf("DefaultMode = %q, want burst", ui.DefaultMode)
	}
	if len(ui.Modes) != 2 || ui.Modes[0] != "single" || ui.Modes[1] != "burst" {
		t.Errorf("Modes = %v", ui.Modes)
	}
}

func TestNewProviderFromConfig(t *testing.T) {
	cfg := newTestConfig(t)
	p, err := newProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("pattern: %v", err)
	}
	if p.Name() != "pattern" {
		t.Errorf("Name() = %q, want pattern", p.Name())
	}

	cfg.Camera = config.CameraConfig{Type: config.CameraV4L2, Device: "/dev/video7"}
	p, err = newProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("v4l2: %v", err)
	}
	if p.Name() != "/dev/video7" {
		t.Errorf("Name() = %q, want /dev/video7", p.Name())
	}

	cfg.Camera.Type = "webcam"
	if _, err := newProviderFromConfig(cfg); err == nil {
		t.Error("unknown camera type should fail")
	}
}

// ---------- runOnce ----------

func TestRunOnce_WritesStrip(t *testing.T) {
	cfg := newTestConfig(t)
	applyOverrides(cfg, cliOverrides{Mode: "burst"})

	source := camera.NewFrameSource(camera.PatternProvider{}, camera.Constraints{Width: 64, Height: 48})
	sess := session.New(source, session.Options{
		Timing: timingFromConfig(cfg),
		Layout: layoutFromConfig(cfg),
	})

	path, err := runOnce(context.Background(), sess, cfg)
	if err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if filepath.Dir(path) != cfg.Export.Dir {
		t.Errorf("path %q not in %q", path, cfg.Export.Dir)
	}
	if !regexp.MustCompile(`^photo-booth-triple-\d+\.jpg$`).MatchString(filepath.Base(path)) {
		t.Errorf("file name = %q", filepath.Base(path))
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open strip: %v", err)
	}
	defer f.Close()
	img, err := jpeg.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode strip: %v", err)
	}
	if img.Width != 184 || img.Height != 304 {
		t.Errorf("strip = %dx%d, want 184x304", img.Width, img.Height)
	}
	if sess.Snapshot().State != session.Idle {
		t.Errorf("state after export = %s, want idle", sess.Snapshot().State)
	}
	if source.Active() {
		t.Error("camera left open")
	}
}

func TestRunOnce_CancelledContext(t *testing.T) {
	cfg := newTestConfig(t)
	source := camera.NewFrameSource(camera.PatternProvider{}, camera.Constraints{Width: 64, Height: 48})
	sess := session.New(source, session.Options{Timing: timingFromConfig(cfg)})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := runOnce(ctx, sess, cfg); err == nil {
		t.Fatal("runOnce with cancelled context should fail")
	}
	if source.Active() {
		t.Error("camera left open after cancellation")
	}
	entries, _ := os.ReadDir(cfg.Export.Dir)
	if len(entries) != 0 {
		t.Errorf("export dir has %d entries, want none", len(entries))
	}
}
