package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file read by Load.
const MaxConfigFileBytes = 64 << 10

// Camera types understood by the application.
const (
	CameraV4L2    = "v4l2"
	CameraPattern = "pattern"
)

// CameraConfig describes the video source used for captures.
// Type selects a concrete provider ("v4l2" or "pattern").
type CameraConfig struct {
	Type        string `yaml:"type"`         // e.g., "v4l2"
	Device      string `yaml:"device"`       // device node for v4l2, e.g. /dev/video0
	Width       int    `yaml:"width"`        // ideal stream width (px)
	Height      int    `yaml:"height"`       // ideal stream height (px)
	JPEGQuality int    `yaml:"jpeg_quality"` // quality of each captured still (1-100)
}

// FlashConfig describes the optional flash lamp wired to a GPIO pin.
type FlashConfig struct {
	Enabled bool `yaml:"enabled"`
	Pin     int  `yaml:"pin"` // BCM pin driving the lamp (active HIGH)
}

// TimingConfig holds the capture choreography delays.
type TimingConfig struct {
	CountdownFrom int `yaml:"countdown_from"` // first countdown value (counts down to 1)
	TickMs        int `yaml:"tick_ms"`        // duration of each countdown value
	SettleMs      int `yaml:"settle_ms"`      // pause between countdown end and shutter
	FlashMs       int `yaml:"flash_ms"`       // flash cue duration
	InterShotMs   int `yaml:"inter_shot_ms"`  // dead time between two shots of a burst
	ResetDelayMs  int `yaml:"reset_delay_ms"` // delay between export and session reset
}

// StripConfig holds the film-strip geometry and encoding parameters.
type StripConfig struct {
	HoleSize      int     `yaml:"hole_size"`      // perforation diameter (px)
	FramePadding  int     `yaml:"frame_padding"`  // margin around each photo (px)
	BorderHeight  int     `yaml:"border_height"`  // top/bottom border band height (px)
	Quality       int     `yaml:"quality"`        // JPEG quality of the exported strip (1-100)
	CaptionPrefix string  `yaml:"caption_prefix"` // text before the date in each caption
	FontScale     float64 `yaml:"font_scale"`     // caption font size as a fraction of photo height
}

// ExportConfig describes where exported strips are written in CLI mode.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	Mode       string `yaml:"mode"`        // "single" or "burst"
	DebugLevel int    `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool   `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Flash    FlashConfig    `yaml:"flash"`
	Timing   TimingConfig   `yaml:"timing"`
	Strip    StripConfig    `yaml:"strip"`
	Export   ExportConfig   `yaml:"export"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file placed directly
// inside a "configs" directory, without any ".." element.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, elem := range strings.Split(filepath.ToSlash(path), "/") {
		if elem == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	if filepath.Base(filepath.Dir(clean)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults validates the configuration and fills zero values.
func (c *Config) applyDefaults() error {
	switch c.Camera.Type {
	case "":
		return errors.New("camera.type is required")
	case CameraV4L2:
		if c.Camera.Device == "" {
			c.Camera.Device = "/dev/video0"
		}
	case CameraPattern:
	default:
		return fmt.Errorf("unsupported camera.type %q (want %q or %q)", c.Camera.Type, CameraV4L2, CameraPattern)
	}
	if c.Camera.Width < 0 || c.Camera.Height < 0 {
		return fmt.Errorf("camera size must be positive, got %dx%d", c.Camera.Width, c.Camera.Height)
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 1280 // ideal width
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 720 // ideal height
	}
	if c.Camera.JPEGQuality == 0 {
		c.Camera.JPEGQuality = 90
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		return fmt.Errorf("camera.jpeg_quality must be between 1 and 100, got %d", c.Camera.JPEGQuality)
	}

	if c.Flash.Enabled && c.Flash.Pin <= 0 {
		return errors.New("flash.pin is required when flash is enabled")
	}

	if c.Timing.CountdownFrom <= 0 {
		c.Timing.CountdownFrom = 3
	}
	if c.Timing.CountdownFrom > 10 {
		return fmt.Errorf("timing.countdown_from must be <= 10, got %d", c.Timing.CountdownFrom)
	}
	if c.Timing.TickMs <= 0 {
		c.Timing.TickMs = 1000
	}
	if c.Timing.SettleMs <= 0 {
		c.Timing.SettleMs = 200
	}
	if c.Timing.FlashMs <= 0 {
		c.Timing.FlashMs = 150
	}
	if c.Timing.InterShotMs <= 0 {
		c.Timing.InterShotMs = 1500
	}
	if c.Timing.ResetDelayMs <= 0 {
		c.Timing.ResetDelayMs = 1000
	}

	if c.Strip.HoleSize < 0 || c.Strip.FramePadding < 0 || c.Strip.BorderHeight < 0 {
		return errors.New("strip dimensions must not be negative")
	}
	if c.Strip.HoleSize == 0 {
		c.Strip.HoleSize = 20
	}
	if c.Strip.FramePadding == 0 {
		c.Strip.FramePadding = 40
	}
	if c.Strip.BorderHeight == 0 {
		c.Strip.BorderHeight = 16
	}
	if c.Strip.Quality == 0 {
		c.Strip.Quality = 100
	}
	if c.Strip.Quality < 1 || c.Strip.Quality > 100 {
		return fmt.Errorf("strip.quality must be between 1 and 100, got %d", c.Strip.Quality)
	}
	if c.Strip.CaptionPrefix == "" {
		c.Strip.CaptionPrefix = "BOOTHGO"
	}
	if c.Strip.FontScale == 0 {
		c.Strip.FontScale = 0.035
	}
	if c.Strip.FontScale < 0 || c.Strip.FontScale > 0.5 {
		return fmt.Errorf("strip.font_scale must be in (0, 0.5], got %.3f", c.Strip.FontScale)
	}

	if c.Export.Dir == "" {
		c.Export.Dir = "exports"
	}

	switch c.Defaults.Mode {
	case "":
		c.Defaults.Mode = "single"
	case "single", "burst", "triple":
	default:
		return fmt.Errorf("defaults.mode must be single or burst, got %q", c.Defaults.Mode)
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Tick returns how long each countdown value is held.
func (c *Config) Tick() time.Duration {
	return ms(c.Timing.TickMs)
}

// Settle returns the pause between the end of the countdown and the shutter.
func (c *Config) Settle() time.Duration {
	return ms(c.Timing.SettleMs)
}

// FlashDuration returns the flash cue duration.
func (c *Config) FlashDuration() time.Duration {
	return ms(c.Timing.FlashMs)
}

// InterShot returns the dead time between two shots of a burst.
func (c *Config) InterShot() time.Duration {
	return ms(c.Timing.InterShotMs)
}

// ResetDelay returns the delay between a successful export and the session reset.
func (c *Config) ResetDelay() time.Duration {
	return ms(c.Timing.ResetDelayMs)
}
