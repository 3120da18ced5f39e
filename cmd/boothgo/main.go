package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/cjeanneret/BoothGo/internal/config"
	"github.com/cjeanneret/BoothGo/internal/debug"
	"github.com/cjeanneret/BoothGo/internal/hw/camera"
	"github.com/cjeanneret/BoothGo/internal/hw/gpio"
	"github.com/cjeanneret/BoothGo/internal/logic/capture"
	"github.com/cjeanneret/BoothGo/internal/logic/export"
	"github.com/cjeanneret/BoothGo/internal/logic/session"
	"github.com/cjeanneret/BoothGo/internal/logic/strip"
	"github.com/cjeanneret/BoothGo/internal/web"
)

// cliOverrides holds command-line values that replace config defaults when set.
type cliOverrides struct {
	Mode   string
	OutDir string
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mode := flag.String("mode", "", "override photo mode for a one-shot run (single or burst)")
	outDir := flag.String("out", "", "override export directory for a one-shot run")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	overrides := cliOverrides{Mode: *mode, OutDir: *outDir}
	if err := validateCLIOverrides(overrides); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, overrides)

	// Initialize debug system
	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	// Flash lamp (GPIO only when enabled)
	debug.Step(1, "Initializing flash lamp")
	flash := camera.Flash(camera.NoFlash{})
	if cfg.Flash.Enabled {
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			log.Fatalf("init GPIO failed: %v", err)
		}
		defer func() {
			if err := gpioDriver.Close(); err != nil {
				log.Printf("closing GPIO driver failed: %v", err)
			}
		}()
		flash = camera.NewGPIOFlash(gpioDriver, cfg.Flash.Pin)
		debug.Value("Flash pin", cfg.Flash.Pin)
	}

	// Initialize camera
	debug.Step(2, "Initializing camera")
	provider, err := newProviderFromConfig(cfg)
	if err != nil {
		log.Fatalf("init camera failed: %v", err)
	}
	debug.Value("Camera type", cfg.Camera.Type)
	debug.PrintStruct("Camera config", cfg.Camera)
	source := camera.NewFrameSource(provider, camera.Constraints{
		FacingMode: "user",
		Width:      cfg.Camera.Width,
		Height:     cfg.Camera.Height,
	})

	debug.Step(3, "Preparing session")
	opts := session.Options{
		Flash:  flash,
		Timing: timingFromConfig(cfg),
		Layout: layoutFromConfig(cfg),
	}
	debug.PrintStruct("Timing", opts.Timing)

	if port := webPort.port(); port > 0 {
		webAddr := fmt.Sprintf(":%d", port)
		broadcaster := web.NewStatusBroadcaster()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))

		opts.ResetDelay = cfg.ResetDelay()
		opts.Observer = web.NewSessionEvents(broadcaster)
		sess := session.New(source, opts)
		defer sess.Cancel()

		srv := web.NewServer(webAddr, broadcaster, sess, uiConfigFromConfig(cfg))
		if err := srv.Run(ctx); err != nil {
			log.Fatalf("web server: %v", err)
		}
		return
	}

	{
		// Run one session with current config (already has CLI overrides applied)
		sess := session.New(source, opts)
		path, err := runOnce(ctx, sess, cfg)
		if err != nil {
			sess.Cancel()
			log.Fatalf("capture failed: %v", err)
		}
		fmt.Println(path)
	}
}

// runOnce captures one session in the configured mode and writes the strip to the export dir.
func runOnce(ctx context.Context, sess *session.Session, cfg *config.Config) (string, error) {
	mode, err := capture.ParseMode(cfg.Defaults.Mode)
	if err != nil {
		return "", err
	}

	debug.Section("Starting Capture Session")
	if err := sess.Start(ctx, mode); err != nil {
		return "", err
	}
	snap := sess.Snapshot()
	if snap.Photos < mode.ShotCount() {
		debug.Warn("Only %d of %d photo(s) captured", snap.Photos, mode.ShotCount())
	}

	debug.Section("Exporting Strip")
	name, err := sess.Export(ctx, export.DirSink{Dir: cfg.Export.Dir})
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg.Export.Dir, name), nil
}

// validateCLIOverrides checks that non-empty CLI overrides are usable.
// Empty values are ignored (they mean "use config default").
func validateCLIOverrides(o cliOverrides) error {
	if o.Mode != "" {
		if _, err := capture.ParseMode(o.Mode); err != nil {
			return err
		}
	}
	if o.OutDir != "" && filepath.Clean(o.OutDir) == "/" {
		return fmt.Errorf("export directory must not be the filesystem root")
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-empty override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Mode != "" {
		cfg.Defaults.Mode = o.Mode
	}
	if o.OutDir != "" {
		cfg.Export.Dir = o.OutDir
	}
}

// timingFromConfig maps the timing section onto the capture choreography.
func timingFromConfig(cfg *config.Config) capture.Timing {
	return capture.Timing{
		CountdownFrom: cfg.Timing.CountdownFrom,
		Tick:          cfg.Tick(),
		Settle:        cfg.Settle(),
		Flash:         cfg.FlashDuration(),
		InterShot:     cfg.InterShot(),
		Quality:       cfg.Camera.JPEGQuality,
	}
}

// layoutFromConfig maps the strip section onto a strip layout.
func layoutFromConfig(cfg *config.Config) strip.Layout {
	l := strip.DefaultLayout()
	l.HoleSize = cfg.Strip.HoleSize
	l.FramePadding = cfg.Strip.FramePadding
	l.BorderHeight = cfg.Strip.BorderHeight
	l.Quality = cfg.Strip.Quality
	l.CaptionPrefix = cfg.Strip.CaptionPrefix
	l.FontScale = cfg.Strip.FontScale
	return l
}

func uiConfigFromConfig(cfg *config.Config) web.UIConfig {
	defaultMode := capture.Single
	if m, err := capture.ParseMode(cfg.Defaults.Mode); err == nil {
		defaultMode = m
	}
	return web.UIConfig{
		Modes:         []string{capture.Single.String(), capture.Burst.String()},
		DefaultMode:   defaultMode.String(),
		CountdownFrom: cfg.Timing.CountdownFrom,
		TickMs:        cfg.Timing.TickMs,
		FlashMs:       cfg.Timing.FlashMs,
		InterShotMs:   cfg.Timing.InterShotMs,
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newProviderFromConfig selects a video provider based on configuration.
func newProviderFromConfig(cfg *config.Config) (camera.Provider, error) {
	switch cfg.Camera.Type {
	case config.CameraV4L2:
		return camera.V4L2Provider{Device: cfg.Camera.Device}, nil
	case config.CameraPattern:
		return camera.PatternProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}
