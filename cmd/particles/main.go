package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/gekko3d/particles"
	"github.com/gekko3d/particles/config"
	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/gpu/soft"
	"github.com/gekko3d/particles/gpu/webgpu"
	"github.com/go-gl/mathgl/mgl32"
)

func init() {
	// glfw and the surface must stay on the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	effectPath := flag.String("effect", "", "Effect file to load (overrides config)")
	headless := flag.Bool("headless", false, "Run without a window")
	backendName := flag.String("backend", "", "Backend name (empty = config, then best available)")
	frames := flag.Int("frames", 0, "Stop after N frames (0 = unlimited)")
	outputDir := flag.String("output-dir", "", "Directory for CSV logs and config snapshot")
	metricsAddr := flag.String("metrics-addr", "", "Serve prometheus metrics on this address")
	verify := flag.Bool("verify", false, "Read the pool back after the run and check slot conservation")
	saveEffect := flag.String("save-effect", "", "Write the loaded emitters to this effect file and exit")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *effectPath != "" {
		cfg.Effect = *effectPath
	}
	if *backendName != "" {
		cfg.System.Backend = *backendName
	}
	if *outputDir != "" {
		cfg.Telemetry.OutputDir = *outputDir
	}
	if *metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = *metricsAddr
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{
		frames:     *frames,
		verify:     *verify,
		saveEffect: *saveEffect,
	}
	var err error
	if *headless {
		err = runHeadless(ctx, cfg, logger, opts)
	} else {
		err = runWindow(ctx, cfg, logger, opts)
	}
	if err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

type runOptions struct {
	frames     int
	verify     bool
	saveEffect string
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if lc.Debug {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if lc.JSON {
		h = slog.NewJSONHandler(os.Stdout, hopts)
	} else {
		h = slog.NewTextHandler(os.Stdout, hopts)
	}
	l := slog.New(h)
	if lc.Prefix != "" {
		l = l.With("component", lc.Prefix)
	}
	return l
}

// newBackend builds the configured backend. Named backends are constructed
// directly so config options reach them; other names go through the registry.
func newBackend(cfg *config.Config, device webgpu.Options, fallback string) (gpu.Backend, error) {
	name := cfg.System.Backend
	if name == "" {
		name = fallback
	}
	switch name {
	case gpu.BackendSoftware:
		return soft.New(soft.Options{Workers: cfg.System.Workers}), nil
	case gpu.BackendWebGPU:
		device.MaxDrawsPerFrame = cfg.Render.MaxDrawsPerFrame
		return webgpu.New(device), nil
	case "":
		return gpu.Default()
	default:
		b, err := gpu.Get(name)
		if err != nil {
			return nil, fmt.Errorf("backend %q (available %v): %w", name, gpu.Available(), err)
		}
		return b, nil
	}
}

// newSystem creates and initializes the particle system and loads the
// startup emitters.
func newSystem(cfg *config.Config, backend gpu.Backend, logger *slog.Logger) (*particles.ParticleSystem, error) {
	sys := particles.New(backend, cfg.SystemOptions(particles.NewSlogLogger(logger)))
	if err := sys.Initialize(0); err != nil {
		return nil, fmt.Errorf("failed to initialize %s backend: %w", backend.Name(), err)
	}
	if cfg.Render.Texture != "" {
		tex, err := sys.LoadTexture(cfg.Render.Texture)
		if err != nil {
			logger.Warn("default texture not loaded", "path", cfg.Render.Texture, "error", err)
		} else {
			sys.SetDefaultTexture(tex)
		}
	}

	if cfg.Effect != "" {
		if _, err := sys.LoadEffect(cfg.Effect); err != nil {
			sys.Shutdown()
			return nil, err
		}
	} else if _, err := sys.CreateEmitter(fountain()); err != nil {
		sys.Shutdown()
		return nil, err
	}
	sys.Play()
	logger.Info("particle system ready",
		"backend", backend.Name(),
		"max_particles", sys.MaxParticles(),
		"emitters", sys.EmitterCount(),
	)
	return sys, nil
}

// fountain is the emitter shown when no effect file is given.
func fountain() particles.EmitterConfig {
	cfg := particles.DefaultEmitterConfig("fountain")
	cfg.EmitRate = 400
	cfg.MaxParticles = 5000
	cfg.Shape.Shape = gpu.ShapeCone
	cfg.Shape.ConeAngle = 15
	cfg.Shape.Radius = 0.2
	cfg.StartSpeed = particles.Between(6, 9)
	cfg.StartLifetime = particles.Between(2, 3)
	cfg.StartSize = particles.Between(0.05, 0.15)
	cfg.StartColor = particles.ColorRange{
		Min: mgl32.Vec4{0.3, 0.6, 1, 1},
		Max: mgl32.Vec4{0.8, 0.9, 1, 1},
	}
	cfg.Collision = true
	cfg.Bursts = []particles.BurstConfig{{Time: 0, Count: 200, Cycles: 0, Interval: 1.5, Probability: 1}}
	return cfg
}

// finish runs the optional verification and effect export.
func finish(sys *particles.ParticleSystem, opts runOptions, logger *slog.Logger) error {
	if opts.saveEffect != "" {
		if err := sys.SaveEffect(opts.saveEffect, "exported"); err != nil {
			return err
		}
		logger.Info("effect saved", "path", opts.saveEffect)
	}
	if !opts.verify {
		return nil
	}
	snap, err := sys.Snapshot()
	if err != nil {
		if errors.Is(err, gpu.ErrNotInitialized) {
			return nil
		}
		return fmt.Errorf("failed to read pool back: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return err
	}
	logger.Info("pool verified",
		"capacity", snap.Capacity,
		"free", len(snap.Free),
		"alive", len(snap.Current),
	)
	return nil
}
