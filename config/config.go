// Package config loads the runtime configuration of the particle viewer and
// headless runner.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/gekko3d/particles"
	"github.com/go-gl/mathgl/mgl32"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	System     SystemConfig     `yaml:"system"`
	Simulation SimulationConfig `yaml:"simulation"`
	Render     RenderConfig     `yaml:"render"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Logging    LoggingConfig    `yaml:"logging"`

	// Effect is an optional effect file loaded at startup.
	Effect string `yaml:"effect,omitempty"`

	Derived DerivedConfig `yaml:"-"`
}

type SystemConfig struct {
	MaxParticles uint32 `yaml:"max_particles"`
	Backend      string `yaml:"backend"` // empty picks the best registered backend
	Workers      int    `yaml:"workers"` // software backend only
}

type SimulationConfig struct {
	Gravity   mgl32.Vec3                  `yaml:"gravity"`
	Drag      float32                     `yaml:"drag"`
	FixedDT   float64                     `yaml:"fixed_dt"` // headless step
	Collision particles.CollisionSettings `yaml:"collision"`
}

type RenderConfig struct {
	Texture          string       `yaml:"texture"`
	ClearColor       mgl32.Vec4   `yaml:"clear_color"`
	MaxDrawsPerFrame uint32       `yaml:"max_draws_per_frame"`
	Window           WindowConfig `yaml:"window"`
	Camera           CameraConfig `yaml:"camera"`
}

type WindowConfig struct {
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Title  string `yaml:"title"`
	VSync  bool   `yaml:"vsync"`
}

type CameraConfig struct {
	Position mgl32.Vec3 `yaml:"position"`
	Target   mgl32.Vec3 `yaml:"target"`
	Fov      float32    `yaml:"fov"`
}

type TelemetryConfig struct {
	OutputDir   string `yaml:"output_dir"`   // CSV frame log, empty disables
	MetricsAddr string `yaml:"metrics_addr"` // prometheus listener, empty disables
	StatsWindow int    `yaml:"stats_window"` // frames per summary
	LogInterval int    `yaml:"log_interval"` // frames between stats log lines
}

type LoggingConfig struct {
	Prefix string `yaml:"prefix"`
	Debug  bool   `yaml:"debug"`
	JSON   bool   `yaml:"json"`
}

type DerivedConfig struct {
	FixedDT32 float32
	Aspect    float32
}

var global *Config

// Init loads configuration from path, or the embedded defaults if path is
// empty. Must be called before Cfg.
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Default returns the embedded defaults.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads a YAML file over the embedded defaults. Keys absent from the
// file keep their default value.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()
	return cfg, nil
}

func (c *Config) validate() error {
	if c.System.MaxParticles == 0 {
		return fmt.Errorf("system.max_particles must be positive")
	}
	if c.System.Workers < 0 {
		return fmt.Errorf("system.workers must not be negative")
	}
	if c.Simulation.FixedDT <= 0 {
		return fmt.Errorf("simulation.fixed_dt must be positive")
	}
	if c.Simulation.Drag < 0 {
		return fmt.Errorf("simulation.drag must not be negative")
	}
	if c.Render.Window.Width <= 0 || c.Render.Window.Height <= 0 {
		return fmt.Errorf("render.window size must be positive, got %dx%d", c.Render.Window.Width, c.Render.Window.Height)
	}
	return nil
}

func (c *Config) computeDerived() {
	c.Derived.FixedDT32 = float32(c.Simulation.FixedDT)
	c.Derived.Aspect = float32(c.Render.Window.Width) / float32(c.Render.Window.Height)
	if c.Telemetry.StatsWindow <= 0 {
		c.Telemetry.StatsWindow = 120
	}
	if c.Render.Camera.Fov <= 0 {
		c.Render.Camera.Fov = 60
	}
}

// SystemOptions converts the simulation section into particle system options.
func (c *Config) SystemOptions(log particles.Logger) particles.Options {
	opts := particles.DefaultOptions()
	opts.MaxParticles = c.System.MaxParticles
	opts.Gravity = c.Simulation.Gravity
	opts.Drag = c.Simulation.Drag
	opts.Collision = c.Simulation.Collision
	opts.Logger = log
	return opts
}

// Camera builds the startup camera for the configured window.
func (c *Config) Camera() *particles.Camera {
	cam := particles.NewCamera(c.Render.Camera.Position, c.Render.Camera.Target, c.Derived.Aspect)
	cam.FovY = c.Render.Camera.Fov
	return cam
}

func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
