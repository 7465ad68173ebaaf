package particles

import (
	"fmt"

	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// Range is a start value sampled uniformly between Min and Max.
type Range struct {
	Min float32 `yaml:"min"`
	Max float32 `yaml:"max"`
}

func Constant(v float32) Range  { return Range{Min: v, Max: v} }
func Between(a, b float32) Range { return Range{Min: a, Max: b} }

// Sample maps t in [0,1] into the range.
func (r Range) Sample(t float32) float32 { return r.Min + (r.Max-r.Min)*t }

type Vec3Range struct {
	Min mgl32.Vec3 `yaml:"min,flow"`
	Max mgl32.Vec3 `yaml:"max,flow"`
}

type ColorRange struct {
	Min mgl32.Vec4 `yaml:"min,flow"`
	Max mgl32.Vec4 `yaml:"max,flow"`
}

func SolidColor(c mgl32.Vec4) ColorRange { return ColorRange{Min: c, Max: c} }

type ShapeConfig struct {
	Shape      gpu.EmitShape `yaml:"shape"`
	Radius     float32       `yaml:"radius"`
	BoxSize    mgl32.Vec3    `yaml:"box_size,flow"`
	ConeAngle  float32       `yaml:"cone_angle"` // degrees
	ConeRadius float32       `yaml:"cone_radius"`
	ArcAngle   float32       `yaml:"arc_angle"` // degrees
	Position   mgl32.Vec3    `yaml:"position,flow"`
	Rotation   mgl32.Vec3    `yaml:"rotation,flow"` // euler degrees, XYZ
	FromEdge   bool          `yaml:"from_edge"`
	RandomDir  bool          `yaml:"random_direction"`
}

type BurstConfig struct {
	Time        float32 `yaml:"time"`
	Count       uint32  `yaml:"count"`
	Cycles      uint32  `yaml:"cycles"` // 0 repeats forever
	Interval    float32 `yaml:"interval"`
	Probability float32 `yaml:"probability"`
}

// NewBurst returns a single-shot burst at t.
func NewBurst(t float32, count uint32) BurstConfig {
	return BurstConfig{Time: t, Count: count, Cycles: 1, Probability: 1}
}

type SpriteSheet struct {
	Enabled    bool    `yaml:"enabled"`
	TilesX     uint32  `yaml:"tiles_x"`
	TilesY     uint32  `yaml:"tiles_y"`
	FrameCount uint32  `yaml:"frame_count"`
	FPS        float32 `yaml:"fps"`
}

// EmitterConfig is the authoring description of one emitter.
type EmitterConfig struct {
	Name         string  `yaml:"name"`
	Duration     float32 `yaml:"duration"`
	Looping      bool    `yaml:"looping"`
	StartDelay   float32 `yaml:"start_delay"`
	MaxParticles uint32  `yaml:"max_particles"`

	EmitRate float32       `yaml:"emit_rate"`
	Bursts   []BurstConfig `yaml:"bursts,omitempty"`
	Shape    ShapeConfig   `yaml:"shape"`

	StartLifetime   Range      `yaml:"start_lifetime"`
	StartSpeed      Range      `yaml:"start_speed"`
	StartSize       Range      `yaml:"start_size"`
	StartColor      ColorRange `yaml:"start_color"`
	StartRotation   Range      `yaml:"start_rotation"`   // degrees
	AngularVelocity Range      `yaml:"angular_velocity"` // degrees per second
	Velocity        Vec3Range  `yaml:"velocity"`

	RenderMode  gpu.RenderMode `yaml:"render_mode"`
	BlendMode   gpu.BlendMode  `yaml:"blend_mode"`
	TexturePath string         `yaml:"texture,omitempty"`
	SpriteSheet SpriteSheet    `yaml:"sprite_sheet"`
	SoftScale   float32        `yaml:"soft_scale"`
	Stretch     float32        `yaml:"stretch"`

	Collision bool `yaml:"collision"`
}

// DefaultEmitterConfig returns the stock emitter: a white point source
// emitting ten particles per second on a five second loop.
func DefaultEmitterConfig(name string) EmitterConfig {
	return EmitterConfig{
		Name:         name,
		Duration:     5,
		Looping:      true,
		MaxParticles: 1000,
		EmitRate:     10,
		Shape: ShapeConfig{
			Shape:      gpu.ShapePoint,
			Radius:     1,
			BoxSize:    mgl32.Vec3{1, 1, 1},
			ConeAngle:  25,
			ConeRadius: 1,
			ArcAngle:   360,
		},
		StartLifetime: Between(3, 5),
		StartSpeed:    Between(1, 2),
		StartSize:     Between(0.5, 1),
		StartColor:    SolidColor(mgl32.Vec4{1, 1, 1, 1}),
		RenderMode:    gpu.RenderBillboard,
		BlendMode:     gpu.BlendAdditive,
		SpriteSheet:   SpriteSheet{TilesX: 1, TilesY: 1, FrameCount: 1, FPS: 30},
		SoftScale:     1,
		Stretch:       1,
	}
}

// Validate reports configurations the emit kernel cannot sample.
func (c *EmitterConfig) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("emitter %q: duration must be positive, got %g", c.Name, c.Duration)
	}
	if c.EmitRate < 0 {
		return fmt.Errorf("emitter %q: negative emit rate %g", c.Name, c.EmitRate)
	}
	if c.StartLifetime.Max <= 0 {
		return fmt.Errorf("emitter %q: lifetime must be positive", c.Name)
	}
	if c.Shape.Shape > gpu.ShapeEdge {
		return fmt.Errorf("emitter %q: unknown shape %d", c.Name, c.Shape.Shape)
	}
	if c.BlendMode > gpu.BlendPremultiplied {
		return fmt.Errorf("emitter %q: unknown blend mode %d", c.Name, c.BlendMode)
	}
	for i, b := range c.Bursts {
		if b.Probability < 0 || b.Probability > 1 {
			return fmt.Errorf("emitter %q: burst %d probability %g outside [0,1]", c.Name, i, b.Probability)
		}
	}
	return nil
}
