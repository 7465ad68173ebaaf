package particles

import (
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

type PlayState int

const (
	Stopped PlayState = iota
	Playing
	Paused
)

func (s PlayState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	}
	return "stopped"
}

var nextEmitterID atomic.Uint32

// Emitter schedules emission for one effect layer. Its particles live in the
// shared pool tagged with GPUID.
type Emitter struct {
	ID    uuid.UUID
	GPUID uint32

	config EmitterConfig

	Position mgl32.Vec3
	Rotation mgl32.Quat

	state       PlayState
	time        float64
	accumulator float64
	burstNext   []float64
	burstCycles []uint32
	pending     uint32

	rng     *rand.Rand
	texture gpu.Texture
	// TexturePath the texture was last resolved for, even if loading failed.
	texturePath string
}

func NewEmitter(config EmitterConfig) *Emitter {
	id := uuid.New()
	seed := binarySeed(id)
	e := &Emitter{
		ID:       id,
		GPUID:    nextEmitterID.Add(1),
		config:   config,
		Rotation: mgl32.QuatIdent(),
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	e.resetBursts()
	return e
}

func binarySeed(id uuid.UUID) uint64 {
	var s uint64
	for _, b := range id[:8] {
		s = s<<8 | uint64(b)
	}
	return s
}

func (e *Emitter) Name() string          { return e.config.Name }
func (e *Emitter) Config() EmitterConfig { return e.config }
func (e *Emitter) State() PlayState      { return e.state }
func (e *Emitter) IsPlaying() bool       { return e.state == Playing }
func (e *Emitter) IsPaused() bool        { return e.state == Paused }
func (e *Emitter) Time() float64         { return e.time }
func (e *Emitter) Texture() gpu.Texture  { return e.texture }

// SetTexture overrides the sprite loaded from TexturePath.
func (e *Emitter) SetTexture(t gpu.Texture) {
	e.texture = t
	e.texturePath = e.config.TexturePath
}

// SetConfig replaces the configuration. Burst cursors are resized to match
// and new bursts start armed.
func (e *Emitter) SetConfig(c EmitterConfig) {
	if c.TexturePath != e.config.TexturePath {
		e.texture = nil
		e.texturePath = ""
	}
	e.config = c
	e.syncBursts()
}

func (e *Emitter) SetPosition(p mgl32.Vec3) { e.Position = p }
func (e *Emitter) SetRotation(q mgl32.Quat) { e.Rotation = q }

func (e *Emitter) resetBursts() {
	e.burstNext = make([]float64, len(e.config.Bursts))
	e.burstCycles = make([]uint32, len(e.config.Bursts))
	for i, b := range e.config.Bursts {
		e.burstNext[i] = float64(b.Time)
	}
}

func (e *Emitter) syncBursts() {
	if len(e.burstNext) == len(e.config.Bursts) {
		return
	}
	e.resetBursts()
}

func (e *Emitter) Play() {
	if e.state == Stopped && !e.config.Looping && e.time >= float64(e.config.Duration) {
		e.Restart()
		return
	}
	e.state = Playing
}

func (e *Emitter) Pause() {
	if e.state == Playing {
		e.state = Paused
	}
}

// Stop blocks further emission. Particles already alive run out their lifetime.
func (e *Emitter) Stop() {
	e.state = Stopped
	e.pending = 0
}

// Restart rewinds to time zero and clears the accumulator and burst cursors.
func (e *Emitter) Restart() {
	e.time = 0
	e.accumulator = 0
	e.pending = 0
	e.resetBursts()
	e.state = Playing
}

// Update advances playback time. Looping emitters wrap and re-arm bursts that
// still have cycles left; one-shot emitters stop at the end of their duration.
func (e *Emitter) Update(dt float32) {
	if e.state != Playing {
		return
	}
	e.syncBursts()
	e.time += float64(dt)

	dur := float64(e.config.Duration)
	if dur <= 0 || e.time < dur {
		return
	}
	if !e.config.Looping {
		e.state = Stopped
		return
	}
	e.time = math.Mod(e.time, dur)
	for i, b := range e.config.Bursts {
		if b.Cycles == 0 || e.burstCycles[i] < b.Cycles {
			e.burstNext[i] = float64(b.Time)
		}
	}
}

// CalculateEmitCount returns how many particles to spawn for a step of dt.
// The fractional part of the continuous rate carries over in the accumulator.
// The result is clamped to the emitter's own budget but not to free pool
// slots: the emit pass truncates against those.
func (e *Emitter) CalculateEmitCount(dt float32) uint32 {
	if e.state != Playing {
		return 0
	}
	if e.time < float64(e.config.StartDelay) {
		return 0
	}
	e.syncBursts()

	var count uint64
	if e.config.EmitRate > 0 && dt > 0 {
		e.accumulator += float64(e.config.EmitRate) * float64(dt)
		n := math.Floor(e.accumulator)
		e.accumulator -= n
		count += uint64(n)
	}

	for i, b := range e.config.Bursts {
		if b.Cycles > 0 && e.burstCycles[i] >= b.Cycles {
			continue
		}
		if e.time < e.burstNext[i] {
			continue
		}
		if e.rng.Float32() <= b.Probability {
			count += uint64(b.Count)
		}
		e.burstCycles[i]++
		if b.Interval > 0 {
			e.burstNext[i] += float64(b.Interval)
		} else {
			e.burstNext[i] = float64(e.config.Duration) + 1
		}
	}

	if m := uint64(e.config.MaxParticles); m > 0 && count > m {
		count = m
	}
	return uint32(count)
}

// schedule adds this step's emission to the count waiting for the next render.
func (e *Emitter) schedule(dt float32) uint32 {
	n := e.CalculateEmitCount(dt)
	sum := uint64(e.pending) + uint64(n)
	if m := uint64(e.config.MaxParticles); m > 0 && sum > m {
		sum = m
	}
	e.pending = uint32(sum)
	return n
}

func (e *Emitter) takePending() uint32 {
	n := e.pending
	e.pending = 0
	return n
}

// restorePending hands back emission taken by a frame that was discarded.
func (e *Emitter) restorePending(n uint32) {
	sum := uint64(e.pending) + uint64(n)
	if m := uint64(e.config.MaxParticles); m > 0 && sum > m {
		sum = m
	}
	e.pending = uint32(sum)
}

// Pending is the emission count waiting for the next render.
func (e *Emitter) Pending() uint32 { return e.pending }

// EmitterParams builds the emit pass block for count new particles.
func (e *Emitter) EmitterParams(count, poolCapacity uint32) gpu.EmitterParams {
	c := &e.config
	s := &c.Shape

	shapeRot := mgl32.AnglesToQuat(mgl32.DegToRad(s.Rotation[0]), mgl32.DegToRad(s.Rotation[1]),
		mgl32.DegToRad(s.Rotation[2]), mgl32.XYZ)
	rot := e.Rotation
	if rot.Len() == 0 {
		rot = mgl32.QuatIdent()
	}

	var flags uint32
	if s.FromEdge {
		flags |= gpu.EmitFromEdge
	}
	if s.RandomDir {
		flags |= gpu.EmitRandomDir
	}
	if c.Collision {
		flags |= gpu.EmitCollision
	}

	return gpu.EmitterParams{
		Position:     e.Position,
		EmitCount:    count,
		Rotation:     rot.Mul(shapeRot).Normalize(),
		VelocityMin:  c.Velocity.Min,
		SpeedMin:     c.StartSpeed.Min,
		VelocityMax:  c.Velocity.Max,
		SpeedMax:     c.StartSpeed.Max,
		ColorMin:     c.StartColor.Min,
		ColorMax:     c.StartColor.Max,
		BoxSize:      s.BoxSize,
		Shape:        s.Shape,
		ShapeOffset:  s.Position,
		Flags:        flags,
		LifetimeMin:  c.StartLifetime.Min,
		LifetimeMax:  c.StartLifetime.Max,
		SizeMin:      c.StartSize.Min,
		SizeMax:      c.StartSize.Max,
		RotationMin:  mgl32.DegToRad(c.StartRotation.Min),
		RotationMax:  mgl32.DegToRad(c.StartRotation.Max),
		AngularMin:   mgl32.DegToRad(c.AngularVelocity.Min),
		AngularMax:   mgl32.DegToRad(c.AngularVelocity.Max),
		Radius:       s.Radius,
		ConeAngle:    mgl32.DegToRad(s.ConeAngle),
		ConeRadius:   s.ConeRadius,
		ArcAngle:     mgl32.DegToRad(s.ArcAngle),
		EmitterID:    e.GPUID,
		MaxParticles: poolCapacity,
		Seed:         e.rng.Uint32(),
		Time:         float32(e.time),
	}
}

// RenderParams builds the per-emitter draw block.
func (e *Emitter) RenderParams(totalTime float32, textured bool) gpu.RenderParams {
	c := &e.config
	rp := gpu.RenderParams{
		EmitterID:  e.GPUID,
		UseTexture: textured,
		Blend:      c.BlendMode,
		Mode:       c.RenderMode,
		SoftScale:  c.SoftScale,
		TotalTime:  totalTime,
		Stretch:    c.Stretch,
		TilesX:     1,
		TilesY:     1,
		FrameCount: 1,
	}
	if ss := c.SpriteSheet; ss.Enabled && ss.TilesX > 0 && ss.TilesY > 0 {
		rp.TilesX, rp.TilesY = ss.TilesX, ss.TilesY
		rp.FrameCount = max(ss.FrameCount, 1)
		rp.FPS = ss.FPS
	}
	return rp
}
