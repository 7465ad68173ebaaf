package gpu

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// ParticleStride is the size of one record in the particle pool.
	ParticleStride = 96
	CountersSize   = 16
	DrawArgsSize   = 16

	EmitterParamsSize   = 192
	UpdateParamsSize    = 192
	SystemConstantsSize = 304
	RenderParamsSize    = 48

	// UniformSlotStride is the dynamic-offset alignment used for per-emitter uniform slots.
	UniformSlotStride = 256

	EmitWorkgroupSize   = 64
	UpdateWorkgroupSize = 256

	// BillboardVertexCount is the per-instance vertex count of the camera-facing quad.
	BillboardVertexCount = 6
)

// Particle flags
const (
	FlagActive    uint32 = 1 << 0
	FlagBillboard uint32 = 1 << 1
	FlagMesh      uint32 = 1 << 2
	FlagTrail     uint32 = 1 << 3
	FlagCollision uint32 = 1 << 4
)

// Emitter parameter flags
const (
	EmitFromEdge     uint32 = 1 << 0
	EmitRandomDir    uint32 = 1 << 1
	EmitCollision    uint32 = 1 << 2
	EmitLocalOffsets uint32 = 1 << 3
)

// EmitShape selects the spawn volume sampled by the emit kernel.
type EmitShape uint32

const (
	ShapePoint EmitShape = iota
	ShapeSphere
	ShapeHemisphere
	ShapeBox
	ShapeCone
	ShapeCircle
	ShapeEdge
)

// BlendMode selects the render pipeline used for an emitter.
type BlendMode uint32

const (
	BlendAdditive BlendMode = iota
	BlendAlpha
	BlendMultiply
	BlendPremultiplied
)

// BlendModes lists every blend mode with a dedicated pipeline.
var BlendModes = []BlendMode{BlendAdditive, BlendAlpha, BlendMultiply, BlendPremultiplied}

func (b BlendMode) String() string {
	if int(b) < len(blendNames) {
		return blendNames[b]
	}
	return "unknown"
}

// RenderMode selects the billboard orientation in the vertex stage.
type RenderMode uint32

const (
	RenderBillboard RenderMode = iota
	RenderStretchedBillboard
	RenderHorizontalBillboard
	RenderVerticalBillboard
)

// Particle matches the WGSL Particle struct in the particle shaders.
// The host never touches pool records during steady-state operation.
type Particle struct {
	Position        mgl32.Vec3
	Age             float32
	Velocity        mgl32.Vec3
	Lifetime        float32
	Color           mgl32.Vec4
	Size            mgl32.Vec2
	Rotation        float32
	AngularVelocity float32
	EmitterID       uint32
	Flags           uint32
	UVOffset        mgl32.Vec2
	UVScale         mgl32.Vec2
	Random          float32
	_               float32
}

// Counters is the GPU counter block shared by every pass.
type Counters struct {
	DeadTop       int32
	AliveCountIn  uint32
	AliveCountOut uint32
	EmitRequested uint32
}

func (c Counters) Bytes() []byte {
	w := newWriter(CountersSize)
	w.u32(uint32(c.DeadTop))
	w.u32(c.AliveCountIn)
	w.u32(c.AliveCountOut)
	w.u32(c.EmitRequested)
	return w.buf
}

// CountersFromBytes decodes a counter block read back from the device.
func CountersFromBytes(b []byte) Counters {
	return Counters{
		DeadTop:       int32(binary.LittleEndian.Uint32(b[0:4])),
		AliveCountIn:  binary.LittleEndian.Uint32(b[4:8]),
		AliveCountOut: binary.LittleEndian.Uint32(b[8:12]),
		EmitRequested: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// DrawIndirectArgs has the layout expected by drawIndirect.
type DrawIndirectArgs struct {
	VertexCount   uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstInstance uint32
}

func (a DrawIndirectArgs) Bytes() []byte {
	w := newWriter(DrawArgsSize)
	w.u32(a.VertexCount)
	w.u32(a.InstanceCount)
	w.u32(a.FirstVertex)
	w.u32(a.FirstInstance)
	return w.buf
}

func DrawArgsFromBytes(b []byte) DrawIndirectArgs {
	return DrawIndirectArgs{
		VertexCount:   binary.LittleEndian.Uint32(b[0:4]),
		InstanceCount: binary.LittleEndian.Uint32(b[4:8]),
		FirstVertex:   binary.LittleEndian.Uint32(b[8:12]),
		FirstInstance: binary.LittleEndian.Uint32(b[12:16]),
	}
}

// EmitterParams is the per-emitter block consumed by the emit pass.
type EmitterParams struct {
	Position    mgl32.Vec3
	EmitCount   uint32
	Rotation    mgl32.Quat
	VelocityMin mgl32.Vec3
	SpeedMin    float32
	VelocityMax mgl32.Vec3
	SpeedMax    float32
	ColorMin    mgl32.Vec4
	ColorMax    mgl32.Vec4
	BoxSize     mgl32.Vec3
	Shape       EmitShape
	ShapeOffset mgl32.Vec3
	Flags       uint32

	LifetimeMin, LifetimeMax float32
	SizeMin, SizeMax         float32
	RotationMin, RotationMax float32
	AngularMin, AngularMax   float32

	Radius     float32
	ConeAngle  float32 // radians
	ConeRadius float32
	ArcAngle   float32 // radians

	EmitterID    uint32
	MaxParticles uint32
	Seed         uint32
	Time         float32
}

func (p *EmitterParams) Bytes() []byte {
	w := newWriter(EmitterParamsSize)
	w.vec3(p.Position)
	w.u32(p.EmitCount)
	w.quat(p.Rotation)
	w.vec3(p.VelocityMin)
	w.f32(p.SpeedMin)
	w.vec3(p.VelocityMax)
	w.f32(p.SpeedMax)
	w.vec4(p.ColorMin)
	w.vec4(p.ColorMax)
	w.vec3(p.BoxSize)
	w.u32(uint32(p.Shape))
	w.vec3(p.ShapeOffset)
	w.u32(p.Flags)
	w.f32(p.LifetimeMin)
	w.f32(p.LifetimeMax)
	w.f32(p.SizeMin)
	w.f32(p.SizeMax)
	w.f32(p.RotationMin)
	w.f32(p.RotationMax)
	w.f32(p.AngularMin)
	w.f32(p.AngularMax)
	w.f32(p.Radius)
	w.f32(p.ConeAngle)
	w.f32(p.ConeRadius)
	w.f32(p.ArcAngle)
	w.u32(p.EmitterID)
	w.u32(p.MaxParticles)
	w.u32(p.Seed)
	w.f32(p.Time)
	return w.buf
}

// UpdateParams carries the global simulation parameters of one update pass.
type UpdateParams struct {
	Gravity     mgl32.Vec3
	Drag        float32
	ViewProj    mgl32.Mat4
	InvViewProj mgl32.Mat4
	ScreenSize  mgl32.Vec2

	CollisionEnabled bool
	Bounce           float32
	LifetimeLoss     float32
	KillOnCollision  bool
	MinKillSpeed     float32
	RadiusScale      float32
	GroundHeight     float32
	HasDepth         bool
	DeltaTime        float32
}

func (p *UpdateParams) Bytes() []byte {
	w := newWriter(UpdateParamsSize)
	w.vec3(p.Gravity)
	w.f32(p.Drag)
	w.mat4(p.ViewProj)
	w.mat4(p.InvViewProj)
	w.f32(p.ScreenSize[0])
	w.f32(p.ScreenSize[1])
	w.bool(p.CollisionEnabled)
	w.f32(p.Bounce)
	w.f32(p.LifetimeLoss)
	w.bool(p.KillOnCollision)
	w.f32(p.MinKillSpeed)
	w.f32(p.RadiusScale)
	w.f32(p.GroundHeight)
	w.bool(p.HasDepth)
	w.f32(p.DeltaTime)
	return w.buf
}

// SystemConstants holds the per-frame camera and timing block.
type SystemConstants struct {
	View           mgl32.Mat4
	Proj           mgl32.Mat4
	ViewProj       mgl32.Mat4
	InvView        mgl32.Mat4
	CameraPosition mgl32.Vec3
	TotalTime      float32
	CameraRight    mgl32.Vec3
	DeltaTime      float32
	CameraUp       mgl32.Vec3
	FrameIndex     uint32
}

func (c *SystemConstants) Bytes() []byte {
	w := newWriter(SystemConstantsSize)
	w.mat4(c.View)
	w.mat4(c.Proj)
	w.mat4(c.ViewProj)
	w.mat4(c.InvView)
	w.vec3(c.CameraPosition)
	w.f32(c.TotalTime)
	w.vec3(c.CameraRight)
	w.f32(c.DeltaTime)
	w.vec3(c.CameraUp)
	w.u32(c.FrameIndex)
	return w.buf
}

// RenderParams selects which pool records a draw shows and how.
type RenderParams struct {
	EmitterID  uint32
	UseTexture bool
	Blend      BlendMode
	Mode       RenderMode

	SoftScale float32
	TotalTime float32
	Stretch   float32

	TilesX     uint32
	TilesY     uint32
	FrameCount uint32
	FPS        float32
}

func (p *RenderParams) Bytes() []byte {
	w := newWriter(RenderParamsSize)
	w.u32(p.EmitterID)
	w.bool(p.UseTexture)
	w.u32(uint32(p.Blend))
	w.u32(uint32(p.Mode))
	w.f32(p.SoftScale)
	w.f32(p.TotalTime)
	w.f32(p.Stretch)
	w.f32(0)
	w.u32(p.TilesX)
	w.u32(p.TilesY)
	w.u32(p.FrameCount)
	w.f32(p.FPS)
	return w.buf
}

// writer packs little-endian values at WGSL offsets; callers keep fields in declaration order.
type writer struct {
	buf []byte
	off int
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, size)}
}

func (w *writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:w.off+4], v)
	w.off += 4
}

func (w *writer) f32(v float32) { w.u32(math.Float32bits(v)) }

func (w *writer) bool(v bool) {
	if v {
		w.u32(1)
		return
	}
	w.u32(0)
}

func (w *writer) vec3(v mgl32.Vec3) {
	w.f32(v[0])
	w.f32(v[1])
	w.f32(v[2])
}

func (w *writer) vec4(v mgl32.Vec4) {
	for i := 0; i < 4; i++ {
		w.f32(v[i])
	}
}

func (w *writer) quat(q mgl32.Quat) {
	w.vec3(q.V)
	w.f32(q.W)
}

// mat4 writes column-major, matching both mgl32 and WGSL.
func (w *writer) mat4(m mgl32.Mat4) {
	for i := 0; i < 16; i++ {
		w.f32(m[i])
	}
}
