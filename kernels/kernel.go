// Package kernels holds the per-particle programs run by the software
// accelerator. They mirror the WGSL emit and update shaders.
package kernels

import (
	"math"

	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// DepthSampler reads a scene depth target in pixel coordinates.
type DepthSampler interface {
	Size() (width, height uint32)
	DepthAt(x, y int) float32
}

// Kernel initialises and advances individual particles.
type Kernel interface {
	// Spawn writes a freshly emitted particle.
	Spawn(p *gpu.Particle, params *gpu.EmitterParams, rng *Rand)
	// Step advances p by params.DeltaTime and reports whether it survives.
	Step(p *gpu.Particle, params *gpu.UpdateParams, depth DepthSampler) bool
}

// Default is the stock kernel: shape sampling on spawn, gravity and drag
// integration, and optional ground or depth-buffer collision.
type Default struct{}

var _ Kernel = Default{}

func (Default) Spawn(p *gpu.Particle, params *gpu.EmitterParams, rng *Rand) {
	pos, dir := SampleShape(params, rng)

	*p = gpu.Particle{}
	p.Position = pos
	speed := rng.Range(params.SpeedMin, params.SpeedMax)
	jitter := mgl32.Vec3{
		rng.Range(params.VelocityMin[0], params.VelocityMax[0]),
		rng.Range(params.VelocityMin[1], params.VelocityMax[1]),
		rng.Range(params.VelocityMin[2], params.VelocityMax[2]),
	}
	p.Velocity = dir.Mul(speed).Add(jitter)
	p.Lifetime = max(rng.Range(params.LifetimeMin, params.LifetimeMax), 0.0001)

	t := rng.Float()
	for i := 0; i < 4; i++ {
		p.Color[i] = lerp(params.ColorMin[i], params.ColorMax[i], t)
	}
	size := rng.Range(params.SizeMin, params.SizeMax)
	p.Size = mgl32.Vec2{size, size}
	p.Rotation = rng.Range(params.RotationMin, params.RotationMax)
	p.AngularVelocity = rng.Range(params.AngularMin, params.AngularMax)
	p.EmitterID = params.EmitterID
	p.Flags = gpu.FlagActive | gpu.FlagBillboard
	if params.Flags&gpu.EmitCollision != 0 {
		p.Flags |= gpu.FlagCollision
	}
	p.UVScale = mgl32.Vec2{1, 1}
	p.Random = rng.Float()
}

func (Default) Step(p *gpu.Particle, params *gpu.UpdateParams, depth DepthSampler) bool {
	dt := params.DeltaTime

	p.Age += dt
	if p.Age >= p.Lifetime {
		p.Flags = 0
		return false
	}

	p.Velocity = p.Velocity.Add(params.Gravity.Mul(dt))
	p.Velocity = p.Velocity.Mul(max(0, 1-params.Drag*dt))
	prev := p.Position
	p.Position = p.Position.Add(p.Velocity.Mul(dt))
	p.Rotation += p.AngularVelocity * dt

	if !params.CollisionEnabled || p.Flags&gpu.FlagCollision == 0 {
		return true
	}

	var n mgl32.Vec3
	radius := p.Size[0] * 0.5 * params.RadiusScale
	useDepth := params.HasDepth && depth != nil
	if useDepth {
		n = depthContact(p, params, depth)
	} else if p.Position[1]-radius < params.GroundHeight && p.Velocity[1] < 0 {
		n = mgl32.Vec3{0, 1, 0}
		p.Position[1] = params.GroundHeight + radius
	}
	if n.LenSqr() == 0 {
		return true
	}
	if useDepth {
		p.Position = prev
	}
	p.Velocity = reflect(p.Velocity, n).Mul(params.Bounce)
	p.Age += (p.Lifetime - p.Age) * params.LifetimeLoss
	if params.KillOnCollision || p.Velocity.Len() < params.MinKillSpeed {
		p.Flags = 0
		return false
	}
	return true
}

// SampleShape returns a world-space spawn position and launch direction.
func SampleShape(params *gpu.EmitterParams, rng *Rand) (mgl32.Vec3, mgl32.Vec3) {
	pos := mgl32.Vec3{}
	dir := mgl32.Vec3{0, 1, 0}
	edge := params.Flags&gpu.EmitFromEdge != 0

	switch params.Shape {
	case gpu.ShapeSphere, gpu.ShapeHemisphere:
		d := rng.UnitVector()
		if params.Shape == gpu.ShapeHemisphere {
			d[1] = float32(math.Abs(float64(d[1])))
		}
		r := params.Radius
		if !edge {
			r *= float32(math.Pow(float64(rng.Float()), 1.0/3.0))
		}
		pos = d.Mul(r)
		dir = d
	case gpu.ShapeBox:
		u := mgl32.Vec3{rng.Float(), rng.Float(), rng.Float()}
		pos = mgl32.Vec3{
			(u[0] - 0.5) * params.BoxSize[0],
			(u[1] - 0.5) * params.BoxSize[1],
			(u[2] - 0.5) * params.BoxSize[2],
		}
	case gpu.ShapeCone:
		cosT := lerp(cos32(params.ConeAngle), 1, rng.Float())
		sinT := float32(math.Sqrt(math.Max(0, float64(1-cosT*cosT))))
		phi := rng.Float() * params.ArcAngle
		r := params.ConeRadius
		if !edge {
			r *= float32(math.Sqrt(float64(rng.Float())))
		}
		pos = mgl32.Vec3{cos32(phi) * r, 0, sin32(phi) * r}
		dir = mgl32.Vec3{cos32(phi) * sinT, cosT, sin32(phi) * sinT}
	case gpu.ShapeCircle:
		phi := rng.Float() * params.ArcAngle
		r := params.Radius
		if !edge {
			r *= float32(math.Sqrt(float64(rng.Float())))
		}
		dir = mgl32.Vec3{cos32(phi), 0, sin32(phi)}
		pos = dir.Mul(r)
	case gpu.ShapeEdge:
		pos = mgl32.Vec3{(rng.Float()*2 - 1) * params.Radius, 0, 0}
	}

	if params.Flags&gpu.EmitRandomDir != 0 {
		dir = rng.UnitVector()
	}
	rot := params.Rotation
	if rot.Len() == 0 {
		rot = mgl32.QuatIdent()
	}
	pos = params.Position.Add(rot.Rotate(pos.Add(params.ShapeOffset)))
	dir = rot.Rotate(dir)
	return pos, dir
}

func reflect(v, n mgl32.Vec3) mgl32.Vec3 {
	return v.Sub(n.Mul(2 * v.Dot(n)))
}

func depthContact(p *gpu.Particle, params *gpu.UpdateParams, depth DepthSampler) mgl32.Vec3 {
	clip := params.ViewProj.Mul4x1(p.Position.Vec4(1))
	if clip[3] <= 0 {
		return mgl32.Vec3{}
	}
	ndc := clip.Vec3().Mul(1 / clip[3])
	if abs32(ndc[0]) > 1 || abs32(ndc[1]) > 1 {
		return mgl32.Vec3{}
	}
	w, h := depth.Size()
	if w < 2 || h < 2 {
		return mgl32.Vec3{}
	}
	u := ndc[0]*0.5 + 0.5
	v := 0.5 - ndc[1]*0.5
	x := clampInt(int(u*float32(w)), 0, int(w)-2)
	y := clampInt(int(v*float32(h)), 0, int(h)-2)
	if ndc[2] <= depth.DepthAt(x, y) {
		return mgl32.Vec3{}
	}

	c := worldAt(params, depth, x, y)
	dx := worldAt(params, depth, x+1, y).Sub(c)
	dy := worldAt(params, depth, x, y+1).Sub(c)
	n := dy.Cross(dx)
	if n.LenSqr() < 1e-12 {
		return mgl32.Vec3{0, 1, 0}
	}
	n = n.Normalize()
	if n.Dot(p.Velocity) > 0 {
		n = n.Mul(-1)
	}
	return n
}

func worldAt(params *gpu.UpdateParams, depth DepthSampler, x, y int) mgl32.Vec3 {
	w, h := depth.Size()
	d := depth.DepthAt(x, y)
	u := (float32(x) + 0.5) / float32(w)
	v := (float32(y) + 0.5) / float32(h)
	ndc := mgl32.Vec4{u*2 - 1, 1 - v*2, d, 1}
	world := params.InvViewProj.Mul4x1(ndc)
	return world.Vec3().Mul(1 / world[3])
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
