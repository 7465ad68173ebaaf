package particles

import (
	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
)

// clipZ remaps OpenGL clip depth [-1,1] to the [0,1] range WebGPU expects.
var clipZ = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// Camera is a Y-up perspective camera.
type Camera struct {
	Position mgl32.Vec3
	Target   mgl32.Vec3
	Up       mgl32.Vec3

	FovY   float32 // degrees
	Aspect float32
	Near   float32
	Far    float32
}

func NewCamera(position, target mgl32.Vec3, aspect float32) *Camera {
	return &Camera{
		Position: position,
		Target:   target,
		Up:       mgl32.Vec3{0, 1, 0},
		FovY:     60,
		Aspect:   aspect,
		Near:     0.1,
		Far:      1000,
	}
}

func (c *Camera) View() mgl32.Mat4 {
	up := c.Up
	if up.LenSqr() == 0 {
		up = mgl32.Vec3{0, 1, 0}
	}
	return mgl32.LookAtV(c.Position, c.Target, up)
}

func (c *Camera) Projection() mgl32.Mat4 {
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	return clipZ.Mul4(mgl32.Perspective(mgl32.DegToRad(c.FovY), aspect, c.Near, c.Far))
}

func (c *Camera) ViewProjection() mgl32.Mat4 {
	return c.Projection().Mul4(c.View())
}

// SystemConstants builds the per-frame constant block. The billboard basis
// comes from the inverse view so it matches what the rasterizer sees.
func (c *Camera) SystemConstants(totalTime, dt float32, frame uint32) gpu.SystemConstants {
	view := c.View()
	proj := c.Projection()
	inv := view.Inv()
	return gpu.SystemConstants{
		View:           view,
		Proj:           proj,
		ViewProj:       proj.Mul4(view),
		InvView:        inv,
		CameraPosition: c.Position,
		TotalTime:      totalTime,
		CameraRight:    inv.Col(0).Vec3().Normalize(),
		DeltaTime:      dt,
		CameraUp:       inv.Col(1).Vec3().Normalize(),
		FrameIndex:     frame,
	}
}
