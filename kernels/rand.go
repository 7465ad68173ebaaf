package kernels

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Rand is the PCG hash generator used by the emit shader, so a seed yields
// the same stream on every backend.
type Rand struct {
	state uint32
}

// NewRand seeds a generator for one emitted particle.
func NewRand(seed, index uint32) *Rand {
	return &Rand{state: PCGHash(seed ^ PCGHash(index))}
}

func PCGHash(v uint32) uint32 {
	state := v*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// Float returns a value in [0, 1].
func (r *Rand) Float() float32 {
	r.state = PCGHash(r.state)
	return float32(float64(r.state) / 4294967295.0)
}

func (r *Rand) Range(lo, hi float32) float32 {
	return lerp(lo, hi, r.Float())
}

// UnitVector returns a uniformly distributed direction.
func (r *Rand) UnitVector() mgl32.Vec3 {
	z := r.Float()*2 - 1
	a := r.Float() * 2 * math.Pi
	s := float32(math.Sqrt(math.Max(0, float64(1-z*z))))
	return mgl32.Vec3{s * cos32(a), s * sin32(a), z}
}

func lerp(a, b, t float32) float32 { return a + (b-a)*t }

func cos32(v float32) float32 { return float32(math.Cos(float64(v))) }
func sin32(v float32) float32 { return float32(math.Sin(float64(v))) }
