package soft

import (
	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/kernels"
)

// DepthBuffer is a host-side scene depth target holding NDC depth per pixel,
// row 0 at the top of the screen.
type DepthBuffer struct {
	Width, Height uint32
	Values        []float32
}

var (
	_ gpu.DepthBuffer      = (*DepthBuffer)(nil)
	_ kernels.DepthSampler = (*DepthBuffer)(nil)
)

// NewDepthBuffer returns a buffer cleared to the far plane.
func NewDepthBuffer(width, height uint32) *DepthBuffer {
	d := &DepthBuffer{Width: width, Height: height, Values: make([]float32, width*height)}
	d.Clear(1)
	return d
}

func (d *DepthBuffer) Size() (uint32, uint32) { return d.Width, d.Height }

func (d *DepthBuffer) Clear(v float32) {
	for i := range d.Values {
		d.Values[i] = v
	}
}

func (d *DepthBuffer) Set(x, y int, v float32) {
	d.Values[y*int(d.Width)+x] = v
}

func (d *DepthBuffer) DepthAt(x, y int) float32 {
	x = max(0, min(x, int(d.Width)-1))
	y = max(0, min(y, int(d.Height)-1))
	return d.Values[y*int(d.Width)+x]
}
