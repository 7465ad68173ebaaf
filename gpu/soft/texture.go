package soft

import (
	"image"

	"github.com/gekko3d/particles/gpu"
)

// Texture keeps an uploaded sprite on the host.
type Texture struct {
	Label string
	Image *image.RGBA
}

var _ gpu.Texture = (*Texture)(nil)

func (t *Texture) Size() (uint32, uint32) {
	if t.Image == nil {
		return 0, 0
	}
	b := t.Image.Bounds()
	return uint32(b.Dx()), uint32(b.Dy())
}

func (t *Texture) Release() {
	t.Image = nil
}
