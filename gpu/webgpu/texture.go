package webgpu

import (
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
)

// Texture is a sprite uploaded as RGBA8.
type Texture struct {
	owner  *Backend
	tex    *wgpu.Texture
	view   *wgpu.TextureView
	width  uint32
	height uint32
}

var _ gpu.Texture = (*Texture)(nil)

func (t *Texture) Size() (uint32, uint32) { return t.width, t.height }

func (t *Texture) View() *wgpu.TextureView { return t.view }

func (t *Texture) Release() {
	if t.owner != nil {
		if bg, ok := t.owner.textureBGs[t]; ok {
			bg.Release()
			delete(t.owner.textureBGs, t)
		}
	}
	if t.view != nil {
		t.view.Release()
		t.view = nil
	}
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

// DepthTarget wraps a Depth32Float scene depth view created with
// TextureUsageTextureBinding so the update pass can collide against it.
type DepthTarget struct {
	View          *wgpu.TextureView
	Width, Height uint32
}

var _ gpu.DepthBuffer = (*DepthTarget)(nil)

func (d *DepthTarget) Size() (uint32, uint32) { return d.Width, d.Height }
