package webgpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
)

func (b *Backend) createBindGroups() error {
	p := b.pipelines
	for _, cur := range []gpu.AliveSet{gpu.SetA, gpu.SetB} {
		next := cur.Other()
		bg, err := b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "ParticleComputeBG" + cur.String(),
			Layout: p.computeBGL,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: b.PoolBuf, Size: wgpu.WholeSize},
				{Binding: 1, Buffer: b.DeadBuf, Size: wgpu.WholeSize},
				{Binding: 2, Buffer: b.AliveBufs[cur], Size: wgpu.WholeSize},
				{Binding: 3, Buffer: b.AliveBufs[next], Size: wgpu.WholeSize},
				{Binding: 4, Buffer: b.CounterBuf, Size: wgpu.WholeSize},
				{Binding: 5, Buffer: b.DrawArgsBuf, Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create compute bind group %s: %w", cur, err)
		}
		b.computeBG[cur] = bg

		rbg, err := b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
			Label:  "ParticleRenderBG" + cur.String(),
			Layout: p.renderBGL0,
			Entries: []wgpu.BindGroupEntry{
				{Binding: 0, Buffer: b.SystemBuf, Size: wgpu.WholeSize},
				{Binding: 1, Buffer: b.PoolBuf, Size: wgpu.WholeSize},
				{Binding: 2, Buffer: b.AliveBufs[cur], Size: wgpu.WholeSize},
			},
		})
		if err != nil {
			return fmt.Errorf("failed to create render bind group %s: %w", cur, err)
		}
		b.renderBG[cur] = rbg
	}

	var err error
	if b.emitBG, err = b.newEmitBindGroup(b.EmitParamBuf); err != nil {
		return err
	}

	if _, err := b.updateBindGroup(b.dummyDepthView); err != nil {
		return err
	}
	return nil
}

func (b *Backend) newEmitBindGroup(buf *wgpu.Buffer) (*wgpu.BindGroup, error) {
	bg, err := b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ParticleEmitBG",
		Layout: b.pipelines.emitBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: buf, Offset: 0, Size: gpu.EmitterParamsSize},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create emit bind group: %w", err)
	}
	return bg, nil
}

// updateBindGroup returns the update-params bind group for a depth view,
// creating and caching it on first use.
func (b *Backend) updateBindGroup(view *wgpu.TextureView) (*wgpu.BindGroup, error) {
	if bg, ok := b.updateBGs[view]; ok {
		return bg, nil
	}
	bg, err := b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ParticleUpdateBG",
		Layout: b.pipelines.updateBGL,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.UpdateBuf, Size: wgpu.WholeSize},
			{Binding: 1, TextureView: view},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create update bind group: %w", err)
	}
	b.updateBGs[view] = bg
	return bg, nil
}

// ForgetDepth drops the cached bind group of a depth view about to be released.
func (b *Backend) ForgetDepth(view *wgpu.TextureView) {
	if bg, ok := b.updateBGs[view]; ok && view != b.dummyDepthView {
		bg.Release()
		delete(b.updateBGs, view)
	}
}

func (b *Backend) textureBindGroup(tex *Texture) (*wgpu.BindGroup, error) {
	if bg, ok := b.textureBGs[tex]; ok {
		return bg, nil
	}
	bg, err := b.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "ParticleTextureBG",
		Layout: b.pipelines.renderBGL1,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: b.RenderBuf, Offset: 0, Size: gpu.RenderParamsSize},
			{Binding: 1, TextureView: tex.view},
			{Binding: 2, Sampler: b.sampler},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create texture bind group: %w", err)
	}
	b.textureBGs[tex] = bg
	return bg, nil
}
