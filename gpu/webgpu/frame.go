package webgpu

import (
	"errors"
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
)

var (
	errFrameSubmitted = errors.New("webgpu: frame already submitted")
	errTooManyDraws   = errors.New("webgpu: per-frame emit/draw slots exhausted")
)

type frame struct {
	b       *Backend
	encoder *wgpu.CommandEncoder
	cPass   *wgpu.ComputePassEncoder
	rPass   *wgpu.RenderPassEncoder

	emitSlot   uint32
	renderSlot uint32
	done       bool
}

func (b *Backend) BeginFrame(consts *gpu.SystemConstants) (gpu.Frame, error) {
	if b.PoolBuf == nil {
		return nil, gpu.ErrNotInitialized
	}
	b.pollReadback()

	if consts != nil {
		b.Queue.WriteBuffer(b.SystemBuf, 0, consts.Bytes())
	}
	encoder, err := b.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	return &frame{b: b, encoder: encoder}, nil
}

func (f *frame) computePass() *wgpu.ComputePassEncoder {
	if f.rPass != nil {
		f.endRenderPass()
	}
	if f.cPass == nil {
		f.cPass = f.encoder.BeginComputePass(nil)
	}
	return f.cPass
}

func (f *frame) endComputePass() error {
	if f.cPass == nil {
		return nil
	}
	err := f.cPass.End()
	f.cPass.Release()
	f.cPass = nil
	if err != nil {
		return fmt.Errorf("failed to end compute pass: %w", err)
	}
	return nil
}

func (f *frame) endRenderPass() error {
	if f.rPass == nil {
		return nil
	}
	err := f.rPass.End()
	f.rPass.Release()
	f.rPass = nil
	if err != nil {
		return fmt.Errorf("failed to end render pass: %w", err)
	}
	return nil
}

func (f *frame) Emit(target gpu.AliveSet, params *gpu.EmitterParams) error {
	if f.done {
		return errFrameSubmitted
	}
	if params.EmitCount == 0 {
		return nil
	}
	b := f.b
	if f.emitSlot >= b.slots {
		return errTooManyDraws
	}
	offset := f.emitSlot * gpu.UniformSlotStride
	f.emitSlot++
	b.Queue.WriteBuffer(b.EmitParamBuf, uint64(offset), params.Bytes())

	pass := f.computePass()
	pass.SetPipeline(b.pipelines.Emit)
	pass.SetBindGroup(0, b.computeBG[target], nil)
	pass.SetBindGroup(1, b.emitBG, []uint32{offset})
	pass.DispatchWorkgroups((params.EmitCount+gpu.EmitWorkgroupSize-1)/gpu.EmitWorkgroupSize, 1, 1)
	return nil
}

func (f *frame) Update(in gpu.AliveSet, params *gpu.UpdateParams, depth gpu.DepthBuffer) error {
	if f.done {
		return errFrameSubmitted
	}
	b := f.b
	view := b.dummyDepthView
	p := *params
	if depth != nil {
		dt, ok := depth.(*DepthTarget)
		if !ok {
			return fmt.Errorf("webgpu: unsupported depth buffer %T", depth)
		}
		if dt.View != nil {
			view = dt.View
			w, h := dt.Size()
			p.ScreenSize = [2]float32{float32(w), float32(h)}
		} else {
			p.HasDepth = false
		}
	} else {
		p.HasDepth = false
	}
	bg, err := b.updateBindGroup(view)
	if err != nil {
		return err
	}
	b.Queue.WriteBuffer(b.UpdateBuf, 0, p.Bytes())

	// Threads past aliveCountIn exit in the shader; the host never reads the count.
	pass := f.computePass()
	pass.SetPipeline(b.pipelines.Update)
	pass.SetBindGroup(0, b.computeBG[in], nil)
	pass.SetBindGroup(1, bg, nil)
	pass.DispatchWorkgroups((b.capacity+gpu.UpdateWorkgroupSize-1)/gpu.UpdateWorkgroupSize, 1, 1)
	return nil
}

func (f *frame) BuildArgs() error {
	if f.done {
		return errFrameSubmitted
	}
	pass := f.computePass()
	pass.SetPipeline(f.b.pipelines.BuildArgs)
	pass.SetBindGroup(0, f.b.computeBG[gpu.SetA], nil)
	pass.DispatchWorkgroups(1, 1, 1)
	return nil
}

func (f *frame) Draw(current gpu.AliveSet, params *gpu.RenderParams, tex gpu.Texture) error {
	if f.done {
		return errFrameSubmitted
	}
	b := f.b
	if b.target == nil {
		return nil
	}
	if f.renderSlot >= b.slots {
		return errTooManyDraws
	}

	t := b.defaultTex
	if tex != nil {
		wt, ok := tex.(*Texture)
		if !ok {
			return fmt.Errorf("webgpu: unsupported texture %T", tex)
		}
		t = wt
	}
	tbg, err := b.textureBindGroup(t)
	if err != nil {
		return err
	}
	pipeline, ok := b.pipelines.Render[params.Blend]
	if !ok {
		pipeline = b.pipelines.Render[gpu.BlendAlpha]
	}

	offset := f.renderSlot * gpu.UniformSlotStride
	f.renderSlot++
	b.Queue.WriteBuffer(b.RenderBuf, uint64(offset), params.Bytes())

	if f.rPass == nil {
		if err := f.endComputePass(); err != nil {
			return err
		}
		f.rPass = f.encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
			Label: "ParticleRenderPass",
			ColorAttachments: []wgpu.RenderPassColorAttachment{{
				View:    b.target,
				LoadOp:  wgpu.LoadOpLoad,
				StoreOp: wgpu.StoreOpStore,
			}},
		})
	}
	f.rPass.SetPipeline(pipeline)
	f.rPass.SetBindGroup(0, b.renderBG[current], nil)
	f.rPass.SetBindGroup(1, tbg, []uint32{offset})
	f.rPass.DrawIndirect(b.DrawArgsBuf, 0)
	return nil
}

// Barrier closes the open pass. WebGPU orders storage-buffer writes between
// passes of one command encoder.
func (f *frame) Barrier(resources ...gpu.Resource) {
	if err := f.endComputePass(); err != nil {
		f.b.warnf("%v", err)
	}
	if err := f.endRenderPass(); err != nil {
		f.b.warnf("%v", err)
	}
}

func (f *frame) Submit() error {
	if f.done {
		return errFrameSubmitted
	}
	f.done = true
	b := f.b
	defer f.encoder.Release()

	if err := f.endComputePass(); err != nil {
		return err
	}
	if err := f.endRenderPass(); err != nil {
		return err
	}

	copied := b.queueReadback(f.encoder)

	cmd, err := f.encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("failed to finish particle commands: %w", err)
	}
	defer cmd.Release()
	b.Queue.Submit(cmd)

	if copied {
		b.mapReadback()
	}
	return nil
}

func (f *frame) Discard() {
	if f.done {
		return
	}
	f.done = true
	if err := f.endComputePass(); err != nil {
		f.b.debugf("discarding frame: %v", err)
	}
	if err := f.endRenderPass(); err != nil {
		f.b.debugf("discarding frame: %v", err)
	}
	f.encoder.Release()
}
