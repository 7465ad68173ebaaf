package soft

import (
	"errors"
	"fmt"

	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/kernels"
)

var errFrameSubmitted = errors.New("soft: frame already submitted")

type frame struct {
	b         *Backend
	submitted bool
}

func groupsFor(n, size uint32) int {
	return int((n + size - 1) / size)
}

func (f *frame) Emit(target gpu.AliveSet, params *gpu.EmitterParams) error {
	if f.submitted {
		return errFrameSubmitted
	}
	p := *params
	if p.EmitCount == 0 {
		return nil
	}
	b := f.b
	list := b.alive[target]
	f.b.disp.Dispatch(groupsFor(p.EmitCount, gpu.EmitWorkgroupSize), func(group int) {
		start := uint32(group) * gpu.EmitWorkgroupSize
		end := min(start+gpu.EmitWorkgroupSize, p.EmitCount)
		for i := start; i < end; i++ {
			b.counters.EmitRequested.Add(1)
			slot, ok := b.free.Pop()
			if !ok {
				continue
			}
			b.kernel.Spawn(&b.pool[slot], &p, kernels.NewRand(p.Seed, i))
			list.Append(&b.counters.AliveIn, slot)
		}
	})
	return nil
}

func (f *frame) Update(in gpu.AliveSet, params *gpu.UpdateParams, depth gpu.DepthBuffer) error {
	if f.submitted {
		return errFrameSubmitted
	}
	var sampler kernels.DepthSampler
	if depth != nil {
		s, ok := depth.(kernels.DepthSampler)
		if !ok {
			return fmt.Errorf("soft: unsupported depth buffer %T", depth)
		}
		sampler = s
	}
	p := *params
	b := f.b
	src, dst := b.alive[in], b.alive[in.Other()]
	b.disp.Dispatch(groupsFor(b.capacity, gpu.UpdateWorkgroupSize), func(group int) {
		n := b.counters.AliveIn.Load()
		start := uint32(group) * gpu.UpdateWorkgroupSize
		end := min(start+gpu.UpdateWorkgroupSize, n)
		for i := start; i < end; i++ {
			slot := src.At(i)
			if b.kernel.Step(&b.pool[slot], &p, sampler) {
				dst.Append(&b.counters.AliveOut, slot)
			} else {
				b.free.Push(slot)
			}
		}
	})
	return nil
}

func (f *frame) BuildArgs() error {
	if f.submitted {
		return errFrameSubmitted
	}
	b := f.b
	b.disp.Dispatch(1, func(int) {
		n := b.counters.AliveOut.Load()
		b.args = gpu.DrawIndirectArgs{
			VertexCount:   gpu.BillboardVertexCount,
			InstanceCount: n,
		}
		b.counters.AliveIn.Store(n)
		b.counters.AliveOut.Store(0)
	})
	return nil
}

func (f *frame) Draw(current gpu.AliveSet, params *gpu.RenderParams, tex gpu.Texture) error {
	if f.submitted {
		return errFrameSubmitted
	}
	b := f.b
	p := *params
	var tw, th uint32
	if tex != nil {
		tw, th = tex.Size()
	}
	list := b.alive[current]
	b.disp.Dispatch(1, func(int) {
		args := b.args
		call := DrawCall{
			Set:           current,
			EmitterID:     p.EmitterID,
			Blend:         p.Blend,
			Args:          args,
			TextureWidth:  tw,
			TextureHeight: th,
		}
		for i := uint32(0); i < args.InstanceCount; i++ {
			q := &b.pool[list.At(i)]
			if q.EmitterID == p.EmitterID && q.Flags&gpu.FlagActive != 0 {
				call.Visible++
			}
		}
		b.mu.Lock()
		b.draws = append(b.draws, call)
		b.mu.Unlock()
	})
	return nil
}

func (f *frame) Barrier(resources ...gpu.Resource) {
	f.b.disp.Wait()
}

func (f *frame) Submit() error {
	if f.submitted {
		return errFrameSubmitted
	}
	f.submitted = true
	b := f.b
	b.disp.Wait()
	b.mu.Lock()
	b.last = b.counters.Load()
	b.hasLast = true
	b.frames++
	b.mu.Unlock()
	return nil
}

// Discard waits for the work already dispatched. Passes run as they are
// recorded, so nothing is rolled back.
func (f *frame) Discard() {
	if f.submitted {
		return
	}
	f.submitted = true
	f.b.disp.Wait()
}
