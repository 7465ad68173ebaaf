// Package soft is a software accelerator: the particle engine's buffers as
// Go slices and its compute passes as workgroups on a goroutine pool.
package soft

import (
	"fmt"
	"image"
	"sync"

	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/kernels"
)

func init() {
	gpu.Register(gpu.BackendSoftware, func() gpu.Backend { return New(Options{}) })
}

type Options struct {
	// Workers is the worker goroutine count; zero uses GOMAXPROCS.
	Workers int
	Kernel  kernels.Kernel
	Logger  gpu.Logger
}

// DrawCall is what a recorded Draw resolved to when the frame executed.
type DrawCall struct {
	Set           gpu.AliveSet
	EmitterID     uint32
	Blend         gpu.BlendMode
	Args          gpu.DrawIndirectArgs
	Visible       uint32
	TextureWidth  uint32
	TextureHeight uint32
}

// Backend implements gpu.Backend on the host.
type Backend struct {
	opts   Options
	kernel kernels.Kernel
	disp   *dispatcher

	capacity uint32
	pool     []gpu.Particle
	counters Counters
	free     *FreeList
	alive    [2]*AliveList
	args     gpu.DrawIndirectArgs

	mu        sync.Mutex
	draws     []DrawCall
	last      gpu.Counters
	hasLast   bool
	frames    uint64
	lastConst gpu.SystemConstants
}

var (
	_ gpu.Backend       = (*Backend)(nil)
	_ gpu.Inspector     = (*Backend)(nil)
	_ gpu.CounterReader = (*Backend)(nil)
)

func New(opts Options) *Backend {
	k := opts.Kernel
	if k == nil {
		k = kernels.Default{}
	}
	return &Backend{opts: opts, kernel: k, disp: newDispatcher(opts.Workers)}
}

func (b *Backend) Name() string { return gpu.BackendSoftware }

// SetLogger replaces the backend logger.
func (b *Backend) SetLogger(l gpu.Logger) { b.opts.Logger = l }

func (b *Backend) Init(capacity uint32) error {
	if capacity == 0 {
		return gpu.ErrInvalidCapacity
	}
	if b.pool != nil {
		b.Release()
	}
	b.capacity = capacity
	b.pool = make([]gpu.Particle, capacity)
	b.free = NewFreeList(capacity, &b.counters.DeadTop)
	b.alive[gpu.SetA] = NewAliveList(capacity)
	b.alive[gpu.SetB] = NewAliveList(capacity)
	b.counters.reset(capacity)
	b.args = gpu.DrawIndirectArgs{VertexCount: gpu.BillboardVertexCount}
	b.disp.start()
	if b.opts.Logger != nil {
		b.opts.Logger.Debugf("soft backend: %d slots, %d workers", capacity, b.disp.numWorkers)
	}
	return nil
}

func (b *Backend) Capacity() uint32 { return b.capacity }

func (b *Backend) Reset() error {
	if b.pool == nil {
		return gpu.ErrNotInitialized
	}
	b.disp.Wait()
	for i := range b.pool {
		b.pool[i] = gpu.Particle{}
	}
	b.free.Reset()
	b.counters.reset(b.capacity)
	b.args = gpu.DrawIndirectArgs{VertexCount: gpu.BillboardVertexCount}

	b.mu.Lock()
	b.draws = nil
	b.hasLast = false
	b.mu.Unlock()
	return nil
}

func (b *Backend) BeginFrame(consts *gpu.SystemConstants) (gpu.Frame, error) {
	if b.pool == nil {
		return nil, gpu.ErrNotInitialized
	}
	f := &frame{b: b}
	if consts != nil {
		b.lastConst = *consts
	}
	b.mu.Lock()
	b.draws = b.draws[:0]
	b.mu.Unlock()
	return f, nil
}

func (b *Backend) UploadTexture(img image.Image, label string) (gpu.Texture, error) {
	if img == nil {
		return nil, fmt.Errorf("failed to upload texture %q: nil image", label)
	}
	return &Texture{Label: label, Image: gpu.ToRGBA(img)}, nil
}

func (b *Backend) Release() {
	b.disp.stop()
	b.pool = nil
	b.free = nil
	b.alive = [2]*AliveList{}
	b.capacity = 0
}

// LastCounters returns the counter block as of the last submitted frame.
func (b *Backend) LastCounters() (gpu.Counters, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// Draws returns the draw calls executed by the last submitted frame.
func (b *Backend) Draws() []DrawCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DrawCall, len(b.draws))
	copy(out, b.draws)
	return out
}

// DrawArgs returns the current indirect draw args.
func (b *Backend) DrawArgs() gpu.DrawIndirectArgs { return b.args }

// Frames is the number of submitted frames.
func (b *Backend) Frames() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frames
}

// Constants returns the system constants of the most recent frame.
func (b *Backend) Constants() gpu.SystemConstants { return b.lastConst }

// Particle returns a copy of a pool record.
func (b *Backend) Particle(slot uint32) gpu.Particle { return b.pool[slot] }

func (b *Backend) Snapshot(current gpu.AliveSet) (*gpu.Snapshot, error) {
	if b.pool == nil {
		return nil, gpu.ErrNotInitialized
	}
	b.disp.Wait()
	c := b.counters.Load()
	return &gpu.Snapshot{
		Capacity: b.capacity,
		Counters: c,
		DrawArgs: b.args,
		Free:     b.free.Snapshot(),
		Current:  b.alive[current].Snapshot(c.AliveCountIn),
		Next:     b.alive[current.Other()].Snapshot(c.AliveCountOut),
	}, nil
}
