// Package webgpu runs the particle engine on a WebGPU device.
package webgpu

import (
	"fmt"
	"image"
	"sync"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
)

func init() {
	gpu.Register(gpu.BackendWebGPU, func() gpu.Backend { return New(Options{}) })
}

const (
	DefaultMaxDrawsPerFrame = 64
	DefaultColorFormat      = wgpu.TextureFormatBGRA8Unorm
)

type Options struct {
	// Device is an existing device to share with the host renderer. When nil,
	// Init requests a headless high-performance adapter of its own.
	Device *wgpu.Device
	// ColorFormat is the format of the render target passed to SetRenderTarget.
	ColorFormat wgpu.TextureFormat
	// MaxDrawsPerFrame is the initial number of emit and draw calls a frame
	// can record. ReserveDraws grows it between frames.
	MaxDrawsPerFrame uint32
	Logger           gpu.Logger
}

// Backend implements gpu.Backend with storage buffers and WGSL passes.
type Backend struct {
	opts Options
	log  gpu.Logger

	Instance   *wgpu.Instance
	Adapter    *wgpu.Adapter
	Device     *wgpu.Device
	Queue      *wgpu.Queue
	ownsDevice bool

	capacity uint32
	slots    uint32

	PoolBuf     *wgpu.Buffer
	DeadBuf     *wgpu.Buffer
	AliveBufs   [2]*wgpu.Buffer
	CounterBuf  *wgpu.Buffer
	DrawArgsBuf *wgpu.Buffer
	ReadbackBuf *wgpu.Buffer

	SystemBuf    *wgpu.Buffer
	EmitParamBuf *wgpu.Buffer
	UpdateBuf    *wgpu.Buffer
	RenderBuf    *wgpu.Buffer

	pipelines *pipelines

	computeBG  [2]*wgpu.BindGroup // indexed by the set bound as current
	emitBG     *wgpu.BindGroup
	renderBG   [2]*wgpu.BindGroup
	updateBGs  map[*wgpu.TextureView]*wgpu.BindGroup
	textureBGs map[*Texture]*wgpu.BindGroup

	dummyDepth     *wgpu.Texture
	dummyDepthView *wgpu.TextureView
	defaultTex     *Texture
	sampler        *wgpu.Sampler

	target *wgpu.TextureView

	stateMu       sync.Mutex
	readbackState int // 0 idle, 1 copied, 2 mapping, 3 mapped
	readbackGen   uint64
	copiedGen     uint64
	last          gpu.Counters
	hasLast       bool
}

var (
	_ gpu.Backend       = (*Backend)(nil)
	_ gpu.Inspector     = (*Backend)(nil)
	_ gpu.CounterReader = (*Backend)(nil)
	_ gpu.DrawReserver  = (*Backend)(nil)
)

func New(opts Options) *Backend {
	if opts.ColorFormat == wgpu.TextureFormatUndefined {
		opts.ColorFormat = DefaultColorFormat
	}
	if opts.MaxDrawsPerFrame == 0 {
		opts.MaxDrawsPerFrame = DefaultMaxDrawsPerFrame
	}
	return &Backend{
		opts:       opts,
		log:        opts.Logger,
		updateBGs:  make(map[*wgpu.TextureView]*wgpu.BindGroup),
		textureBGs: make(map[*Texture]*wgpu.BindGroup),
	}
}

func (b *Backend) Name() string { return gpu.BackendWebGPU }

// SetLogger replaces the backend logger.
func (b *Backend) SetLogger(l gpu.Logger) { b.log = l }

// SetRenderTarget sets the color view the render pass draws into. With no
// target, Draw calls are recorded as no-ops and only the simulation runs.
func (b *Backend) SetRenderTarget(view *wgpu.TextureView) { b.target = view }

func (b *Backend) Capacity() uint32 { return b.capacity }

func (b *Backend) Init(capacity uint32) error {
	if capacity == 0 {
		return gpu.ErrInvalidCapacity
	}
	if b.PoolBuf != nil {
		b.Release()
	}
	if err := b.ensureDevice(); err != nil {
		return err
	}
	b.capacity = capacity

	if err := b.createBuffers(); err != nil {
		b.Release()
		return err
	}
	p, err := newPipelines(b.Device, b.opts.ColorFormat)
	if err != nil {
		b.Release()
		return err
	}
	b.pipelines = p
	if err := b.createResources(); err != nil {
		b.Release()
		return err
	}
	if err := b.createBindGroups(); err != nil {
		b.Release()
		return err
	}
	if err := b.Reset(); err != nil {
		b.Release()
		return err
	}
	b.debugf("webgpu backend: %d slots, pool %d bytes", capacity, uint64(capacity)*gpu.ParticleStride)
	return nil
}

func (b *Backend) ensureDevice() error {
	if b.Device != nil {
		return nil
	}
	if b.opts.Device != nil {
		b.Device = b.opts.Device
		b.Queue = b.Device.GetQueue()
		return nil
	}

	b.Instance = wgpu.CreateInstance(nil)
	adapter, err := b.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return fmt.Errorf("failed to request adapter: %w", err)
	}
	b.Adapter = adapter

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("failed to request device: %w", err)
	}
	b.Device = device
	b.Queue = device.GetQueue()
	b.ownsDevice = true
	return nil
}

func (b *Backend) createBuffer(label string, size uint64, usage wgpu.BufferUsage) (*wgpu.Buffer, error) {
	if size%4 != 0 {
		size += 4 - size%4
	}
	buf, err := b.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: usage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s buffer: %w", label, err)
	}
	return buf, nil
}

func (b *Backend) createBuffers() error {
	n := uint64(b.capacity)
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc
	uniform := wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	b.slots = b.opts.MaxDrawsPerFrame
	slots := uint64(b.slots) * gpu.UniformSlotStride

	var err error
	if b.PoolBuf, err = b.createBuffer("ParticlePool", n*gpu.ParticleStride, storage); err != nil {
		return err
	}
	if b.DeadBuf, err = b.createBuffer("DeadList", n*4, storage); err != nil {
		return err
	}
	if b.AliveBufs[gpu.SetA], err = b.createBuffer("AliveListA", n*4, storage); err != nil {
		return err
	}
	if b.AliveBufs[gpu.SetB], err = b.createBuffer("AliveListB", n*4, storage); err != nil {
		return err
	}
	if b.CounterBuf, err = b.createBuffer("Counters", gpu.CountersSize, storage); err != nil {
		return err
	}
	if b.DrawArgsBuf, err = b.createBuffer("DrawArgs", gpu.DrawArgsSize, storage|wgpu.BufferUsageIndirect); err != nil {
		return err
	}
	if b.ReadbackBuf, err = b.createBuffer("CounterReadback", gpu.CountersSize+gpu.DrawArgsSize,
		wgpu.BufferUsageMapRead|wgpu.BufferUsageCopyDst); err != nil {
		return err
	}
	if b.SystemBuf, err = b.createBuffer("SystemConstants", gpu.SystemConstantsSize, uniform); err != nil {
		return err
	}
	if b.EmitParamBuf, err = b.createBuffer("EmitterParams", slots, uniform); err != nil {
		return err
	}
	if b.UpdateBuf, err = b.createBuffer("UpdateParams", gpu.UpdateParamsSize, uniform); err != nil {
		return err
	}
	if b.RenderBuf, err = b.createBuffer("RenderParams", slots, uniform); err != nil {
		return err
	}
	return nil
}

func (b *Backend) createResources() error {
	var err error
	b.dummyDepth, err = b.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         "DummySceneDepth",
		Size:          wgpu.Extent3D{Width: 1, Height: 1, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatDepth32Float,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageRenderAttachment,
	})
	if err != nil {
		return fmt.Errorf("failed to create dummy depth texture: %w", err)
	}
	b.dummyDepthView, err = b.dummyDepth.CreateView(nil)
	if err != nil {
		return fmt.Errorf("failed to create dummy depth view: %w", err)
	}

	b.sampler, err = b.Device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "ParticleSampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeNearest,
		MaxAnisotropy: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create particle sampler: %w", err)
	}

	tex, err := b.UploadTexture(gpu.DefaultSprite(64), "DefaultParticleSprite")
	if err != nil {
		return err
	}
	b.defaultTex = tex.(*Texture)
	return nil
}

// Reset restores the initial allocator state: every slot free, both alive
// sets empty, counters zero.
func (b *Backend) Reset() error {
	if b.PoolBuf == nil {
		return gpu.ErrNotInitialized
	}
	ids := make([]uint32, b.capacity)
	for i := range ids {
		ids[i] = uint32(i)
	}
	b.Queue.WriteBuffer(b.DeadBuf, 0, wgpu.ToBytes(ids))
	b.Queue.WriteBuffer(b.CounterBuf, 0, gpu.Counters{DeadTop: int32(b.capacity)}.Bytes())
	b.Queue.WriteBuffer(b.DrawArgsBuf, 0, gpu.DrawIndirectArgs{VertexCount: gpu.BillboardVertexCount}.Bytes())

	b.invalidateReadback()
	return nil
}

// slotCapacity is the slot count that fits need calls, doubling from current.
func slotCapacity(need, current uint32) uint32 {
	if need <= current {
		return current
	}
	c := max(current, 1)
	for c < need {
		c *= 2
	}
	return c
}

// ReserveDraws grows the per-frame uniform slots so a frame can record n emit
// and n draw calls. It must not be called while a frame is being recorded.
func (b *Backend) ReserveDraws(n int) error {
	if b.PoolBuf == nil {
		return gpu.ErrNotInitialized
	}
	want := slotCapacity(uint32(max(n, 0)), b.slots)
	if want == b.slots {
		return nil
	}
	uniform := wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
	size := uint64(want) * gpu.UniformSlotStride
	emitBuf, err := b.createBuffer("EmitterParams", size, uniform)
	if err != nil {
		return err
	}
	renderBuf, err := b.createBuffer("RenderParams", size, uniform)
	if err != nil {
		emitBuf.Release()
		return err
	}
	emitBG, err := b.newEmitBindGroup(emitBuf)
	if err != nil {
		emitBuf.Release()
		renderBuf.Release()
		return err
	}

	// texture bind groups reference the render slots and are rebuilt lazily
	for k, bg := range b.textureBGs {
		bg.Release()
		delete(b.textureBGs, k)
	}
	b.emitBG.Release()
	b.EmitParamBuf.Release()
	b.RenderBuf.Release()
	b.emitBG, b.EmitParamBuf, b.RenderBuf = emitBG, emitBuf, renderBuf
	b.debugf("webgpu backend: per-frame slots %d -> %d", b.slots, want)
	b.slots = want
	return nil
}

func (b *Backend) UploadTexture(img image.Image, label string) (gpu.Texture, error) {
	if img == nil {
		return nil, fmt.Errorf("failed to upload texture %q: nil image", label)
	}
	if b.Device == nil {
		return nil, gpu.ErrNotInitialized
	}
	rgba := gpu.ToRGBA(img)
	w, h := uint32(rgba.Bounds().Dx()), uint32(rgba.Bounds().Dy())
	extent := wgpu.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1}

	tex, err := b.Device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          extent,
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     wgpu.TextureDimension2D,
		Format:        wgpu.TextureFormatRGBA8Unorm,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create texture %q: %w", label, err)
	}
	err = b.Queue.WriteTexture(tex.AsImageCopy(), rgba.Pix, &wgpu.TextureDataLayout{
		Offset:       0,
		BytesPerRow:  4 * w,
		RowsPerImage: h,
	}, &extent)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("failed to write texture %q: %w", label, err)
	}
	view, err := tex.CreateView(nil)
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("failed to create texture view %q: %w", label, err)
	}
	return &Texture{owner: b, tex: tex, view: view, width: w, height: h}, nil
}

func (b *Backend) releaseBindGroups() {
	for i := range b.computeBG {
		if b.computeBG[i] != nil {
			b.computeBG[i].Release()
			b.computeBG[i] = nil
		}
		if b.renderBG[i] != nil {
			b.renderBG[i].Release()
			b.renderBG[i] = nil
		}
	}
	if b.emitBG != nil {
		b.emitBG.Release()
		b.emitBG = nil
	}
	for k, bg := range b.updateBGs {
		bg.Release()
		delete(b.updateBGs, k)
	}
	for k, bg := range b.textureBGs {
		bg.Release()
		delete(b.textureBGs, k)
	}
}

// Release frees every buffer, pipeline and bind group unconditionally.
func (b *Backend) Release() {
	b.releaseBindGroups()
	if b.defaultTex != nil {
		b.defaultTex.Release()
		b.defaultTex = nil
	}
	if b.sampler != nil {
		b.sampler.Release()
		b.sampler = nil
	}
	if b.dummyDepthView != nil {
		b.dummyDepthView.Release()
		b.dummyDepthView = nil
	}
	if b.dummyDepth != nil {
		b.dummyDepth.Release()
		b.dummyDepth = nil
	}
	if b.pipelines != nil {
		b.pipelines.release()
		b.pipelines = nil
	}
	for _, buf := range []**wgpu.Buffer{
		&b.PoolBuf, &b.DeadBuf, &b.AliveBufs[0], &b.AliveBufs[1], &b.CounterBuf, &b.DrawArgsBuf,
		&b.ReadbackBuf, &b.SystemBuf, &b.EmitParamBuf, &b.UpdateBuf, &b.RenderBuf,
	} {
		if *buf != nil {
			(*buf).Release()
			*buf = nil
		}
	}
	b.capacity = 0
	b.slots = 0
	b.readbackState = 0

	if b.ownsDevice {
		if b.Device != nil {
			b.Device.Release()
		}
		if b.Adapter != nil {
			b.Adapter.Release()
		}
		if b.Instance != nil {
			b.Instance.Release()
		}
		b.Device, b.Adapter, b.Instance, b.Queue = nil, nil, nil, nil
		b.ownsDevice = false
	}
}

func (b *Backend) debugf(format string, args ...any) {
	if b.log != nil {
		b.log.Debugf(format, args...)
	}
}

func (b *Backend) warnf(format string, args ...any) {
	if b.log != nil {
		b.log.Warnf(format, args...)
	}
}
