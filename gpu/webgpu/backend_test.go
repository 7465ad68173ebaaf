package webgpu

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/gekko3d/particles/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	b := New(Options{})
	assert.Equal(t, gpu.BackendWebGPU, b.Name())
	assert.Equal(t, DefaultColorFormat, b.opts.ColorFormat)
	assert.Equal(t, uint32(DefaultMaxDrawsPerFrame), b.opts.MaxDrawsPerFrame)
	assert.Zero(t, b.Capacity())
}

func TestInitRejectsZeroCapacity(t *testing.T) {
	b := New(Options{})
	assert.ErrorIs(t, b.Init(0), gpu.ErrInvalidCapacity)
}

func TestUninitializedBackend(t *testing.T) {
	b := New(Options{})

	_, err := b.BeginFrame(&gpu.SystemConstants{})
	assert.ErrorIs(t, err, gpu.ErrNotInitialized)
	assert.ErrorIs(t, b.Reset(), gpu.ErrNotInitialized)

	_, err = b.Snapshot(gpu.SetA)
	assert.ErrorIs(t, err, gpu.ErrNotInitialized)

	_, ok := b.LastCounters()
	assert.False(t, ok)

	// Release on a never-initialized backend must be a no-op.
	b.Release()
}

func TestBlendStates(t *testing.T) {
	additive := blendState(gpu.BlendAdditive)
	assert.Equal(t, wgpu.BlendFactorOne, additive.Color.DstFactor)

	alpha := blendState(gpu.BlendAlpha)
	assert.Equal(t, wgpu.BlendFactorSrcAlpha, alpha.Color.SrcFactor)
	assert.Equal(t, wgpu.BlendFactorOneMinusSrcAlpha, alpha.Color.DstFactor)

	premul := blendState(gpu.BlendPremultiplied)
	assert.Equal(t, wgpu.BlendFactorOne, premul.Color.SrcFactor)

	multiply := blendState(gpu.BlendMultiply)
	assert.Equal(t, wgpu.BlendFactorDst, multiply.Color.SrcFactor)
	assert.Equal(t, wgpu.BlendFactorZero, multiply.Color.DstFactor)
}

func TestRegistered(t *testing.T) {
	b, err := gpu.Get(gpu.BackendWebGPU)
	require.NoError(t, err)
	assert.IsType(t, &Backend{}, b)
}

func TestReadIDs(t *testing.T) {
	data := []byte{1, 0, 0, 0, 7, 0, 0, 0, 0xff, 0, 0, 0}
	assert.Equal(t, []uint32{1, 7}, readIDs(data, 2))
	assert.Empty(t, readIDs(data, 0))
}

func TestSlotCapacity(t *testing.T) {
	assert.Equal(t, uint32(64), slotCapacity(0, 64))
	assert.Equal(t, uint32(64), slotCapacity(64, 64))
	assert.Equal(t, uint32(128), slotCapacity(65, 64))
	assert.Equal(t, uint32(512), slotCapacity(300, 64))
	assert.Equal(t, uint32(4), slotCapacity(3, 0))
}

func TestReserveDrawsNeedsInit(t *testing.T) {
	b := New(Options{})
	assert.ErrorIs(t, b.ReserveDraws(100), gpu.ErrNotInitialized)
}

func TestReadbackFromBeforeResetIsDropped(t *testing.T) {
	b := New(Options{})
	before := gpu.Counters{DeadTop: 3, AliveCountIn: 61, EmitRequested: 61}.Bytes()

	// copied, then the pool resets while the map is in flight
	b.copiedGen = b.readbackGen
	b.invalidateReadback()
	assert.False(t, b.landReadback(before))
	_, ok := b.LastCounters()
	assert.False(t, ok)

	after := gpu.Counters{DeadTop: 60, AliveCountIn: 4, EmitRequested: 4}.Bytes()
	b.copiedGen = b.readbackGen
	assert.True(t, b.landReadback(after))
	c, ok := b.LastCounters()
	require.True(t, ok)
	assert.Equal(t, int32(60), c.DeadTop)
	assert.Equal(t, uint32(4), c.AliveCountIn)

	assert.False(t, b.landReadback(after[:4]))
}
