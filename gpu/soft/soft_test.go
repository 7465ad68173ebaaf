package soft

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeListPopPush(t *testing.T) {
	var top atomic.Int32
	f := NewFreeList(3, &top)
	assert.Equal(t, 3, f.Len())

	a, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(2), a)
	_, _ = f.Pop()
	_, _ = f.Pop()
	_, ok = f.Pop()
	assert.False(t, ok)
	assert.Equal(t, int32(0), top.Load())

	f.Push(7)
	assert.Equal(t, 1, f.Len())
	b, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, uint32(7), b)
}

func TestFreeListConcurrentPopsAreUnique(t *testing.T) {
	const capacity = 1000
	var top atomic.Int32
	f := NewFreeList(capacity, &top)

	var (
		mu   sync.Mutex
		seen = make(map[uint32]bool)
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				id, ok := f.Pop()
				if !ok {
					continue
				}
				mu.Lock()
				if seen[id] {
					t.Errorf("slot %d claimed twice", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, capacity)
	assert.Equal(t, int32(0), top.Load())
}

func TestAliveListAppend(t *testing.T) {
	var n atomic.Uint32
	a := NewAliveList(4)
	a.Append(&n, 9)
	a.Append(&n, 3)
	assert.Equal(t, uint32(2), n.Load())
	assert.Equal(t, []uint32{9, 3}, a.Snapshot(n.Load()))
	assert.Len(t, a.Snapshot(10), 4)
}

func TestDispatcherRunsEveryGroup(t *testing.T) {
	d := newDispatcher(4)
	d.start()
	defer d.stop()

	var hits [100]atomic.Int32
	d.Dispatch(len(hits), func(g int) { hits[g].Add(1) })
	d.Wait()
	for i := range hits {
		assert.Equal(t, int32(1), hits[i].Load(), "group %d", i)
	}

	var small atomic.Int32
	d.Dispatch(1, func(int) { small.Add(1) })
	d.Wait()
	assert.Equal(t, int32(1), small.Load())
}

func emitParams(n uint32) *gpu.EmitterParams {
	return &gpu.EmitterParams{
		EmitCount:   n,
		Rotation:    mgl32.QuatIdent(),
		LifetimeMin: 1,
		LifetimeMax: 1,
		SizeMin:     1,
		SizeMax:     1,
		ColorMin:    mgl32.Vec4{1, 1, 1, 1},
		ColorMax:    mgl32.Vec4{1, 1, 1, 1},
		EmitterID:   1,
		Seed:        11,
	}
}

// runFrame records the full pass sequence and returns the new current set.
func runFrame(t *testing.T, b *Backend, cur gpu.AliveSet, emit uint32, dt float32) gpu.AliveSet {
	t.Helper()
	f, err := b.BeginFrame(&gpu.SystemConstants{DeltaTime: dt})
	require.NoError(t, err)
	if emit > 0 {
		require.NoError(t, f.Emit(cur, emitParams(emit)))
	}
	f.Barrier(gpu.ResourceFreeList, gpu.AliveResource(cur), gpu.ResourceCounters)
	require.NoError(t, f.Update(cur, &gpu.UpdateParams{DeltaTime: dt}, nil))
	f.Barrier(gpu.ResourcePool, gpu.ResourceAliveA, gpu.ResourceAliveB, gpu.ResourceCounters)
	cur = cur.Other()
	require.NoError(t, f.BuildArgs())
	f.Barrier(gpu.ResourceDrawArgs, gpu.ResourceCounters)
	require.NoError(t, f.Draw(cur, &gpu.RenderParams{EmitterID: 1}, nil))
	require.NoError(t, f.Submit())
	return cur
}

func TestBackendFrameSequence(t *testing.T) {
	b := New(Options{Workers: 4})
	require.NoError(t, b.Init(256))
	defer b.Release()

	cur := runFrame(t, b, gpu.SetA, 100, 0.1)
	snap, err := b.Snapshot(cur)
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.Len(t, snap.Current, 100)
	assert.Empty(t, snap.Next)
	assert.Equal(t, uint32(100), snap.DrawArgs.InstanceCount)
	assert.Equal(t, uint32(gpu.BillboardVertexCount), snap.DrawArgs.VertexCount)
	assert.Equal(t, uint32(100), snap.Counters.AliveCountIn)
	assert.Zero(t, snap.Counters.AliveCountOut)
	assert.Equal(t, int32(156), snap.Counters.DeadTop)

	draws := b.Draws()
	require.Len(t, draws, 1)
	assert.Equal(t, uint32(100), draws[0].Visible)

	// Lifetime is 1s: ten more frames of 0.1s retire everything.
	for i := 0; i < 10; i++ {
		cur = runFrame(t, b, cur, 0, 0.1)
	}
	snap, err = b.Snapshot(cur)
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.Zero(t, snap.Alive())
	assert.Len(t, snap.Free, 256)
}

func TestBackendEmitTruncatesAtCapacity(t *testing.T) {
	b := New(Options{Workers: 2})
	require.NoError(t, b.Init(64))
	defer b.Release()

	cur := runFrame(t, b, gpu.SetA, 1000, 0.01)
	snap, err := b.Snapshot(cur)
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.Len(t, snap.Current, 64)
	assert.Empty(t, snap.Free)
	assert.Equal(t, uint32(1000), snap.Counters.EmitRequested)
	assert.Equal(t, int32(0), snap.Counters.DeadTop)
}

func TestBackendReset(t *testing.T) {
	b := New(Options{})
	require.NoError(t, b.Init(32))
	defer b.Release()

	runFrame(t, b, gpu.SetA, 10, 0.01)
	require.NoError(t, b.Reset())

	snap, err := b.Snapshot(gpu.SetA)
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	assert.Len(t, snap.Free, 32)
	assert.Equal(t, gpu.Counters{DeadTop: 32}, snap.Counters)
	_, ok := b.LastCounters()
	assert.False(t, ok)
}

func TestBackendErrors(t *testing.T) {
	b := New(Options{})
	assert.ErrorIs(t, b.Init(0), gpu.ErrInvalidCapacity)
	_, err := b.BeginFrame(nil)
	assert.ErrorIs(t, err, gpu.ErrNotInitialized)
	assert.ErrorIs(t, b.Reset(), gpu.ErrNotInitialized)

	require.NoError(t, b.Init(8))
	defer b.Release()
	f, err := b.BeginFrame(nil)
	require.NoError(t, err)
	require.NoError(t, f.Submit())
	assert.Error(t, f.Submit())
	assert.Error(t, f.Emit(gpu.SetA, emitParams(1)))
}

func TestRegisteredAsSoftware(t *testing.T) {
	b, err := gpu.Get(gpu.BackendSoftware)
	require.NoError(t, err)
	assert.Equal(t, gpu.BackendSoftware, b.Name())
}
