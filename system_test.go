package particles

import (
	"testing"

	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/gpu/soft"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameDt = float32(1.0 / 60.0)

func newTestSystem(t *testing.T, capacity uint32) (*ParticleSystem, *soft.Backend) {
	t.Helper()
	b := soft.New(soft.Options{Workers: 4})
	s := New(b, DefaultOptions())
	require.NoError(t, s.Initialize(capacity))
	t.Cleanup(s.Shutdown)
	return s, b
}

func testCamera() *Camera {
	return NewCamera(mgl32.Vec3{0, 2, 10}, mgl32.Vec3{}, 16.0/9.0)
}

func longLived(name string, rate float32) EmitterConfig {
	cfg := DefaultEmitterConfig(name)
	cfg.EmitRate = rate
	cfg.MaxParticles = 1 << 20
	cfg.StartLifetime = Constant(10)
	return cfg
}

func step(t *testing.T, s *ParticleSystem, cam *Camera, dt float32) {
	t.Helper()
	s.Update(dt)
	require.NoError(t, s.Render(cam, nil))
}

func snapshot(t *testing.T, s *ParticleSystem) *gpu.Snapshot {
	t.Helper()
	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.NoError(t, snap.Validate())
	return snap
}

func TestScenarioFiftyPerSecondForTwoSeconds(t *testing.T) {
	s, _ := newTestSystem(t, 100000)
	_, err := s.CreateEmitter(longLived("steady", 50))
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	for i := 0; i < 120; i++ {
		step(t, s, cam, frameDt)
	}

	snap := snapshot(t, s)
	assert.InDelta(t, 100, snap.Alive(), 1)
	assert.InDelta(t, 100, float64(s.Stats().Requested), 1)
	assert.Equal(t, 100000-snap.Alive(), len(snap.Free))
}

func TestConservationEveryFrame(t *testing.T) {
	s, _ := newTestSystem(t, 512)
	cfg := DefaultEmitterConfig("churn")
	cfg.EmitRate = 2000
	cfg.StartLifetime = Between(0.05, 0.3)
	cfg.Bursts = []BurstConfig{{Time: 0, Count: 100, Cycles: 0, Interval: 0.2, Probability: 1}}
	_, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	for i := 0; i < 60; i++ {
		step(t, s, cam, frameDt)
		snap := snapshot(t, s)
		assert.Empty(t, snap.Next, "frame %d", i)
		assert.Equal(t, uint32(len(snap.Current)), snap.Counters.AliveCountIn, "frame %d", i)
		assert.Equal(t, int32(len(snap.Free)), snap.Counters.DeadTop, "frame %d", i)
	}
}

func TestIndirectArgsMatchAliveCount(t *testing.T) {
	s, b := newTestSystem(t, 256)
	cfg := longLived("args", 0)
	cfg.Bursts = []BurstConfig{{Time: 0, Count: 17, Cycles: 0, Interval: 0.05, Probability: 1}}
	_, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	for i := 0; i < 30; i++ {
		step(t, s, cam, frameDt)
		snap := snapshot(t, s)
		assert.Equal(t, snap.Counters.AliveCountIn, snap.DrawArgs.InstanceCount)
		assert.Equal(t, uint32(gpu.BillboardVertexCount), snap.DrawArgs.VertexCount)
		assert.Equal(t, b.DrawArgs(), snap.DrawArgs)
	}
}

func TestCapacityBoundaryTruncatesSilently(t *testing.T) {
	const capacity = 64
	s, _ := newTestSystem(t, capacity)
	cfg := longLived("flood", 0)
	cfg.Bursts = []BurstConfig{NewBurst(0, capacity+37)}
	_, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	s.Play()

	step(t, s, testCamera(), frameDt)

	snap := snapshot(t, s)
	assert.Equal(t, capacity, snap.Alive())
	assert.Empty(t, snap.Free)
	assert.Equal(t, int32(0), snap.Counters.DeadTop)
	assert.Equal(t, uint32(capacity), snap.DrawArgs.InstanceCount)
}

func TestPopulationPlateausUnderOverEmission(t *testing.T) {
	s, _ := newTestSystem(t, 128)
	_, err := s.CreateEmitter(longLived("over", 6000))
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	for i := 0; i < 10; i++ {
		step(t, s, cam, frameDt)
	}
	assert.Equal(t, 128, snapshot(t, s).Alive())
}

func TestRestartClearsPool(t *testing.T) {
	s, _ := newTestSystem(t, 300)
	_, err := s.CreateEmitter(longLived("pre", 3000))
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	for i := 0; i < 5; i++ {
		step(t, s, cam, frameDt)
	}
	require.NotZero(t, snapshot(t, s).Alive())

	require.NoError(t, s.Restart())
	assert.Equal(t, gpu.SetA, s.Current())

	snap := snapshot(t, s)
	assert.Len(t, snap.Free, 300)
	assert.Empty(t, snap.Current)
	assert.Empty(t, snap.Next)
	assert.Equal(t, gpu.Counters{DeadTop: 300}, snap.Counters)
	assert.Zero(t, s.Stats().Requested)
}

func TestStopKeepsAliveParticles(t *testing.T) {
	s, _ := newTestSystem(t, 1000)
	_, err := s.CreateEmitter(longLived("stop", 600))
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	for i := 0; i < 10; i++ {
		step(t, s, cam, frameDt)
	}
	before := snapshot(t, s).Alive()
	requested := s.Stats().Requested

	s.Stop()
	for i := 0; i < 10; i++ {
		step(t, s, cam, frameDt)
	}
	assert.Equal(t, before, snapshot(t, s).Alive())
	assert.Equal(t, requested, s.Stats().Requested)
}

func TestParticlesExpire(t *testing.T) {
	s, _ := newTestSystem(t, 256)
	cfg := DefaultEmitterConfig("short")
	cfg.EmitRate = 0
	cfg.StartLifetime = Constant(0.1)
	cfg.Bursts = []BurstConfig{NewBurst(0, 50)}
	_, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	step(t, s, cam, frameDt)
	assert.Equal(t, 50, snapshot(t, s).Alive())
	for i := 0; i < 10; i++ {
		step(t, s, cam, frameDt)
	}
	snap := snapshot(t, s)
	assert.Zero(t, snap.Alive())
	assert.Len(t, snap.Free, 256)
}

func TestRolesFlipOncePerFrame(t *testing.T) {
	s, _ := newTestSystem(t, 16)
	cam := testCamera()
	assert.Equal(t, gpu.SetA, s.Current())
	step(t, s, cam, frameDt)
	assert.Equal(t, gpu.SetB, s.Current())
	step(t, s, cam, frameDt)
	assert.Equal(t, gpu.SetA, s.Current())
}

func TestDrawPerEmitterWithOwnBlendMode(t *testing.T) {
	s, b := newTestSystem(t, 1024)
	add := longLived("add", 0)
	add.Bursts = []BurstConfig{NewBurst(0, 40)}
	alpha := longLived("alpha", 0)
	alpha.BlendMode = gpu.BlendAlpha
	alpha.Bursts = []BurstConfig{NewBurst(0, 25)}

	ea, err := s.CreateEmitter(add)
	require.NoError(t, err)
	eb, err := s.CreateEmitter(alpha)
	require.NoError(t, err)
	s.Play()
	step(t, s, testCamera(), frameDt)

	byID := map[uint32]soft.DrawCall{}
	for _, d := range b.Draws() {
		byID[d.EmitterID] = d
	}
	require.Len(t, byID, 2)
	assert.Equal(t, gpu.BlendAdditive, byID[ea.GPUID].Blend)
	assert.Equal(t, uint32(40), byID[ea.GPUID].Visible)
	assert.Equal(t, gpu.BlendAlpha, byID[eb.GPUID].Blend)
	assert.Equal(t, uint32(25), byID[eb.GPUID].Visible)
	assert.Equal(t, uint32(65), byID[eb.GPUID].Args.InstanceCount)
}

func TestRemovedEmitterParticlesKeepSimulating(t *testing.T) {
	s, b := newTestSystem(t, 256)
	cfg := longLived("gone", 0)
	cfg.Bursts = []BurstConfig{NewBurst(0, 20)}
	e, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	s.Play()

	cam := testCamera()
	step(t, s, cam, frameDt)
	require.True(t, s.RemoveEmitter(e))
	step(t, s, cam, frameDt)

	assert.Equal(t, 20, snapshot(t, s).Alive())
	assert.Empty(t, b.Draws())
}

func TestEmitterLookup(t *testing.T) {
	s, _ := newTestSystem(t, 16)
	a := s.CreateEmitterNamed("a")
	b := s.CreateEmitterNamed("b")

	assert.Equal(t, 2, s.EmitterCount())
	assert.Same(t, a, s.Emitter("a"))
	assert.Same(t, b, s.EmitterAt(1))
	assert.Same(t, b, s.EmitterByID(b.ID))
	assert.Nil(t, s.Emitter("missing"))
	assert.Nil(t, s.EmitterAt(5))

	assert.True(t, s.RemoveEmitter(a))
	assert.False(t, s.RemoveEmitter(a))
	assert.Equal(t, 1, s.EmitterCount())

	s.RemoveAllEmitters()
	assert.Zero(t, s.EmitterCount())
}

func TestCreateEmitterRejectsInvalidConfig(t *testing.T) {
	s, _ := newTestSystem(t, 16)
	cfg := DefaultEmitterConfig("bad")
	cfg.EmitRate = -1
	_, err := s.CreateEmitter(cfg)
	assert.Error(t, err)
	assert.Zero(t, s.EmitterCount())
}

func TestRenderErrors(t *testing.T) {
	s := New(soft.New(soft.Options{}), DefaultOptions())
	assert.ErrorIs(t, s.Render(testCamera(), nil), gpu.ErrNotInitialized)

	require.NoError(t, s.Initialize(8))
	defer s.Shutdown()
	assert.ErrorIs(t, s.Render(nil, nil), ErrNoCamera)
}

func TestInitializeDefaultsCapacity(t *testing.T) {
	s := New(soft.New(soft.Options{}), Options{MaxParticles: 32})
	require.NoError(t, s.Initialize(0))
	defer s.Shutdown()
	assert.Equal(t, uint32(32), s.MaxParticles())
	assert.Equal(t, uint32(32), s.Backend().Capacity())
}

func TestStatsLagReadback(t *testing.T) {
	s, _ := newTestSystem(t, 128)
	assert.False(t, s.Stats().Valid)

	_, err := s.CreateEmitter(longLived("stats", 600))
	require.NoError(t, err)
	s.Play()
	step(t, s, testCamera(), frameDt)

	st := s.Stats()
	assert.True(t, st.Valid)
	assert.Equal(t, uint32(10), st.Alive)
	assert.Equal(t, uint32(118), st.Free)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, 1, st.Emitters)
}

func TestGlobalParametersReachUpdatePass(t *testing.T) {
	s, b := newTestSystem(t, 8)
	s.SetGravity(mgl32.Vec3{0, 0, 0})
	s.SetDrag(0)
	assert.Equal(t, mgl32.Vec3{}, s.Gravity())
	assert.Zero(t, s.Drag())

	cfg := longLived("still", 0)
	cfg.StartSpeed = Constant(0)
	cfg.Bursts = []BurstConfig{NewBurst(0, 1)}
	e, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	e.SetPosition(mgl32.Vec3{3, 4, 5})
	s.Play()

	cam := testCamera()
	for i := 0; i < 5; i++ {
		step(t, s, cam, frameDt)
	}
	snap := snapshot(t, s)
	require.Len(t, snap.Current, 1)
	p := b.Particle(snap.Current[0])
	assert.InDelta(t, 3, p.Position[0], 1e-4)
	assert.InDelta(t, 4, p.Position[1], 1e-4)
	assert.InDelta(t, 5, p.Position[2], 1e-4)
	assert.Equal(t, e.GPUID, p.EmitterID)
}

func TestSystemConstantsFromCamera(t *testing.T) {
	s, b := newTestSystem(t, 8)
	cam := testCamera()
	step(t, s, cam, frameDt)
	step(t, s, cam, frameDt)

	c := b.Constants()
	assert.Equal(t, uint32(1), c.FrameIndex)
	assert.InDelta(t, 2*frameDt, c.TotalTime, 1e-6)
	assert.InDelta(t, frameDt, c.DeltaTime, 1e-9)
	assert.InDelta(t, 0, c.CameraRight.Dot(c.CameraUp), 1e-5)
	assert.Equal(t, cam.Position, c.CameraPosition)
}
