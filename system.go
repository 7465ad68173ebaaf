// Package particles is a GPU-resident particle engine: a fixed pool of
// particle records allocated from a free list, simulated and compacted
// between two alive sets, and drawn with an indirect draw whose size never
// leaves the accelerator.
package particles

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

const DefaultMaxParticles = 100000

var ErrNoCamera = errors.New("particles: render needs a camera")

// CollisionSettings are the global collision response coefficients. Emitters
// opt in per particle with EmitterConfig.Collision.
type CollisionSettings struct {
	Enabled         bool    `yaml:"enabled"`
	Bounce          float32 `yaml:"bounce"`
	LifetimeLoss    float32 `yaml:"lifetime_loss"`
	MinKillSpeed    float32 `yaml:"min_kill_speed"`
	KillOnCollision bool    `yaml:"kill_on_collision"`
	RadiusScale     float32 `yaml:"radius_scale"`
	GroundHeight    float32 `yaml:"ground_height"`
}

func DefaultCollision() CollisionSettings {
	return CollisionSettings{Enabled: true, Bounce: 0.5, LifetimeLoss: 0.1, RadiusScale: 1}
}

type Options struct {
	MaxParticles uint32
	Gravity      mgl32.Vec3
	Drag         float32
	Collision    CollisionSettings
	Logger       Logger
}

func DefaultOptions() Options {
	return Options{
		MaxParticles: DefaultMaxParticles,
		Gravity:      mgl32.Vec3{0, -9.8, 0},
		Collision:    DefaultCollision(),
	}
}

// Stats is a lagging view of the pool, read back from the accelerator when
// the backend supports it.
type Stats struct {
	MaxParticles uint32
	Alive        uint32
	Free         uint32
	Emitters     int
	Frames       uint64
	Requested    uint64 // particles requested from the emit pass since the last restart
	Valid        bool   // false until the first readback lands
}

// ParticleSystem owns the pool and records the per-frame passes.
// Only one goroutine may drive Update and Render; the emitter list is
// guarded so authoring code may add and remove emitters concurrently.
type ParticleSystem struct {
	backend gpu.Backend
	opts    Options
	log     Logger

	mu       sync.Mutex
	emitters []*Emitter

	roles       gpu.PingPong
	initialized bool

	gravity   mgl32.Vec3
	drag      float32
	collision CollisionSettings

	totalTime  float64
	lastDt     float32
	frameIndex uint32
	frames     uint64
	requested  uint64

	defaultTex gpu.Texture
	textures   map[string]gpu.Texture
}

func New(backend gpu.Backend, opts Options) *ParticleSystem {
	if opts.MaxParticles == 0 {
		opts.MaxParticles = DefaultMaxParticles
	}
	if opts.Logger == nil {
		opts.Logger = NewNopLogger()
	}
	if ls, ok := backend.(interface{ SetLogger(gpu.Logger) }); ok {
		ls.SetLogger(opts.Logger)
	}
	return &ParticleSystem{
		backend:   backend,
		opts:      opts,
		log:       opts.Logger,
		gravity:   opts.Gravity,
		drag:      opts.Drag,
		collision: opts.Collision,
		textures:  make(map[string]gpu.Texture),
	}
}

// Initialize allocates every accelerator resource. A zero capacity uses
// Options.MaxParticles.
func (s *ParticleSystem) Initialize(capacity uint32) error {
	if s.backend == nil {
		return gpu.ErrBackendNotAvailable
	}
	if capacity == 0 {
		capacity = s.opts.MaxParticles
	}
	if s.initialized {
		s.Shutdown()
	}
	if err := s.backend.Init(capacity); err != nil {
		return fmt.Errorf("failed to initialize %s particle backend: %w", s.backend.Name(), err)
	}
	s.opts.MaxParticles = capacity
	s.roles.Reset()
	s.initialized = true
	s.log.Infof("particle system ready: backend=%s capacity=%d", s.backend.Name(), capacity)
	return nil
}

// Shutdown releases every accelerator resource. Emitters are kept and load
// their textures again on the first frame after the next Initialize.
func (s *ParticleSystem) Shutdown() {
	for path, t := range s.textures {
		if t == s.defaultTex {
			s.defaultTex = nil
		}
		t.Release()
		delete(s.textures, path)
	}
	s.mu.Lock()
	for _, e := range s.emitters {
		e.texture = nil
		e.texturePath = ""
	}
	s.mu.Unlock()
	if s.backend != nil {
		s.backend.Release()
	}
	s.initialized = false
}

func (s *ParticleSystem) Backend() gpu.Backend { return s.backend }

// Current is the alive set the next frame emits into.
func (s *ParticleSystem) Current() gpu.AliveSet { return s.roles.Current() }

func (s *ParticleSystem) MaxParticles() uint32 { return s.opts.MaxParticles }

// CreateEmitter adds an emitter in the stopped state.
func (s *ParticleSystem) CreateEmitter(config EmitterConfig) (*Emitter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := NewEmitter(config)
	if s.initialized {
		s.resolveTexture(e)
	}
	s.mu.Lock()
	s.emitters = append(s.emitters, e)
	s.mu.Unlock()
	s.log.Debugf("emitter %q created: id=%s gpu=%d", config.Name, e.ID, e.GPUID)
	return e, nil
}

// CreateEmitterNamed adds an emitter with the default configuration.
func (s *ParticleSystem) CreateEmitterNamed(name string) *Emitter {
	e, err := s.CreateEmitter(DefaultEmitterConfig(name))
	if err != nil {
		// The default configuration always validates.
		panic(err)
	}
	return e
}

// RemoveEmitter detaches e. Its particles keep simulating until they expire
// but are no longer drawn.
func (s *ParticleSystem) RemoveEmitter(e *Emitter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, x := range s.emitters {
		if x == e {
			s.emitters = append(s.emitters[:i], s.emitters[i+1:]...)
			return true
		}
	}
	return false
}

func (s *ParticleSystem) RemoveAllEmitters() {
	s.mu.Lock()
	s.emitters = nil
	s.mu.Unlock()
}

// Emitter returns the first emitter with the given name, or nil.
func (s *ParticleSystem) Emitter(name string) *Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emitters {
		if e.Name() == name {
			return e
		}
	}
	return nil
}

func (s *ParticleSystem) EmitterAt(i int) *Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.emitters) {
		return nil
	}
	return s.emitters[i]
}

func (s *ParticleSystem) EmitterByID(id uuid.UUID) *Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.emitters {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (s *ParticleSystem) EmitterCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emitters)
}

func (s *ParticleSystem) snapshot() []*Emitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Emitter, len(s.emitters))
	copy(out, s.emitters)
	return out
}

// Update advances emitter playback and schedules this step's emission. It
// touches no accelerator state.
func (s *ParticleSystem) Update(dt float32) {
	if dt < 0 {
		dt = 0
	}
	s.totalTime += float64(dt)
	s.lastDt = dt
	for _, e := range s.snapshot() {
		e.Update(dt)
		e.schedule(dt)
	}
}

// Render records and submits one frame: emit for every emitter with pending
// particles, update and compact, build the draw args, then one indirect draw
// per emitter. Roles swap only once the frame is submitted. A frame that
// fails is discarded and its emission is retried next frame. depth may be nil.
func (s *ParticleSystem) Render(camera *Camera, depth gpu.DepthBuffer) error {
	if !s.initialized {
		return gpu.ErrNotInitialized
	}
	if camera == nil {
		return ErrNoCamera
	}
	emitters := s.snapshot()
	if r, ok := s.backend.(gpu.DrawReserver); ok {
		if err := r.ReserveDraws(len(emitters)); err != nil {
			return fmt.Errorf("failed to reserve %d particle draws: %w", len(emitters), err)
		}
	}

	consts := camera.SystemConstants(float32(s.totalTime), s.lastDt, s.frameIndex)
	frame, err := s.backend.BeginFrame(&consts)
	if err != nil {
		return fmt.Errorf("failed to begin particle frame: %w", err)
	}

	taken := make([]uint32, len(emitters))
	discard := func(err error) error {
		frame.Discard()
		for i, e := range emitters {
			if taken[i] > 0 {
				e.restorePending(taken[i])
			}
		}
		return err
	}

	cur := s.roles.Current()
	next := cur.Other()
	var requested uint64
	for i, e := range emitters {
		n := e.takePending()
		if n == 0 {
			continue
		}
		taken[i] = n
		params := e.EmitterParams(n, s.opts.MaxParticles)
		if err := frame.Emit(cur, &params); err != nil {
			return discard(fmt.Errorf("failed to emit for %q: %w", e.Name(), err))
		}
		requested += uint64(n)
	}
	frame.Barrier(gpu.ResourcePool, gpu.ResourceFreeList, gpu.AliveResource(cur), gpu.ResourceCounters)

	up := s.updateParams(camera, depth)
	if err := frame.Update(cur, &up, depth); err != nil {
		return discard(fmt.Errorf("failed to record particle update: %w", err))
	}
	frame.Barrier(gpu.ResourcePool, gpu.ResourceFreeList, gpu.ResourceAliveA, gpu.ResourceAliveB, gpu.ResourceCounters)

	if err := frame.BuildArgs(); err != nil {
		return discard(fmt.Errorf("failed to record draw args: %w", err))
	}
	frame.Barrier(gpu.ResourceCounters, gpu.ResourceDrawArgs)

	for _, e := range emitters {
		tex := s.resolveTexture(e)
		if tex == nil {
			tex = s.defaultTex
		}
		rp := e.RenderParams(float32(s.totalTime), tex != nil)
		if err := frame.Draw(next, &rp, tex); err != nil {
			return discard(fmt.Errorf("failed to draw %q: %w", e.Name(), err))
		}
	}

	if err := frame.Submit(); err != nil {
		return discard(fmt.Errorf("failed to submit particle frame: %w", err))
	}
	s.roles.Swap()
	s.requested += requested
	s.frameIndex++
	s.frames++
	return nil
}

func (s *ParticleSystem) updateParams(camera *Camera, depth gpu.DepthBuffer) gpu.UpdateParams {
	vp := camera.ViewProjection()
	c := s.collision
	p := gpu.UpdateParams{
		Gravity:          s.gravity,
		Drag:             s.drag,
		ViewProj:         vp,
		InvViewProj:      vp.Inv(),
		CollisionEnabled: c.Enabled,
		Bounce:           c.Bounce,
		LifetimeLoss:     c.LifetimeLoss,
		KillOnCollision:  c.KillOnCollision,
		MinKillSpeed:     c.MinKillSpeed,
		RadiusScale:      c.RadiusScale,
		GroundHeight:     c.GroundHeight,
		DeltaTime:        s.lastDt,
	}
	if depth != nil {
		w, h := depth.Size()
		p.ScreenSize = mgl32.Vec2{float32(w), float32(h)}
		p.HasDepth = w > 0 && h > 0
	}
	return p
}

func (s *ParticleSystem) Play() {
	for _, e := range s.snapshot() {
		e.Play()
	}
}

func (s *ParticleSystem) Pause() {
	for _, e := range s.snapshot() {
		e.Pause()
	}
}

func (s *ParticleSystem) Stop() {
	for _, e := range s.snapshot() {
		e.Stop()
	}
}

// Restart rewinds every emitter and returns the pool to its initial state:
// every slot free, both alive sets empty, A current.
func (s *ParticleSystem) Restart() error {
	for _, e := range s.snapshot() {
		e.Restart()
	}
	s.requested = 0
	if !s.initialized {
		return nil
	}
	if err := s.backend.Reset(); err != nil {
		return fmt.Errorf("failed to reset particle pool: %w", err)
	}
	s.roles.Reset()
	return nil
}

func (s *ParticleSystem) SetGravity(g mgl32.Vec3)          { s.gravity = g }
func (s *ParticleSystem) Gravity() mgl32.Vec3              { return s.gravity }
func (s *ParticleSystem) SetDrag(d float32)                { s.drag = d }
func (s *ParticleSystem) Drag() float32                    { return s.drag }
func (s *ParticleSystem) SetCollision(c CollisionSettings) { s.collision = c }
func (s *ParticleSystem) Collision() CollisionSettings     { return s.collision }
func (s *ParticleSystem) SetDefaultTexture(t gpu.Texture)  { s.defaultTex = t }
func (s *ParticleSystem) DefaultTexture() gpu.Texture      { return s.defaultTex }

// LoadTexture decodes and uploads a sprite, sharing uploads by path.
func (s *ParticleSystem) LoadTexture(path string) (gpu.Texture, error) {
	if t, ok := s.textures[path]; ok {
		return t, nil
	}
	if !s.initialized {
		return nil, gpu.ErrNotInitialized
	}
	img, err := gpu.LoadTexture(path)
	if err != nil {
		return nil, err
	}
	t, err := s.backend.UploadTexture(img, path)
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", path, err)
	}
	s.textures[path] = t
	return t, nil
}

// resolveTexture loads the sprite named by the emitter's TexturePath the first
// time it is needed after the path changes or the system is reinitialized.
// It returns nil when the emitter should use the default sprite.
func (s *ParticleSystem) resolveTexture(e *Emitter) gpu.Texture {
	path := e.config.TexturePath
	if path == "" || path == e.texturePath {
		return e.texture
	}
	e.texturePath = path
	t, err := s.LoadTexture(path)
	if err != nil {
		s.log.Warnf("particle texture %s unavailable, using default: %v", path, err)
		e.texture = nil
		return nil
	}
	e.texture = t
	return t
}

// Stats returns the latest readback. Alive and Free lag the submitted frames.
func (s *ParticleSystem) Stats() Stats {
	st := Stats{
		MaxParticles: s.opts.MaxParticles,
		Emitters:     s.EmitterCount(),
		Frames:       s.frames,
		Requested:    s.requested,
	}
	if cr, ok := s.backend.(gpu.CounterReader); ok && s.initialized {
		if c, ok := cr.LastCounters(); ok {
			st.Alive = c.AliveCountIn
			st.Free = uint32(max(c.DeadTop, 0))
			st.Valid = true
		}
	}
	return st
}

// Snapshot reads the whole allocator state back. It blocks on the
// accelerator and exists for tests and debugging.
func (s *ParticleSystem) Snapshot() (*gpu.Snapshot, error) {
	if !s.initialized {
		return nil, gpu.ErrNotInitialized
	}
	in, ok := s.backend.(gpu.Inspector)
	if !ok {
		return nil, fmt.Errorf("backend %s cannot be inspected", s.backend.Name())
	}
	return in.Snapshot(s.roles.Current())
}
