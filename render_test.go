package particles

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/gpu/soft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSubmitFailed = errors.New("device lost")

// failingBackend wraps the software backend and fails Submit on demand.
type failingBackend struct {
	*soft.Backend
	failSubmit bool
	discarded  int
	reserved   []int
}

func (b *failingBackend) ReserveDraws(n int) error {
	b.reserved = append(b.reserved, n)
	return nil
}

func (b *failingBackend) BeginFrame(consts *gpu.SystemConstants) (gpu.Frame, error) {
	f, err := b.Backend.BeginFrame(consts)
	if err != nil {
		return nil, err
	}
	return &failingFrame{Frame: f, b: b}, nil
}

type failingFrame struct {
	gpu.Frame
	b *failingBackend
}

func (f *failingFrame) Submit() error {
	if f.b.failSubmit {
		return errSubmitFailed
	}
	return f.Frame.Submit()
}

func (f *failingFrame) Discard() {
	f.b.discarded++
	f.Frame.Discard()
}

func writeSprite(t *testing.T, name string, size int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.RGBA{R: 0xff, A: 0xff})
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func drawFor(t *testing.T, b *soft.Backend, e *Emitter) soft.DrawCall {
	t.Helper()
	for _, d := range b.Draws() {
		if d.EmitterID == e.GPUID {
			return d
		}
	}
	require.FailNow(t, "no draw recorded", "emitter %q", e.Name())
	return soft.DrawCall{}
}

func TestFailedSubmitKeepsRolesAndEmission(t *testing.T) {
	fb := &failingBackend{Backend: soft.New(soft.Options{Workers: 2})}
	s := New(fb, DefaultOptions())
	require.NoError(t, s.Initialize(128))
	t.Cleanup(s.Shutdown)

	e, err := s.CreateEmitter(longLived("retry", 600))
	require.NoError(t, err)
	s.Play()
	s.Update(frameDt)
	pending := e.Pending()
	require.Equal(t, uint32(10), pending)

	fb.failSubmit = true
	err = s.Render(testCamera(), nil)
	require.ErrorIs(t, err, errSubmitFailed)
	assert.Equal(t, gpu.SetA, s.Current())
	assert.Equal(t, pending, e.Pending())
	assert.Equal(t, 1, fb.discarded)
	st := s.Stats()
	assert.Zero(t, st.Frames)
	assert.Zero(t, st.Requested)

	fb.failSubmit = false
	require.NoError(t, s.Restart())
	s.Play()
	step(t, s, testCamera(), frameDt)
	assert.Equal(t, gpu.SetB, s.Current())
	assert.Equal(t, uint64(1), s.Stats().Frames)
	assert.Equal(t, 1, fb.discarded)
}

func TestRenderReservesDrawPerEmitter(t *testing.T) {
	fb := &failingBackend{Backend: soft.New(soft.Options{Workers: 2})}
	s := New(fb, DefaultOptions())
	require.NoError(t, s.Initialize(64))
	t.Cleanup(s.Shutdown)

	for i := 0; i < 70; i++ {
		s.CreateEmitterNamed("many")
	}
	s.Play()
	step(t, s, testCamera(), frameDt)
	assert.Equal(t, []int{70}, fb.reserved)
	assert.Len(t, fb.Draws(), 70)
}

func TestEmitterTextureSurvivesReinitialize(t *testing.T) {
	small := writeSprite(t, "small.png", 8)
	large := writeSprite(t, "large.png", 16)

	b := soft.New(soft.Options{Workers: 2})
	s := New(b, DefaultOptions())
	cfg := longLived("sprite", 60)
	cfg.TexturePath = small
	e, err := s.CreateEmitter(cfg)
	require.NoError(t, err)

	require.NoError(t, s.Initialize(64))
	t.Cleanup(s.Shutdown)
	s.Play()
	step(t, s, testCamera(), frameDt)
	assert.Equal(t, uint32(8), drawFor(t, b, e).TextureWidth)

	require.NoError(t, s.Initialize(64))
	s.Play()
	step(t, s, testCamera(), frameDt)
	assert.Equal(t, uint32(8), drawFor(t, b, e).TextureWidth)

	cfg.TexturePath = large
	e.SetConfig(cfg)
	step(t, s, testCamera(), frameDt)
	assert.Equal(t, uint32(16), drawFor(t, b, e).TextureWidth)
	assert.Equal(t, uint32(16), drawFor(t, b, e).TextureHeight)
}

func TestMissingEmitterTextureFallsBackToDefault(t *testing.T) {
	s, b := newTestSystem(t, 64)
	def := &soft.Texture{Image: image.NewRGBA(image.Rect(0, 0, 4, 4))}
	s.SetDefaultTexture(def)

	cfg := longLived("missing", 60)
	cfg.TexturePath = filepath.Join(t.TempDir(), "nope.png")
	e, err := s.CreateEmitter(cfg)
	require.NoError(t, err)
	assert.Nil(t, e.Texture())

	s.Play()
	step(t, s, testCamera(), frameDt)
	assert.Equal(t, uint32(4), drawFor(t, b, e).TextureWidth)
}

func TestShutdownDropsCachedDefaultTexture(t *testing.T) {
	path := writeSprite(t, "default.png", 8)
	s := New(soft.New(soft.Options{}), DefaultOptions())
	require.NoError(t, s.Initialize(16))

	tex, err := s.LoadTexture(path)
	require.NoError(t, err)
	s.SetDefaultTexture(tex)
	s.Shutdown()
	assert.Nil(t, s.DefaultTexture())

	own := &soft.Texture{Image: image.NewRGBA(image.Rect(0, 0, 2, 2))}
	require.NoError(t, s.Initialize(16))
	s.SetDefaultTexture(own)
	s.Shutdown()
	assert.Same(t, own, s.DefaultTexture())
}
