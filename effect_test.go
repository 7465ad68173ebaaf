package particles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gekko3d/particles/gpu"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEffectRoundTrip(t *testing.T) {
	fire := DefaultEmitterConfig("fire")
	fire.Shape.Shape = gpu.ShapeCone
	fire.BlendMode = gpu.BlendPremultiplied
	fire.StartColor = ColorRange{Min: mgl32.Vec4{1, 0.3, 0, 1}, Max: mgl32.Vec4{1, 0.8, 0.1, 1}}
	fire.Bursts = []BurstConfig{NewBurst(0.25, 12)}
	smoke := DefaultEmitterConfig("smoke")
	smoke.RenderMode = gpu.RenderVerticalBillboard
	smoke.SpriteSheet = SpriteSheet{Enabled: true, TilesX: 4, TilesY: 4, FrameCount: 16, FPS: 24}

	path := filepath.Join(t.TempDir(), "campfire.yaml")
	require.NoError(t, SaveEffect(path, &EffectData{Name: "campfire", Emitters: []EmitterConfig{fire, smoke}}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "blend_mode: premultiplied")
	assert.Contains(t, string(raw), "shape: cone")

	fx, err := LoadEffect(path)
	require.NoError(t, err)
	assert.Equal(t, "campfire", fx.Name)
	assert.Equal(t, EffectVersion, fx.Version)
	require.Len(t, fx.Emitters, 2)
	assert.Equal(t, fire, fx.Emitters[0])
	assert.Equal(t, smoke, fx.Emitters[1])
}

func TestParseEffectFillsDefaults(t *testing.T) {
	src := `
name: sparks
version: 1
emitters:
  - name: sparks
    emit_rate: 120
    blend_mode: alpha
    shape:
      shape: sphere
      radius: 0.25
`
	fx, err := ParseEffect([]byte(src))
	require.NoError(t, err)
	require.Len(t, fx.Emitters, 1)

	cfg := fx.Emitters[0]
	def := DefaultEmitterConfig("sparks")
	assert.Equal(t, float32(120), cfg.EmitRate)
	assert.Equal(t, gpu.BlendAlpha, cfg.BlendMode)
	assert.Equal(t, gpu.ShapeSphere, cfg.Shape.Shape)
	assert.Equal(t, float32(0.25), cfg.Shape.Radius)
	assert.Equal(t, def.Shape.ArcAngle, cfg.Shape.ArcAngle)
	assert.Equal(t, def.StartLifetime, cfg.StartLifetime)
	assert.Equal(t, def.Duration, cfg.Duration)
}

func TestParseEffectErrors(t *testing.T) {
	_, err := ParseEffect([]byte("name: [unterminated"))
	assert.Error(t, err)

	_, err = ParseEffect([]byte("name: x\nversion: 99\n"))
	assert.ErrorContains(t, err, "unsupported version")

	_, err = ParseEffect([]byte("emitters:\n  - blend_mode: glow\n"))
	assert.ErrorContains(t, err, "blend mode")

	_, err = ParseEffect([]byte("emitters:\n  - duration: -1\n"))
	assert.ErrorContains(t, err, "duration")

	_, err = LoadEffect(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSystemEffectRoundTrip(t *testing.T) {
	s, _ := newTestSystem(t, 64)
	s.CreateEmitterNamed("one")
	s.CreateEmitterNamed("two")

	path := filepath.Join(t.TempDir(), "fx.yaml")
	require.NoError(t, s.SaveEffect(path, "pair"))

	other, _ := newTestSystem(t, 64)
	added, err := other.LoadEffect(path)
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.Equal(t, "one", other.EmitterAt(0).Name())
	assert.Equal(t, Stopped, added[1].State())
}

func TestAddEffectIsAllOrNothing(t *testing.T) {
	s, _ := newTestSystem(t, 64)
	bad := DefaultEmitterConfig("bad")
	bad.Duration = 0
	_, err := s.AddEffect(&EffectData{Emitters: []EmitterConfig{DefaultEmitterConfig("good"), bad}})
	assert.Error(t, err)
	assert.Zero(t, s.EmitterCount())
}

func TestEnumNames(t *testing.T) {
	for _, m := range gpu.BlendModes {
		text, err := m.MarshalText()
		require.NoError(t, err)
		var back gpu.BlendMode
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, m, back)
		assert.False(t, strings.Contains(string(text), "unknown"))
	}
}
