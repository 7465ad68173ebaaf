package telemetry

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gekko3d/particles"
	"github.com/gekko3d/particles/config"
	"github.com/gocarina/gocsv"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frames(n int, ms float64) []FrameRecord {
	out := make([]FrameRecord, n)
	for i := range out {
		out[i] = FrameRecord{
			Frame:     uint64(i + 1),
			SimTime:   float64(i+1) / 60,
			FrameMS:   ms,
			Alive:     uint32(i * 10),
			Free:      uint32(1000 - i*10),
			Emitters:  1,
			Requested: uint64(i * 10),
			Valid:     true,
		}
	}
	return out
}

func TestNewFrameRecord(t *testing.T) {
	st := particles.Stats{Alive: 5, Free: 59, Emitters: 2, Frames: 9, Requested: 12, Valid: true}
	prof := NewProfiler()
	prof.scopes[PhaseUpdate] = time.Millisecond
	prof.scopes[PhaseRender] = 3 * time.Millisecond
	r := NewFrameRecord(st, 1.5, prof)
	assert.Equal(t, uint64(9), r.Frame)
	assert.Equal(t, 4.0, r.FrameMS)
	assert.Equal(t, 1.0, r.UpdateMS)
	assert.Equal(t, 3.0, r.RenderMS)
	assert.Equal(t, uint32(5), r.Alive)
	assert.True(t, r.Valid)
}

func TestSummarize(t *testing.T) {
	recs := frames(10, 2)
	recs[9].FrameMS = 20

	w := Summarize(recs, 0)
	assert.Equal(t, uint64(1), w.WindowStart)
	assert.Equal(t, uint64(10), w.WindowEnd)
	assert.Equal(t, 10, w.Frames)
	assert.InDelta(t, 3.8, w.FrameMSMean, 1e-9)
	assert.Equal(t, 2.0, w.FrameMSP50)
	assert.Equal(t, 20.0, w.FrameMSP99)
	assert.InDelta(t, 1000/3.8, w.FPS, 1e-9)
	assert.Equal(t, uint32(90), w.AliveMax)
	assert.Equal(t, uint32(90), w.AliveEnd)
	assert.InDelta(t, 45, w.AliveMean, 1e-9)
	assert.Equal(t, uint64(90), w.Requested)

	assert.Zero(t, Summarize(nil, 0))

	one := Summarize(frames(1, 5), 0)
	assert.Zero(t, one.FrameMSStd)
	assert.Equal(t, 5.0, one.FrameMSP99)
}

func TestCollectorWindows(t *testing.T) {
	c := NewCollector(4)
	var windows []WindowStats
	for _, r := range frames(10, 1) {
		if w, ok := c.Add(r); ok {
			windows = append(windows, w)
		}
	}
	require.Len(t, windows, 2)
	assert.Equal(t, uint64(4), windows[0].WindowEnd)
	assert.Equal(t, uint64(30), windows[0].Requested)
	assert.Equal(t, uint64(40), windows[1].Requested)
	assert.Equal(t, 2, c.Len())

	rest := c.Flush()
	assert.Equal(t, 2, rest.Frames)
	assert.Zero(t, c.Len())
	assert.Zero(t, c.Flush())
}

func TestCollectorHandlesRestart(t *testing.T) {
	c := NewCollector(2)
	c.Add(FrameRecord{Frame: 1, Requested: 100})
	c.Add(FrameRecord{Frame: 2, Requested: 200})
	c.Add(FrameRecord{Frame: 3, Requested: 5})
	w, ok := c.Add(FrameRecord{Frame: 4, Requested: 15})
	require.True(t, ok)
	assert.Equal(t, uint64(15), w.Requested)
}

func TestOutputManager(t *testing.T) {
	om, err := NewOutputManager("")
	require.NoError(t, err)
	assert.Nil(t, om)
	assert.NoError(t, om.WriteFrame(FrameRecord{}))
	assert.NoError(t, om.Close())

	dir := filepath.Join(t.TempDir(), "run")
	om, err = NewOutputManager(dir)
	require.NoError(t, err)
	for _, r := range frames(3, 1) {
		require.NoError(t, om.WriteFrame(r))
	}
	require.NoError(t, om.WriteWindow(Summarize(frames(3, 1), 0)))
	require.NoError(t, om.WriteConfig(config.Default()))
	require.NoError(t, om.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "frames.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "frame,sim_time,frame_ms,alive"))

	var back []FrameRecord
	require.NoError(t, gocsv.UnmarshalBytes(raw, &back))
	assert.Equal(t, frames(3, 1), back)

	_, err = config.Load(filepath.Join(dir, "config.yaml"))
	assert.NoError(t, err)
}

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()
	m.Observe(FrameRecord{Alive: 7, Free: 57, Emitters: 2, Requested: 10, FrameMS: 2, Valid: true}, 64)
	m.Observe(FrameRecord{Alive: 9, Free: 55, Emitters: 2, Requested: 25, FrameMS: 2, Valid: true}, 64)
	// restart resets the system counter
	m.Observe(FrameRecord{Requested: 3, FrameMS: 2}, 64)

	assert.Equal(t, 9.0, testutil.ToFloat64(m.alive))
	assert.Equal(t, 55.0, testutil.ToFloat64(m.free))
	assert.Equal(t, 64.0, testutil.ToFloat64(m.capacity))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.frames))
	assert.Equal(t, 28.0, testutil.ToFloat64(m.requested))

	var nilMetrics *Metrics
	nilMetrics.Observe(FrameRecord{}, 0)
}

func TestProfiler(t *testing.T) {
	p := NewProfiler()
	p.BeginScope(PhaseUpdate)
	p.EndScope(PhaseUpdate)
	p.BeginScope(PhaseRender)
	time.Sleep(time.Millisecond)
	p.EndScope(PhaseRender)
	p.EndScope("never-started")
	p.SetCount("alive", 42)

	assert.GreaterOrEqual(t, p.Scope(PhaseRender), time.Millisecond)
	assert.Equal(t, p.Scope(PhaseUpdate)+p.Scope(PhaseRender), p.Total())
	assert.Zero(t, p.Scope("never-started"))

	out := p.String()
	assert.Less(t, strings.Index(out, PhaseUpdate), strings.Index(out, PhaseRender))
	assert.Contains(t, out, "alive")

	p.Reset()
	assert.Zero(t, p.Total())
	assert.Contains(t, p.String(), PhaseRender)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.Observe(FrameRecord{Alive: 3, Valid: true}, 16)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "particles_alive 3")
	assert.Contains(t, rec.Body.String(), "particles_frame_seconds_bucket")
}
