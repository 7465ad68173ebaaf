// Package telemetry records per-frame particle statistics and exports them
// as CSV files and prometheus metrics.
package telemetry

import (
	"log/slog"
	"sort"
	"time"

	"github.com/gekko3d/particles"
	"gonum.org/v1/gonum/stat"
)

// FrameRecord is one rendered frame.
type FrameRecord struct {
	Frame     uint64  `csv:"frame"`
	SimTime   float64 `csv:"sim_time"`
	FrameMS   float64 `csv:"frame_ms"`
	Alive     uint32  `csv:"alive"`
	Free      uint32  `csv:"free"`
	Emitters  int     `csv:"emitters"`
	Requested uint64  `csv:"requested"`
	Valid     bool    `csv:"valid"`
	UpdateMS  float64 `csv:"update_ms"`
	RenderMS  float64 `csv:"render_ms"`
}

// NewFrameRecord pairs system stats with the host time the profiler measured
// for the frame.
func NewFrameRecord(st particles.Stats, simTime float64, prof *Profiler) FrameRecord {
	return FrameRecord{
		Frame:     st.Frames,
		SimTime:   simTime,
		FrameMS:   millis(prof.Total()),
		UpdateMS:  millis(prof.Scope(PhaseUpdate)),
		RenderMS:  millis(prof.Scope(PhaseRender)),
		Alive:     st.Alive,
		Free:      st.Free,
		Emitters:  st.Emitters,
		Requested: st.Requested,
		Valid:     st.Valid,
	}
}

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// WindowStats aggregates a window of frames.
type WindowStats struct {
	WindowStart uint64  `csv:"-"`
	WindowEnd   uint64  `csv:"window_end"`
	SimTime     float64 `csv:"sim_time"`
	Frames      int     `csv:"frames"`

	FrameMSMean float64 `csv:"frame_ms_mean"`
	FrameMSStd  float64 `csv:"frame_ms_std"`
	FrameMSP50  float64 `csv:"frame_ms_p50"`
	FrameMSP99  float64 `csv:"frame_ms_p99"`
	FPS         float64 `csv:"fps"`

	AliveMean float64 `csv:"alive_mean"`
	AliveMax  uint32  `csv:"alive_max"`
	AliveEnd  uint32  `csv:"alive_end"`
	FreeEnd   uint32  `csv:"free_end"`

	// Particles requested from the emit pass during the window.
	Requested uint64 `csv:"requested"`
}

// LogValue renders the window as structured attributes.
func (w WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("window_end", w.WindowEnd),
		slog.Float64("fps", w.FPS),
		slog.Float64("frame_ms_p50", w.FrameMSP50),
		slog.Float64("frame_ms_p99", w.FrameMSP99),
		slog.Uint64("alive", uint64(w.AliveEnd)),
		slog.Uint64("free", uint64(w.FreeEnd)),
		slog.Uint64("requested", w.Requested),
	)
}

// Collector buffers frames until a window is complete.
type Collector struct {
	window  int
	records []FrameRecord
	// Requested counter at the end of the previous window.
	lastRequested uint64
}

func NewCollector(window int) *Collector {
	if window < 1 {
		window = 120
	}
	return &Collector{window: window, records: make([]FrameRecord, 0, window)}
}

// Add records a frame and reports whether a window just completed.
func (c *Collector) Add(r FrameRecord) (WindowStats, bool) {
	if r.Requested < c.lastRequested {
		// restarted since the last window
		c.lastRequested = 0
	}
	c.records = append(c.records, r)
	if len(c.records) < c.window {
		return WindowStats{}, false
	}
	w := c.Flush()
	return w, true
}

// Flush summarises the buffered frames and starts a new window. Flushing an
// empty collector returns the zero value.
func (c *Collector) Flush() WindowStats {
	if len(c.records) == 0 {
		return WindowStats{}
	}
	w := Summarize(c.records, c.lastRequested)
	c.lastRequested = c.records[len(c.records)-1].Requested
	c.records = c.records[:0]
	return w
}

// Len is the number of buffered frames.
func (c *Collector) Len() int { return len(c.records) }

// Summarize computes window statistics. requestedBefore is the requested
// counter at the start of the window.
func Summarize(records []FrameRecord, requestedBefore uint64) WindowStats {
	if len(records) == 0 {
		return WindowStats{}
	}
	first, last := records[0], records[len(records)-1]
	w := WindowStats{
		WindowStart: first.Frame,
		WindowEnd:   last.Frame,
		SimTime:     last.SimTime,
		Frames:      len(records),
		AliveEnd:    last.Alive,
		FreeEnd:     last.Free,
	}
	if last.Requested >= requestedBefore {
		w.Requested = last.Requested - requestedBefore
	}

	ms := make([]float64, len(records))
	alive := make([]float64, len(records))
	for i, r := range records {
		ms[i] = r.FrameMS
		alive[i] = float64(r.Alive)
		w.AliveMax = max(w.AliveMax, r.Alive)
	}
	w.FrameMSMean, w.FrameMSStd = stat.MeanStdDev(ms, nil)
	if len(ms) < 2 {
		w.FrameMSStd = 0
	}
	w.AliveMean = stat.Mean(alive, nil)

	sort.Float64s(ms)
	w.FrameMSP50 = stat.Quantile(0.5, stat.Empirical, ms, nil)
	w.FrameMSP99 = stat.Quantile(0.99, stat.Empirical, ms, nil)
	if w.FrameMSMean > 0 {
		w.FPS = 1000 / w.FrameMSMean
	}
	return w
}
