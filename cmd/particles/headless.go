package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gekko3d/particles"
	"github.com/gekko3d/particles/config"
	"github.com/gekko3d/particles/gpu"
	"github.com/gekko3d/particles/gpu/webgpu"
	"github.com/gekko3d/particles/telemetry"
)

// recorder fans frame stats out to the CSV files, prometheus and the log.
type recorder struct {
	log       *slog.Logger
	out       *telemetry.OutputManager
	metrics   *telemetry.Metrics
	collector *telemetry.Collector
	prof      *telemetry.Profiler
	capacity  uint32
	interval  int
	frames    int
}

func newRecorder(ctx context.Context, cfg *config.Config, capacity uint32, logger *slog.Logger) (*recorder, error) {
	out, err := telemetry.NewOutputManager(cfg.Telemetry.OutputDir)
	if err != nil {
		return nil, err
	}
	if err := out.WriteConfig(cfg); err != nil {
		out.Close()
		return nil, err
	}
	r := &recorder{
		log:       logger,
		out:       out,
		collector: telemetry.NewCollector(cfg.Telemetry.StatsWindow),
		prof:      telemetry.NewProfiler(),
		capacity:  capacity,
		interval:  cfg.Telemetry.LogInterval,
	}
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		r.metrics = telemetry.NewMetrics()
		go func() {
			if err := r.metrics.Serve(ctx, addr); err != nil {
				logger.Error("metrics server stopped", "addr", addr, "error", err)
			}
		}()
		logger.Info("serving metrics", "addr", addr)
	}
	return r, nil
}

// record closes the frame timed by r.prof.
func (r *recorder) record(st particles.Stats, simTime float64) {
	rec := telemetry.NewFrameRecord(st, simTime, r.prof)
	defer r.prof.Reset()
	r.metrics.Observe(rec, r.capacity)
	if err := r.out.WriteFrame(rec); err != nil {
		r.log.Warn("frame not recorded", "error", err)
	}
	if w, ok := r.collector.Add(rec); ok {
		if err := r.out.WriteWindow(w); err != nil {
			r.log.Warn("window not recorded", "error", err)
		}
		r.log.Debug("window", "stats", w)
		if r.log.Enabled(context.Background(), slog.LevelDebug) {
			r.prof.SetCount("alive", int(st.Alive))
			r.prof.SetCount("emitters", st.Emitters)
			r.log.Debug("frame profile\n" + r.prof.String())
		}
	}
	r.frames++
	if r.interval > 0 && r.frames%r.interval == 0 {
		r.log.Info("stats",
			"frame", st.Frames,
			"alive", st.Alive,
			"free", st.Free,
			"emitters", st.Emitters,
			"requested", st.Requested,
		)
	}
}

func (r *recorder) close() {
	if r.collector.Len() > 0 {
		if err := r.out.WriteWindow(r.collector.Flush()); err != nil {
			r.log.Warn("window not recorded", "error", err)
		}
	}
	if err := r.out.Close(); err != nil {
		r.log.Warn("failed to close output", "error", err)
	}
	if dir := r.out.Dir(); dir != "" {
		r.log.Info("telemetry written", "dir", dir)
	}
}

// runHeadless steps the system at the configured fixed rate with no render
// target. The software backend is the default so no accelerator is needed.
func runHeadless(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts runOptions) error {
	backend, err := newBackend(cfg, webgpu.Options{}, gpu.BackendSoftware)
	if err != nil {
		return err
	}
	sys, err := newSystem(cfg, backend, logger)
	if err != nil {
		return err
	}
	defer sys.Shutdown()

	rec, err := newRecorder(ctx, cfg, sys.MaxParticles(), logger)
	if err != nil {
		return err
	}
	defer rec.close()

	cam := cfg.Camera()
	dt := cfg.Derived.FixedDT32
	logger.Info("starting headless run", "frames", opts.frames, "dt", dt)

	var simTime float64
	for frame := 0; opts.frames == 0 || frame < opts.frames; frame++ {
		select {
		case <-ctx.Done():
			logger.Info("interrupted", "frame", frame)
			return finish(sys, opts, logger)
		default:
		}

		rec.prof.BeginScope(telemetry.PhaseUpdate)
		sys.Update(dt)
		rec.prof.EndScope(telemetry.PhaseUpdate)
		rec.prof.BeginScope(telemetry.PhaseRender)
		err := sys.Render(cam, nil)
		rec.prof.EndScope(telemetry.PhaseRender)
		if err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		simTime += float64(dt)
		rec.record(sys.Stats(), simTime)
	}
	return finish(sys, opts, logger)
}
