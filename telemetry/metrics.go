package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the prometheus collectors for one particle system. Each
// instance owns its registry so tests and multiple systems do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	alive        prometheus.Gauge
	free         prometheus.Gauge
	capacity     prometheus.Gauge
	emitters     prometheus.Gauge
	frames       prometheus.Counter
	requested    prometheus.Counter
	frameSeconds prometheus.Histogram

	lastRequested uint64
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		alive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particles_alive",
			Help: "Live particles at the last readback",
		}),
		free: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particles_free",
			Help: "Free pool slots at the last readback",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particles_capacity",
			Help: "Pool capacity",
		}),
		emitters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "particles_emitters",
			Help: "Registered emitters",
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "particles_frames_total",
			Help: "Rendered frames",
		}),
		requested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "particles_requested_total",
			Help: "Particles requested from the emit pass",
		}),
		frameSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "particles_frame_seconds",
			Help:    "Wall time spent recording and submitting a frame",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	m.Registry.MustRegister(m.alive, m.free, m.capacity, m.emitters, m.frames, m.requested, m.frameSeconds)
	return m
}

// Observe updates the collectors from one frame record.
func (m *Metrics) Observe(r FrameRecord, capacity uint32) {
	if m == nil {
		return
	}
	if r.Valid {
		m.alive.Set(float64(r.Alive))
		m.free.Set(float64(r.Free))
	}
	m.capacity.Set(float64(capacity))
	m.emitters.Set(float64(r.Emitters))
	m.frames.Inc()
	if r.Requested >= m.lastRequested {
		m.requested.Add(float64(r.Requested - m.lastRequested))
	} else {
		m.requested.Add(float64(r.Requested))
	}
	m.lastRequested = r.Requested
	m.frameSeconds.Observe(r.FrameMS / 1000)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
