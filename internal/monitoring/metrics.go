package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exports capture session progress to Prometheus. It satisfies
// both the capture progress sink and the settle observer.
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured prometheus.Counter
	exposureTime   prometheus.Counter
	settleDuration *prometheus.HistogramVec
	settleTimeouts *prometheus.CounterVec
	progress       prometheus.Gauge
}

// NewMetrics registers the capture metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		framesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "darkframes_frames_captured_total",
			Help: "Frames captured in this session",
		}),
		exposureTime: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "darkframes_exposure_seconds_total",
			Help: "Summed exposure time of the captured frames",
		}),
		settleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "darkframes_settle_seconds",
			Help:    "Time for a control to reach its target",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		}, []string{"control"}),
		settleTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "darkframes_settle_timeouts_total",
			Help: "Settles that ran into their timeout",
		}, []string{"control"}),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "darkframes_session_progress_ratio",
			Help: "Fraction of the session's frames captured",
		}),
	}
	reg.MustRegister(m.framesCaptured, m.exposureTime, m.settleDuration, m.settleTimeouts, m.progress)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Advance records one captured frame.
func (m *Metrics) Advance(elapsed time.Duration, current, total int) {
	m.framesCaptured.Inc()
	m.exposureTime.Add(elapsed.Seconds())
	if total > 0 {
		m.progress.Set(float64(current) / float64(total))
	}
}

// ObserveSettle records one settle.
func (m *Metrics) ObserveSettle(name string, elapsed time.Duration, timedOut bool) {
	m.settleDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if timedOut {
		m.settleTimeouts.WithLabelValues(name).Inc()
	}
}
