package frame

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors of a Controller.
type Metrics struct {
	ticks     *prometheus.CounterVec
	completed prometheus.Counter
	failed    prometheus.Counter
	inFlight  prometheus.Gauge
	latency   prometheus.Histogram
}

// NewMetrics creates the controller collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "grayscott",
			Name:      "ticks_total",
			Help:      "Display ticks by outcome (issued, dropped, stopped).",
		}, []string{"outcome"}),
		completed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "grayscott",
			Name:      "batches_completed_total",
			Help:      "Simulation batches whose display copy completed.",
		}),
		failed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "grayscott",
			Name:      "batches_failed_total",
			Help:      "Simulation batches that failed to encode, submit or execute.",
		}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "grayscott",
			Name:      "batches_in_flight",
			Help:      "Budget units currently held by outstanding batches.",
		}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "grayscott",
			Name:      "batch_latency_seconds",
			Help:      "Time from tick to completed display copy.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}
}

func (m *Metrics) tick(r TickResult) {
	if m != nil {
		m.ticks.WithLabelValues(r.String()).Inc()
	}
}

func (m *Metrics) setInFlight(n int) {
	if m != nil {
		m.inFlight.Set(float64(n))
	}
}

func (m *Metrics) done(start time.Time, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failed.Inc()
		return
	}
	m.completed.Inc()
	m.latency.Observe(time.Since(start).Seconds())
}
