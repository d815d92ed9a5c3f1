package refresh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments refresh cycles. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	cycles   *prometheus.CounterVec
	waiters  prometheus.Counter
	retries  prometheus.Counter
	duration prometheus.Histogram
}

// NewMetrics registers the refresh collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "refresh",
			Name:      "cycles_total",
			Help:      "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		waiters: f.NewCounter(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "refresh",
			Name:      "waiters_total",
			Help:      "Requests that joined an in-flight refresh cycle.",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "refresh",
			Name:      "retries_total",
			Help:      "Requests replayed after a successful refresh.",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "refresh",
			Name:      "cycle_duration_seconds",
			Help:      "Time from cycle open to settle.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observe(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.cycles.WithLabelValues(outcome).Inc()
	m.duration.Observe(d.Seconds())
}

func (m *Metrics) waiter() {
	if m != nil {
		m.waiters.Inc()
	}
}

func (m *Metrics) retry() {
	if m != nil {
		m.retries.Inc()
	}
}
