package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "device_defender"

// Cycle outcomes used as the outcome label.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// Metrics records publish cycle activity. It satisfies agent.Recorder.
type Metrics struct {
	registry       *prometheus.Registry
	cycles         *prometheus.CounterVec
	publishes      *prometheus.CounterVec
	reconfigured   prometheus.Counter
	sampleInterval prometheus.Gauge
	lastSuccess    prometheus.Gauge
	now            func() time.Time
}

// New creates Metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_cycles_total",
			Help:      "Publish cycles by outcome.",
		}, []string{"outcome"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_attempts_total",
			Help:      "Individual publish calls by result, retries included.",
		}, []string{"result"}),
		reconfigured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconfigurations_total",
			Help:      "Configurations applied, the initial one included.",
		}),
		sampleInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sample_interval_seconds",
			Help:      "Publish interval currently in effect.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful publish cycle.",
		}),
		now: time.Now,
	}
	m.registry.MustRegister(m.cycles, m.publishes, m.reconfigured, m.sampleInterval, m.lastSuccess)
	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted counts a finished cycle.
func (m *Metrics) CycleCompleted(outcome string) {
	m.cycles.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.lastSuccess.Set(float64(m.now().Unix()))
	}
}

// PublishAttempt counts one publish call.
func (m *Metrics) PublishAttempt(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.publishes.WithLabelValues(result).Inc()
}

// Reconfigured records a newly applied publish interval.
func (m *Metrics) Reconfigured(interval time.Duration) {
	m.reconfigured.Inc()
	m.sampleInterval.Set(interval.Seconds())
}
