package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Job outcomes as reported by the mirror bridge.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetry     = "retry"
	OutcomeDead      = "dead"
	OutcomeDropped   = "dropped"
)

// Metrics groups the service's prometheus collectors.
type Metrics struct {
	mirrorJobs     *prometheus.CounterVec
	mirrorDuration *prometheus.HistogramVec
	outboxDepth    prometheus.Gauge
	connections    prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg yields unregistered collectors, for tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mirrorJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quiz",
			Subsystem: "mirror",
			Name:      "jobs_total",
			Help:      "Durable mirror jobs by mutation kind and outcome.",
		}, []string{"kind", "outcome"}),
		mirrorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "quiz",
			Subsystem: "mirror",
			Name:      "job_duration_seconds",
			Help:      "Time spent writing one mirror job to durable storage.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		outboxDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quiz",
			Subsystem: "mirror",
			Name:      "outbox_depth",
			Help:      "Mutations waiting to be handed to the job queue.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quiz",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Open websocket connections.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.mirrorJobs, m.mirrorDuration, m.outboxDepth, m.connections)
	}
	return m
}

// RegisterSessionGauge exposes the number of registered sessions through count.
func RegisterSessionGauge(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "quiz",
		Name:      "live_sessions",
		Help:      "Sessions currently held in the registry.",
	}, func() float64 { return float64(count()) }))
}

func (m *Metrics) MirrorJob(kind, outcome string) {
	if m == nil {
		return
	}
	m.mirrorJobs.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) MirrorDuration(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.mirrorDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) OutboxDepth(n int) {
	if m == nil {
		return
	}
	m.outboxDepth.Set(float64(n))
}

// ConnectionOpened and ConnectionClosed track live websocket connections.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// MirrorJobs exposes the job counter, for tests.
func (m *Metrics) MirrorJobs() *prometheus.CounterVec {
	return m.mirrorJobs
}
