// Package metrics exposes Prometheus collectors for bridge activity.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

const namespace = "bridge"

// Metrics holds the bridge collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	executions          *prometheus.CounterVec
	executionsActive    prometheus.Gauge
	executionDuration   *prometheus.HistogramVec
	admissionRejections prometheus.Counter
	pendingInputs       prometheus.Gauge
	connections         prometheus.Gauge
	broadcastDrops      prometheus.Counter
	healthState         prometheus.Gauge
}

// MustNew constructs Metrics registered with reg. Registration errors panic,
// mirroring promauto.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Executions that reached a terminal status.",
		}, []string{"status"}),
		executionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executions_active",
			Help:      "Admitted executions that have not reached a terminal status.",
		}),
		executionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Time from start to terminal status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"status"}),
		admissionRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Execute calls rejected because the concurrency ceiling was reached.",
		}),
		pendingInputs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_inputs",
			Help:      "Live input requests awaiting an answer.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observer_connections",
			Help:      "Connected observers.",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Observer connections dropped because delivery failed.",
		}),
		healthState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_state",
			Help:      "Host health: 0 available, 1 degraded, 2 unavailable.",
		}),
	}
	reg.MustRegister(
		m.executions,
		m.executionsActive,
		m.executionDuration,
		m.admissionRejections,
		m.pendingInputs,
		m.connections,
		m.broadcastDrops,
		m.healthState,
	)
	return m
}

// ExecutionAdmitted records an admission.
func (m *Metrics) ExecutionAdmitted() {
	if m == nil {
		return
	}
	m.executionsActive.Inc()
}

// ExecutionRejected records a capacity rejection.
func (m *Metrics) ExecutionRejected() {
	if m == nil {
		return
	}
	m.admissionRejections.Inc()
}

// ExecutionFinished records a terminal transition.
func (m *Metrics) ExecutionFinished(status domain.ExecutionStatus, d time.Duration) {
	if m == nil {
		return
	}
	m.executionsActive.Dec()
	m.executions.WithLabelValues(string(status)).Inc()
	m.executionDuration.WithLabelValues(string(status)).Observe(d.Seconds())
}

// SetPendingInputs sets the number of live input requests.
func (m *Metrics) SetPendingInputs(n int) {
	if m == nil {
		return
	}
	m.pendingInputs.Set(float64(n))
}

// SetConnections sets the number of connected observers.
func (m *Metrics) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

// BroadcastDropped records a connection dropped during fan-out.
func (m *Metrics) BroadcastDropped() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

// SetHealth records the current health state.
func (m *Metrics) SetHealth(s domain.HealthStatus) {
	if m == nil {
		return
	}
	switch s {
	case domain.HealthAvailable:
		m.healthState.Set(0)
	case domain.HealthDegraded:
		m.healthState.Set(1)
	case domain.HealthUnavailable:
		m.healthState.Set(2)
	}
}
