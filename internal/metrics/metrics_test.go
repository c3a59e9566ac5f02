package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/xiaot623/gogo/bridge/internal/domain"
)

func TestMetrics(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.ExecutionAdmitted()
	m.ExecutionAdmitted()
	m.ExecutionFinished(domain.ExecutionStatusSucceeded, 20*time.Millisecond)
	m.ExecutionRejected()
	m.SetPendingInputs(3)
	m.SetConnections(2)
	m.BroadcastDropped()
	m.SetHealth(domain.HealthUnavailable)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.executionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionRejections))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.pendingInputs))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastDrops))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.healthState))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ExecutionAdmitted()
		m.ExecutionRejected()
		m.ExecutionFinished(domain.ExecutionStatusFailed, time.Second)
		m.SetPendingInputs(1)
		m.SetConnections(1)
		m.BroadcastDropped()
		m.SetHealth(domain.HealthDegraded)
	})
}
