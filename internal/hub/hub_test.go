package hub

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/bridge/internal/domain"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
)

func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		return m.GetGauge().GetValue()
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestReserveCeiling(t *testing.T) {
	h := NewHub(Config{MaxConnections: 2}, nil, nil)

	require.True(t, h.Reserve())
	require.True(t, h.Reserve())
	assert.False(t, h.Reserve(), "reservations count against the ceiling")

	h.Release()
	require.True(t, h.Reserve())

	a := h.NewConnection(nil)
	h.Register(a)
	assert.False(t, h.Reserve())

	h.Unregister(a)
	assert.True(t, h.Reserve())
}

func TestBroadcastSkipsFailingConnection(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := NewHub(Config{SendBuffer: 4}, metrics.MustNew(reg), nil)

	const n = 5
	conns := make([]*Connection, n)
	for i := range conns {
		conns[i] = h.NewConnection(nil)
		h.Register(conns[i])
	}
	// A connection that cannot accept anything.
	broken := conns[2]
	broken.Send = make(chan []byte)

	delivered := h.BroadcastData([]byte(`{"type":"execution_started"}`))
	assert.Equal(t, n-1, delivered)

	for i, c := range conns {
		if c == broken {
			continue
		}
		select {
		case msg := <-c.Send:
			assert.JSONEq(t, `{"type":"execution_started"}`, string(msg), "conn %d", i)
		default:
			t.Fatalf("conn %d got nothing", i)
		}
	}

	_, ok := h.Get(broken.ID)
	assert.False(t, ok, "failing connection is dropped")
	assert.Equal(t, n-1, h.Count())
	assert.Equal(t, 1.0, metricValue(t, reg, "bridge_broadcast_drops_total"))
	assert.Equal(t, float64(n-1), metricValue(t, reg, "bridge_observer_connections"))
}

func TestBroadcastEvent(t *testing.T) {
	h := NewHub(Config{}, nil, nil)
	c := h.NewConnection(nil)
	h.Register(c)

	h.Broadcast(domain.Event{
		Type:        domain.EventTypeExecutionResumed,
		ExecutionID: "exec_1",
		Ts:          time.UnixMilli(1000),
		Payload:     struct{}{},
	})

	msg := <-c.Send
	assert.JSONEq(t, `{"type":"execution_resumed","ts":1000,"executionId":"exec_1"}`, string(msg))
}

func TestSendToUnregistered(t *testing.T) {
	h := NewHub(Config{}, nil, nil)
	c := h.NewConnection(nil)
	h.Register(c)
	h.Unregister(c)

	assert.ErrorIs(t, h.SendTo(c, []byte("x")), ErrClosed)

	_, ok := <-c.Send
	assert.False(t, ok, "send channel closed on unregister")

	// Unregistering twice is harmless.
	h.Unregister(c)
}

func TestRateLimit(t *testing.T) {
	h := NewHub(Config{MessageRate: 1, MessageBurst: 2}, nil, nil)
	c := h.NewConnection(nil)

	assert.True(t, c.Allow())
	assert.True(t, c.Allow())
	assert.False(t, c.Allow())
}
