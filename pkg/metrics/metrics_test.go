package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oocsi/oocsi-go/pkg/log"
)

func TestRegister(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	// A second registration of the same collectors fails.
	assert.Error(t, m.Register(reg))
}

func TestSetState(t *testing.T) {
	m := New()

	m.SetState("HANDSHAKING")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("HANDSHAKING")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("CONNECTED")))

	m.SetState("CONNECTED")
	m.SetState("DISCONNECTED")
	m.SetState("CONNECTED")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("CONNECTED")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("DISCONNECTED")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.connects))
}

func TestCounters(t *testing.T) {
	m := New()

	m.Dispatched("CHANNEL")
	m.Dispatched("CHANNEL")
	m.Dispatched("SERVICE")
	m.Published(nil)
	m.Published(errors.New("not connected"))
	m.Call("started")
	m.SetSubscriptions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dispatched.WithLabelValues("CHANNEL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dispatched.WithLabelValues("SERVICE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("started")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.subscriptions))
}

func TestLogCountsTransportLines(t *testing.T) {
	m := New()

	m.Log(log.Event{Direction: log.DirectionOut, Layer: log.LayerTransport, Line: &log.LineEvent{Size: 11}})
	m.Log(log.Event{Direction: log.DirectionIn, Layer: log.LayerTransport, Line: &log.LineEvent{Size: 1}})
	m.Log(log.Event{Direction: log.DirectionIn, Layer: log.LayerTransport, Line: &log.LineEvent{Size: 4}})
	m.Log(log.Event{Direction: log.DirectionIn, Layer: log.LayerWire, Message: &log.MessageEvent{}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.lines.WithLabelValues("OUT")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.lines.WithLabelValues("IN")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.lineBytes.WithLabelValues("IN")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Register(prometheus.NewRegistry()))
	m.SetState("CONNECTED")
	m.Dispatched("CHANNEL")
	m.Published(nil)
	m.Call("started")
	m.SetSubscriptions(1)
	m.Log(log.Event{Line: &log.LineEvent{}})
}
