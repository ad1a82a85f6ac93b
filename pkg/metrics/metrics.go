// Package metrics exposes client activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing. Metrics also implements
// log.Logger so it can be chained into the protocol trace to count lines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oocsi/oocsi-go/pkg/log"
)

const namespace = "oocsi"

// States lists the label values of the connection_state gauge.
var States = []string{"DISCONNECTED", "HANDSHAKING", "CONNECTED", "CLOSED"}

// Metrics holds the client collectors.
type Metrics struct {
	connectionState *prometheus.GaugeVec   // By state, 1 for the current one
	connects        prometheus.Counter     // Acknowledged handshakes
	lines           *prometheus.CounterVec // By direction
	lineBytes       *prometheus.CounterVec // By direction
	dispatched      *prometheus.CounterVec // By route
	published       *prometheus.CounterVec // By status (ok/error)
	calls           *prometheus.CounterVec // By outcome
	subscriptions   prometheus.Gauge
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state",
			Help:      "Current connection state (1 for the active state)",
		}, []string{"state"}),

		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "connects_total",
			Help:      "Total number of acknowledged handshakes",
		}),

		lines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "lines_total",
			Help:      "Total number of protocol lines",
		}, []string{"direction"}),

		lineBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "line_bytes_total",
			Help:      "Total number of protocol line bytes (without newline)",
		}, []string{"direction"}),

		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "events_dispatched_total",
			Help:      "Total number of incoming events by route",
		}, []string{"route"}),

		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "published_total",
			Help:      "Total number of publish attempts",
		}, []string{"status"}),

		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Total number of calls by outcome",
		}, []string{"outcome"}), // outcome: started, resolved, timeout, late

		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "subscribed_channels",
			Help:      "Number of channels with at least one callback",
		}),
	}
}

// Register registers every collector with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil {
		return nil
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.connectionState, m.connects, m.lines, m.lineBytes,
		m.dispatched, m.published, m.calls, m.subscriptions,
	}
}

// SetState marks state as the current connection state.
func (m *Metrics) SetState(state string) {
	if m == nil {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
	if state == "CONNECTED" {
		m.connects.Inc()
	}
}

// Dispatched counts an incoming event routed as route.
func (m *Metrics) Dispatched(route string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(route).Inc()
}

// Published counts a publish attempt.
func (m *Metrics) Published(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.published.WithLabelValues(status).Inc()
}

// Call counts a call lifecycle step: started, resolved, timeout (the
// waiter gave up) or late (a response arrived after expiry).
func (m *Metrics) Call(outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(outcome).Inc()
}

// SetSubscriptions sets the number of subscribed channels.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// Log counts transport line events.
func (m *Metrics) Log(event log.Event) {
	if m == nil || event.Line == nil || event.Layer != log.LayerTransport {
		return
	}
	dir := event.Direction.String()
	m.lines.WithLabelValues(dir).Inc()
	m.lineBytes.WithLabelValues(dir).Add(float64(event.Line.Size))
}

var _ log.Logger = (*Metrics)(nil)
