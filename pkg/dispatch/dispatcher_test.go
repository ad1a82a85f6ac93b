package dispatch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oocsi/oocsi-go/pkg/call"
	"github.com/oocsi/oocsi-go/pkg/log"
	"github.com/oocsi/oocsi-go/pkg/subscription"
	"github.com/oocsi/oocsi-go/pkg/wire"
)

type published struct {
	channel string
	fields  map[string]any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(channel string, fields map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{channel: channel, fields: fields})
	return p.err
}

type captureLogger struct {
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) { c.events = append(c.events, ev) }

func newDispatcher() (*Dispatcher, *fakePublisher) {
	pub := &fakePublisher{}
	d := New(Config{
		Registry:   subscription.NewRegistry(nil),
		Correlator: call.NewCorrelator(),
		Services:   NewServices(),
		Publisher:  pub,
	})
	return d, pub
}

func TestDispatchChannelEvent(t *testing.T) {
	d, _ := newDispatcher()

	var got []string
	d.config.Registry.Add("room", func(sender, recipient string, fields map[string]any) {
		got = append(got, sender+"@"+recipient)
		assert.Equal(t, 1.0, fields["x"])
	})

	route := d.Dispatch(&wire.Event{Kind: wire.EventChannel, Sender: "alice", Recipient: "room", Fields: map[string]any{"x": 1.0}})
	assert.Equal(t, RouteChannel, route)
	assert.Equal(t, []string{"alice@room"}, got)
}

func TestDispatchServiceRequest(t *testing.T) {
	d, pub := newDispatcher()

	d.config.Services.Register("calc", "add", func(req map[string]any) map[string]any {
		return map[string]any{"sum": req["a"].(float64) + req["b"].(float64)}
	})
	var observed bool
	d.config.Registry.Add("calc", func(_, _ string, _ map[string]any) { observed = true })

	route := d.Dispatch(&wire.Event{
		Kind:      wire.EventServiceRequest,
		Sender:    "bob",
		Recipient: "calc",
		Service:   "add",
		CallID:    "id-1",
		Fields:    map[string]any{"a": 1.0, "b": 2.0},
	})

	assert.Equal(t, RouteService, route)
	assert.True(t, observed, "service requests also reach channel subscribers")
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "bob", pub.sent[0].channel)
	assert.Equal(t, map[string]any{"sum": 3.0, wire.FieldCallID: "id-1"}, pub.sent[0].fields)
}

func TestDispatchServiceSubscribersSeeRequest(t *testing.T) {
	d, _ := newDispatcher()

	d.config.Services.Register("calc", "add", func(req map[string]any) map[string]any {
		req["a"] = 100.0
		req["scratch"] = true
		return map[string]any{"sum": 0.0}
	})
	var seen map[string]any
	d.config.Registry.Add("calc", func(_, _ string, fields map[string]any) { seen = fields })

	d.Dispatch(&wire.Event{
		Kind:      wire.EventServiceRequest,
		Sender:    "bob",
		Recipient: "calc",
		Service:   "add",
		CallID:    "id-1",
		Fields:    map[string]any{"a": 1.0, "b": 2.0},
	})

	// Subscribers get the request as received: no handler edits, no markers.
	assert.Equal(t, map[string]any{"a": 1.0, "b": 2.0}, seen)
}

func TestDispatchServiceNilResponse(t *testing.T) {
	d, pub := newDispatcher()
	d.config.Services.Register("calc", "noop", func(map[string]any) map[string]any { return nil })

	d.Dispatch(&wire.Event{Kind: wire.EventServiceRequest, Sender: "bob", Recipient: "calc", Service: "noop", CallID: "id-2"})

	require.Len(t, pub.sent, 1)
	assert.Equal(t, map[string]any{wire.FieldCallID: "id-2"}, pub.sent[0].fields)
}

func TestDispatchServicePanicIsContained(t *testing.T) {
	d, pub := newDispatcher()
	d.config.Services.Register("calc", "boom", func(map[string]any) map[string]any { panic("bad input") })

	var observed bool
	d.config.Registry.Add("calc", func(_, _ string, _ map[string]any) { observed = true })

	route := d.Dispatch(&wire.Event{Kind: wire.EventServiceRequest, Sender: "bob", Recipient: "calc", Service: "boom", CallID: "id-3"})
	assert.Equal(t, RouteService, route)
	assert.Empty(t, pub.sent)
	assert.True(t, observed)
}

func TestDispatchServiceReplyFailureIsLogged(t *testing.T) {
	d, pub := newDispatcher()
	pub.err = errors.New("not connected")
	d.config.Services.Register("calc", "add", func(map[string]any) map[string]any { return map[string]any{} })

	route := d.Dispatch(&wire.Event{Kind: wire.EventServiceRequest, Sender: "bob", Recipient: "calc", Service: "add", CallID: "id-4"})
	assert.Equal(t, RouteService, route)
}

func TestDispatchUnregisteredServiceIsDropped(t *testing.T) {
	d, pub := newDispatcher()

	var observed bool
	d.config.Registry.Add("calc", func(_, _ string, _ map[string]any) { observed = true })

	route := d.Dispatch(&wire.Event{Kind: wire.EventServiceRequest, Sender: "bob", Recipient: "calc", Service: "missing", CallID: "id-5"})
	assert.Equal(t, RouteCallUnknown, route)
	assert.False(t, observed)
	assert.Empty(t, pub.sent)
}

func TestDispatchCallResponse(t *testing.T) {
	d, _ := newDispatcher()

	c, err := d.config.Correlator.Begin("calc", "add", time.Second)
	require.NoError(t, err)

	route := d.Dispatch(&wire.Event{Kind: wire.EventCallResponse, Sender: "calc-host", Recipient: "me", CallID: c.ID, Fields: map[string]any{"sum": 3.0}})
	assert.Equal(t, RouteCallResolved, route)
	assert.True(t, c.Resolved())
	assert.Equal(t, 3.0, c.Response()["sum"])
}

func TestDispatchExpiredCallResponse(t *testing.T) {
	d, _ := newDispatcher()

	c, err := d.config.Correlator.Begin("calc", "add", time.Nanosecond)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	route := d.Dispatch(&wire.Event{Kind: wire.EventCallResponse, Sender: "calc-host", Recipient: "me", CallID: c.ID, Fields: map[string]any{"sum": 3.0}})
	assert.Equal(t, RouteCallExpired, route)
	assert.False(t, c.Resolved())
}

func TestDispatchUnknownCallID(t *testing.T) {
	d, _ := newDispatcher()

	var observed bool
	d.config.Registry.Add("me", func(_, _ string, _ map[string]any) { observed = true })

	route := d.Dispatch(&wire.Event{Kind: wire.EventCallResponse, Sender: "x", Recipient: "me", CallID: "stale"})
	assert.Equal(t, RouteCallUnknown, route)
	assert.False(t, observed)
}

func TestDispatchTracesMessages(t *testing.T) {
	trace := &captureLogger{}
	d := New(Config{
		ProtocolLogger: trace,
		Handle:         "c_1",
		ConnectionID:   func() string { return "conn-9" },
	})

	d.Dispatch(&wire.Event{Kind: wire.EventChannel, Sender: "alice", Recipient: "room", Fields: map[string]any{"x": 1.0}})

	require.Len(t, trace.events, 1)
	ev := trace.events[0]
	assert.Equal(t, "conn-9", ev.ConnectionID)
	assert.Equal(t, "c_1", ev.Handle)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "CHANNEL", ev.Message.Kind)
	assert.Equal(t, "room", ev.Message.Channel)
	assert.Equal(t, "CHANNEL", ev.Message.Route)
}

func TestServicesTable(t *testing.T) {
	s := NewServices()
	h := func(map[string]any) map[string]any { return nil }

	assert.True(t, s.Register("calc", "add", h))
	assert.False(t, s.Register("calc", "sub", h))
	assert.True(t, s.Register("text", "upper", h))
	assert.False(t, s.Register("calc", "add", h), "re-registering replaces the handler")

	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"calc", "text"}, s.Channels())

	_, ok := s.Lookup("sub")
	assert.True(t, ok)
	assert.True(t, s.Unregister("sub"))
	_, ok = s.Lookup("sub")
	assert.False(t, ok)
	assert.False(t, s.Unregister("sub"))
}
