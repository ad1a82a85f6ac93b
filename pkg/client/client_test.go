package client

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oocsi/oocsi-go/internal/testserver"
	"github.com/oocsi/oocsi-go/pkg/connection"
	"github.com/oocsi/oocsi-go/pkg/device"
	"github.com/oocsi/oocsi-go/pkg/metrics"
	"github.com/oocsi/oocsi-go/pkg/variable"
)

const waitFor = 2 * time.Second
const tick = 10 * time.Millisecond

// recorder collects callback invocations.
type recorder struct {
	mu    sync.Mutex
	calls []string
	last  map[string]any
}

func (r *recorder) callback(tag string) func(sender, recipient string, fields map[string]any) {
	return func(sender, recipient string, fields map[string]any) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, tag)
		r.last = fields
	}
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) lastFields() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func testConfig(srv *testserver.Server, handle string) Config {
	cfg := DefaultConfig()
	cfg.Address = srv.Addr()
	cfg.Handle = handle
	cfg.ReconnectDelay = 20 * time.Millisecond
	cfg.HandshakeTimeout = time.Second
	return cfg
}

func connect(t *testing.T, cfg Config) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	c, err := Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		c.Stop()
		<-c.Done()
	})
	return c
}

func subscribed(t *testing.T, srv *testserver.Server, handle, channel string) {
	t.Helper()
	require.Eventually(t, func() bool { return srv.Subscribed(handle, channel) }, waitFor, tick)
}

func TestExpandHandle(t *testing.T) {
	tests := []struct {
		template string
		pattern  string
	}{
		{"c_###", `^c_\d{3}$`},
		{"sensor", `^sensor$`},
		{"", `^OOCSIClient_\d{4}$`},
		{"   ", `^OOCSIClient_\d{4}$`},
		{"#a#", `^\da\d$`},
	}

	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			assert.Regexp(t, regexp.MustCompile(tt.pattern), ExpandHandle(tt.template))
		})
	}
}

func TestNewExpandsHandle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Handle = "c_###"
	c, err := New(cfg)
	require.NoError(t, err)
	assert.Regexp(t, `^c_\d{3}$`, c.Handle())
	assert.Equal(t, connection.StateDisconnected, c.State())

	cfg.Handle = "bad handle"
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestSubscribeFanOutInOrder(t *testing.T) {
	srv := testserver.Start(t)
	c := connect(t, testConfig(srv, "c_200"))

	rec := &recorder{}
	require.NoError(t, c.Subscribe("room", rec.callback("f1")))
	require.NoError(t, c.Subscribe("room", rec.callback("f2")))
	require.NoError(t, c.Subscribe("room", rec.callback("f3")))
	subscribed(t, srv, "c_200", "room")

	assert.Equal(t, 1, srv.Publish("alice", "room", map[string]any{"temp": 21}))
	require.Eventually(t, func() bool { return len(rec.got()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"f1", "f2", "f3"}, rec.got())
	assert.Equal(t, float64(21), rec.lastFields()["temp"])

	// Every Subscribe is sent; the server keeps a single subscription.
	require.Eventually(t, func() bool {
		return len(srv.LinesWithPrefix("c_200", "subscribe room")) == 3
	}, waitFor, tick)
	assert.Equal(t, 1, srv.Publish("alice", "room", map[string]any{"temp": 22}))
	require.Eventually(t, func() bool { return len(rec.got()) == 6 }, waitFor, tick)
}

func TestUnsubscribeSilencesChannel(t *testing.T) {
	srv := testserver.Start(t)
	c := connect(t, testConfig(srv, "c_201"))

	room := &recorder{}
	marker := &recorder{}
	require.NoError(t, c.Subscribe("room", room.callback("room")))
	require.NoError(t, c.Subscribe("marker", marker.callback("marker")))
	subscribed(t, srv, "c_201", "room")
	subscribed(t, srv, "c_201", "marker")

	require.NoError(t, c.Unsubscribe("room"))
	require.Eventually(t, func() bool { return !srv.Subscribed("c_201", "room") }, waitFor, tick)

	// The registry drops the callbacks even if the server still delivered.
	require.NoError(t, srv.Send("c_201", `{"sender":"alice","recipient":"room","temp":1}`))
	srv.Publish("alice", "marker", map[string]any{"done": true})

	require.Eventually(t, func() bool { return len(marker.got()) == 1 }, waitFor, tick)
	assert.Empty(t, room.got())
	assert.Len(t, srv.LinesWithPrefix("c_201", "unsubscribe room"), 1)
}

func TestCallAcrossClients(t *testing.T) {
	srv := testserver.Start(t)
	reg := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(reg))

	server := connect(t, testConfig(srv, "calc_svc"))
	callerCfg := testConfig(srv, "caller_1")
	callerCfg.Metrics = m
	caller := connect(t, callerCfg)

	require.NoError(t, server.Register("calc", "add", func(req map[string]any) map[string]any {
		a, _ := req["a"].(float64)
		b, _ := req["b"].(float64)
		return map[string]any{"sum": a + b}
	}))
	subscribed(t, srv, "calc_svc", "calc")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	pending, err := caller.CallAndWait(ctx, "calc", "add", map[string]any{"a": 1, "b": 2}, time.Second)
	require.NoError(t, err)
	require.True(t, pending.Resolved())
	assert.Equal(t, float64(3), pending.Response()["sum"])
	assert.NotContains(t, pending.Response(), "_MESSAGE_ID")
	assert.Equal(t, 0, caller.PendingCalls())

	expected := `
# HELP oocsi_client_calls_total Total number of calls by outcome
# TYPE oocsi_client_calls_total counter
oocsi_client_calls_total{outcome="resolved"} 1
oocsi_client_calls_total{outcome="started"} 1
`
	require.Eventually(t, func() bool {
		return testutil.GatherAndCompare(reg, strings.NewReader(expected), "oocsi_client_calls_total") == nil
	}, waitFor, tick)
}

func TestCallTimesOutUnresolved(t *testing.T) {
	srv := testserver.Start(t)
	reg := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(reg))

	cfg := testConfig(srv, "c_202")
	cfg.Metrics = m
	c := connect(t, cfg)

	start := time.Now()
	pending, err := c.CallAndWait(context.Background(), "nobody", "echo", nil, 100*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, pending.Resolved())
	assert.Nil(t, pending.Response())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	expected := `
# HELP oocsi_client_calls_total Total number of calls by outcome
# TYPE oocsi_client_calls_total counter
oocsi_client_calls_total{outcome="started"} 1
oocsi_client_calls_total{outcome="timeout"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "oocsi_client_calls_total"))
}

func TestCallIDsAreUnique(t *testing.T) {
	srv := testserver.Start(t)
	c := connect(t, testConfig(srv, "c_203"))

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for range n {
		wg.Go(func() {
			pending, err := c.Call("nobody", "echo", nil, time.Minute)
			if err == nil {
				ids <- pending.ID
			}
		})
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestResubscribesAfterKick(t *testing.T) {
	srv := testserver.Start(t)
	c := connect(t, testConfig(srv, "c_204"))

	rec := &recorder{}
	require.NoError(t, c.Subscribe("room", rec.callback("room")))
	require.NoError(t, c.Register("svc", "echo", func(req map[string]any) map[string]any { return req }))
	subscribed(t, srv, "c_204", "room")

	srv.Kick("c_204")
	require.Eventually(t, func() bool {
		return srv.Handshakes("c_204") == 2 && srv.Subscribed("c_204", "room") && srv.Subscribed("c_204", "svc")
	}, waitFor, tick)

	srv.Publish("alice", "room", map[string]any{"after": "reconnect"})
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	assert.Equal(t, "reconnect", rec.lastFields()["after"])
}

func TestNoBackfill(t *testing.T) {
	srv := testserver.Start(t)
	c := connect(t, testConfig(srv, "c_205"))

	assert.Equal(t, 0, srv.Publish("alice", "late", map[string]any{"n": 1}))

	rec := &recorder{}
	require.NoError(t, c.Subscribe("late", rec.callback("late")))
	subscribed(t, srv, "c_205", "late")

	srv.Publish("alice", "late", map[string]any{"n": 2})
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	assert.Equal(t, float64(2), rec.lastFields()["n"])
}

func TestOnMessageReceivesDirectEvents(t *testing.T) {
	srv := testserver.Start(t)
	rec := &recorder{}
	cfg := testConfig(srv, "c_206")
	cfg.OnMessage = rec.callback("direct")
	connect(t, cfg)

	srv.Publish("alice", "c_206", map[string]any{"hello": "you"})
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	assert.Empty(t, srv.LinesWithPrefix("c_206", "subscribe"))
}

func TestPublishBetweenClients(t *testing.T) {
	srv := testserver.Start(t)
	reg := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(reg))

	pubCfg := testConfig(srv, "pub_1")
	pubCfg.Metrics = m
	pub := connect(t, pubCfg)
	sub := connect(t, testConfig(srv, "sub_1"))

	rec := &recorder{}
	var sender string
	var mu sync.Mutex
	require.NoError(t, sub.Subscribe("room", func(s, r string, fields map[string]any) {
		mu.Lock()
		sender = s
		mu.Unlock()
		rec.callback("room")(s, r, fields)
	}))
	subscribed(t, srv, "sub_1", "room")

	require.NoError(t, pub.Publish("room", map[string]any{"on": true}))
	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)

	mu.Lock()
	assert.Equal(t, "pub_1", sender)
	mu.Unlock()
	assert.Equal(t, true, rec.lastFields()["on"])

	expected := `
# HELP oocsi_client_published_total Total number of publish attempts
# TYPE oocsi_client_published_total counter
oocsi_client_published_total{status="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "oocsi_client_published_total"))
}

func TestPublishWhileDisconnected(t *testing.T) {
	c, err := New(Config{Address: "127.0.0.1:1", Handle: "c_207"})
	require.NoError(t, err)

	err = c.Publish("room", map[string]any{"x": 1})
	assert.True(t, errors.Is(err, connection.ErrNotConnected))

	// Subscribing while disconnected is deferred to the next handshake.
	assert.NoError(t, c.Subscribe("room", func(string, string, map[string]any) {}))

	_, err = c.Call("room", "svc", nil, 0)
	assert.True(t, errors.Is(err, connection.ErrNotConnected))
	assert.Equal(t, 0, c.PendingCalls())
}

func TestConnectRejected(t *testing.T) {
	srv := testserver.Start(t)
	srv.Reject("taken")

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	_, err := Connect(ctx, testConfig(srv, "taken"))
	assert.True(t, errors.Is(err, connection.ErrRejected))
}

func TestDeviceAnnouncement(t *testing.T) {
	srv := testserver.Start(t)
	lamp := connect(t, testConfig(srv, "lamp_1"))
	watcher := connect(t, testConfig(srv, "watcher"))

	rec := &recorder{}
	require.NoError(t, watcher.Subscribe(device.AnnounceChannel, rec.callback("announce")))
	subscribed(t, srv, "watcher", device.AnnounceChannel)

	require.NoError(t, lamp.Device("desk_lamp").
		AddLight(device.Light{Name: "bulb", Channel: "lamp", LEDType: "RGB", Spectrum: "RGB"}).
		Submit())

	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, waitFor, tick)
	doc, ok := rec.lastFields()["desk_lamp"].(map[string]any)
	require.True(t, ok)
	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "lamp_1", props["device_id"])
}

func TestVariableBoundToClient(t *testing.T) {
	srv := testserver.Start(t)
	c := connect(t, testConfig(srv, "c_208"))
	other := connect(t, testConfig(srv, "c_209"))

	v, err := variable.New[float64](c, "dial", "level")
	require.NoError(t, err)
	v.Max(100)
	subscribed(t, srv, "c_208", "dial")

	require.NoError(t, other.Publish("dial", map[string]any{"level": 42}))
	require.Eventually(t, func() bool { return v.Value() == 42 }, waitFor, tick)

	require.NoError(t, other.Publish("dial", map[string]any{"level": 150}))
	require.Eventually(t, func() bool { return v.Value() == 100 }, waitFor, tick)
}
