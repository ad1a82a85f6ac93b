package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oocsi/oocsi-go/pkg/connection"
	"github.com/oocsi/oocsi-go/pkg/metrics"
	"github.com/oocsi/oocsi-go/pkg/mirror"
)

type fixedState connection.State

func (s fixedState) State() connection.State { return connection.State(s) }

type fakeLast map[string]*mirror.Record

func (f fakeLast) Last(_ context.Context, channel string) (*mirror.Record, error) {
	if rec, ok := f[channel]; ok {
		return rec, nil
	}
	return nil, redis.Nil
}

func (f fakeLast) Channels(context.Context) ([]string, error) {
	var out []string
	for ch := range f {
		out = append(out, ch)
	}
	return out, nil
}

type disabledMirror struct{}

func (disabledMirror) Last(context.Context, string) (*mirror.Record, error) {
	return nil, mirror.ErrNotConfigured
}

func (disabledMirror) Channels(context.Context) ([]string, error) {
	return nil, mirror.ErrNotConfigured
}

func newTestMux(t *testing.T, state connection.State) *http.ServeMux {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New()
	require.NoError(t, m.Register(reg))
	m.SetState(state.String())

	last := fakeLast{"room": {Channel: "room", Sender: "alice", Timestamp: time.Unix(0, 0).UTC(), Fields: map[string]any{"temp": 21}}}
	return newMux(reg, fixedState(state), last)
}

func get(t *testing.T, mux *http.ServeMux, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	mux := newTestMux(t, connection.StateConnected)

	rec := get(t, mux, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `oocsi_connection_state{state="CONNECTED"} 1`)
}

func TestHealthz(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(t, newTestMux(t, connection.StateConnected), "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, newTestMux(t, connection.StateDisconnected), "/healthz").Code)
}

func TestLastEndpoint(t *testing.T) {
	mux := newTestMux(t, connection.StateConnected)

	rec := get(t, mux, "/last/room")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"channel":"room","sender":"alice","timestamp":"1970-01-01T00:00:00Z","data":{"temp":21}}`,
		strings.TrimSpace(rec.Body.String()))

	assert.Equal(t, http.StatusNotFound, get(t, mux, "/last/hall").Code)

	list := get(t, mux, "/last")
	require.Equal(t, http.StatusOK, list.Code)
	assert.JSONEq(t, `["room"]`, list.Body.String())
}

func TestLastEndpointWithoutRedis(t *testing.T) {
	mux := newMux(prometheus.NewRegistry(), fixedState(connection.StateConnected), disabledMirror{})

	assert.Equal(t, http.StatusNotImplemented, get(t, mux, "/last").Code)
	assert.Equal(t, http.StatusNotImplemented, get(t, mux, "/last/room").Code)
}

func TestSplitChannels(t *testing.T) {
	assert.Equal(t, []string{"room", "hall"}, splitChannels(" room, ,hall "))
	assert.Nil(t, splitChannels(""))
}
