package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyAddressDisablesMirror(t *testing.T) {
	m, err := NewRedisMirror("", time.Minute, nil)
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestNilMirrorIsSafe(t *testing.T) {
	var m *RedisMirror
	ctx := context.Background()

	assert.NoError(t, m.Store(ctx, Record{Channel: "room"}))
	assert.NoError(t, m.Close())

	_, err := m.Last(ctx, "room")
	assert.True(t, errors.Is(err, ErrNotConfigured))

	_, err = m.Channels(ctx)
	assert.True(t, errors.Is(err, ErrNotConfigured))

	cb := m.Callback()
	cb("alice", "room", map[string]any{"x": 1})
}

func TestUnreachableRedis(t *testing.T) {
	// Port 1 on loopback refuses connections.
	_, err := NewRedisMirror("127.0.0.1:1", time.Minute, nil)
	assert.Error(t, err)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "oocsi:last:room", LastKey("room"))
	assert.Equal(t, "oocsi:events:room", EventsChannel("room"))
}

func TestRecordJSON(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(Record{Channel: "room", Sender: "alice", Timestamp: ts, Fields: map[string]any{"temp": 21}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"channel":"room","sender":"alice","timestamp":"2026-03-01T12:00:00Z","data":{"temp":21}}`, string(data))
}
