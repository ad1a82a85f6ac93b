// Package mirror copies channel traffic into Redis.
//
// For every mirrored event the last value is stored under
// "oocsi:last:<channel>" (with a TTL) and the event is re-published on the
// Redis channel "oocsi:events:<channel>". A nil *RedisMirror is valid and
// does nothing, so callers can treat the mirror as optional.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oocsi/oocsi-go/pkg/subscription"
)

const (
	lastPrefix   = "oocsi:last:"
	eventsPrefix = "oocsi:events:"

	// DefaultTTL is how long a last value is kept.
	DefaultTTL = 24 * time.Hour

	storeTimeout = 2 * time.Second
)

// ErrNotConfigured is returned by reads on a disabled mirror.
var ErrNotConfigured = errors.New("redis mirror not configured")

// Record is a mirrored event.
type Record struct {
	Channel   string         `json:"channel"`
	Sender    string         `json:"sender"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"data"`
}

// RedisMirror writes events to Redis.
type RedisMirror struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisMirror connects to Redis at addr. An empty addr returns nil
// (mirroring disabled).
func NewRedisMirror(addr string, ttl time.Duration, logger *slog.Logger) (*RedisMirror, error) {
	if addr == "" {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("redis mirror connected", "addr", addr, "ttl", ttl)

	return &RedisMirror{client: client, ttl: ttl, logger: logger}, nil
}

// Store saves rec as the channel's last value and publishes it.
func (m *RedisMirror) Store(ctx context.Context, rec Record) error {
	if m == nil || m.client == nil {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	pipe := m.client.TxPipeline()
	pipe.Set(ctx, LastKey(rec.Channel), data, m.ttl)
	pipe.Publish(ctx, EventsChannel(rec.Channel), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror %s: %w", rec.Channel, err)
	}
	return nil
}

// Last returns the last mirrored event of channel. redis.Nil is returned
// when nothing is stored.
func (m *RedisMirror) Last(ctx context.Context, channel string) (*Record, error) {
	if m == nil || m.client == nil {
		return nil, ErrNotConfigured
	}

	data, err := m.client.Get(ctx, LastKey(channel)).Bytes()
	if err != nil {
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Channels lists channels that currently have a stored last value.
func (m *RedisMirror) Channels(ctx context.Context) ([]string, error) {
	if m == nil || m.client == nil {
		return nil, ErrNotConfigured
	}

	var channels []string
	iter := m.client.Scan(ctx, 0, lastPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		channels = append(channels, strings.TrimPrefix(iter.Val(), lastPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return channels, nil
}

// Callback returns a subscription callback that mirrors every event it
// receives. Failures are logged.
func (m *RedisMirror) Callback() subscription.Callback {
	return func(sender, recipient string, fields map[string]any) {
		if m == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()

		rec := Record{Channel: recipient, Sender: sender, Timestamp: time.Now(), Fields: fields}
		if err := m.Store(ctx, rec); err != nil {
			m.logger.Warn("redis mirror failed", "channel", recipient, "error", err)
		}
	}
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// LastKey returns the Redis key holding channel's last value.
func LastKey(channel string) string {
	return lastPrefix + channel
}

// EventsChannel returns the Redis pub/sub channel events are published on.
func EventsChannel(channel string) string {
	return eventsPrefix + channel
}
