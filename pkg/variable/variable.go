// Package variable binds a filtered numeric value to a channel key.
//
// A Variable subscribes to its channel on creation. Every incoming event
// carrying the key, and every local Set, passes the same filter:
//
//  1. clamp to Min / Max when the value is outside a configured bound;
//  2. otherwise, with a sigma configured and a current mean, replace a value
//     further than sigma from the mean by mean ± sigma/n, where n is the
//     number of values in the window (at least 1).
//
// Filtered values either replace the single stored value or, after Smooth,
// enter a sliding window whose mean Get returns. Set also publishes the
// filtered value on the channel.
package variable

import (
	"encoding/json"
	"log/slog"
	"math"
	"sync"

	"github.com/oocsi/oocsi-go/pkg/subscription"
)

// Number is the set of value types a Variable can hold.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Channel is the part of a client a Variable needs.
type Channel interface {
	Subscribe(channel string, cb subscription.Callback) error
	Publish(channel string, fields map[string]any) error
}

// Variable is a channel-bound, filtered value. It is safe for concurrent use.
type Variable[T Number] struct {
	ch      Channel
	channel string
	key     string
	logger  *slog.Logger

	mu       sync.RWMutex
	value    float64
	hasValue bool
	window   []float64
	size     int
	min      *float64
	max      *float64
	sigma    *float64
}

// New creates a Variable bound to key on channel and subscribes to it.
func New[T Number](ch Channel, channel, key string) (*Variable[T], error) {
	v := &Variable[T]{
		ch:      ch,
		channel: channel,
		key:     key,
		logger:  slog.Default().With("channel", channel, "key", key),
	}
	if err := ch.Subscribe(channel, v.receive); err != nil {
		return nil, err
	}
	return v, nil
}

// Channel returns the bound channel.
func (v *Variable[T]) Channel() string { return v.channel }

// Key returns the bound payload key.
func (v *Variable[T]) Key() string { return v.key }

// Get returns the window mean (after Smooth) or the stored value, and
// whether any value has been seen.
func (v *Variable[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	mean, ok := v.meanLocked()
	return T(mean), ok
}

// Value returns Get's value, or zero when nothing has been seen.
func (v *Variable[T]) Value() T {
	value, _ := v.Get()
	return value
}

// Set filters value, stores it and publishes the filtered value.
func (v *Variable[T]) Set(value T) error {
	v.mu.Lock()
	filtered := v.filterLocked(float64(value))
	v.storeLocked(filtered)
	v.mu.Unlock()

	return v.ch.Publish(v.channel, map[string]any{v.key: T(filtered)})
}

// Min sets the lower bound and clamps the stored value.
func (v *Variable[T]) Min(lo T) *Variable[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	bound := float64(lo)
	v.min = &bound
	if v.hasValue && v.value < bound {
		v.value = bound
	}
	return v
}

// Max sets the upper bound and clamps the stored value.
func (v *Variable[T]) Max(hi T) *Variable[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	bound := float64(hi)
	v.max = &bound
	if v.hasValue && v.value > bound {
		v.value = bound
	}
	return v
}

// Smooth enables a sliding window of size values (0 disables it) and,
// when given, the sigma outlier bound.
func (v *Variable[T]) Smooth(size int, sigma ...T) *Variable[T] {
	v.mu.Lock()
	defer v.mu.Unlock()

	if size < 0 {
		size = 0
	}
	v.size = size
	if len(v.window) > size {
		v.window = v.window[len(v.window)-size:]
	}

	v.sigma = nil
	if len(sigma) > 0 {
		s := math.Abs(float64(sigma[0]))
		v.sigma = &s
	}
	return v
}

func (v *Variable[T]) receive(_, _ string, fields map[string]any) {
	raw, ok := fields[v.key]
	if !ok {
		return
	}
	value, ok := toFloat(raw)
	if !ok {
		v.logger.Warn("Ignoring non-numeric value", "value", raw)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.storeLocked(v.filterLocked(value))
}

func (v *Variable[T]) filterLocked(value float64) float64 {
	switch {
	case v.min != nil && value < *v.min:
		return *v.min
	case v.max != nil && value > *v.max:
		return *v.max
	case v.sigma != nil:
		mean, ok := v.meanLocked()
		if !ok || math.Abs(mean-value) <= *v.sigma {
			return value
		}
		n := float64(max(len(v.window), 1))
		if mean > value {
			return mean - *v.sigma/n
		}
		return mean + *v.sigma/n
	default:
		return value
	}
}

func (v *Variable[T]) storeLocked(value float64) {
	if v.size > 0 {
		v.window = append(v.window, value)
		if len(v.window) > v.size {
			v.window = v.window[len(v.window)-v.size:]
		}
		return
	}
	v.value = value
	v.hasValue = true
}

func (v *Variable[T]) meanLocked() (float64, bool) {
	if v.size > 0 && len(v.window) > 0 {
		var sum float64
		for _, x := range v.window {
			sum += x
		}
		return sum / float64(len(v.window)), true
	}
	return v.value, v.hasValue
}

func toFloat(raw any) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
