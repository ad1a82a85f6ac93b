package connection

import (
	"math/rand"
	"sync"
	"time"
)

// Reconnect defaults. A lost stream is retried after a fixed delay.
const (
	// DefaultReconnectDelay is the delay between reconnection attempts.
	DefaultReconnectDelay = 5 * time.Second

	// DefaultMaxBackoff caps a growing backoff.
	DefaultMaxBackoff = 60 * time.Second
)

// Backoff calculates reconnection delays, optionally growing and jittered.
type Backoff struct {
	mu sync.Mutex

	// Current backoff delay (before jitter)
	current time.Duration

	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	attempts int

	rng *rand.Rand
}

// BackoffConfig allows customizing backoff parameters.
// The zero value gives a fixed DefaultReconnectDelay without jitter.
type BackoffConfig struct {
	// Initial is the first delay (default: DefaultReconnectDelay).
	Initial time.Duration

	// Max caps the delay (default: Initial when Multiplier is 1, else DefaultMaxBackoff).
	Max time.Duration

	// Multiplier grows the delay after each attempt (default: 1, i.e. fixed).
	Multiplier float64

	// Jitter adds up to Jitter*delay of random extra wait.
	Jitter float64
}

// NewBackoff creates a fixed-delay backoff with DefaultReconnectDelay.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Initial <= 0 {
		cfg.Initial = DefaultReconnectDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.Max <= 0 {
		if cfg.Multiplier == 1 {
			cfg.Max = cfg.Initial
		} else {
			cfg.Max = DefaultMaxBackoff
		}
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = cfg.Initial
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		current:    cfg.Initial,
		initial:    cfg.Initial,
		max:        cfg.Max,
		multiplier: cfg.Multiplier,
		jitter:     cfg.Jitter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Next returns the next backoff delay (with jitter) and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.addJitter(b.current)

	b.attempts++
	next := time.Duration(float64(b.current) * b.multiplier)
	if next > b.max {
		next = b.max
	}
	b.current = next

	return delay
}

// Reset resets the backoff to initial values.
// Call this after a successful handshake.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
	b.attempts = 0
}

// Attempts returns the number of backoff attempts since last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the current base backoff (without jitter).
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) addJitter(d time.Duration) time.Duration {
	if b.jitter <= 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.jitter*b.rng.Float64())
}
