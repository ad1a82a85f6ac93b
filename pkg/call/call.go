// Package call correlates outgoing calls with their responses.
//
// A call is a request published on a channel with a fresh correlation id
// (_MESSAGE_ID). The first response carrying that id resolves the call;
// responses arriving after the call expired are dropped.
package call

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTimeout is used when a call is started without a timeout.
const DefaultTimeout = 1 * time.Second

// Call errors.
var (
	ErrIDExhausted = errors.New("could not allocate a unique call id")
)

// Outcome describes what Resolve did with a response.
type Outcome uint8

const (
	// OutcomeUnknown means no pending call has the id.
	OutcomeUnknown Outcome = iota

	// OutcomeResolved means the response completed a pending call.
	OutcomeResolved

	// OutcomeExpired means the call had timed out; the response was dropped.
	OutcomeExpired
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeUnknown:
		return "UNKNOWN"
	case OutcomeResolved:
		return "RESOLVED"
	case OutcomeExpired:
		return "EXPIRED"
	default:
		return "INVALID"
	}
}

// Call is a pending or finished request/response exchange.
type Call struct {
	// ID is the correlation id sent as _MESSAGE_ID.
	ID string

	// Channel is where the request was published.
	Channel string

	// Service is the requested service name.
	Service string

	// Created is when the call was started.
	Created time.Time

	// Expires is when the call stops accepting a response.
	Expires time.Time

	mu       sync.Mutex
	response map[string]any
	resolved bool
	done     chan struct{}
	once     sync.Once
}

// Done returns a channel that is closed once the call is resolved,
// cancelled or reaped.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Resolved reports whether a response arrived in time.
func (c *Call) Resolved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolved
}

// Response returns the response payload, or nil if unresolved.
func (c *Call) Response() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.response
}

// Expired reports whether the call's deadline has passed at now.
func (c *Call) Expired(now time.Time) bool {
	return !now.Before(c.Expires)
}

// Wait blocks until the call is resolved, its deadline passes or ctx ends,
// and reports whether it was resolved.
func (c *Call) Wait(ctx context.Context) bool {
	timer := time.NewTimer(time.Until(c.Expires))
	defer timer.Stop()

	select {
	case <-c.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	return c.Resolved()
}

func (c *Call) finish(response map[string]any) {
	c.once.Do(func() {
		c.mu.Lock()
		if response != nil {
			c.response = response
			c.resolved = true
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Correlator tracks pending calls. It is safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Call

	newID func() (uuid.UUID, error)
	now   func() time.Time
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[string]*Call),
		newID:   uuid.NewRandom,
		now:     time.Now,
	}
}

// Begin registers a new pending call. A non-positive timeout uses
// DefaultTimeout.
func (c *Correlator) Begin(channel, service string, timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for attempt := 0; attempt < 8; attempt++ {
		id, err := c.newID()
		if err != nil {
			return nil, err
		}
		key := id.String()
		if _, taken := c.pending[key]; taken {
			continue
		}

		now := c.now()
		call := &Call{
			ID:      key,
			Channel: channel,
			Service: service,
			Created: now,
			Expires: now.Add(timeout),
			done:    make(chan struct{}),
		}
		c.pending[key] = call
		return call, nil
	}
	return nil, ErrIDExhausted
}

// Resolve completes the pending call with id. Expired calls are removed
// and the response dropped.
func (c *Correlator) Resolve(id string, response map[string]any) Outcome {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	now := c.now()
	c.mu.Unlock()

	if !ok {
		return OutcomeUnknown
	}
	if call.Expired(now) {
		call.finish(nil)
		return OutcomeExpired
	}
	if response == nil {
		response = map[string]any{}
	}
	call.finish(response)
	return OutcomeResolved
}

// Cancel drops a pending call without resolving it.
func (c *Correlator) Cancel(id string) bool {
	c.mu.Lock()
	call, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()

	if ok {
		call.finish(nil)
	}
	return ok
}

// Reap removes expired calls and returns how many were removed.
func (c *Correlator) Reap() int {
	c.mu.Lock()
	now := c.now()
	var expired []*Call
	for id, call := range c.pending {
		if call.Expired(now) {
			expired = append(expired, call)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	for _, call := range expired {
		call.finish(nil)
	}
	return len(expired)
}

// Pending returns the number of calls awaiting a response.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
