package subscription

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// Callback receives an event delivered on a subscribed channel.
type Callback func(sender, recipient string, fields map[string]any)

// Registry maps channels to ordered callback lists. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	callbacks map[string][]Callback
	order     []string

	logger *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		callbacks: make(map[string][]Callback),
		logger:    logger,
	}
}

// Add appends cb to channel's callbacks. It reports whether this is the
// channel's first callback.
func (r *Registry) Add(channel string, cb Callback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.callbacks[channel]
	if !ok {
		r.order = append(r.order, channel)
	}
	r.callbacks[channel] = append(existing, cb)
	return !ok
}

// Remove drops channel and all of its callbacks. It reports whether the
// channel was present.
func (r *Registry) Remove(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.callbacks[channel]; !ok {
		return false
	}
	delete(r.callbacks, channel)
	for i, ch := range r.order {
		if ch == channel {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Channels returns the subscribed channels in first-subscription order.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has reports whether channel has at least one callback.
func (r *Registry) Has(channel string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.callbacks[channel]
	return ok
}

// Count returns the number of callbacks registered for channel.
func (r *Registry) Count(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.callbacks[channel])
}

// Deliver invokes every callback of recipient in order and returns how many
// ran without panicking. Callbacks run outside the registry lock, so they
// may subscribe or unsubscribe.
func (r *Registry) Deliver(sender, recipient string, fields map[string]any) int {
	r.mu.RLock()
	cbs := append([]Callback(nil), r.callbacks[recipient]...)
	r.mu.RUnlock()

	delivered := 0
	for i, cb := range cbs {
		if err := r.invoke(cb, sender, recipient, maps.Clone(fields)); err != nil {
			r.logger.Error("Subscriber callback failed", "channel", recipient, "index", i, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) invoke(cb Callback, sender, recipient string, fields map[string]any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if fields == nil {
		fields = map[string]any{}
	}
	cb(sender, recipient, fields)
	return nil
}
