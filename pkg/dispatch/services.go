package dispatch

import (
	"sync"
)

// ServiceHandler answers a service request. The returned map is sent back
// to the caller; nil sends an empty response.
type ServiceHandler func(request map[string]any) map[string]any

type service struct {
	channel string
	handler ServiceHandler
}

// Services maps service names to handlers and remembers the channels the
// services listen on. It is safe for concurrent use.
type Services struct {
	mu       sync.RWMutex
	byName   map[string]service
	channels []string
}

// NewServices creates an empty service table.
func NewServices() *Services {
	return &Services{byName: make(map[string]service)}
}

// Register binds name to handler on channel, replacing an earlier handler
// of the same name. It reports whether channel is new to the table.
func (s *Services) Register(channel, name string, handler ServiceHandler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byName[name] = service{channel: channel, handler: handler}
	for _, ch := range s.channels {
		if ch == channel {
			return false
		}
	}
	s.channels = append(s.channels, channel)
	return true
}

// Unregister removes the service name. Its channel stays subscribed.
func (s *Services) Unregister(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byName[name]
	delete(s.byName, name)
	return ok
}

// Lookup returns the handler registered for name.
func (s *Services) Lookup(name string) (ServiceHandler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.byName[name]
	return svc.handler, ok
}

// Channels returns the service channels in registration order.
func (s *Services) Channels() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.channels...)
}

// Len returns the number of registered services.
func (s *Services) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byName)
}
