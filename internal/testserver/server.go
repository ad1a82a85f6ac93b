// Package testserver provides an in-process OOCSI server for tests.
//
// It implements just enough of the server side to exercise clients:
// handshakes (with optional rejection), subscriptions, sendraw routing to
// channel subscribers and to handles, heartbeats and connection kicks.
package testserver

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oocsi/oocsi-go/pkg/transport"
	"github.com/oocsi/oocsi-go/pkg/wire"
)

// Server is a fake OOCSI server listening on 127.0.0.1.
type Server struct {
	ln *transport.Listener

	mu         sync.Mutex
	clients    map[string]*client
	rejected   map[string]bool
	lines      map[string][]string
	handshakes map[string]int
	closed     bool
	wg         sync.WaitGroup
}

type client struct {
	handle string
	conn   *transport.Conn
	subs   map[string]bool
}

// Start starts a server on a random port. It is closed on test cleanup.
func Start(t testing.TB) *Server {
	t.Helper()

	ln, err := transport.Listen("127.0.0.1:0", nil, transport.DefaultDialConfig())
	if err != nil {
		t.Fatalf("testserver: %v", err)
	}

	s := &Server{
		ln:         ln,
		clients:    make(map[string]*client),
		rejected:   make(map[string]bool),
		lines:      make(map[string][]string),
		handshakes: make(map[string]int),
	}

	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

// Addr returns the "host:port" clients should dial.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the server and drops every connection.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := make([]*transport.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c.conn)
	}
	s.mu.Unlock()

	s.ln.Close()
	for _, conn := range conns {
		conn.Close()
	}
	s.wg.Wait()
}

// Reject makes every future handshake with handle fail.
func (s *Server) Reject(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected[handle] = true
}

// Connected reports whether handle has an acknowledged session.
func (s *Server) Connected(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[handle]
	return ok
}

// Handshakes returns how many handshakes handle has completed.
func (s *Server) Handshakes(handle string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes[handle]
}

// Subscribed reports whether handle's current session is subscribed to channel.
func (s *Server) Subscribed(handle, channel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[handle]
	return ok && c.subs[channel]
}

// Lines returns every line received from handle, across sessions.
func (s *Server) Lines(handle string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lines[handle]...)
}

// LinesWithPrefix returns the received lines of handle starting with prefix.
func (s *Server) LinesWithPrefix(handle, prefix string) []string {
	var out []string
	for _, line := range s.Lines(handle) {
		if strings.HasPrefix(line, prefix) {
			out = append(out, line)
		}
	}
	return out
}

// Send writes a raw line to handle.
func (s *Server) Send(handle, line string) error {
	s.mu.Lock()
	c, ok := s.clients[handle]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("testserver: %s not connected", handle)
	}
	return c.conn.WriteLine(line)
}

// Ping sends a heartbeat to handle.
func (s *Server) Ping(handle string) error {
	return s.Send(handle, wire.TokenPing)
}

// Publish delivers an event from sender to channel as the broker would.
// It returns the number of receiving sessions.
func (s *Server) Publish(sender, channel string, fields map[string]any) int {
	return s.route(sender, channel, fields)
}

// Kick severs handle's stream without a goodbye.
func (s *Server) Kick(handle string) {
	s.mu.Lock()
	c, ok := s.clients[handle]
	if ok {
		delete(s.clients, handle)
	}
	s.mu.Unlock()

	if ok {
		c.conn.Close()
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn *transport.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	first, err := conn.ReadLine()
	if err != nil || !strings.HasSuffix(first, wire.HandshakeSuffix) {
		return
	}
	handle := strings.TrimSuffix(first, wire.HandshakeSuffix)

	s.mu.Lock()
	s.lines[handle] = append(s.lines[handle], first)
	_, taken := s.clients[handle]
	if s.rejected[handle] || taken || s.closed {
		s.mu.Unlock()
		conn.WriteLine("error (handle " + handle + " not accepted)")
		return
	}
	c := &client{handle: handle, conn: conn, subs: make(map[string]bool)}
	s.clients[handle] = c
	s.handshakes[handle]++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.clients[handle] == c {
			delete(s.clients, handle)
		}
		s.mu.Unlock()
	}()

	if err := conn.WriteLine(`{"message":"welcome ` + handle + `"}`); err != nil {
		return
	}

	for {
		line, err := conn.ReadLine()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.lines[handle] = append(s.lines[handle], line)
		s.mu.Unlock()

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case wire.CmdSubscribe:
			s.mu.Lock()
			c.subs[rest] = true
			s.mu.Unlock()
		case wire.CmdUnsubscribe:
			s.mu.Lock()
			delete(c.subs, rest)
			s.mu.Unlock()
		case wire.CmdSendRaw:
			channel, payload, _ := strings.Cut(rest, " ")
			var fields map[string]any
			if err := json.Unmarshal([]byte(payload), &fields); err != nil {
				continue
			}
			s.route(handle, channel, fields)
		case wire.CmdQuit:
			return
		}
	}
}

// route delivers to every session subscribed to channel and to the session
// whose handle equals channel.
func (s *Server) route(sender, channel string, fields map[string]any) int {
	ev := &wire.Event{
		Kind:      wire.EventChannel,
		Sender:    sender,
		Recipient: channel,
		Timestamp: time.Now(),
		Fields:    make(map[string]any, len(fields)),
	}
	for k, v := range fields {
		switch k {
		case wire.FieldServiceHandle:
			ev.Kind = wire.EventServiceRequest
			ev.Service, _ = v.(string)
		case wire.FieldCallID:
			ev.CallID, _ = v.(string)
			if ev.Kind == wire.EventChannel {
				ev.Kind = wire.EventCallResponse
			}
		default:
			ev.Fields[k] = v
		}
	}
	line, err := wire.EncodeEvent(ev)
	if err != nil {
		return 0
	}

	s.mu.Lock()
	var targets []*transport.Conn
	for h, c := range s.clients {
		if c.subs[channel] || h == channel {
			targets = append(targets, c.conn)
		}
	}
	s.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if conn.WriteLine(line) == nil {
			delivered++
		}
	}
	return delivered
}
