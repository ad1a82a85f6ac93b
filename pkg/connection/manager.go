package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oocsi/oocsi-go/pkg/log"
	"github.com/oocsi/oocsi-go/pkg/transport"
	"github.com/oocsi/oocsi-go/pkg/wire"
)

// Connection errors.
var (
	ErrNotConnected        = errors.New("not connected")
	ErrClosed              = errors.New("connection manager closed")
	ErrRejected            = errors.New("handle rejected by server")
	ErrUnexpectedHandshake = errors.New("unexpected handshake reply")
	ErrNoAddress           = errors.New("server address required")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active stream.
	StateDisconnected State = iota

	// StateHandshaking indicates a dial or handshake is in progress.
	StateHandshaking

	// StateConnected indicates an acknowledged, streaming session.
	StateConnected

	// StateClosed is terminal: the manager was stopped or the handle rejected.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Handler receives what the manager reads from the stream.
// Both methods are called from the manager goroutine.
type Handler interface {
	// Resubscribe returns the channels to subscribe after every handshake.
	Resubscribe() []string

	// HandleEvent is called for every decoded incoming event.
	HandleEvent(ev *wire.Event)
}

// Config configures a Manager.
type Config struct {
	// Address is the server "host:port".
	Address string

	// Handle is the expanded client handle.
	Handle string

	// Dial configures the underlying stream.
	Dial transport.DialConfig

	// HandshakeTimeout bounds the wait for the handshake reply (default: 10s).
	HandshakeTimeout time.Duration

	// Backoff configures the delay between attempts (default: fixed 5s).
	Backoff BackoffConfig

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives protocol trace events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	dial := transport.DefaultDialConfig()
	dial.WriteTimeout = 10 * time.Second
	return Config{
		Dial:             dial,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Manager owns the stream lifecycle: handshake, streaming and reconnection.
type Manager struct {
	config  Config
	handler Handler
	backoff *Backoff
	logger  *slog.Logger

	// writeMu serializes writes and guards conn.
	// Lock order: writeMu, then mu.
	writeMu sync.Mutex
	conn    *transport.Conn

	mu            sync.RWMutex
	state         State
	changed       chan struct{}
	connID        string
	started       bool
	stopped       bool
	rejected      bool
	onStateChange func(oldState, newState State)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a connection manager. Call Start to connect.
func NewManager(config Config, handler Handler) (*Manager, error) {
	if config.Address == "" {
		return nil, ErrNoAddress
	}
	if _, err := wire.Handshake(config.Handle); err != nil {
		return nil, err
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config:  config,
		handler: handler,
		backoff: NewBackoffWithConfig(config.Backoff),
		logger:  config.Logger.With("handle", config.Handle, "server", config.Address),
		state:   StateDisconnected,
		changed: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the background goroutine. Subsequent calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.stopped {
		return
	}
	m.started = true
	go m.run()
}

// Stop disables reconnection, sends a best-effort quit and closes the
// stream. It does not wait for the goroutine; use Done for that.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	m.writeMu.Lock()
	if m.conn != nil && m.State() == StateConnected {
		if err := m.conn.WriteLine(wire.Quit()); err == nil {
			m.logControl(log.DirectionOut, log.ControlQuit, "")
		}
	}
	m.writeMu.Unlock()

	m.cancel()

	if !started {
		m.setState(StateClosed, "stopped")
		close(m.done)
	}
}

// Done returns a channel closed once the manager has fully stopped.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// ConnectionID returns the id of the current (or last) stream.
func (m *Manager) ConnectionID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connID
}

// OnStateChange sets a callback for state changes. The callback runs on the
// goroutine causing the change and must not block.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// WaitConnected blocks until the manager is connected, closed or ctx ends.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.RLock()
		state, rejected, changed := m.state, m.rejected, m.changed
		m.mu.RUnlock()

		switch state {
		case StateConnected:
			return nil
		case StateClosed:
			if rejected {
				return ErrRejected
			}
			return ErrClosed
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

// Send writes one line to the server.
// It fails with ErrNotConnected unless the session is acknowledged.
func (m *Manager) Send(line string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.conn == nil || m.State() != StateConnected {
		return ErrNotConnected
	}
	if err := m.conn.WriteLine(line); err != nil {
		// The read loop notices the closed stream and reconnects.
		m.conn.Close()
		return err
	}
	return nil
}

func (m *Manager) run() {
	defer close(m.done)

	for {
		err := m.session()

		if errors.Is(err, ErrRejected) {
			m.setState(StateClosed, err.Error())
			return
		}
		if m.ctx.Err() != nil {
			m.setState(StateClosed, "stopped")
			return
		}

		delay := m.backoff.Next()
		m.logger.Warn("Connection lost, reconnecting", "error", err, "delay", delay, "attempt", m.backoff.Attempts())
		m.setState(StateDisconnected, err.Error())

		select {
		case <-m.ctx.Done():
			m.setState(StateClosed, "stopped")
			return
		case <-time.After(delay):
		}
	}
}

// session runs one dial, handshake and streaming cycle. It always returns
// a non-nil error describing why the session ended.
func (m *Manager) session() error {
	connID := uuid.New().String()
	m.mu.Lock()
	m.connID = connID
	m.mu.Unlock()
	m.setState(StateHandshaking, "")

	conn, err := transport.Dial(m.ctx, m.config.Address, m.config.Dial)
	if err != nil {
		return err
	}
	if m.config.ProtocolLogger != nil {
		conn.SetLogger(m.config.ProtocolLogger, connID, m.config.Handle)
	}

	m.writeMu.Lock()
	m.conn = conn
	m.writeMu.Unlock()

	stopWatch := make(chan struct{})
	go func() {
		select {
		case <-m.ctx.Done():
			conn.Close()
		case <-stopWatch:
		}
	}()

	defer func() {
		close(stopWatch)
		m.writeMu.Lock()
		m.conn = nil
		m.writeMu.Unlock()
		conn.Close()
	}()

	if err := m.handshake(conn); err != nil {
		return err
	}
	m.backoff.Reset()
	m.logger.Info("Connected", "conn_id", connID)

	return m.stream(conn)
}

func (m *Manager) handshake(conn *transport.Conn) error {
	hs, err := wire.Handshake(m.config.Handle)
	if err != nil {
		return err
	}
	if err := conn.WriteLine(hs); err != nil {
		return err
	}
	m.logControl(log.DirectionOut, log.ControlHandshake, "")

	reply, err := conn.ReadLineWithin(m.config.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}

	switch wire.Classify(reply) {
	case wire.LineJSON:
	case wire.LineError:
		m.mu.Lock()
		m.rejected = true
		m.mu.Unlock()
		m.logger.Error("Server rejected handle", "reply", reply)
		m.logError(log.LayerClient, reply, "handshake")
		return fmt.Errorf("%w: %s", ErrRejected, reply)
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedHandshake, reply)
	}

	// Re-subscribe and flip to CONNECTED under the write lock, so a
	// concurrent Send either sees HANDSHAKING (and its channel is in the
	// snapshot) or runs after the flip.
	m.writeMu.Lock()
	for _, channel := range m.handler.Resubscribe() {
		line, err := wire.Subscribe(channel)
		if err != nil {
			m.logger.Warn("Skipping invalid channel on resubscribe", "channel", channel, "error", err)
			continue
		}
		if err := conn.WriteLine(line); err != nil {
			m.writeMu.Unlock()
			return err
		}
		m.logControl(log.DirectionOut, log.ControlSubscribe, channel)
	}
	old, changed := m.transition(StateConnected, "handshake acknowledged")
	m.writeMu.Unlock()

	if changed {
		m.notify(old, StateConnected)
	}
	return nil
}

func (m *Manager) stream(conn *transport.Conn) error {
	for {
		line, err := conn.ReadLine()
		if errors.Is(err, wire.ErrLineTooLong) {
			m.logger.Warn("Dropping oversized line", "error", err)
			m.logError(log.LayerWire, err.Error(), "stream")
			continue
		}
		if err != nil {
			return fmt.Errorf("read failed: %w", err)
		}

		switch wire.Classify(line) {
		case wire.LineHeartbeat:
			m.logControl(log.DirectionIn, log.ControlHeartbeat, "")
			if err := m.Send(wire.Heartbeat()); err != nil {
				return fmt.Errorf("heartbeat reply failed: %w", err)
			}
			m.logControl(log.DirectionOut, log.ControlHeartbeat, "")

		case wire.LineJSON:
			ev, err := wire.DecodeEvent(line)
			if err != nil {
				m.logger.Debug("Dropping malformed event", "error", err)
				m.logError(log.LayerWire, err.Error(), "decode")
				continue
			}
			m.handler.HandleEvent(ev)

		case wire.LineError:
			m.logger.Warn("Server error", "line", line)
			m.logError(log.LayerWire, line, "stream")

		default:
			m.logger.Debug("Ignoring line", "line", line)
		}
	}
}

// setState transitions and notifies observers.
func (m *Manager) setState(state State, reason string) {
	old, changed := m.transition(state, reason)
	if changed {
		m.notify(old, state)
	}
}

// transition records a state change and wakes WaitConnected callers.
func (m *Manager) transition(state State, reason string) (State, bool) {
	m.mu.Lock()
	old := m.state
	if old == state || old == StateClosed {
		m.mu.Unlock()
		return old, false
	}
	m.state = state
	close(m.changed)
	m.changed = make(chan struct{})
	connID := m.connID
	m.mu.Unlock()

	if m.config.ProtocolLogger != nil {
		m.config.ProtocolLogger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: connID,
			Layer:        log.LayerClient,
			Category:     log.CategoryState,
			Handle:       m.config.Handle,
			RemoteAddr:   m.config.Address,
			StateChange: &log.StateChangeEvent{
				OldState: old.String(),
				NewState: state.String(),
				Reason:   reason,
			},
		})
	}
	return old, true
}

func (m *Manager) notify(old, state State) {
	m.mu.RLock()
	fn := m.onStateChange
	m.mu.RUnlock()

	m.logger.Debug("Connection state changed", "from", old, "to", state)
	if fn != nil {
		fn(old, state)
	}
}

func (m *Manager) logControl(dir log.Direction, ctrl log.ControlType, channel string) {
	if m.config.ProtocolLogger == nil {
		return
	}
	m.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.ConnectionID(),
		Direction:    dir,
		Layer:        log.LayerWire,
		Category:     log.CategoryControl,
		Handle:       m.config.Handle,
		RemoteAddr:   m.config.Address,
		Control:      &log.ControlEvent{Type: ctrl, Channel: channel},
	})
}

func (m *Manager) logError(layer log.Layer, msg, op string) {
	if m.config.ProtocolLogger == nil {
		return
	}
	m.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.ConnectionID(),
		Layer:        layer,
		Category:     log.CategoryError,
		Handle:       m.config.Handle,
		RemoteAddr:   m.config.Address,
		Error:        &log.ErrorEventData{Layer: layer, Message: msg, Context: op},
	})
}
