package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/oocsi/oocsi-go/pkg/call"
	"github.com/oocsi/oocsi-go/pkg/connection"
	"github.com/oocsi/oocsi-go/pkg/device"
	"github.com/oocsi/oocsi-go/pkg/dispatch"
	"github.com/oocsi/oocsi-go/pkg/log"
	"github.com/oocsi/oocsi-go/pkg/metrics"
	"github.com/oocsi/oocsi-go/pkg/subscription"
	"github.com/oocsi/oocsi-go/pkg/wire"
)

// DefaultAddress is the conventional OOCSI server address.
const DefaultAddress = "localhost:4444"

// Config configures a Client.
type Config struct {
	// Address is the server "host:port" (default: localhost:4444).
	Address string

	// Handle is the handle template; every '#' becomes a random digit.
	Handle string

	// ReconnectDelay is the fixed delay between connection attempts
	// (default: 5s). Ignored when Backoff.Initial is set.
	ReconnectDelay time.Duration

	// Backoff overrides the reconnect policy.
	Backoff connection.BackoffConfig

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// CallTimeout is used by Call when no timeout is given (default: 1s).
	CallTimeout time.Duration

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// OnMessage receives events addressed to the client's own handle.
	OnMessage subscription.Callback

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives protocol trace events (optional).
	ProtocolLogger log.Logger

	// Metrics records client activity (optional).
	Metrics *metrics.Metrics
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		Address:          DefaultAddress,
		ReconnectDelay:   connection.DefaultReconnectDelay,
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		CallTimeout:      call.DefaultTimeout,
	}
}

// Client is an OOCSI client. It is safe for concurrent use.
type Client struct {
	config  Config
	handle  string
	logger  *slog.Logger
	metrics *metrics.Metrics

	manager    *connection.Manager
	registry   *subscription.Registry
	correlator *call.Correlator
	services   *dispatch.Services
	dispatcher *dispatch.Dispatcher
}

// New creates a client without connecting. Call Start (or use Connect).
func New(config Config) (*Client, error) {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = call.DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	handle := ExpandHandle(config.Handle)
	if _, err := wire.Handshake(handle); err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		handle:     handle,
		logger:     config.Logger.With("handle", handle),
		metrics:    config.Metrics,
		registry:   subscription.NewRegistry(config.Logger),
		correlator: call.NewCorrelator(),
		services:   dispatch.NewServices(),
	}

	if config.OnMessage != nil {
		c.registry.Add(handle, config.OnMessage)
	}

	trace := c.protocolLogger()

	mcfg := connection.DefaultConfig()
	mcfg.Address = config.Address
	mcfg.Handle = handle
	mcfg.Dial.TLSConfig = config.TLSConfig
	if config.ConnectTimeout > 0 {
		mcfg.Dial.ConnectTimeout = config.ConnectTimeout
	}
	if config.WriteTimeout > 0 {
		mcfg.Dial.WriteTimeout = config.WriteTimeout
	}
	if config.HandshakeTimeout > 0 {
		mcfg.HandshakeTimeout = config.HandshakeTimeout
	}
	mcfg.Backoff = config.Backoff
	if mcfg.Backoff.Initial == 0 {
		mcfg.Backoff.Initial = config.ReconnectDelay
	}
	mcfg.Logger = config.Logger
	mcfg.ProtocolLogger = trace

	manager, err := connection.NewManager(mcfg, (*handler)(c))
	if err != nil {
		return nil, err
	}
	c.manager = manager
	manager.OnStateChange(func(_, newState connection.State) {
		c.metrics.SetState(newState.String())
	})
	c.metrics.SetState(connection.StateDisconnected.String())

	c.dispatcher = dispatch.New(dispatch.Config{
		Registry:       c.registry,
		Correlator:     c.correlator,
		Services:       c.services,
		Publisher:      c,
		Logger:         config.Logger,
		ProtocolLogger: trace,
		Handle:         handle,
		ConnectionID:   manager.ConnectionID,
	})

	return c, nil
}

// Connect creates a client, starts it and waits for the first handshake.
// The client is stopped again if ctx ends or the handle is rejected first.
func Connect(ctx context.Context, config Config) (*Client, error) {
	c, err := New(config)
	if err != nil {
		return nil, err
	}
	c.Start()
	if err := c.WaitConnected(ctx); err != nil {
		c.Stop()
		return nil, err
	}
	return c, nil
}

func (c *Client) protocolLogger() log.Logger {
	var loggers []log.Logger
	if c.config.ProtocolLogger != nil {
		loggers = append(loggers, c.config.ProtocolLogger)
	}
	if c.metrics != nil {
		loggers = append(loggers, c.metrics)
	}
	switch len(loggers) {
	case 0:
		return nil
	case 1:
		return loggers[0]
	default:
		return log.NewMultiLogger(loggers...)
	}
}

// Start launches the connection goroutine.
func (c *Client) Start() {
	c.manager.Start()
}

// WaitConnected blocks until the client is connected. It returns
// connection.ErrRejected if the server refused the handle.
func (c *Client) WaitConnected(ctx context.Context) error {
	return c.manager.WaitConnected(ctx)
}

// Stop disconnects politely and disables reconnection.
func (c *Client) Stop() {
	c.manager.Stop()
}

// Done is closed once the connection goroutine has exited.
func (c *Client) Done() <-chan struct{} {
	return c.manager.Done()
}

// Handle returns the expanded client handle.
func (c *Client) Handle() string {
	return c.handle
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return c.manager.State()
}

// Subscribe appends cb to channel's callbacks and subscribes on the server.
// The subscribe command is sent on every call; the server treats repeats as
// no-ops. While disconnected the subscription is sent on the next handshake.
func (c *Client) Subscribe(channel string, cb subscription.Callback) error {
	if err := wire.ValidateChannel(channel); err != nil {
		return err
	}
	if cb == nil {
		return errors.New("nil callback")
	}

	c.registry.Add(channel, cb)
	c.metrics.SetSubscriptions(len(c.registry.Channels()))
	if channel == c.handle {
		return nil
	}
	return c.sendControl(wire.Subscribe(channel))
}

// Unsubscribe drops every callback of channel and unsubscribes on the server.
// Channels still used by a local service stay subscribed on the server.
func (c *Client) Unsubscribe(channel string) error {
	if err := wire.ValidateChannel(channel); err != nil {
		return err
	}

	removed := c.registry.Remove(channel)
	c.metrics.SetSubscriptions(len(c.registry.Channels()))
	if !removed || channel == c.handle || c.serviceChannel(channel) {
		return nil
	}
	return c.sendControl(wire.Unsubscribe(channel))
}

// Publish sends fields to channel (or to a client handle).
// It returns connection.ErrNotConnected while disconnected.
func (c *Client) Publish(channel string, fields map[string]any) error {
	line, err := wire.SendRaw(channel, fields)
	if err == nil {
		err = c.manager.Send(line)
	}
	c.metrics.Published(err)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Call publishes a request for service on channel and returns the pending
// call without waiting. A non-positive timeout uses Config.CallTimeout.
func (c *Client) Call(channel, service string, fields map[string]any, timeout time.Duration) (*call.Call, error) {
	if timeout <= 0 {
		timeout = c.config.CallTimeout
	}
	if n := c.correlator.Reap(); n > 0 {
		c.logger.Debug("Reaped expired calls", "count", n)
	}

	pending, err := c.correlator.Begin(channel, service, timeout)
	if err != nil {
		return nil, err
	}
	c.metrics.Call("started")

	request := make(map[string]any, len(fields)+2)
	maps.Copy(request, fields)
	request[wire.FieldServiceHandle] = service
	request[wire.FieldCallID] = pending.ID

	if err := c.Publish(channel, request); err != nil {
		c.correlator.Cancel(pending.ID)
		return nil, err
	}
	return pending, nil
}

// CallAndWait calls service and waits for the response or the timeout.
// A timed-out call is returned unresolved without an error.
func (c *Client) CallAndWait(ctx context.Context, channel, service string, fields map[string]any, timeout time.Duration) (*call.Call, error) {
	pending, err := c.Call(channel, service, fields, timeout)
	if err != nil {
		return nil, err
	}
	if !pending.Wait(ctx) {
		if ctx.Err() != nil {
			c.correlator.Cancel(pending.ID)
			return pending, ctx.Err()
		}
		c.metrics.Call("timeout")
	}
	return pending, nil
}

// Register serves service on channel. The handler's result is sent back to
// the caller. Registering a name again replaces its handler.
func (c *Client) Register(channel, service string, h dispatch.ServiceHandler) error {
	if err := wire.ValidateChannel(channel); err != nil {
		return err
	}
	if h == nil {
		return errors.New("nil service handler")
	}

	newChannel := c.services.Register(channel, service, h)
	if !newChannel || c.registry.Has(channel) || channel == c.handle {
		return nil
	}
	return c.sendControl(wire.Subscribe(channel))
}

// Device starts a device descriptor announced by this client.
func (c *Client) Device(name string) *device.Builder {
	return device.NewBuilder(c, name, c.handle)
}

// PendingCalls returns the number of calls awaiting a response.
func (c *Client) PendingCalls() int {
	return c.correlator.Pending()
}

// sendControl sends a subscription command. Not being connected is not an
// error: the next handshake resubscribes.
func (c *Client) sendControl(line string, err error) error {
	if err != nil {
		return err
	}
	if err := c.manager.Send(line); err != nil && !errors.Is(err, connection.ErrNotConnected) {
		return err
	}
	return nil
}

func (c *Client) serviceChannel(channel string) bool {
	for _, ch := range c.services.Channels() {
		if ch == channel {
			return true
		}
	}
	return false
}

// handler adapts a Client to connection.Handler.
type handler Client

func (h *handler) Resubscribe() []string {
	c := (*Client)(h)

	seen := map[string]bool{c.handle: true}
	var channels []string
	for _, list := range [][]string{c.registry.Channels(), c.services.Channels()} {
		for _, ch := range list {
			if !seen[ch] {
				seen[ch] = true
				channels = append(channels, ch)
			}
		}
	}
	return channels
}

func (h *handler) HandleEvent(ev *wire.Event) {
	c := (*Client)(h)
	route := c.dispatcher.Dispatch(ev)
	c.metrics.Dispatched(route.String())

	switch route {
	case dispatch.RouteCallResolved:
		c.metrics.Call("resolved")
	case dispatch.RouteCallExpired:
		c.metrics.Call("late")
	}
}

var (
	_ connection.Handler = (*handler)(nil)
	_ dispatch.Publisher = (*Client)(nil)
	_ device.Publisher   = (*Client)(nil)
)
