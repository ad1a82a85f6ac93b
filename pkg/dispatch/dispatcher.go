// Package dispatch routes decoded events to services, pending calls and
// channel subscribers.
package dispatch

import (
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/oocsi/oocsi-go/pkg/call"
	"github.com/oocsi/oocsi-go/pkg/log"
	"github.com/oocsi/oocsi-go/pkg/subscription"
	"github.com/oocsi/oocsi-go/pkg/wire"
)

// Route records what the dispatcher did with an event.
type Route uint8

const (
	// RouteChannel delivered the event to channel subscribers.
	RouteChannel Route = iota

	// RouteService invoked a local service and replied to the caller.
	RouteService

	// RouteCallResolved completed a pending call.
	RouteCallResolved

	// RouteCallExpired dropped a response to a timed-out call.
	RouteCallExpired

	// RouteCallUnknown dropped an event whose call id matched nothing.
	RouteCallUnknown
)

// String returns the route name.
func (r Route) String() string {
	switch r {
	case RouteChannel:
		return "CHANNEL"
	case RouteService:
		return "SERVICE"
	case RouteCallResolved:
		return "CALL_RESOLVED"
	case RouteCallExpired:
		return "CALL_EXPIRED"
	case RouteCallUnknown:
		return "CALL_UNKNOWN"
	default:
		return "UNKNOWN"
	}
}

// Publisher sends a payload to a channel or client handle.
type Publisher interface {
	Publish(channel string, fields map[string]any) error
}

// Config wires a Dispatcher to its collaborators.
type Config struct {
	Registry   *subscription.Registry
	Correlator *call.Correlator
	Services   *Services

	// Publisher sends service replies.
	Publisher Publisher

	// Logger receives operational logs (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives one message event per dispatched event (optional).
	ProtocolLogger log.Logger

	// Handle and ConnectionID annotate trace events.
	Handle       string
	ConnectionID func() string
}

// Dispatcher routes incoming events. Dispatch is called from the connection
// goroutine only.
type Dispatcher struct {
	config Config
	logger *slog.Logger
}

// New creates a dispatcher.
func New(config Config) *Dispatcher {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Registry == nil {
		config.Registry = subscription.NewRegistry(config.Logger)
	}
	if config.Correlator == nil {
		config.Correlator = call.NewCorrelator()
	}
	if config.Services == nil {
		config.Services = NewServices()
	}
	return &Dispatcher{config: config, logger: config.Logger}
}

// Dispatch routes one event:
//  1. a service request for a local service runs the handler, replies to
//     the sender and is then delivered to channel subscribers with the
//     request fields as received (the handler works on a copy);
//  2. any other event carrying a call id resolves (or drops) a pending call;
//  3. everything else is delivered to the recipient channel's subscribers.
func (d *Dispatcher) Dispatch(ev *wire.Event) Route {
	route := d.route(ev)
	d.trace(ev, route)
	return route
}

func (d *Dispatcher) route(ev *wire.Event) Route {
	if ev.Kind == wire.EventServiceRequest {
		if handler, ok := d.config.Services.Lookup(ev.Service); ok {
			d.serve(ev, handler)
			d.config.Registry.Deliver(ev.Sender, ev.Recipient, ev.Fields)
			return RouteService
		}
	}

	if ev.CallID != "" {
		switch d.config.Correlator.Resolve(ev.CallID, ev.Fields) {
		case call.OutcomeResolved:
			return RouteCallResolved
		case call.OutcomeExpired:
			d.logger.Debug("Dropping late call response", "call_id", ev.CallID, "sender", ev.Sender)
			return RouteCallExpired
		default:
			d.logger.Debug("Dropping event with unknown call id", "call_id", ev.CallID, "sender", ev.Sender)
			return RouteCallUnknown
		}
	}

	d.config.Registry.Deliver(ev.Sender, ev.Recipient, ev.Fields)
	return RouteChannel
}

func (d *Dispatcher) serve(ev *wire.Event, handler ServiceHandler) {
	response, err := invoke(handler, maps.Clone(ev.Fields))
	if err != nil {
		d.logger.Error("Service handler failed", "service", ev.Service, "sender", ev.Sender, "error", err)
		return
	}

	reply := make(map[string]any, len(response)+1)
	maps.Copy(reply, response)
	if ev.CallID != "" {
		reply[wire.FieldCallID] = ev.CallID
	}

	if d.config.Publisher == nil {
		return
	}
	if err := d.config.Publisher.Publish(ev.Sender, reply); err != nil {
		d.logger.Warn("Failed to send service reply", "service", ev.Service, "to", ev.Sender, "error", err)
	}
}

func invoke(handler ServiceHandler, request map[string]any) (response map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	if request == nil {
		request = map[string]any{}
	}
	return handler(request), nil
}

func (d *Dispatcher) trace(ev *wire.Event, route Route) {
	if d.config.ProtocolLogger == nil {
		return
	}
	var connID string
	if d.config.ConnectionID != nil {
		connID = d.config.ConnectionID()
	}
	d.config.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerWire,
		Category:     log.CategoryMessage,
		Handle:       d.config.Handle,
		Message: &log.MessageEvent{
			Kind:    ev.Kind.String(),
			Channel: ev.Recipient,
			Sender:  ev.Sender,
			Service: ev.Service,
			CallID:  ev.CallID,
			Route:   route.String(),
			Payload: ev.Fields,
		},
	})
}
