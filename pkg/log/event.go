package log

import (
	"time"
)

// Event represents a protocol trace event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies one TCP session (UUID, new per reconnect).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// Handle is the client handle that produced the trace.
	Handle string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the server address (host:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Line        *LineEvent        `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection state
	Control     *ControlEvent     `cbor:"13,keyasint,omitempty"` // Control commands
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming line or event.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing line or command.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the line framing layer.
	LayerTransport Layer = 0
	// LayerWire is the command and event layer.
	LayerWire Layer = 1
	// LayerClient is the connection lifecycle layer.
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a line or channel event.
	CategoryMessage Category = 0
	// CategoryControl indicates a control command or heartbeat.
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LineEvent captures a raw protocol line.
type LineEvent struct {
	// Size is the line size in bytes (without terminator).
	Size int `cbor:"1,keyasint"`

	// Text is the line content (may be truncated for large lines).
	Text string `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Text was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded channel event or a published payload.
type MessageEvent struct {
	// Kind is CHANNEL, SERVICE_REQUEST or CALL_RESPONSE for incoming events,
	// PUBLISH for outgoing payloads.
	Kind string `cbor:"1,keyasint"`

	// Channel is the recipient channel.
	Channel string `cbor:"2,keyasint"`

	// Sender is the publishing handle (incoming only).
	Sender string `cbor:"3,keyasint,omitempty"`

	// Service is the invoked service name (service requests only).
	Service string `cbor:"4,keyasint,omitempty"`

	// CallID is the correlation id (calls only).
	CallID string `cbor:"5,keyasint,omitempty"`

	// Route describes what the dispatcher did with the event.
	Route string `cbor:"6,keyasint,omitempty"`

	// Payload is the event payload without envelope fields.
	Payload map[string]any `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures connection lifecycle events.
type StateChangeEvent struct {
	// OldState is the previous state (may be empty).
	OldState string `cbor:"1,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"2,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ControlEvent captures control commands and heartbeats.
type ControlEvent struct {
	// Type of control command.
	Type ControlType `cbor:"1,keyasint"`

	// Channel is set for subscribe and unsubscribe.
	Channel string `cbor:"2,keyasint,omitempty"`
}

// ControlType indicates the type of control command.
type ControlType uint8

const (
	// ControlHandshake is the handle announcement.
	ControlHandshake ControlType = 0
	// ControlHeartbeat is a heartbeat in either direction.
	ControlHeartbeat ControlType = 1
	// ControlSubscribe is a subscribe command.
	ControlSubscribe ControlType = 2
	// ControlUnsubscribe is an unsubscribe command.
	ControlUnsubscribe ControlType = 3
	// ControlQuit is the polite shutdown command.
	ControlQuit ControlType = 4
)

// String returns the control type name.
func (c ControlType) String() string {
	switch c {
	case ControlHandshake:
		return "HANDSHAKE"
	case ControlHeartbeat:
		return "HEARTBEAT"
	case ControlSubscribe:
		return "SUBSCRIBE"
	case ControlUnsubscribe:
		return "UNSUBSCRIBE"
	case ControlQuit:
		return "QUIT"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
