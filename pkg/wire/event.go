package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope and marker keys.
const (
	FieldSender    = "sender"
	FieldRecipient = "recipient"
	FieldTimestamp = "timestamp"
	FieldData      = "data"

	// FieldServiceHandle names the service a call request is addressed to.
	FieldServiceHandle = "_MESSAGE_HANDLE"

	// FieldCallID carries the correlation id of a call.
	FieldCallID = "_MESSAGE_ID"
)

// Event errors.
var (
	// ErrMalformedEvent indicates a JSON line that is not a valid channel event.
	ErrMalformedEvent = errors.New("malformed event")
)

// EventKind distinguishes the three shapes of incoming events.
type EventKind uint8

const (
	// EventChannel is a plain event published on a channel.
	EventChannel EventKind = iota

	// EventServiceRequest asks the receiver to run a named service.
	EventServiceRequest

	// EventCallResponse answers a call issued by the receiver.
	EventCallResponse
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventChannel:
		return "CHANNEL"
	case EventServiceRequest:
		return "SERVICE_REQUEST"
	case EventCallResponse:
		return "CALL_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Event is a decoded channel event with its envelope removed.
type Event struct {
	Kind EventKind

	// Sender is the handle of the publishing client.
	Sender string

	// Recipient is the channel (or client handle) the event was sent to.
	Recipient string

	// Timestamp is the server timestamp; zero if absent.
	Timestamp time.Time

	// Service is set for EventServiceRequest.
	Service string

	// CallID is set for EventServiceRequest and EventCallResponse.
	CallID string

	// Fields is the payload without envelope and marker keys.
	Fields map[string]any
}

// DecodeEvent parses a JSON event line.
func DecodeEvent(line string) (*Event, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedEvent)
	}

	sender, ok := raw[FieldSender].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldSender)
	}
	recipient, ok := raw[FieldRecipient].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldRecipient)
	}

	ev := &Event{
		Kind:      EventChannel,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: parseTimestamp(raw[FieldTimestamp]),
	}

	delete(raw, FieldSender)
	delete(raw, FieldRecipient)
	delete(raw, FieldTimestamp)
	delete(raw, FieldData)

	service, hasService := raw[FieldServiceHandle].(string)
	callID, hasCallID := raw[FieldCallID].(string)
	delete(raw, FieldServiceHandle)
	delete(raw, FieldCallID)

	switch {
	case hasService:
		ev.Kind = EventServiceRequest
		ev.Service = service
		ev.CallID = callID
	case hasCallID:
		ev.Kind = EventCallResponse
		ev.CallID = callID
	}

	ev.Fields = raw
	return ev, nil
}

// parseTimestamp converts a millisecond epoch value into a time.
func parseTimestamp(v any) time.Time {
	switch ts := v.(type) {
	case float64:
		return time.UnixMilli(int64(ts))
	case string:
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t
		}
	}
	return time.Time{}
}

// EncodeEvent renders an event as the server would deliver it.
// Used by test servers and tools that replay traffic.
func EncodeEvent(ev *Event) (string, error) {
	out := make(map[string]any, len(ev.Fields)+5)
	for k, v := range ev.Fields {
		out[k] = v
	}
	out[FieldSender] = ev.Sender
	out[FieldRecipient] = ev.Recipient
	if !ev.Timestamp.IsZero() {
		out[FieldTimestamp] = ev.Timestamp.UnixMilli()
	}
	switch ev.Kind {
	case EventServiceRequest:
		out[FieldServiceHandle] = ev.Service
		if ev.CallID != "" {
			out[FieldCallID] = ev.CallID
		}
	case EventCallResponse:
		out[FieldCallID] = ev.CallID
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode event: %w", err)
	}
	return string(data), nil
}
