package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Command keywords.
const (
	CmdSubscribe   = "subscribe"
	CmdUnsubscribe = "unsubscribe"
	CmdSendRaw     = "sendraw"
	CmdQuit        = "quit"
)

// HandshakeSuffix is appended to the handle to request JSON event delivery.
const HandshakeSuffix = "(JSON)"

// Command errors.
var (
	// ErrInvalidChannel indicates a channel name that cannot be sent on the wire.
	ErrInvalidChannel = errors.New("invalid channel name")

	// ErrInvalidHandle indicates a handle that cannot be sent on the wire.
	ErrInvalidHandle = errors.New("invalid handle")
)

// ValidateChannel checks that a channel name fits into a single command token.
func ValidateChannel(channel string) error {
	if channel == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if strings.IndexFunc(channel, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidChannel, channel)
	}
	return nil
}

// Handshake returns the handshake line for a handle.
func Handshake(handle string) (string, error) {
	if handle == "" || strings.IndexFunc(handle, unicode.IsSpace) >= 0 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return handle + HandshakeSuffix, nil
}

// Subscribe returns the subscribe command for a channel.
func Subscribe(channel string) (string, error) {
	if err := ValidateChannel(channel); err != nil {
		return "", err
	}
	return CmdSubscribe + " " + channel, nil
}

// Unsubscribe returns the unsubscribe command for a channel.
func Unsubscribe(channel string) (string, error) {
	if err := ValidateChannel(channel); err != nil {
		return "", err
	}
	return CmdUnsubscribe + " " + channel, nil
}

// SendRaw returns the publish command for a channel and payload.
// A nil payload is sent as an empty object.
func SendRaw(channel string, payload map[string]any) (string, error) {
	if err := ValidateChannel(channel); err != nil {
		return "", err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return CmdSendRaw + " " + channel + " " + string(data), nil
}

// Quit returns the polite shutdown command.
func Quit() string {
	return CmdQuit
}

// Heartbeat returns the heartbeat reply.
func Heartbeat() string {
	return TokenHeartbeat
}
