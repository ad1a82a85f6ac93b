// Package wire defines the line-oriented wire format of the OOCSI protocol.
//
// The protocol runs over a single TCP stream. Every unit on the stream is a
// UTF-8 line terminated by '\n'. Lines sent by the client are control
// commands; lines sent by the server are heartbeats, handshake answers or
// JSON-encoded channel events.
//
// # Client to server
//
//	<handle>(JSON)              handshake, requests JSON event delivery
//	subscribe <channel>
//	unsubscribe <channel>
//	sendraw <channel> <json>    publish a JSON object on a channel
//	.                           heartbeat reply
//	quit
//
// # Server to client
//
//	{...}                       handshake acknowledgment or channel event
//	error...                    handshake rejection (e.g. duplicate handle)
//	ping | .                    heartbeat, must be answered with "."
//
// # Events
//
// A channel event is a JSON object carrying the envelope fields sender,
// recipient and timestamp plus arbitrary payload keys. Two marker keys
// turn an event into part of a request/response exchange:
//
//   - _MESSAGE_HANDLE names a service the receiver should invoke.
//   - _MESSAGE_ID carries the correlation id of a call.
//
// DecodeEvent strips the envelope, lifts the markers out of the payload and
// tags the event with its kind, so that routing only inspects the tag.
package wire
