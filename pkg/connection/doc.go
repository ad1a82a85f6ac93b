// Package connection owns the single OOCSI stream of a client.
//
// A Manager runs one background goroutine that dials the server, performs
// the handshake, streams incoming lines and reconnects after failures:
//
//	DISCONNECTED ──dial──▶ HANDSHAKING ──{…}──▶ CONNECTED
//	      ▲                     │                   │
//	      └──── retry delay ◀───┴─── I/O error ◀────┘
//
//	HANDSHAKING ──error…──▶ CLOSED   (handle rejected, no retry)
//	any state   ──Stop()──▶ CLOSED
//
// # Handshake
//
// The client sends "<handle>(JSON)" and reads one line. A line starting with
// '{' acknowledges the handle; the manager then re-subscribes every channel
// reported by its Handler before it reports CONNECTED. A line starting with
// "error" is a rejection (usually a duplicate handle) and is final.
//
// # Reconnection
//
// After a lost stream the manager waits for the backoff delay (fixed 5s by
// default) and tries again, indefinitely. Writes made while disconnected fail
// with ErrNotConnected; subscriptions are restored by the re-subscribe step.
//
// # Heartbeats
//
// The server sends "ping" (or ".") on idle streams; the manager answers ".".
package connection
