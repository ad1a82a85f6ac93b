// Package transport provides the OOCSI stream transport.
//
// A connection is a single TCP stream (optionally TLS) carrying
// newline-terminated text lines in both directions:
//
//	┌────────────────────────────────┐
//	│  Commands / JSON events        │
//	├────────────────────────────────┤
//	│  Newline framing (pkg/wire)    │
//	├────────────────────────────────┤
//	│  TLS (optional)                │
//	├────────────────────────────────┤
//	│  TCP                           │
//	└────────────────────────────────┘
//
// Writes are serialized per connection. Every line in and out can be traced
// through a pkg/log Logger.
package transport
