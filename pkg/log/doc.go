// Package log provides structured protocol tracing for OOCSI clients.
//
// A protocol trace is separate from operational logging (slog). It records
// every line crossing the stream, every decoded event, connection state
// changes and control commands as machine-readable events, so that a session
// can be replayed and inspected after the fact.
//
// # Basic Usage
//
//	// Console output during development
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Binary trace file for later analysis with oocsi-log
//	fl, _ := log.NewFileLogger("/var/log/oocsi/client.olog")
//	cfg.ProtocolLogger = fl
//
//	// Both at once
//	cfg.ProtocolLogger = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Layers
//
//   - Transport: raw lines (LineEvent)
//   - Wire: decoded channel events and control commands (MessageEvent, ControlEvent)
//   - Client: connection lifecycle (StateChangeEvent)
//
// # File Format
//
// Trace files are a sequence of CBOR-encoded events with integer keys.
package log
