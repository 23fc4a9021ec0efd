// Package log provides structured protocol logging for the mesh stack.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (bearer, network, transport,
// access). It is separate from operational logging (slog) - protocol
// capture provides a complete machine-readable event trace for debugging
// and analysis.
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/meshnode/node.mlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// Log files use CBOR encoding with .mlog extension.
package log
