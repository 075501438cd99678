// Package log provides structured flow logging for the cloud client.
//
// The core packages never take a compile-time dependency on a logging
// backend. They emit Events through the Logger interface; applications
// decide where events go:
//
//	// For development: log to console via slog
//	engine.Logger = log.NewSlogAdapter(slog.Default())
//
//	// For later analysis: write to a binary event file
//	engine.Logger, _ = log.NewFileLogger("session.clog")
//
//	// Both at once
//	engine.Logger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// Every value that could identify an account or unlock a session (tokens,
// secrets, cookies, tickets) is redacted before it reaches an Event, so any
// Logger implementation is safe to point at shared infrastructure.
package log
