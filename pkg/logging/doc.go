// Package logging provides structured logging configuration for mcpgate.
//
// It wraps log/slog so every component logs with the same handler, level and
// key names.
//
//	logger := logging.New(logging.Config{
//	    Level:  logging.LevelInfo,
//	    Format: logging.FormatJSON,
//	})
//	logger.Info("listening", "addr", ":9091")
//
// Components accept a *slog.Logger through their constructor or a SetLogger
// method and fall back to Nop when none is given. In stdio mode the protocol
// owns stdout, so loggers must always write to stderr.
//
// Bearer tokens, API secrets and request bodies are never logged. Use the
// key constants in this package (KeySessionID, KeyRequestID, ...) so log
// queries work across components.
package logging
