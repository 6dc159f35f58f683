// Package logging provides structured logging for the action bridge.
//
// This package wraps Go's standard log/slog package so every component logs
// with the same shape: JSON in production, text when developing, and the
// service and version fields on each entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("sending on request", "device", "bike_stand_floods")
//	logger.Error("device command failed", "error", err)
//
// # Security
//
// Never log device local keys or broker passwords.
package logging
