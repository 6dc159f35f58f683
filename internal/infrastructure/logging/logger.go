package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-actionbridge/internal/infrastructure/config"
)

// ServiceName is attached to every entry as the "service" attribute.
const ServiceName = "actionbridge"

// Logger is a slog.Logger carrying the service and version attributes.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New builds a logger writing to the configured output: "stderr", or
// stdout for anything else.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination. Format "text" selects
// slog's text handler; everything else logs JSON.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}

	return &Logger{slog.New(h).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// parseLevel maps a config level name to slog, case-insensitively.
// Unknown names mean info.
func parseLevel(name string) slog.Level {
	if lvl, ok := levels[strings.ToLower(name)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// With returns a child logger with extra attributes, e.g.
//
//	log.With("component", "dispatch").Info("pool started")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// Default is the JSON info-level stdout logger used until the config loads.
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}
