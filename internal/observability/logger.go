// Package observability provides the production logger, metrics recorders and
// tracers that plug into the engine's Logger, MetricsRecorder and Tracer
// interfaces.
package observability

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"microsim/internal/config"
)

// NewLogger builds a slog logger writing to w. A *slog.Logger satisfies the
// engine's Logger interface as is.
func NewLogger(w io.Writer, cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
