package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/flemzord/mtpsched/internal/config"
	"github.com/flemzord/mtpsched/internal/security"
)

// NewLogger builds the process logger from cfg. Every record passes through
// r before it is written.
func NewLogger(w io.Writer, cfg config.LoggingConfig, r *security.Redactor) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var inner slog.Handler
	switch cfg.Format {
	case "json":
		inner = slog.NewJSONHandler(w, opts)
	case "text", "":
		inner = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	for _, lit := range cfg.Redact {
		r.AddLiteral(lit)
	}
	return slog.New(security.NewRedactingHandler(inner, r)), nil
}
