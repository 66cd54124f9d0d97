package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// New creates a configured *slog.Logger. Records logged with a context that
// carries a call-chain ID get a chain_id attribute.
// The returned closer function should be deferred to flush/close file handles.
func New(cfg config.LoggerConfig) (*slog.Logger, func() error, error) {
	writer, closer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, nil, fmt.Errorf("open log output: %w", err)
	}
	return slog.New(NewHandler(writer, cfg)), closer, nil
}

// NewHandler builds the handler New uses, writing to w.
func NewHandler(w io.Writer, cfg config.LoggerConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return chainHandler{Handler: handler}
}

// chainHandler adds the call-chain ID found on the record's context.
type chainHandler struct {
	slog.Handler
}

func (h chainHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := domain.ChainIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String("chain_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h chainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return chainHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h chainHandler) WithGroup(name string) slog.Handler {
	return chainHandler{Handler: h.Handler.WithGroup(name)}
}

// parseLevel converts a string level to slog.Level.
func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openOutput returns an io.Writer for the specified output target.
func openOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, noop, nil
	case "stderr", "":
		return os.Stderr, noop, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	}
}
