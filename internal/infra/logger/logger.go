package logger

import (
	"io"
	"log/slog"
	"os"
)

// New logs JSON to stderr; stdout belongs to the operator terminal.
func New(env, terminalID string) *slog.Logger {
	return NewWithWriter(os.Stderr, env, terminalID)
}

func NewWithWriter(w io.Writer, env, terminalID string) *slog.Logger {
	level := slog.LevelInfo
	if env == "dev" {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	l := slog.New(h)
	if terminalID != "" {
		l = l.With("terminal_id", terminalID)
	}
	return l
}
