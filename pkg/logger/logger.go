package logger

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// Setup builds the process logger on stderr: text when stderr is a
// terminal, JSON otherwise.
func Setup(level slog.Level) *slog.Logger {
	return New(os.Stderr, level, term.IsTerminal(int(os.Stderr.Fd())))
}

// New builds a logger writing to w.
func New(w io.Writer, level slog.Level, text bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}
