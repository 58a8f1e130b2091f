package internal

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// newLogger builds the structured logger. With the auto format, a terminal
// gets the text handler and anything else gets JSON.
func newLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	format := cfg.LogFormat
	if format == "" || format == LogFormatAuto {
		format = LogFormatJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = LogFormatText
		}
	}
	if format == LogFormatText {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
