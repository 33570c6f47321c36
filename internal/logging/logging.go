// Package logging constructs [slog.Handler] values for command-line tools.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
)

// Supported log formats.
const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatPretty = "pretty"
	FormatAuto   = "auto" // pretty on a terminal, text otherwise
)

// ErrUnknownFormat is reported by [CreateHandler] for an unsupported format.
var ErrUnknownFormat = errors.New("unknown log format")

// CreateHandler creates a [slog.Handler] that writes to w at the given level
// and format. An empty format is treated as text.
func CreateHandler(w io.Writer, level, format string) (slog.Handler, error) {
	lvl := GetLevel(level)

	switch strings.ToLower(format) {
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}), nil
	case FormatText, "":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}), nil
	case FormatPretty:
		return newPrettyHandler(w, lvl), nil
	case FormatAuto:
		if isTerminal(w) {
			return newPrettyHandler(w, lvl), nil
		}
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// GetLevel parses a level name. Unrecognized names map to info.
func GetLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "error", "fatal", "panic":
		return slog.LevelError
	case "warn", "warning":
		return slog.LevelWarn
	case "debug", "trace":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func newPrettyHandler(w io.Writer, lvl slog.Level) slog.Handler {
	return log.NewWithOptions(w, log.Options{
		Level:           log.Level(lvl),
		ReportTimestamp: true,
	})
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
