package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Format selects the slog handler used for the process log.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

const timeLayout = "2006-01-02 15:04:05.000"

type sink struct{ w io.Writer }

var (
	level  slog.LevelVar
	format atomic.Value // Format
	output atomic.Pointer[sink]
	active atomic.Pointer[slog.Logger]
)

func init() {
	level.Set(slog.LevelInfo)
	format.Store(FormatText)
	output.Store(&sink{w: os.Stdout})
	rebuild()
}

// rebuild swaps in a logger for the current output and format. Callers that
// already hold the old pointer finish their write on the old handler.
func rebuild() {
	w := output.Load().w
	opts := &slog.HandlerOptions{Level: &level, ReplaceAttr: stampMillis}
	var h slog.Handler
	if f, _ := format.Load().(Format); f == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	active.Store(slog.New(h))
}

func stampMillis(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
		return slog.String(slog.TimeKey, a.Value.Time().Format(timeLayout))
	}
	return a
}

// SetOutput swaps the sink of the process logger. Safe for concurrent use.
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	output.Store(&sink{w: w})
	rebuild()
}

// SetFormat switches between text and JSON records; unknown values mean text.
func SetFormat(f string) {
	switch Format(strings.ToLower(strings.TrimSpace(f))) {
	case FormatJSON:
		format.Store(FormatJSON)
	default:
		format.Store(FormatText)
	}
	rebuild()
}

func SetLevel(l string) {
	level.Set(ParseLevel(l))
}

// Enabled reports whether records at l would be written.
func Enabled(l slog.Level) bool {
	return l >= level.Level()
}

// ParseLevel maps debug|info|warn|error onto slog levels. Unknown values map to info.
func ParseLevel(l string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(l)) {
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

func logf(l slog.Level, msg string, v []any) {
	if !Enabled(l) {
		return
	}
	if len(v) > 0 {
		msg = fmt.Sprintf(msg, v...)
	}
	active.Load().Log(context.Background(), l, msg)
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v) }

func Infof(format string, v ...any) { logf(slog.LevelInfo, format, v) }

func Warnf(format string, v ...any) { logf(slog.LevelWarn, format, v) }

func Errorf(format string, v ...any) { logf(slog.LevelError, format, v) }

// InfoBlock logs a multi-line block one record per non-empty line.
func InfoBlock(block string) {
	for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		logf(slog.LevelInfo, line, nil)
	}
}
