package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Level is a log severity. Trace sits below slog's Debug.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

const slogTrace = slog.Level(-8)

var (
	mu   sync.RWMutex
	base *slog.Logger
)

var (
	current = LevelInfo
	format  = "text"
	leveler = new(slog.LevelVar)
)

var out io.Writer = os.Stderr

// debugBuild is set via ldflags for debug builds
var debugBuild = ""

func init() {
	rebuild()
	if DebugForced() {
		SetLevel(LevelDebug)
	}
}

// DebugForced reports whether a debug build or SDXLPROMPT_DEBUG=1 asks
// for debug output regardless of configuration.
func DebugForced() bool {
	return debugBuild == "true" || os.Getenv("SDXLPROMPT_DEBUG") == "1"
}

// ParseLevel maps a --log flag value to a Level. fatal and panic are
// accepted as aliases of error.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error", "fatal", "panic":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("invalid log level %q (use trace, debug, info, warn, error)", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	default:
		return "error"
	}
}

func (l Level) slog() slog.Level {
	switch l {
	case LevelTrace:
		return slogTrace
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// SetLevel sets the minimum level that is emitted.
func SetLevel(l Level) {
	mu.Lock()
	current = l
	leveler.Set(l.slog())
	mu.Unlock()
}

// GetLevel returns the active level.
func GetLevel() Level {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetFormat switches between "text" and "json" records.
func SetFormat(f string) {
	mu.Lock()
	if strings.EqualFold(strings.TrimSpace(f), "json") {
		format = "json"
	} else {
		format = "text"
	}
	rebuild()
	mu.Unlock()
}

// SetOutput redirects log records. A nil writer restores stderr.
func SetOutput(w io.Writer) {
	mu.Lock()
	if w == nil {
		w = os.Stderr
	}
	out = w
	rebuild()
	mu.Unlock()
}

// SetFile appends log records to path in addition to stderr.
func SetFile(path string) (io.Closer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	SetOutput(io.MultiWriter(os.Stderr, f))
	return f, nil
}

// rebuild must be called with mu held.
func rebuild() {
	opts := &slog.HandlerOptions{
		Level: leveler,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == slogTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if format == "json" {
		base = slog.New(slog.NewJSONHandler(out, opts))
	} else {
		base = slog.New(slog.NewTextHandler(out, opts))
	}
}

func logf(l Level, msg string, args ...any) {
	mu.RLock()
	lg := base
	mu.RUnlock()
	if !lg.Enabled(context.Background(), l.slog()) {
		return
	}
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	lg.Log(context.Background(), l.slog(), msg)
}

func Trace(msg string, args ...any) { logf(LevelTrace, msg, args...) }
func Debug(msg string, args ...any) { logf(LevelDebug, msg, args...) }
func Info(msg string, args ...any)  { logf(LevelInfo, msg, args...) }
func Warn(msg string, args ...any)  { logf(LevelWarn, msg, args...) }
func Error(msg string, args ...any) { logf(LevelError, msg, args...) }

// With returns a structured logger for call sites that want key/value
// attributes instead of printf formatting.
func With(args ...any) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With(args...)
}
