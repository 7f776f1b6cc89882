package log

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

var currentLevel atomic.Value // stores slog.Level

func init() {
	level, err := parseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = slog.LevelInfo
	}

	currentLevel.Store(level)
	updateHandler()
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "ERROR":
		return slog.LevelError, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "INFO", "":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

// updateHandler recreates the default handler with the current log level
func updateHandler() {
	level := currentLevel.Load().(slog.Level)

	var handler slog.Handler
	if strings.ToUpper(os.Getenv("LOG_FORMAT")) == "JSON" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   "timestamp",
						Value: slog.StringValue(a.Value.Time().UTC().Format(time.RFC3339Nano)),
					}
				}
				return a
			},
		})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
			ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
				if a.Key == slog.TimeKey {
					return slog.Attr{
						Key:   slog.TimeKey,
						Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05.000-07:00")),
					}
				}
				return a
			},
		})
	}

	slog.SetDefault(slog.New(handler))
}

// Logger is the capability interface handed to the request pipeline.
// Components never log through package-level state; they receive one of
// these at construction time so callers can redirect or silence output.
type Logger interface {
	Debug(message string, fields map[string]any)
	Info(message string, fields map[string]any)
	Warn(message string, fields map[string]any)
	Error(message string, fields map[string]any)
}

// Default returns a Logger backed by the process-wide slog handler,
// tagging every record with the given component name.
func Default(component string) Logger {
	return slogLogger{component: component}
}

type slogLogger struct {
	component string
}

func (l slogLogger) Debug(message string, fields map[string]any) {
	slog.Default().Debug(message, buildArgs(l.component, fields)...)
}

func (l slogLogger) Info(message string, fields map[string]any) {
	slog.Default().Info(message, buildArgs(l.component, fields)...)
}

func (l slogLogger) Warn(message string, fields map[string]any) {
	slog.Default().Warn(message, buildArgs(l.component, fields)...)
}

func (l slogLogger) Error(message string, fields map[string]any) {
	slog.Default().Error(message, buildArgs(l.component, fields)...)
}

// Discard returns a Logger that drops everything. Used in tests.
func Discard() Logger {
	return discardLogger{}
}

type discardLogger struct{}

func (discardLogger) Debug(string, map[string]any) {}
func (discardLogger) Info(string, map[string]any)  {}
func (discardLogger) Warn(string, map[string]any)  {}
func (discardLogger) Error(string, map[string]any) {}

func buildArgs(component string, fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2+2)
	args = append(args, "component", component)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// LogError logs through the process-wide handler, for code that runs
// before a Logger exists (startup, response encoding).
func LogError(format string, args ...any) {
	slog.Default().Error(fmt.Sprintf(format, args...))
}
