package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Logger defines a minimal, printf-style logging contract.
//
// Domain packages depend on this interface only; the slog-backed
// implementation is wired in by the command layer.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// Options configures the slog-backed logger.
type Options struct {
	Level  string    // debug, info, warn, error
	Dir    string    // when set, a JSON log is also appended to Dir/warden.log
	Output io.Writer // terminal sink, defaults to stderr
}

// LogFileName is the file written inside Options.Dir.
const LogFileName = "warden.log"

type slogLogger struct {
	logger *slog.Logger
}

// New builds a Logger that fans out to a text handler on Output and, when
// Dir is configured, a JSON handler on the log file. The returned closer
// releases the log file.
func New(opts Options) (Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}),
	}
	var closer io.Closer = nopCloser{}

	if dir := strings.TrimSpace(opts.Dir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(filepath.Join(dir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
		closer = file
	}

	return &slogLogger{logger: slog.New(slogmulti.Fanout(handlers...))}, closer, nil
}

// ParseLevel maps a textual level onto slog, defaulting to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

// WithComponent scopes logger to a component. Loggers that are not slog-backed
// are returned unchanged.
func WithComponent(logger Logger, component string) Logger {
	sl, ok := logger.(*slogLogger)
	if !ok || sl == nil || component == "" {
		return OrNop(logger)
	}
	return &slogLogger{logger: sl.logger.With("component", component)}
}

func (l *slogLogger) Debug(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Warn(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Error(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
