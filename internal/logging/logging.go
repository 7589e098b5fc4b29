// Package logging builds the structured loggers used across the engine.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger is the logging surface components depend on. *log.Logger
// satisfies it.
type Logger interface {
	Debug(msg any, keyvals ...any)
	Info(msg any, keyvals ...any)
	Warn(msg any, keyvals ...any)
	Error(msg any, keyvals ...any)
}

// Format selects the log line encoding.
type Format string

const (
	FormatText   Format = "text"
	FormatJSON   Format = "json"
	FormatLogfmt Format = "logfmt"
)

// Config configures a logger.
type Config struct {
	// Level is the minimum level written: debug, info, warn or error.
	Level string
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Prefix is prepended to all log messages.
	Prefix string
	// Format is the line encoding. Defaults to text.
	Format Format
	// Timestamps adds a timestamp to every line.
	Timestamps bool
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Output: os.Stderr,
		Prefix: "layerconf",
		Format: FormatText,
	}
}

// New creates a logger from cfg.
func New(cfg Config) *log.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	return log.NewWithOptions(cfg.Output, log.Options{
		Level:           ParseLevel(cfg.Level),
		Prefix:          cfg.Prefix,
		ReportTimestamp: cfg.Timestamps,
		Formatter:       formatter(cfg.Format),
	})
}

// ParseLevel parses a level name. Unknown names yield info.
func ParseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error", "err":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

func formatter(f Format) log.Formatter {
	switch f {
	case FormatJSON:
		return log.JSONFormatter
	case FormatLogfmt:
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}

// With returns l with keyvals attached to every line.
func With(l Logger, keyvals ...any) Logger {
	if l == nil {
		return Nop()
	}
	if cl, ok := l.(*log.Logger); ok {
		return cl.With(keyvals...)
	}
	return &fieldLogger{inner: l, keyvals: keyvals}
}

// Component tags l with the component name.
func Component(l Logger, name string) Logger {
	return With(l, "component", name)
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(any, ...any) {}
func (nopLogger) Info(any, ...any)  {}
func (nopLogger) Warn(any, ...any)  {}
func (nopLogger) Error(any, ...any) {}

// fieldLogger adds fields to loggers that have no With of their own.
type fieldLogger struct {
	inner   Logger
	keyvals []any
}

func (f *fieldLogger) merge(keyvals []any) []any {
	out := make([]any, 0, len(f.keyvals)+len(keyvals))
	out = append(out, f.keyvals...)
	return append(out, keyvals...)
}

func (f *fieldLogger) Debug(msg any, keyvals ...any) { f.inner.Debug(msg, f.merge(keyvals)...) }
func (f *fieldLogger) Info(msg any, keyvals ...any)  { f.inner.Info(msg, f.merge(keyvals)...) }
func (f *fieldLogger) Warn(msg any, keyvals ...any)  { f.inner.Warn(msg, f.merge(keyvals)...) }
func (f *fieldLogger) Error(msg any, keyvals ...any) { f.inner.Error(msg, f.merge(keyvals)...) }
