// Package obslog provides the gateway's structured logger: a thin wrapper
// around charmbracelet/log carried through context.Context, following the
// same FromContext/ContextWithLogger/SetupLogger shape the teacher repo
// uses for its own service logger.
package obslog

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// LogLevel is the gateway's own level enum; it is translated to charmlog's
// integer levels at logger construction time so callers never import charmlog.
type LogLevel string

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
)

// ToCharmlogLevel converts the gateway level into charmbracelet/log's level type.
func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// Config controls logger construction.
type Config struct {
	Level      LogLevel
	Output     io.Writer
	JSON       bool
	AddSource  bool
	TimeFormat string
}

func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stdout,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// TestConfig silences logging for unit tests unless overridden.
func TestConfig() *Config {
	return &Config{
		Level:      DisabledLevel,
		Output:     io.Discard,
		JSON:       false,
		AddSource:  false,
		TimeFormat: "15:04:05",
	}
}

// IsTestEnvironment reports whether the process is running under `go test`.
func IsTestEnvironment() bool {
	return testing.Testing()
}

// Logger is the interface every component in the gateway logs through.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

type charmLogger struct {
	l *charmlog.Logger
}

func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		if IsTestEnvironment() {
			cfg = TestConfig()
		} else {
			cfg = DefaultConfig()
		}
	}
	opts := charmlog.Options{
		Level:           cfg.Level.ToCharmlogLevel(),
		ReportCaller:    cfg.AddSource,
		ReportTimestamp: true,
		TimeFormat:      cfg.TimeFormat,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &charmLogger{l: charmlog.NewWithOptions(out, opts)}
}

func (c *charmLogger) Debug(msg string, kv ...any) { c.l.Debug(msg, kv...) }
func (c *charmLogger) Info(msg string, kv ...any)  { c.l.Info(msg, kv...) }
func (c *charmLogger) Warn(msg string, kv ...any)  { c.l.Warn(msg, kv...) }
func (c *charmLogger) Error(msg string, kv ...any) { c.l.Error(msg, kv...) }
func (c *charmLogger) With(kv ...any) Logger {
	return &charmLogger{l: c.l.With(kv...)}
}

type ctxKey struct{}

var loggerCtxKey = ctxKey{}

// ContextWithLogger attaches l to ctx.
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey, l)
}

var fallback = NewLogger(nil)

// FromContext returns the logger attached to ctx, or a disabled/default
// fallback logger when none is present — never nil.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return fallback
	}
	if l, ok := ctx.Value(loggerCtxKey).(Logger); ok && l != nil {
		return l
	}
	return fallback
}

// SetupLogger builds the process-wide logger from a level directive, json
// flag, and debug override — mirrors the teacher's SetupLogger(level, json, debug).
func SetupLogger(level LogLevel, jsonOutput bool, debug bool) Logger {
	if debug {
		level = DebugLevel
	}
	return NewLogger(&Config{
		Level:      level,
		Output:     os.Stdout,
		JSON:       jsonOutput,
		TimeFormat: time.Kitchen,
	})
}
