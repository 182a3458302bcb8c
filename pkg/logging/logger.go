// Package logging provides structured logging for the tala command-line tool.
// It wraps zerolog to provide a consistent logging interface with support for
// JSON output (log shippers) and human-readable output (terminals).
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/term"
)

// ContextKey type for context values to avoid collisions.
type ContextKey string

// Context keys for run information.
const (
	RunIDKey  ContextKey = "run_id"
	SourceKey ContextKey = "source"
)

// Level represents logging severity levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level Level

	// Program is included in all log entries.
	Program string

	// JSONFormat enables JSON output when true, human-readable when false.
	JSONFormat bool

	// Output sets the writer for logs (defaults to os.Stderr, keeping
	// standard output for reports).
	Output io.Writer

	// NoColor disables colors in human-readable output. Colors are also
	// disabled when Output is not a terminal.
	NoColor bool
}

// DefaultConfig returns a Config with sensible defaults for a CLI run.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelWarn,
		Program:    "tala",
		JSONFormat: false,
		Output:     os.Stderr,
	}
}

// Logger is the interface for structured logging.
type Logger interface {
	// Debug logs a debug message with optional fields.
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields.
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields.
	Error(msg string, fields ...Field)

	// With returns a new Logger with the given fields attached to all subsequent logs.
	With(fields ...Field) Logger

	// WithContext returns a new Logger that extracts run and trace information from the context.
	WithContext(ctx context.Context) Logger

	// Zerolog returns the underlying zerolog.Logger.
	Zerolog() zerolog.Logger
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field with the given key and value.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Err creates a Field for an error.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// logger implements the Logger interface using zerolog.
type logger struct {
	zl zerolog.Logger
}

// NewLogger creates a new Logger with the given configuration.
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	var zl zerolog.Logger

	if cfg.JSONFormat {
		zl = zerolog.New(output)
	} else {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.NoColor || !isTerminal(output),
		}
		zl = zerolog.New(consoleWriter)
	}

	ctx := zl.Level(parseLevel(cfg.Level)).With().Timestamp()
	if cfg.Program != "" {
		ctx = ctx.Str("program", cfg.Program)
	}

	return &logger{zl: ctx.Logger()}
}

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Zerolog returns the underlying zerolog.Logger.
func (l *logger) Zerolog() zerolog.Logger {
	return l.zl
}

// parseLevel converts Level to zerolog.Level.
func parseLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// Debug logs a debug message.
func (l *logger) Debug(msg string, fields ...Field) {
	addFields(l.zl.Debug(), fields).Msg(msg)
}

// Info logs an info message.
func (l *logger) Info(msg string, fields ...Field) {
	addFields(l.zl.Info(), fields).Msg(msg)
}

// Warn logs a warning message.
func (l *logger) Warn(msg string, fields ...Field) {
	addFields(l.zl.Warn(), fields).Msg(msg)
}

// Error logs an error message.
func (l *logger) Error(msg string, fields ...Field) {
	addFields(l.zl.Error(), fields).Msg(msg)
}

// With returns a new logger with additional fields.
func (l *logger) With(fields ...Field) Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = addFieldToContext(ctx, f)
	}
	return &logger{zl: ctx.Logger()}
}

// WithContext returns a new logger that includes run and trace information from context.
func (l *logger) WithContext(ctx context.Context) Logger {
	newLogger := l.zl.With()

	if runID, ok := ctx.Value(RunIDKey).(string); ok && runID != "" {
		newLogger = newLogger.Str("run_id", runID)
	}

	if source, ok := ctx.Value(SourceKey).(string); ok && source != "" {
		newLogger = newLogger.Str("source", source)
	}

	// Extract trace_id from the active span, if a provider records one.
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		newLogger = newLogger.Str("trace_id", sc.TraceID().String())
	}

	return &logger{zl: newLogger.Logger()}
}

// WithRunID returns a context carrying the run ID picked up by WithContext.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// RunID returns the run ID stored in ctx, or "".
func RunID(ctx context.Context) string {
	runID, _ := ctx.Value(RunIDKey).(string)
	return runID
}

// WithSource returns a context carrying the input source picked up by WithContext.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, SourceKey, source)
}

// addFields adds multiple fields to a zerolog event.
func addFields(event *zerolog.Event, fields []Field) *zerolog.Event {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case float64:
			event = event.Float64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case error:
			event = event.Err(v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case time.Time:
			event = event.Time(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	return event
}

// addFieldToContext adds a field to a zerolog context.
func addFieldToContext(ctx zerolog.Context, f Field) zerolog.Context {
	switch v := f.Value.(type) {
	case string:
		return ctx.Str(f.Key, v)
	case int:
		return ctx.Int(f.Key, v)
	case int64:
		return ctx.Int64(f.Key, v)
	case float64:
		return ctx.Float64(f.Key, v)
	case bool:
		return ctx.Bool(f.Key, v)
	case error:
		return ctx.Err(v)
	case time.Duration:
		return ctx.Dur(f.Key, v)
	case time.Time:
		return ctx.Time(f.Key, v)
	default:
		return ctx.Interface(f.Key, v)
	}
}

// nopLogger is a logger that discards all output.
type nopLogger struct{}

func (n *nopLogger) Debug(msg string, fields ...Field)      {}
func (n *nopLogger) Info(msg string, fields ...Field)       {}
func (n *nopLogger) Warn(msg string, fields ...Field)       {}
func (n *nopLogger) Error(msg string, fields ...Field)      {}
func (n *nopLogger) With(fields ...Field) Logger            { return n }
func (n *nopLogger) WithContext(ctx context.Context) Logger { return n }
func (n *nopLogger) Zerolog() zerolog.Logger                { return zerolog.Nop() }

// NewNopLogger returns a logger that discards all output.
// Useful for testing when you don't want log noise.
func NewNopLogger() Logger {
	return &nopLogger{}
}
