// Copyright (c) 2026.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

// Package log provides a structured logger built on log/slog with
// OpenTelemetry trace correlation and a human-readable development
// format.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger is a structured logger. The zero value is not usable;
	// use NewLogger.
	Logger struct {
		logger     *slog.Logger
		output     io.Writer
		format     Format
		name       string
		level      *slog.LevelVar
		attributes []Attr
	}

	// Option configures a Logger during initialization.
	Option func(l *Logger)

	// Format selects the output encoding of a Logger.
	Format int

	// Level defines log levels for filtering log messages.
	Level = slog.Level

	// Attr is a key-value pair attached to log entries.
	Attr = slog.Attr
)

const (
	// FormatJSON emits one JSON object per entry. It is the
	// default and what production deployments should scrape.
	FormatJSON Format = iota

	// FormatPretty emits colored, single-line entries for
	// development.
	FormatPretty
)

var (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// WithLevel sets the minimum level emitted by the Logger.
func WithLevel(level Level) Option {
	return func(l *Logger) {
		l.level.Set(level)
	}
}

// WithOutput directs log output to the given io.Writer.
func WithOutput(w io.Writer) Option {
	return func(l *Logger) {
		l.output = w
	}
}

// WithFormat selects the output encoding.
func WithFormat(f Format) Option {
	return func(l *Logger) {
		l.format = f
	}
}

// WithName assigns a dotted component name emitted with every entry.
func WithName(name string) Option {
	return func(l *Logger) {
		l.name = name
	}
}

// WithAttributes assigns default attributes added to every entry.
func WithAttributes(attrs ...Attr) Option {
	return func(l *Logger) {
		l.attributes = attrs
	}
}

// Any creates a key-value attribute with any data type.
func Any(k string, v any) Attr { return slog.Any(k, v) }

// Bool creates a boolean attribute.
func Bool(k string, v bool) Attr { return slog.Bool(k, v) }

// Duration creates a duration attribute.
func Duration(k string, v time.Duration) Attr { return slog.Duration(k, v) }

// Float64 creates a float64 attribute.
func Float64(k string, v float64) Attr { return slog.Float64(k, v) }

// Int creates an integer attribute.
func Int(k string, v int) Attr { return slog.Int(k, v) }

// Int64 creates an int64 attribute.
func Int64(k string, v int64) Attr { return slog.Int64(k, v) }

// String creates a string attribute.
func String(k, v string) Attr { return slog.String(k, v) }

// Time creates a time attribute.
func Time(k string, v time.Time) Attr { return slog.Time(k, v) }

// Uint64 creates a uint64 attribute.
func Uint64(k string, v uint64) Attr { return slog.Uint64(k, v) }

// Error creates an attribute from an error, storing the error
// message under the "error" key.
func Error(err error) Attr { return String("error", err.Error()) }

// NewLogger initializes a new Logger. Without options it writes JSON
// entries at info level to stderr.
func NewLogger(options ...Option) *Logger {
	l := &Logger{
		output: os.Stderr,
		level:  new(slog.LevelVar),
	}

	for _, option := range options {
		option(l)
	}

	var handler slog.Handler
	switch l.format {
	case FormatPretty:
		handler = newPrettyHandler(l.output, l.level)
	default:
		handler = slog.NewJSONHandler(
			l.output,
			&slog.HandlerOptions{Level: l.level},
		)
	}

	attrs := l.attributes
	if l.name != "" {
		attrs = append([]Attr{String("logger", l.name)}, attrs...)
	}

	l.logger = slog.New(handler.WithAttrs(attrs))

	return l
}

// With returns a new Logger carrying additional default attributes.
func (l *Logger) With(attrs ...Attr) *Logger {
	return NewLogger(
		WithName(l.name),
		WithOutput(l.output),
		WithFormat(l.format),
		WithLevel(l.level.Level()),
		WithAttributes(
			append(append([]Attr{}, l.attributes...), attrs...)...,
		),
	)
}

// Named returns a new Logger whose name is the current name extended
// with the given component, separated by a dot.
func (l *Logger) Named(name string, options ...Option) *Logger {
	path := l.name
	if path != "" {
		path += "."
	}
	path += name

	options = append(
		[]Option{
			WithOutput(l.output),
			WithFormat(l.format),
			WithLevel(l.level.Level()),
			WithAttributes(l.attributes...),
		},
		append(options, WithName(path))...,
	)

	return NewLogger(options...)
}

// Log logs a message at the given level. When the context carries a
// recording span, trace_id and span_id attributes are added so log
// entries can be joined with traces.
func (l *Logger) Log(ctx context.Context, level Level, msg string, args ...Attr) {
	span := trace.SpanFromContext(ctx)

	if span.IsRecording() {
		spanCtx := span.SpanContext()
		args = append(
			args,
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	l.logger.LogAttrs(ctx, level, msg, args...)
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...Attr) {
	l.Log(context.Background(), LevelDebug, msg, args...)
}

// DebugCtx logs a debug message with trace correlation from ctx.
func (l *Logger) DebugCtx(ctx context.Context, msg string, args ...Attr) {
	l.Log(ctx, LevelDebug, msg, args...)
}

// Info logs an informational message.
func (l *Logger) Info(msg string, args ...Attr) {
	l.Log(context.Background(), LevelInfo, msg, args...)
}

// InfoCtx logs an informational message with trace correlation from ctx.
func (l *Logger) InfoCtx(ctx context.Context, msg string, args ...Attr) {
	l.Log(ctx, LevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...Attr) {
	l.Log(context.Background(), LevelWarn, msg, args...)
}

// WarnCtx logs a warning message with trace correlation from ctx.
func (l *Logger) WarnCtx(ctx context.Context, msg string, args ...Attr) {
	l.Log(ctx, LevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...Attr) {
	l.Log(context.Background(), LevelError, msg, args...)
}

// ErrorCtx logs an error message with trace correlation from ctx.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, args ...Attr) {
	l.Log(ctx, LevelError, msg, args...)
}
