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

package otelutils

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

type (
	tracerProvider struct {
		embedded.TracerProvider

		next trace.TracerProvider
	}

	tracer struct {
		embedded.Tracer

		next trace.Tracer
		tp   *tracerProvider
	}

	span struct {
		embedded.Span

		next trace.Span
		tp   *tracerProvider
	}
)

// WrapTracerProvider sanitizes every string recorded through the
// returned provider (span names, attributes, status descriptions,
// event names, error messages) before it reaches the SDK.
func WrapTracerProvider(next trace.TracerProvider) trace.TracerProvider {
	return &tracerProvider{next: next}
}

func (tp *tracerProvider) Tracer(name string, options ...trace.TracerOption) trace.Tracer {
	return &tracer{
		next: tp.next.Tracer(sanitize(name), options...),
		tp:   tp,
	}
}

func (t *tracer) Start(ctx context.Context, name string, options ...trace.SpanStartOption) (context.Context, trace.Span) {
	cfg := trace.NewSpanStartConfig(options...)

	opts := make([]trace.SpanStartOption, 0, 4)
	if cfg.NewRoot() {
		opts = append(opts, trace.WithNewRoot())
	}
	if sk := cfg.SpanKind(); sk != trace.SpanKindUnspecified {
		opts = append(opts, trace.WithSpanKind(sk))
	}
	if ts := cfg.Timestamp(); !ts.IsZero() {
		opts = append(opts, trace.WithTimestamp(ts))
	}
	for _, l := range cfg.Links() {
		opts = append(opts, trace.WithLinks(sanitizeLink(l)))
	}
	if attrs := cfg.Attributes(); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(sanitizeAttrs(attrs)...))
	}

	ctx, s := t.next.Start(ctx, sanitize(name), opts...)

	return ctx, &span{next: s, tp: t.tp}
}

func (s *span) End(options ...trace.SpanEndOption) { s.next.End(options...) }
func (s *span) SpanContext() trace.SpanContext     { return s.next.SpanContext() }
func (s *span) IsRecording() bool                  { return s.next.IsRecording() }
func (s *span) SetName(name string)                { s.next.SetName(sanitize(name)) }

func (s *span) SetStatus(code codes.Code, description string) {
	s.next.SetStatus(code, sanitize(description))
}

func (s *span) SetAttributes(kv ...attribute.KeyValue) {
	s.next.SetAttributes(sanitizeAttrs(kv)...)
}

func (s *span) AddEvent(name string, options ...trace.EventOption) {
	s.next.AddEvent(sanitize(name), sanitizeEventOptions(options)...)
}

func (s *span) AddLink(link trace.Link) {
	s.next.AddLink(sanitizeLink(link))
}

func (s *span) RecordError(err error, options ...trace.EventOption) {
	s.next.RecordError(sanitizeErr(err), sanitizeEventOptions(options)...)
}

// TracerProvider returns the wrapper, so tracers derived from a
// span stay sanitized.
func (s *span) TracerProvider() trace.TracerProvider { return s.tp }

func sanitizeEventOptions(options []trace.EventOption) []trace.EventOption {
	cfg := trace.NewEventConfig(options...)

	opts := make([]trace.EventOption, 0, 3)
	if ts := cfg.Timestamp(); !ts.IsZero() {
		opts = append(opts, trace.WithTimestamp(ts))
	}
	if cfg.StackTrace() {
		opts = append(opts, trace.WithStackTrace(true))
	}
	if attrs := cfg.Attributes(); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(sanitizeAttrs(attrs)...))
	}

	return opts
}

func sanitizeLink(l trace.Link) trace.Link {
	return trace.Link{
		SpanContext: l.SpanContext,
		Attributes:  sanitizeAttrs(l.Attributes),
	}
}

func sanitizeAttrs(in []attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(in))
	for _, kv := range in {
		if !kv.Valid() {
			continue
		}

		key := attribute.Key(sanitize(string(kv.Key)))
		switch kv.Value.Type() {
		case attribute.STRING:
			out = append(out, key.String(sanitize(kv.Value.AsString())))
		case attribute.STRINGSLICE:
			// AsStringSlice returns a copy, safe to rewrite.
			ss := kv.Value.AsStringSlice()
			for i := range ss {
				ss[i] = sanitize(ss[i])
			}
			out = append(out, key.StringSlice(ss))
		default:
			out = append(out, attribute.KeyValue{Key: key, Value: kv.Value})
		}
	}

	return out
}
