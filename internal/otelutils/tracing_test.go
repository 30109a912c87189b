package otelutils

import (
	"context"
	"errors"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

var invalid = string([]byte{0xff, 0xfe, 'a'})

func TestSanitize(t *testing.T) {
	require.False(t, utf8.ValidString(invalid))

	assert.True(t, utf8.ValidString(sanitize(invalid)))
	assert.Equal(t, "ok", sanitize("ok"))
}

func TestSanitizeErr(t *testing.T) {
	assert.NoError(t, sanitizeErr(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, sanitizeErr(plain))

	inner := errors.New(invalid)
	wrapped := sanitizeErr(inner)
	require.Error(t, wrapped)
	assert.True(t, utf8.ValidString(wrapped.Error()))
	assert.ErrorIs(t, wrapped, inner)
}

func TestWrapTracerProvider_SanitizesRecordedStrings(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(rec),
	)

	tr := WrapTracerProvider(tp).Tracer(invalid)

	key := attribute.Key(invalid)
	_, span := tr.Start(
		context.Background(),
		invalid,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			key.String(invalid),
			key.StringSlice([]string{invalid, "ok"}),
		),
	)

	span.SetStatus(codes.Error, invalid)
	span.AddEvent(invalid, trace.WithAttributes(key.String(invalid)))
	span.RecordError(errors.New(invalid), trace.WithAttributes(key.String(invalid)))
	span.SetAttributes(key.String(invalid))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)

	s := ended[0]
	assert.True(t, utf8.ValidString(s.Name()))
	assert.True(t, utf8.ValidString(s.Status().Description))
	assert.True(t, utf8.ValidString(s.InstrumentationScope().Name))
	assert.Equal(t, trace.SpanKindClient, s.SpanKind())

	requireValidAttrs(t, s.Attributes())
	for _, ev := range s.Events() {
		assert.True(t, utf8.ValidString(ev.Name))
		requireValidAttrs(t, ev.Attributes)
	}
}

func requireValidAttrs(t *testing.T, kvs []attribute.KeyValue) {
	t.Helper()

	for _, kv := range kvs {
		assert.True(t, utf8.ValidString(string(kv.Key)))

		switch kv.Value.Type() {
		case attribute.STRING:
			assert.True(t, utf8.ValidString(kv.Value.AsString()))
		case attribute.STRINGSLICE:
			for _, s := range kv.Value.AsStringSlice() {
				assert.True(t, utf8.ValidString(s))
			}
		}
	}
}
