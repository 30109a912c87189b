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

package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.gearno.de/crypto/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/dexgate/dexgate/internal/version"
	"github.com/dexgate/dexgate/log"
)

type (
	// TelemetryRoundTripper is an http.RoundTripper that wraps
	// another http.RoundTripper to log requests, measure request
	// latency, and count requests.
	TelemetryRoundTripper struct {
		logger *log.Logger
		tracer trace.Tracer

		requestsTotal          *prometheus.CounterVec
		requestDurationSeconds *prometheus.HistogramVec

		next http.RoundTripper
	}
)

const (
	tracerName = "github.com/dexgate/dexgate/httpclient"
)

var (
	_ http.RoundTripper = (*TelemetryRoundTripper)(nil)
)

func newTelemetryRoundTripper(next http.RoundTripper, opts *Options) *TelemetryRoundTripper {
	metricLabels := []string{
		"method",
		"host",
		"scheme",
		"status_code",
	}

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests made.",
		},
		metricLabels,
	)
	if err := opts.registerer.Register(requestsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			requestsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	requestDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		metricLabels,
	)
	if err := opts.registerer.Register(requestDurationSeconds); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			requestDurationSeconds = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	return &TelemetryRoundTripper{
		next:   next,
		logger: opts.logger,
		tracer: opts.tracerProvider.Tracer(
			tracerName,
			trace.WithInstrumentationVersion(
				version.New(0).Alpha(1),
			),
		),
		requestsTotal:          requestsTotal,
		requestDurationSeconds: requestDurationSeconds,
	}
}

// RoundTrip executes a single HTTP transaction and records telemetry
// data including metrics and traces.
func (rt *TelemetryRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	var (
		r2        = r.Clone(r.Context())
		ctx       = r2.Context()
		start     = time.Now()
		requestID = r2.Header.Get("x-request-id")
	)

	if requestID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("cannot generate request-id: %w", err)
		}

		requestID = id.String()
	}
	r2.Header.Set("x-request-id", requestID)

	var (
		rootSpan = trace.SpanFromContext(ctx)
		span     trace.Span
		logger   = rt.logger.With(
			log.String("http_request_method", r2.Method),
			log.String("http_request_scheme", r2.URL.Scheme),
			log.String("http_request_host", r2.URL.Host),
			log.String("http_request_path", r2.URL.Path),
			log.String("http_request_id", requestID),
		)
	)

	if rootSpan.IsRecording() {
		spanName := fmt.Sprintf("%s %s %s", r2.Method, r2.URL.Host, r2.URL.Path)
		ctx, span = rt.tracer.Start(
			ctx,
			spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", r2.Method),
				attribute.String("http.url", r2.URL.String()),
				attribute.String("http.target", r2.URL.Path),
				attribute.String("http.host", r2.URL.Host),
				attribute.String("http.scheme", r2.URL.Scheme),
				attribute.String("http.request_id", requestID),
			),
		)
		defer span.End()

		propagator := otel.GetTextMapPropagator()
		propagator.Inject(ctx, propagation.HeaderCarrier(r2.Header))
	}

	resp, err := rt.next.RoundTrip(r2)
	if err != nil {
		logger.ErrorCtx(ctx, "cannot execute http transaction", log.Error(err))

		if rootSpan.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}

		return nil, err
	}

	if rootSpan.IsRecording() {
		span.SetAttributes(
			attribute.Int("http.status_code", resp.StatusCode),
		)
	}

	duration := time.Since(start)

	rt.requestsTotal.With(prometheus.Labels{
		"method":      r2.Method,
		"host":        r2.URL.Host,
		"scheme":      r2.URL.Scheme,
		"status_code": strconv.Itoa(resp.StatusCode),
	}).Inc()
	rt.requestDurationSeconds.With(prometheus.Labels{
		"method":      r2.Method,
		"host":        r2.URL.Host,
		"scheme":      r2.URL.Scheme,
		"status_code": strconv.Itoa(resp.StatusCode),
	}).Observe(duration.Seconds())

	logLevel := log.LevelDebug
	if resp.StatusCode >= http.StatusInternalServerError {
		logLevel = log.LevelError
	}

	logger.Log(ctx, logLevel,
		fmt.Sprintf("%s %s %d %s", r2.Method, r2.URL.String(), resp.StatusCode, duration),
		log.Int("http_response_status_code", resp.StatusCode),
	)

	return resp, nil
}
