// Package observe provides application-wide observability primitives for
// ingestd: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all ingestd metrics.
const meterName = "github.com/MrWong99/ingestd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency,
	// by backend ("local", "cloud").
	TranscriptionDuration metric.Float64Histogram

	// AnalysisDuration tracks AI analyzer call latency.
	AnalysisDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunksProcessed counts normalized audio chunks flushed to the
	// consumer fan-out. Use with attribute: attribute.String("session_id", ...).
	AudioChunksProcessed metric.Int64Counter

	// CoalescerFlushes counts TextCoalescer flushes by trigger
	// ("word_threshold", "window_timeout", "close").
	CoalescerFlushes metric.Int64Counter

	// AIJobsSubmitted counts jobs submitted to the AI worker pool.
	AIJobsSubmitted metric.Int64Counter

	// AIJobsDropped counts jobs dropped because a prior analysis for the
	// same session was still in flight.
	AIJobsDropped metric.Int64Counter

	// --- Error counters ---

	// TranscriptionErrors counts transcriber failures by backend.
	TranscriptionErrors metric.Int64Counter

	// AnalysisErrors counts AI analyzer failures.
	AnalysisErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live ingestion sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for streaming transcription and AI analysis latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("ingestd.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("ingestd.analysis.duration",
		metric.WithDescription("Latency of AI analyzer calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunksProcessed, err = m.Int64Counter("ingestd.audio.chunks_processed",
		metric.WithDescription("Total normalized audio chunks flushed to the consumer fan-out."),
	); err != nil {
		return nil, err
	}
	if met.CoalescerFlushes, err = m.Int64Counter("ingestd.coalescer.flushes",
		metric.WithDescription("Total TextCoalescer flushes by trigger."),
	); err != nil {
		return nil, err
	}
	if met.AIJobsSubmitted, err = m.Int64Counter("ingestd.ai_pool.jobs_submitted",
		metric.WithDescription("Total jobs submitted to the AI worker pool."),
	); err != nil {
		return nil, err
	}
	if met.AIJobsDropped, err = m.Int64Counter("ingestd.ai_pool.jobs_dropped",
		metric.WithDescription("Total jobs dropped due to an in-flight analysis for the same session."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TranscriptionErrors, err = m.Int64Counter("ingestd.transcription.errors",
		metric.WithDescription("Total transcriber failures by backend."),
	); err != nil {
		return nil, err
	}
	if met.AnalysisErrors, err = m.Int64Counter("ingestd.analysis.errors",
		metric.WithDescription("Total AI analyzer failures."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("ingestd.active_sessions",
		metric.WithDescription("Number of live ingestion sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("ingestd.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscription is a convenience method that records transcription
// latency and, on failure, increments the error counter.
func (m *Metrics) RecordTranscription(ctx context.Context, backend string, seconds float64, err error) {
	m.TranscriptionDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("backend", backend)))
	if err != nil {
		m.TranscriptionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("backend", backend)))
	}
}

// RecordCoalescerFlush is a convenience method that records a TextCoalescer
// flush by trigger.
func (m *Metrics) RecordCoalescerFlush(ctx context.Context, trigger string) {
	m.CoalescerFlushes.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordAnalysis is a convenience method that records AI analyzer latency
// and, on failure, increments the error counter.
func (m *Metrics) RecordAnalysis(ctx context.Context, seconds float64, err error) {
	m.AnalysisDuration.Record(ctx, seconds)
	if err != nil {
		m.AnalysisErrors.Add(ctx, 1)
	}
}
