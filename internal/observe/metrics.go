// Package observe provides application-wide observability primitives for
// auric: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all auric metrics.
const meterName = "github.com/pkarell/auric"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks capture-end to final-transcript latency.
	TranscriptionDuration metric.Float64Histogram

	// GenerationDuration tracks final-transcript to first-response-chunk
	// latency.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks first-response-chunk to first-audio-chunk
	// latency.
	SynthesisDuration metric.Float64Histogram

	// TurnDuration tracks capture-end to first-audio latency, the perceived
	// responsiveness of the assistant.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversation turns. Use with attribute:
	//   attribute.String("status", "completed"|"failed"|"abandoned")
	Turns metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BreakerTransitions counts circuit-breaker state changes. Use with
	// attributes:
	//   attribute.String("provider", ...), attribute.String("to", "open"|"half-open"|"closed")
	BreakerTransitions metric.Int64Counter

	// Interruptions counts barge-ins that cancelled an in-flight reply.
	Interruptions metric.Int64Counter

	// SegmentEvictions counts frames evicted from a full capture buffer.
	SegmentEvictions metric.Int64Counter

	// DroppedFrames counts capture frames dropped because the pipeline could
	// not keep up.
	DroppedFrames metric.Int64Counter

	// --- Gauges ---

	// PipelineState reports the current pipeline state as an integer code so
	// dashboards can graph state over time.
	PipelineState metric.Int64Gauge

	// ActiveTurns tracks turns currently in flight (0 or 1 in practice; more
	// during a barge-in handover window).
	ActiveTurns metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.TranscriptionDuration, err = m.Float64Histogram("auric.transcription.duration",
		metric.WithDescription("Latency from capture end to final transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("auric.generation.duration",
		metric.WithDescription("Latency from final transcript to first response chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("auric.synthesis.duration",
		metric.WithDescription("Latency from first response chunk to first audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("auric.turn.duration",
		metric.WithDescription("Latency from capture end to first audible audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("auric.turns",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("auric.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("auric.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("auric.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions by provider and target state."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("auric.interruptions",
		metric.WithDescription("Barge-ins that cancelled an in-flight reply."),
	); err != nil {
		return nil, err
	}
	if met.SegmentEvictions, err = m.Int64Counter("auric.segment.evictions",
		metric.WithDescription("Frames evicted from a full capture buffer."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("auric.dropped_frames",
		metric.WithDescription("Capture frames dropped under backpressure."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.PipelineState, err = m.Int64Gauge("auric.pipeline.state",
		metric.WithDescription("Current pipeline state code."),
	); err != nil {
		return nil, err
	}
	if met.ActiveTurns, err = m.Int64UpDownCounter("auric.active_turns",
		metric.WithDescription("Turns currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("auric.http.request.duration",
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

// RecordTurn records a completed, failed, or abandoned turn.
func (m *Metrics) RecordTurn(ctx context.Context, status string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a circuit-breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("to", to),
		),
	)
}

// RecordPipelineState reports the current pipeline state code.
func (m *Metrics) RecordPipelineState(ctx context.Context, state int64) {
	m.PipelineState.Record(ctx, state)
}
