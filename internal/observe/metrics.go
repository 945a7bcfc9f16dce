// Package observe provides application-wide observability primitives for
// CareScript: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all CareScript metrics.
const meterName = "github.com/carescript/carescript"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks batch transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// CalibrationBuildDuration tracks calibrated-recording assembly latency
	// (decode, resample, concatenate, encode).
	CalibrationBuildDuration metric.Float64Histogram

	// SessionStartDuration tracks voice agent session start latency, from
	// credential request to live connection.
	SessionStartDuration metric.Float64Histogram

	// InterventionDuration tracks how long interventions stay active,
	// in seconds. Use with attribute:
	//   attribute.String("reason", ...)
	InterventionDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// SegmentsProcessed counts finalized transcript segments evaluated by the
	// classifier. Use with attribute:
	//   attribute.String("hostile", "true"|"false")
	SegmentsProcessed metric.Int64Counter

	// Interventions counts interventions by how they started and ended.
	// Use with attributes:
	//   attribute.String("trigger", ...), attribute.String("reason", ...)
	Interventions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCareSessions tracks the number of live monitoring sessions.
	ActiveCareSessions metric.Int64UpDownCounter

	// ActiveInterventions tracks the number of voice interventions currently
	// running.
	ActiveInterventions metric.Int64UpDownCounter

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

// interventionBuckets defines histogram bucket boundaries (in seconds) for
// intervention durations, which run to minutes rather than milliseconds.
var interventionBuckets = []float64{
	5, 15, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("carescript.transcription.duration",
		metric.WithDescription("Latency of batch transcription requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CalibrationBuildDuration, err = m.Float64Histogram("carescript.calibration.build.duration",
		metric.WithDescription("Latency of calibrated-recording assembly."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionStartDuration, err = m.Float64Histogram("carescript.voice_session.start.duration",
		metric.WithDescription("Latency of voice agent session start."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.InterventionDuration, err = m.Float64Histogram("carescript.intervention.duration",
		metric.WithDescription("Duration of voice interventions by end reason."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(interventionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("carescript.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsProcessed, err = m.Int64Counter("carescript.segments.processed",
		metric.WithDescription("Total finalized transcript segments evaluated by the classifier."),
	); err != nil {
		return nil, err
	}
	if met.Interventions, err = m.Int64Counter("carescript.interventions",
		metric.WithDescription("Total interventions by trigger and end reason."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("carescript.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCareSessions, err = m.Int64UpDownCounter("carescript.active_care_sessions",
		metric.WithDescription("Number of live monitoring sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveInterventions, err = m.Int64UpDownCounter("carescript.active_interventions",
		metric.WithDescription("Number of voice interventions currently running."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("carescript.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordSegment is a convenience method that records a classified transcript
// segment.
func (m *Metrics) RecordSegment(ctx context.Context, hostile bool) {
	label := "false"
	if hostile {
		label = "true"
	}
	m.SegmentsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("hostile", label)),
	)
}

// RecordIntervention is a convenience method that records a completed
// intervention with its duration.
func (m *Metrics) RecordIntervention(ctx context.Context, trigger, reason string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("reason", reason),
	)
	m.Interventions.Add(ctx, 1, attrs)
	m.InterventionDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
