// Package observe provides the observability primitives of purescribe:
// OpenTelemetry metrics, tracing, trace-aware logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exposed for
// scraping through the Prometheus exporter set up by [InitProvider]. Tests
// should build their own [Metrics] with [NewMetrics] and a private
// [metric.MeterProvider] instead of touching [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/purescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// TranscriptionDuration tracks the wall time of a transcription job from
	// engine acquisition to the terminal event.
	TranscriptionDuration metric.Float64Histogram

	// TranslationDuration tracks the wall time of a translation job.
	TranslationDuration metric.Float64Histogram

	// ModelLoadDuration tracks engine acquisition time. Use with attribute:
	//   attribute.String("kind", ...)
	ModelLoadDuration metric.Float64Histogram

	// ProviderRequests counts engine calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts engine failures. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Jobs counts finished jobs. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	Jobs metric.Int64Counter

	// Chunks counts decoded audio windows.
	Chunks metric.Int64Counter

	// ActiveJobs tracks jobs currently running. Use with attribute:
	//   attribute.String("kind", ...)
	ActiveJobs metric.Int64UpDownCounter

	// Subscribers tracks connected event-stream subscribers.
	Subscribers metric.Int64UpDownCounter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// jobBuckets are histogram boundaries in seconds for whole inference jobs,
// which run from a fraction of a second to many minutes.
var jobBuckets = []float64{
	0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("purescribe.transcription.duration",
		metric.WithDescription("Wall time of a transcription job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslationDuration, err = m.Float64Histogram("purescribe.translation.duration",
		metric.WithDescription("Wall time of a translation job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModelLoadDuration, err = m.Float64Histogram("purescribe.model_load.duration",
		metric.WithDescription("Time to acquire an inference engine, downloads included."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(jobBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("purescribe.provider.requests",
		metric.WithDescription("Total engine calls by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("purescribe.provider.errors",
		metric.WithDescription("Total engine errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Jobs, err = m.Int64Counter("purescribe.jobs",
		metric.WithDescription("Finished jobs by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.Chunks, err = m.Int64Counter("purescribe.transcription.chunks",
		metric.WithDescription("Decoded audio windows."),
	); err != nil {
		return nil, err
	}

	if met.ActiveJobs, err = m.Int64UpDownCounter("purescribe.active_jobs",
		metric.WithDescription("Jobs currently running by kind."),
	); err != nil {
		return nil, err
	}
	if met.Subscribers, err = m.Int64UpDownCounter("purescribe.subscribers",
		metric.WithDescription("Connected event-stream subscribers."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("purescribe.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("purescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails, which does not happen with the global provider.
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

// WithKind is the measurement option for the "kind" attribute.
func WithKind(kind string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("kind", kind))
}

// RecordProviderRequest records one engine call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records one engine failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition records a breaker of provider entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordJob records a finished job and its duration in seconds. kind is
// "transcription" or "translation"; status is "done" or "failed".
func (m *Metrics) RecordJob(ctx context.Context, kind, status string, seconds float64) {
	m.Jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
	switch kind {
	case "transcription":
		m.TranscriptionDuration.Record(ctx, seconds)
	case "translation":
		m.TranslationDuration.Record(ctx, seconds)
	}
}

// JobStarted increments the active job gauge for kind and returns a func
// that decrements it.
func (m *Metrics) JobStarted(ctx context.Context, kind string) (done func()) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.ActiveJobs.Add(ctx, 1, attrs)
	var once sync.Once
	return func() {
		once.Do(func() { m.ActiveJobs.Add(ctx, -1, attrs) })
	}
}
