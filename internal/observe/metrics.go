// Package observe provides application-wide observability primitives for
// restquest: OpenTelemetry metrics, tracing helpers, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all restquest metrics.
const meterName = "github.com/MrWong99/restquest"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// InferenceDuration tracks one fusion round over all classifiers.
	InferenceDuration metric.Float64Histogram

	// ClassifierDuration tracks a single classifier call. Use with attribute:
	//   attribute.String("classifier", ...)
	ClassifierDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks assistant completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Submissions counts regions handed to the inference worker.
	Submissions metric.Int64Counter

	// DroppedRegions counts pending regions overwritten before inference.
	DroppedRegions metric.Int64Counter

	// EmptyRounds counts fusion rounds that produced no signal.
	EmptyRounds metric.Int64Counter

	// Finalizations counts finalized questions. Use with attribute:
	//   attribute.String("trigger", "timer"|"forced")
	Finalizations metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running questionnaire sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// both per-frame inference and multi-second collaborator calls.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.InferenceDuration, "restquest.inference.duration", "Latency of one fusion round across all classifiers."},
		{&met.ClassifierDuration, "restquest.classifier.duration", "Latency of a single emotion classifier call."},
		{&met.STTDuration, "restquest.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "restquest.llm.duration", "Latency of assistant completions."},
		{&met.TTSDuration, "restquest.tts.duration", "Latency of text-to-speech synthesis."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "restquest.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "restquest.provider.errors", "Total provider errors by provider and kind."},
		{&met.Submissions, "restquest.inference.submissions", "Regions submitted to the inference worker."},
		{&met.DroppedRegions, "restquest.inference.dropped", "Pending regions replaced by a fresher one before inference."},
		{&met.EmptyRounds, "restquest.inference.empty_rounds", "Fusion rounds that produced no signal."},
		{&met.Finalizations, "restquest.question.finalizations", "Finalized questions by trigger."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("restquest.active_sessions",
		metric.WithDescription("Number of running questionnaire sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("restquest.http.request.duration",
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
// fails.
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
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

// RecordFinalization counts a finalized question. forced is true when the
// response stream ran out before the listening timer.
func (m *Metrics) RecordFinalization(ctx context.Context, forced bool) {
	trigger := "timer"
	if forced {
		trigger = "forced"
	}
	m.Finalizations.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}
