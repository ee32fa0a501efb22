// Package observe provides application-wide observability primitives for
// genogram: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all genogram metrics.
const meterName = "github.com/MrWong99/genogram"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The underlying OTel types handle their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ChatDuration tracks text chat completion latency.
	ChatDuration metric.Float64Histogram

	// AnalysisDuration tracks structured analysis latency. Use with attribute:
	//   attribute.String("kind", "systemic"|"insight")
	AnalysisDuration metric.Float64Histogram

	// LiveConnectDuration tracks the time from dial to setup acknowledgement.
	LiveConnectDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// LiveFramesSent counts capture frames forwarded to the live session.
	LiveFramesSent metric.Int64Counter

	// LiveFramesDropped counts capture frames discarded because the
	// hand-off queue was full.
	LiveFramesDropped metric.Int64Counter

	// LiveAudioChunks counts inbound model audio chunks scheduled for playback.
	LiveAudioChunks metric.Int64Counter

	// LiveDecodeErrors counts inbound audio chunks that failed to decode.
	LiveDecodeErrors metric.Int64Counter

	// LiveInterruptions counts barge-in events reported by the model.
	LiveInterruptions metric.Int64Counter

	// Utterances counts committed transcript utterances. Use with attribute:
	//   attribute.String("role", "user"|"model")
	Utterances metric.Int64Counter

	// --- Gauges ---

	// ActiveLiveSessions tracks the number of open voice sessions.
	ActiveLiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// model round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ChatDuration, err = m.Float64Histogram("genogram.chat.duration",
		metric.WithDescription("Latency of text chat completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalysisDuration, err = m.Float64Histogram("genogram.analysis.duration",
		metric.WithDescription("Latency of structured analysis requests by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LiveConnectDuration, err = m.Float64Histogram("genogram.live.connect.duration",
		metric.WithDescription("Time from dialing the live service to session setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("genogram.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("genogram.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.LiveFramesSent, err = m.Int64Counter("genogram.live.frames_sent",
		metric.WithDescription("Capture frames forwarded to the live session."),
	); err != nil {
		return nil, err
	}
	if met.LiveFramesDropped, err = m.Int64Counter("genogram.live.frames_dropped",
		metric.WithDescription("Capture frames dropped because the send queue was full."),
	); err != nil {
		return nil, err
	}
	if met.LiveAudioChunks, err = m.Int64Counter("genogram.live.audio_chunks",
		metric.WithDescription("Inbound model audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.LiveDecodeErrors, err = m.Int64Counter("genogram.live.decode_errors",
		metric.WithDescription("Inbound audio chunks that could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.LiveInterruptions, err = m.Int64Counter("genogram.live.interruptions",
		metric.WithDescription("Model turns interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("genogram.utterances",
		metric.WithDescription("Committed transcript utterances by role."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveLiveSessions, err = m.Int64UpDownCounter("genogram.live.active_sessions",
		metric.WithDescription("Number of open voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("genogram.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
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

// RecordUtterance records a committed utterance for role.
func (m *Metrics) RecordUtterance(ctx context.Context, role string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordAnalysis records the latency of one analysis request of kind.
func (m *Metrics) RecordAnalysis(ctx context.Context, kind string, seconds float64) {
	m.AnalysisDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("kind", kind)))
}
