// Package observe provides application-wide observability primitives for
// SkyStories: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
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

// meterName is the instrumentation scope name used for all SkyStories metrics.
const meterName = "github.com/MrWong99/skystories"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks story and answer completion latency.
	LLMDuration metric.Float64Histogram

	// ImageDuration tracks illustration generation latency.
	ImageDuration metric.Float64Histogram

	// ConnectDuration tracks how long conversation backends take to accept a
	// session.
	ConnectDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// BeatsRevealed counts story beats shown to a viewer. Use with attributes:
	//   attribute.String("character", ...), attribute.String("kind", ...)
	BeatsRevealed metric.Int64Counter

	// Stories counts finished story playbacks. Use with attributes:
	//   attribute.String("character", ...), attribute.String("outcome", "completed"|"cancelled")
	Stories metric.Int64Counter

	// ModeChanges counts presentation mode transitions. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	ModeChanges metric.Int64Counter

	// TranscriptEntries counts appended transcript entries by speaker.
	TranscriptEntries metric.Int64Counter

	// AIFallbacks counts generated parts that degraded to static content.
	AIFallbacks metric.Int64Counter

	// FramesSent counts ambient animation frames written to clients.
	FramesSent metric.Int64Counter

	// RateLimited counts session starts rejected by the per-client limiter.
	RateLimited metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks live websocket sessions. Use with attribute:
	//   attribute.String("kind", "story"|"conversation"|"starfield")
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for model
// and backend calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("skystories.llm.duration",
		metric.WithDescription("Latency of language model completions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ImageDuration, err = m.Float64Histogram("skystories.image.duration",
		metric.WithDescription("Latency of illustration generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("skystories.conversation.connect.duration",
		metric.WithDescription("Latency of conversation backend connects."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("skystories.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.ProviderRequests, "skystories.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "skystories.provider.errors", "Total provider errors by provider and kind."},
		{&met.BeatsRevealed, "skystories.story.beats_revealed", "Story beats revealed by character and kind."},
		{&met.Stories, "skystories.story.playbacks", "Finished story playbacks by character and outcome."},
		{&met.ModeChanges, "skystories.conversation.mode_changes", "Presentation mode transitions."},
		{&met.TranscriptEntries, "skystories.conversation.transcript_entries", "Transcript entries by speaker."},
		{&met.AIFallbacks, "skystories.ai.fallbacks", "Generated parts that fell back to static content."},
		{&met.FramesSent, "skystories.starfield.frames", "Animation frames sent to clients."},
		{&met.RateLimited, "skystories.http.rate_limited", "Session starts rejected by the rate limiter."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("skystories.active_sessions",
		metric.WithDescription("Number of live websocket sessions by kind."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBeat records one revealed beat.
func (m *Metrics) RecordBeat(ctx context.Context, character, kind string) {
	m.BeatsRevealed.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("character", character),
			attribute.String("kind", kind),
		),
	)
}

// RecordStory records a finished playback. outcome is "completed" or
// "cancelled".
func (m *Metrics) RecordStory(ctx context.Context, character, outcome string) {
	m.Stories.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("character", character),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordModeChange records a presentation mode transition.
func (m *Metrics) RecordModeChange(ctx context.Context, from, to string) {
	m.ModeChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
		),
	)
}

// RecordTranscriptEntry records one appended transcript entry.
func (m *Metrics) RecordTranscriptEntry(ctx context.Context, speaker string) {
	m.TranscriptEntries.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordAIFallback records a part served from static content.
func (m *Metrics) RecordAIFallback(ctx context.Context, part string) {
	m.AIFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("part", part)))
}

// SessionStarted increments the active session gauge for kind and returns
// the matching decrement.
func (m *Metrics) SessionStarted(ctx context.Context, kind string) (done func()) {
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	m.ActiveSessions.Add(ctx, 1, attrs)
	var once sync.Once
	return func() {
		once.Do(func() { m.ActiveSessions.Add(context.WithoutCancel(ctx), -1, attrs) })
	}
}
