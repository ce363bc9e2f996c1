// Package observe provides application-wide observability primitives for
// hallcall: OpenTelemetry metrics, tracing helpers, and HTTP middleware.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hallcall metrics.
const meterName = "github.com/hallcall/hallcall"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SynthesisDuration tracks upstream text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// PlaybackDuration tracks audible playback time per announcement repeat.
	PlaybackDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AnnouncementsReceived counts inbound broadcast events.
	AnnouncementsReceived metric.Int64Counter

	// AnnouncementsDeduped counts broadcasts dropped as duplicates.
	AnnouncementsDeduped metric.Int64Counter

	// AnnouncementsPlayed counts announcements that completed their repeat loop.
	AnnouncementsPlayed metric.Int64Counter

	// AnnouncementsSkipped counts announcements aborted by synthesis or
	// playback failures.
	AnnouncementsSkipped metric.Int64Counter

	// SpeechCacheLookups counts cache probes. Use with attributes:
	//   attribute.String("tier", "memory"|"disk"), attribute.String("result", "hit"|"miss")
	SpeechCacheLookups metric.Int64Counter

	// ProviderRequests counts upstream TTS provider calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts upstream TTS provider errors by provider.
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// HubConnections tracks live hub connections (server side: accepted
	// clients; client side: started handles).
	HubConnections metric.Int64UpDownCounter

	// QueueDepth tracks the number of announcements waiting for playback.
	QueueDepth metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// synthesis and playback latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthesisDuration, err = m.Float64Histogram("hallcall.synthesis.duration",
		metric.WithDescription("Latency of upstream text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackDuration, err = m.Float64Histogram("hallcall.playback.duration",
		metric.WithDescription("Audible playback time per announcement repeat."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("hallcall.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AnnouncementsReceived, err = m.Int64Counter("hallcall.announcements.received",
		metric.WithDescription("Total inbound broadcast events."),
	); err != nil {
		return nil, err
	}
	if met.AnnouncementsDeduped, err = m.Int64Counter("hallcall.announcements.deduped",
		metric.WithDescription("Total broadcasts dropped as duplicates."),
	); err != nil {
		return nil, err
	}
	if met.AnnouncementsPlayed, err = m.Int64Counter("hallcall.announcements.played",
		metric.WithDescription("Total announcements that completed playback."),
	); err != nil {
		return nil, err
	}
	if met.AnnouncementsSkipped, err = m.Int64Counter("hallcall.announcements.skipped",
		metric.WithDescription("Total announcements aborted by synthesis or playback failures."),
	); err != nil {
		return nil, err
	}
	if met.SpeechCacheLookups, err = m.Int64Counter("hallcall.speech_cache.lookups",
		metric.WithDescription("Speech cache probes by tier and result."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hallcall.provider.requests",
		metric.WithDescription("Total upstream TTS provider requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("hallcall.provider.errors",
		metric.WithDescription("Total upstream TTS provider errors by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.HubConnections, err = m.Int64UpDownCounter("hallcall.hub.connections",
		metric.WithDescription("Number of live hub connections."),
	); err != nil {
		return nil, err
	}
	if met.QueueDepth, err = m.Int64UpDownCounter("hallcall.queue.depth",
		metric.WithDescription("Number of announcements waiting for playback."),
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

// RecordSynthesis records one upstream synthesis call: latency plus the
// request counter, and the error counter on failure.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
		m.ProviderErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("provider", provider)),
		)
	}
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
	m.SynthesisDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordCacheLookup records one speech cache probe for the given tier
// ("memory" or "disk").
func (m *Metrics) RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SpeechCacheLookups.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tier", tier),
			attribute.String("result", result),
		),
	)
}

// RecordAnnouncementReceived increments the received counter.
func (m *Metrics) RecordAnnouncementReceived(ctx context.Context) {
	m.AnnouncementsReceived.Add(ctx, 1)
}

// RecordAnnouncementDeduped increments the duplicate-drop counter.
func (m *Metrics) RecordAnnouncementDeduped(ctx context.Context) {
	m.AnnouncementsDeduped.Add(ctx, 1)
}

// RecordAnnouncementPlayed increments the completed counter.
func (m *Metrics) RecordAnnouncementPlayed(ctx context.Context) {
	m.AnnouncementsPlayed.Add(ctx, 1)
}

// RecordAnnouncementSkipped increments the skipped counter.
func (m *Metrics) RecordAnnouncementSkipped(ctx context.Context) {
	m.AnnouncementsSkipped.Add(ctx, 1)
}
