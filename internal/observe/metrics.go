// Package observe provides application-wide observability primitives for
// xfspeech: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. [*Metrics] implements
// [session.Recorder], so it can be handed straight to speech sessions. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/xfspeech/pkg/speech"
	"github.com/MrWong99/xfspeech/pkg/speech/session"
)

// meterName is the instrumentation scope name used for all xfspeech metrics.
const meterName = "github.com/MrWong99/xfspeech"

var _ session.Recorder = (*Metrics)(nil)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Sessions ---

	// SessionDuration tracks the wall time of a speech session from first
	// dial to outcome, including retries. Attributes: kind, outcome.
	SessionDuration metric.Float64Histogram

	// SessionResults counts finished sessions. Attributes: kind, outcome.
	SessionResults metric.Int64Counter

	// SessionRetries counts re-dials. Attribute: kind.
	SessionRetries metric.Int64Counter

	// ActiveSessions tracks sessions currently in flight. Attribute: kind.
	ActiveSessions metric.Int64UpDownCounter

	// --- Frames ---

	// FramesSent counts outbound messages. Attributes: kind, type.
	FramesSent metric.Int64Counter

	// FramesReceived counts inbound frames. Attribute: kind.
	FramesReceived metric.Int64Counter

	// --- Playback and events ---

	// PlaybackDuration tracks how long synthesized audio played.
	// Attribute: status.
	PlaybackDuration metric.Float64Histogram

	// EventsPublished counts published result events. Attributes: subject,
	// status.
	EventsPublished metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	// host, state (the state entered).
	BreakerTransitions metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// streaming sessions, which take from a few hundred milliseconds to the
// length of the clip.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Sessions.
	if met.SessionDuration, err = m.Float64Histogram("xfspeech.session.duration",
		metric.WithDescription("Duration of speech sessions by kind and outcome."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionResults, err = m.Int64Counter("xfspeech.session.results",
		metric.WithDescription("Finished speech sessions by kind and outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionRetries, err = m.Int64Counter("xfspeech.session.retries",
		metric.WithDescription("Connection retries by session kind."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("xfspeech.active_sessions",
		metric.WithDescription("Number of speech sessions in flight."),
	); err != nil {
		return nil, err
	}

	// Frames.
	if met.FramesSent, err = m.Int64Counter("xfspeech.frames.sent",
		metric.WithDescription("Outbound frames by session kind and message type."),
	); err != nil {
		return nil, err
	}
	if met.FramesReceived, err = m.Int64Counter("xfspeech.frames.received",
		metric.WithDescription("Inbound frames by session kind."),
	); err != nil {
		return nil, err
	}

	// Playback and events.
	if met.PlaybackDuration, err = m.Float64Histogram("xfspeech.playback.duration",
		metric.WithDescription("Duration of audio playback."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("xfspeech.events.published",
		metric.WithDescription("Published result events by subject and status."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("xfspeech.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by host and entered state."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("xfspeech.http.request.duration",
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

// ── session.Recorder ─────────────────────────────────────────────────────────

// SessionStarted implements [session.Recorder].
func (m *Metrics) SessionStarted(ctx context.Context, kind speech.Kind) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(Attr("kind", string(kind))))
}

// SessionFinished implements [session.Recorder].
func (m *Metrics) SessionFinished(ctx context.Context, kind speech.Kind, outcome string, d time.Duration) {
	k := Attr("kind", string(kind))
	attrs := metric.WithAttributes(k, Attr("outcome", outcome))
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(k))
	m.SessionResults.Add(ctx, 1, attrs)
	m.SessionDuration.Record(ctx, d.Seconds(), attrs)
}

// FrameSent implements [session.Recorder].
func (m *Metrics) FrameSent(ctx context.Context, kind speech.Kind, messageType string) {
	m.FramesSent.Add(ctx, 1, metric.WithAttributes(
		Attr("kind", string(kind)),
		Attr("type", messageType),
	))
}

// FrameReceived implements [session.Recorder].
func (m *Metrics) FrameReceived(ctx context.Context, kind speech.Kind) {
	m.FramesReceived.Add(ctx, 1, metric.WithAttributes(Attr("kind", string(kind))))
}

// Retried implements [session.Recorder].
func (m *Metrics) Retried(ctx context.Context, kind speech.Kind) {
	m.SessionRetries.Add(ctx, 1, metric.WithAttributes(Attr("kind", string(kind))))
}

// ── convenience recorders ────────────────────────────────────────────────────

// RecordPlayback records one playback. status is "ok" or "error".
func (m *Metrics) RecordPlayback(ctx context.Context, d time.Duration, status string) {
	m.PlaybackDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("status", status)))
}

// RecordEvent records one publish attempt. status is "ok" or "error".
func (m *Metrics) RecordEvent(ctx context.Context, subject, status string) {
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(
		Attr("subject", subject),
		Attr("status", status),
	))
}

// RecordBreaker records a breaker of host entering state.
func (m *Metrics) RecordBreaker(ctx context.Context, host, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		Attr("host", host),
		Attr("state", state),
	))
}
