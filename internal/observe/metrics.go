// Package observe provides application-wide observability primitives for
// voxnote: OpenTelemetry metrics, tracing helpers, and structured-logging
// glue.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via a standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all voxnote metrics.
const meterName = "github.com/avelops/voxnote"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionDuration tracks how long live sessions stay open.
	SessionDuration metric.Float64Histogram

	// FramesSent counts capture frames forwarded to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts capture frames discarded by the mute gate or
	// send gating.
	FramesDropped metric.Int64Counter

	// ChunksScheduled counts inbound audio chunks handed to playback.
	ChunksScheduled metric.Int64Counter

	// Interruptions counts playback flushes caused by barge-in.
	Interruptions metric.Int64Counter

	// TurnCommits counts committed transcript turns. Use with attribute:
	//   attribute.String("speaker", ...)
	TurnCommits metric.Int64Counter

	// TranscriptSaves counts manual transcript saves.
	TranscriptSaves metric.Int64Counter

	// SessionErrors counts session failures. Use with attribute:
	//   attribute.String("kind", ...)
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// conversation lengths rather than request latencies.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionDuration, err = m.Float64Histogram("voxnote.session.duration",
		metric.WithDescription("Duration of live voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesSent, err = m.Int64Counter("voxnote.capture.frames_sent",
		metric.WithDescription("Capture frames forwarded to the transport."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("voxnote.capture.frames_dropped",
		metric.WithDescription("Capture frames dropped by mute or send gating."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("voxnote.playback.chunks_scheduled",
		metric.WithDescription("Inbound audio chunks scheduled for playout."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("voxnote.playback.interruptions",
		metric.WithDescription("Playback flushes caused by barge-in."),
	); err != nil {
		return nil, err
	}
	if met.TurnCommits, err = m.Int64Counter("voxnote.transcript.turn_commits",
		metric.WithDescription("Committed transcript turns by speaker."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptSaves, err = m.Int64Counter("voxnote.transcript.saves",
		metric.WithDescription("Manual transcript saves."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("voxnote.session.errors",
		metric.WithDescription("Session failures by classified kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("voxnote.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// RecordTurnCommit records one committed turn for the given speaker.
func (m *Metrics) RecordTurnCommit(ctx context.Context, speaker string) {
	m.TurnCommits.Add(ctx, 1,
		metric.WithAttributes(attribute.String("speaker", speaker)),
	)
}

// RecordSessionError records one classified session failure.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
