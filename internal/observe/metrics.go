// Package observe provides application-wide observability primitives for
// gapless: OpenTelemetry metrics, distributed tracing, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. Tests should use [NewMetrics]
// with a custom [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/gapless/pkg/playback"
)

// meterName is the instrumentation scope name used for all gapless metrics.
const meterName = "github.com/MrWong99/gapless"

// Compile-time interface assertion.
var _ playback.Metrics = (*Metrics)(nil)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Playback pipeline ---

	// BuffersEnqueued counts buffers handed to the output device.
	BuffersEnqueued metric.Int64Counter

	// EnqueuedSeconds sums the audio duration handed to the output device.
	EnqueuedSeconds metric.Float64Counter

	// ItemTransitions counts gapless boundary crossings.
	ItemTransitions metric.Int64Counter

	// AutoFlushes counts device-initiated flush reconciliations.
	AutoFlushes metric.Int64Counter

	// FlushFallbacks counts failed scoped flushes that forced a restart.
	FlushFallbacks metric.Int64Counter

	// Splices counts queue edits applied without interrupting playback.
	Splices metric.Int64Counter

	// DecodeFailures counts decode errors. Use with attribute:
	//   attribute.String("format", ...)
	DecodeFailures metric.Int64Counter

	// DroppedEvents counts notifications dropped for slow subscribers.
	DroppedEvents metric.Int64Counter

	// QueueLength is the number of items in the scheduler queue.
	QueueLength metric.Int64Gauge

	// --- Control surface ---

	// Commands counts player commands. Use with attributes:
	//   attribute.String("command", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// CommandDuration tracks how long a player command took to commit.
	CommandDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// command commit latency. Commands never wait for audio, so the interesting
// range is sub-second.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.BuffersEnqueued, err = m.Int64Counter("gapless.playback.buffers_enqueued",
		metric.WithDescription("Total buffers handed to the output device."),
	); err != nil {
		return nil, err
	}
	if met.EnqueuedSeconds, err = m.Float64Counter("gapless.playback.enqueued",
		metric.WithDescription("Total audio duration handed to the output device."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ItemTransitions, err = m.Int64Counter("gapless.playback.item_transitions",
		metric.WithDescription("Total gapless transitions between queue items."),
	); err != nil {
		return nil, err
	}
	if met.AutoFlushes, err = m.Int64Counter("gapless.playback.autoflushes",
		metric.WithDescription("Total device-initiated flushes."),
	); err != nil {
		return nil, err
	}
	if met.FlushFallbacks, err = m.Int64Counter("gapless.playback.flush_fallbacks",
		metric.WithDescription("Total failed scoped flushes that forced a full restart."),
	); err != nil {
		return nil, err
	}
	if met.Splices, err = m.Int64Counter("gapless.playback.splices",
		metric.WithDescription("Total queue edits applied without a restart."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("gapless.decode.failures",
		metric.WithDescription("Total decode errors by container format."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("gapless.events.dropped",
		metric.WithDescription("Total notifications dropped for slow subscribers."),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("gapless.commands",
		metric.WithDescription("Total player commands by command and status."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.QueueLength, err = m.Int64Gauge("gapless.playback.queue_length",
		metric.WithDescription("Number of items in the playback queue."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.CommandDuration, err = m.Float64Histogram("gapless.command.duration",
		metric.WithDescription("Time for a player command to be committed."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("gapless.http.request.duration",
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

// ── playback.Metrics ─────────────────────────────────────────────────────────

// RecordBufferEnqueued implements [playback.Metrics].
func (m *Metrics) RecordBufferEnqueued(ctx context.Context, seconds float64) {
	m.BuffersEnqueued.Add(ctx, 1)
	m.EnqueuedSeconds.Add(ctx, seconds)
}

// RecordItemTransition implements [playback.Metrics].
func (m *Metrics) RecordItemTransition(ctx context.Context) {
	m.ItemTransitions.Add(ctx, 1)
}

// RecordAutoFlush implements [playback.Metrics].
func (m *Metrics) RecordAutoFlush(ctx context.Context) {
	m.AutoFlushes.Add(ctx, 1)
}

// RecordFlushFallback implements [playback.Metrics].
func (m *Metrics) RecordFlushFallback(ctx context.Context) {
	m.FlushFallbacks.Add(ctx, 1)
}

// RecordSplice implements [playback.Metrics].
func (m *Metrics) RecordSplice(ctx context.Context) {
	m.Splices.Add(ctx, 1)
}

// RecordDecodeFailure implements [playback.Metrics].
func (m *Metrics) RecordDecodeFailure(ctx context.Context, format string) {
	m.DecodeFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("format", format)),
	)
}

// RecordQueueLength implements [playback.Metrics].
func (m *Metrics) RecordQueueLength(ctx context.Context, n int) {
	m.QueueLength.Record(ctx, int64(n))
}

// RecordDroppedEvent implements [playback.Metrics].
func (m *Metrics) RecordDroppedEvent(ctx context.Context) {
	m.DroppedEvents.Add(ctx, 1)
}

// RecordCommand records one player command with its outcome and commit
// latency.
func (m *Metrics) RecordCommand(ctx context.Context, command, status string, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("command", command),
		attribute.String("status", status),
	)
	m.Commands.Add(ctx, 1, attrs)
	m.CommandDuration.Record(ctx, d.Seconds(), attrs)
}
