// Package observe provides application-wide observability primitives for
// Pontoon: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Pontoon metrics.
const meterName = "github.com/pontoonlabs/pontoon"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// CallDuration tracks wall-clock call length from answer to hangup.
	CallDuration metric.Float64Histogram

	// PeerConnectDuration tracks how long the AI peer takes to accept a
	// session.
	PeerConnectDuration metric.Float64Histogram

	// --- Counters ---

	// CallsStarted counts answered calls.
	CallsStarted metric.Int64Counter

	// CallsEnded counts completed calls. Use with attribute:
	//   attribute.String("reason", ...)
	CallsEnded metric.Int64Counter

	// PeerErrors counts AI peer session failures.
	PeerErrors metric.Int64Counter

	// --- Bridge counters, flushed once per call at teardown ---

	// BridgeChunksSent counts capture chunks delivered to the peer.
	BridgeChunksSent metric.Int64Counter

	// BridgeChunksDropped counts capture chunks lost to a closed or failing
	// peer transport.
	BridgeChunksDropped metric.Int64Counter

	// BridgeFramesEmitted counts paced frames played back to the caller.
	BridgeFramesEmitted metric.Int64Counter

	// BridgePayloadsDiscarded counts unusable peer payloads.
	BridgePayloadsDiscarded metric.Int64Counter

	// BridgeSamplesDropped counts playback samples evicted by the backlog
	// bound.
	BridgeSamplesDropped metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls.
	ActiveCalls metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// connectBuckets defines histogram bucket boundaries (in seconds) for peer
// session setup latency.
var connectBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// callBuckets defines histogram bucket boundaries (in seconds) for call
// durations, from a misdial to a half-hour conversation.
var callBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.CallDuration, err = m.Float64Histogram("pontoon.call.duration",
		metric.WithDescription("Wall-clock call length from answer to hangup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(callBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PeerConnectDuration, err = m.Float64Histogram("pontoon.peer.connect.duration",
		metric.WithDescription("Latency of AI peer session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(connectBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsStarted, err = m.Int64Counter("pontoon.calls.started",
		metric.WithDescription("Total answered calls."),
	); err != nil {
		return nil, err
	}
	if met.CallsEnded, err = m.Int64Counter("pontoon.calls.ended",
		metric.WithDescription("Total completed calls by end reason."),
	); err != nil {
		return nil, err
	}
	if met.PeerErrors, err = m.Int64Counter("pontoon.peer.errors",
		metric.WithDescription("Total AI peer session failures."),
	); err != nil {
		return nil, err
	}

	// Bridge counters.
	if met.BridgeChunksSent, err = m.Int64Counter("pontoon.bridge.chunks_sent",
		metric.WithDescription("Capture chunks delivered to the AI peer."),
	); err != nil {
		return nil, err
	}
	if met.BridgeChunksDropped, err = m.Int64Counter("pontoon.bridge.chunks_dropped",
		metric.WithDescription("Capture chunks dropped on a closed or failing peer transport."),
	); err != nil {
		return nil, err
	}
	if met.BridgeFramesEmitted, err = m.Int64Counter("pontoon.bridge.frames_emitted",
		metric.WithDescription("Paced playback frames delivered to the caller."),
	); err != nil {
		return nil, err
	}
	if met.BridgePayloadsDiscarded, err = m.Int64Counter("pontoon.bridge.payloads_discarded",
		metric.WithDescription("Peer payloads discarded as unusable."),
	); err != nil {
		return nil, err
	}
	if met.BridgeSamplesDropped, err = m.Int64Counter("pontoon.bridge.samples_dropped",
		metric.WithDescription("Playback samples evicted by the backlog bound."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("pontoon.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("pontoon.http.request.duration",
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

// CallTotals carries per-call bridge counters to [Metrics.RecordCallTotals].
// It mirrors the bridge's stats snapshot without importing it, keeping this
// package a leaf.
type CallTotals struct {
	ChunksSent        uint64
	ChunksDropped     uint64
	FramesEmitted     uint64
	PayloadsDiscarded uint64
	SamplesDropped    uint64
}

// RecordCallStarted records an answered call and bumps the active-call gauge.
func (m *Metrics) RecordCallStarted(ctx context.Context) {
	m.CallsStarted.Add(ctx, 1)
	m.ActiveCalls.Add(ctx, 1)
}

// RecordCallEnded records a completed call with its end reason and duration,
// and releases the active-call gauge.
func (m *Metrics) RecordCallEnded(ctx context.Context, reason string, seconds float64) {
	m.CallsEnded.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
	m.CallDuration.Record(ctx, seconds)
	m.ActiveCalls.Add(ctx, -1)
}

// RecordPeerError records an AI peer session failure.
func (m *Metrics) RecordPeerError(ctx context.Context) {
	m.PeerErrors.Add(ctx, 1)
}

// RecordCallTotals flushes one call's bridge counters into the cumulative
// instruments. Called once per call at teardown.
func (m *Metrics) RecordCallTotals(ctx context.Context, t CallTotals) {
	m.BridgeChunksSent.Add(ctx, int64(t.ChunksSent))
	m.BridgeChunksDropped.Add(ctx, int64(t.ChunksDropped))
	m.BridgeFramesEmitted.Add(ctx, int64(t.FramesEmitted))
	m.BridgePayloadsDiscarded.Add(ctx, int64(t.PayloadsDiscarded))
	m.BridgeSamplesDropped.Add(ctx, int64(t.SamplesDropped))
}
