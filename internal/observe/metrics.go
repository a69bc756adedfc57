// Package observe provides application-wide observability primitives for
// Ciallo: OpenTelemetry metrics and distributed tracing, plus structured
// logging helpers that tie log lines to the active span.
//
// This is deliberately separate from internal/metrics's fixed-capacity
// sample rings: that package answers get_metrics_summary (a UI query over a
// bounded in-process history); this package answers "observe this process
// from outside" via a Prometheus exporter and OTel traces, independent of
// whether any UI is attached. This module starts no HTTP /metrics endpoint.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Ciallo metrics.
const meterName = "github.com/ciallo/ciallo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// WakeCycleDuration tracks wall-clock time from WakeHit to the mode
	// panel becoming visible (Sleep -> ModeSelect).
	WakeCycleDuration metric.Float64Histogram

	// TranslateDuration tracks end-to-end translation service latency,
	// including cache lookups.
	TranslateDuration metric.Float64Histogram

	// OCRDuration tracks OCR worker round-trip latency.
	OCRDuration metric.Float64Histogram

	// RealtimeCycleDuration tracks one realtime-loop tick (screenshot +
	// diff + OCR + translate-added-lines).
	RealtimeCycleDuration metric.Float64Histogram

	// --- Counters ---

	// WakeHits counts WakeHit events received by P0, labelled by whether
	// stage-1 accepted them.
	WakeHits metric.Int64Counter

	// TranslateRequests counts outbound translation API calls, labelled by
	// status (ok, retry, error).
	TranslateRequests metric.Int64Counter

	// CacheLookups counts L1/L2 cache lookups, labelled by tier (l1, l2)
	// and result (hit, miss).
	CacheLookups metric.Int64Counter

	// JobsDropped counts P1/P2 jobs dropped due to a full channel
	// (backpressure), labelled by lane.
	JobsDropped metric.Int64Counter

	// CancellationsIssued counts cancel_all_and_advance invocations.
	CancellationsIssued metric.Int64Counter

	// BackendGateEvents counts translation backend-gate transitions,
	// labelled by event (tripped, probe, probe_failed, recovered).
	BackendGateEvents metric.Int64Counter

	// --- Gauges ---

	// ActiveRealtimeSessions tracks the number of running realtime loops
	// (0 or 1 in the current single-session design, but modelled as a
	// gauge for forward compatibility).
	ActiveRealtimeSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// Ciallo's sub-second wake and translation budgets.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 0.8, 1, 2, 4, 8,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.WakeCycleDuration, err = m.Float64Histogram("ciallo.wake_cycle.duration",
		metric.WithDescription("Latency from WakeHit to mode panel visible."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("ciallo.translate.duration",
		metric.WithDescription("Latency of a translation request, including cache lookups."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OCRDuration, err = m.Float64Histogram("ciallo.ocr.duration",
		metric.WithDescription("Latency of an OCR worker round trip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RealtimeCycleDuration, err = m.Float64Histogram("ciallo.realtime.cycle_duration",
		metric.WithDescription("Latency of one realtime-loop tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.WakeHits, err = m.Int64Counter("ciallo.wake.hits",
		metric.WithDescription("Total WakeHits received, labelled by stage-1 acceptance."),
	); err != nil {
		return nil, err
	}
	if met.TranslateRequests, err = m.Int64Counter("ciallo.translate.requests",
		metric.WithDescription("Total translation API requests by status."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("ciallo.cache.lookups",
		metric.WithDescription("Total cache lookups by tier and result."),
	); err != nil {
		return nil, err
	}
	if met.JobsDropped, err = m.Int64Counter("ciallo.scheduler.jobs_dropped",
		metric.WithDescription("Total P1/P2 jobs dropped due to backpressure, by lane."),
	); err != nil {
		return nil, err
	}
	if met.CancellationsIssued, err = m.Int64Counter("ciallo.cancel.issued",
		metric.WithDescription("Total cancel_all_and_advance invocations."),
	); err != nil {
		return nil, err
	}
	if met.BackendGateEvents, err = m.Int64Counter("ciallo.translate.backend_gate",
		metric.WithDescription("Translation backend-gate transitions by event."),
	); err != nil {
		return nil, err
	}

	if met.ActiveRealtimeSessions, err = m.Int64UpDownCounter("ciallo.realtime.active_sessions",
		metric.WithDescription("Number of currently running realtime loops."),
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

// RecordWakeHit records a WakeHit, labelled by whether stage 1 accepted it.
func (m *Metrics) RecordWakeHit(ctx context.Context, accepted bool) {
	status := "rejected"
	if accepted {
		status = "accepted"
	}
	m.WakeHits.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordTranslateRequest records one outbound translation API call.
func (m *Metrics) RecordTranslateRequest(ctx context.Context, status string) {
	m.TranslateRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordCacheLookup records one cache lookup against the given tier ("l1" or
// "l2") with the given result ("hit" or "miss").
func (m *Metrics) RecordCacheLookup(ctx context.Context, tier, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

// RecordJobDropped records one P1/P2 job dropped by backpressure on the
// given lane ("p1" or "p2").
func (m *Metrics) RecordJobDropped(ctx context.Context, lane string) {
	m.JobsDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("lane", lane)))
}

// RecordCancellation records one cancel_all_and_advance invocation.
func (m *Metrics) RecordCancellation(ctx context.Context) {
	m.CancellationsIssued.Add(ctx, 1)
}

// RecordBackendGate records one translation backend-gate transition
// ("tripped", "probe", "probe_failed", or "recovered").
func (m *Metrics) RecordBackendGate(ctx context.Context, event string) {
	m.BackendGateEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
