// Package observe provides observability primitives for listenkit:
// OpenTelemetry metrics, tracing helpers, and HTTP middleware for the
// operational endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all listenkit metrics.
const meterName = "github.com/voyagerlabs/listenkit"

// Metrics holds all OpenTelemetry metric instruments for the application.
// The convenience methods are nil-receiver safe, so components accept a
// *Metrics that may be nil to disable instrumentation entirely.
type Metrics struct {
	// AttemptStartDuration tracks how long provider attempt creation takes.
	AttemptStartDuration metric.Float64Histogram

	// Sessions counts caller-visible session starts and stops. Use with
	// attribute.String("event", "start"|"stop").
	Sessions metric.Int64Counter

	// Restarts counts internal attempt restarts by reason.
	Restarts metric.Int64Counter

	// Partials counts partial results by outcome ("emitted"|"suppressed").
	Partials metric.Int64Counter

	// Finals counts final results accepted into the transcript.
	Finals metric.Int64Counter

	// Errors counts provider recognition errors by code and class.
	Errors metric.Int64Counter

	// StaleEvents counts provider callbacks discarded because their attempt
	// was superseded.
	StaleEvents metric.Int64Counter

	// ActiveSessions tracks the number of live listening sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// attempt-creation latencies, which range from sub-millisecond for embedded
// engines to several seconds for remote stream setup.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AttemptStartDuration, err = m.Float64Histogram("listenkit.attempt.start.duration",
		metric.WithDescription("Latency of provider recognition attempt creation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Sessions, err = m.Int64Counter("listenkit.sessions",
		metric.WithDescription("Total session starts and stops by event."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("listenkit.attempt.restarts",
		metric.WithDescription("Total internal attempt restarts by reason."),
	); err != nil {
		return nil, err
	}
	if met.Partials, err = m.Int64Counter("listenkit.partials",
		metric.WithDescription("Total partial results by throttle outcome."),
	); err != nil {
		return nil, err
	}
	if met.Finals, err = m.Int64Counter("listenkit.finals",
		metric.WithDescription("Total final results accepted into the transcript."),
	); err != nil {
		return nil, err
	}
	if met.Errors, err = m.Int64Counter("listenkit.recognition.errors",
		metric.WithDescription("Total recognition errors by code and class."),
	); err != nil {
		return nil, err
	}
	if met.StaleEvents, err = m.Int64Counter("listenkit.stale_events",
		metric.WithDescription("Total provider callbacks discarded as stale."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("listenkit.active_sessions",
		metric.WithDescription("Number of live listening sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("listenkit.http.request.duration",
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

// SessionStarted records a caller-visible session start.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "start")))
	m.ActiveSessions.Add(ctx, 1)
}

// SessionStopped records a caller-visible session end, whether from an
// external stop or a fatal error.
func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	ctx := context.Background()
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("event", "stop")))
	m.ActiveSessions.Add(ctx, -1)
}

// AttemptRestarted records an internal restart with its reason.
func (m *Metrics) AttemptRestarted(reason string) {
	if m == nil {
		return
	}
	m.Restarts.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// AttemptStart records the duration and outcome of one attempt creation.
func (m *Metrics) AttemptStart(d time.Duration, success bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !success {
		status = "error"
	}
	m.AttemptStartDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("status", status)))
}

// PartialEmitted records a partial result surfaced to the caller.
func (m *Metrics) PartialEmitted() {
	if m == nil {
		return
	}
	m.Partials.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", "emitted")))
}

// PartialSuppressed records a partial result held or dropped by the throttle.
func (m *Metrics) PartialSuppressed() {
	if m == nil {
		return
	}
	m.Partials.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("outcome", "suppressed")))
}

// FinalAccepted records a final result accepted into the transcript.
func (m *Metrics) FinalAccepted() {
	if m == nil {
		return
	}
	m.Finals.Add(context.Background(), 1)
}

// RecognitionError records a provider error with its code and policy class.
func (m *Metrics) RecognitionError(code, class string) {
	if m == nil {
		return
	}
	m.Errors.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("code", code),
			attribute.String("class", class),
		))
}

// StaleEvent records a discarded callback from a superseded attempt.
func (m *Metrics) StaleEvent() {
	if m == nil {
		return
	}
	m.StaleEvents.Add(context.Background(), 1)
}
