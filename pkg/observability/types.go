// Package observability provides the metrics, tracing and health-check
// abstractions used by the retrieval engine, the model switcher and the HTTP
// server, together with Prometheus, OTLP, in-memory and no-op backends.
package observability

import (
	"context"
	"time"
)

// MetricsProvider collects counters, gauges and histograms.
type MetricsProvider interface {
	// Counter adds value to a monotonically increasing counter.
	Counter(ctx context.Context, name string, value int64, labels map[string]string)

	// Gauge sets the current value of a gauge.
	Gauge(ctx context.Context, name string, value float64, labels map[string]string)

	// Histogram observes a value.
	Histogram(ctx context.Context, name string, value float64, labels map[string]string)

	// RecordDuration observes a duration in seconds.
	RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string)
}

// TracerProvider starts spans.
//
// Example:
//
//	ctx, span := tracer.StartSpan(ctx, "retrieval.optimize")
//	defer span.End(err)
type TracerProvider interface {
	StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span)
	Shutdown(ctx context.Context) error
}

// Span is a single traced operation. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttribute(key string, value any)
	AddEvent(name string, attrs map[string]any)
	SetStatus(code SpanStatus, description string)
	SpanContext() SpanContext
}

// SpanContext identifies a span for log correlation.
type SpanContext struct {
	TraceID string
	SpanID  string
}

// SpanStatus is the final status of a span.
type SpanStatus int

const (
	SpanStatusUnset SpanStatus = iota
	SpanStatusOK
	SpanStatusError
)

// SpanKind describes the span's role in a trace.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// SpanOption configures span creation.
type SpanOption func(*spanConfig)

type spanConfig struct {
	kind       SpanKind
	attributes map[string]any
}

func newSpanConfig(opts []SpanOption) *spanConfig {
	cfg := &spanConfig{kind: SpanKindInternal, attributes: make(map[string]any)}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithSpanKind sets the span kind.
func WithSpanKind(kind SpanKind) SpanOption {
	return func(cfg *spanConfig) { cfg.kind = kind }
}

// WithAttributes sets initial span attributes.
func WithAttributes(attrs map[string]any) SpanOption {
	return func(cfg *spanConfig) {
		for k, v := range attrs {
			cfg.attributes[k] = v
		}
	}
}

// HealthChecker verifies a single dependency.
type HealthChecker interface {
	// Name appears as the key in the health report, e.g. "embedding-backend".
	Name() string
	// Check returns nil when the dependency is usable.
	Check(ctx context.Context) error
	// Timeout bounds Check. Zero selects the registry default.
	Timeout() time.Duration
}

// HealthStatus is the aggregated status of a report.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResult is the outcome of one check.
type HealthCheckResult struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Critical bool          `json:"critical"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
}

// HealthReport aggregates check results.
type HealthReport struct {
	Status    HealthStatus                 `json:"status"`
	Checks    map[string]HealthCheckResult `json:"checks"`
	Uptime    time.Duration                `json:"uptime"`
	Timestamp time.Time                    `json:"timestamp"`
}

// Labels is a metric label set.
type Labels map[string]string

// Merge returns a new label set where other's values win.
func (l Labels) Merge(other Labels) Labels {
	result := make(Labels, len(l)+len(other))
	for k, v := range l {
		result[k] = v
	}
	for k, v := range other {
		result[k] = v
	}
	return result
}
