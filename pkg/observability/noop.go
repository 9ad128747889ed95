package observability

import (
	"context"
	"time"
)

// NoopMetricsProvider discards all metrics.
type NoopMetricsProvider struct{}

// Counter does nothing.
func (p *NoopMetricsProvider) Counter(context.Context, string, int64, map[string]string) {
}

// Gauge does nothing.
func (p *NoopMetricsProvider) Gauge(context.Context, string, float64, map[string]string) {
}

// Histogram does nothing.
func (p *NoopMetricsProvider) Histogram(context.Context, string, float64, map[string]string) {
}

// RecordDuration does nothing.
func (p *NoopMetricsProvider) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

// NoopTracerProvider creates spans that record nothing.
type NoopTracerProvider struct{}

// StartSpan returns ctx unchanged and a no-op span.
func (p *NoopTracerProvider) StartSpan(ctx context.Context, _ string, _ ...SpanOption) (context.Context, Span) {
	return ctx, noopSpan{}
}

// Shutdown does nothing.
func (p *NoopTracerProvider) Shutdown(context.Context) error { return nil }

type noopSpan struct{}

func (noopSpan) End(error) {}

func (noopSpan) SetAttribute(string, any) {}

func (noopSpan) AddEvent(string, map[string]any) {}

func (noopSpan) SetStatus(SpanStatus, string) {}

func (noopSpan) SpanContext() SpanContext { return SpanContext{} }
