package observability

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// InMemoryMetricsProvider keeps metrics in maps so tests can assert on them.
//
// Example:
//
//	metrics := observability.NewInMemoryMetricsProvider()
//	engine, _ := retrieval.NewEngine(cfg, retrieval.WithMetrics(metrics))
//	...
//	n := metrics.GetCounter(observability.MetricRetrievalRequests,
//	    map[string]string{"strategy": "semantic", "outcome": "empty"})
type InMemoryMetricsProvider struct {
	mu         sync.RWMutex
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryMetricsProvider creates an empty provider.
func NewInMemoryMetricsProvider() *InMemoryMetricsProvider {
	return &InMemoryMetricsProvider{
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (p *InMemoryMetricsProvider) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	key := metricsKey(name, labels)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[key] += value
}

func (p *InMemoryMetricsProvider) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	key := metricsKey(name, labels)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gauges[key] = value
}

func (p *InMemoryMetricsProvider) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	key := metricsKey(name, labels)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.histograms[key] = append(p.histograms[key], value)
}

func (p *InMemoryMetricsProvider) RecordDuration(ctx context.Context, name string, duration time.Duration, labels map[string]string) {
	p.Histogram(ctx, name, duration.Seconds(), labels)
}

// GetCounter returns the counter value for the exact label set.
func (p *InMemoryMetricsProvider) GetCounter(name string, labels map[string]string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.counters[metricsKey(name, labels)]
}

// GetGauge returns the gauge value for the exact label set.
func (p *InMemoryMetricsProvider) GetGauge(name string, labels map[string]string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gauges[metricsKey(name, labels)]
}

// GetHistogram returns a copy of the observed values.
func (p *InMemoryMetricsProvider) GetHistogram(name string, labels map[string]string) []float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	values := p.histograms[metricsKey(name, labels)]
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

// SumCounter adds every label combination of a counter.
func (p *InMemoryMetricsProvider) SumCounter(name string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total int64
	for key, v := range p.counters {
		if key == name || strings.HasPrefix(key, name+"|") {
			total += v
		}
	}
	return total
}

// Reset clears everything.
func (p *InMemoryMetricsProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters = make(map[string]int64)
	p.gauges = make(map[string]float64)
	p.histograms = make(map[string][]float64)
}

// metricsKey renders name and labels in sorted label order.
func metricsKey(name string, labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// InMemoryTracerProvider records finished spans for inspection in tests.
type InMemoryTracerProvider struct {
	mu     sync.RWMutex
	spans  []*RecordedSpan
	nextID atomic.Uint64
}

// RecordedSpan is a finished span.
type RecordedSpan struct {
	Name       string
	Kind       SpanKind
	StartTime  time.Time
	EndTime    time.Time
	Attributes map[string]any
	Events     []RecordedEvent
	Status     SpanStatus
	StatusDesc string
	Error      error
	TraceID    string
	SpanID     string
}

// RecordedEvent is an event added to a span.
type RecordedEvent struct {
	Name       string
	Attributes map[string]any
	Time       time.Time
}

// NewInMemoryTracerProvider creates an empty tracer.
func NewInMemoryTracerProvider() *InMemoryTracerProvider {
	return &InMemoryTracerProvider{}
}

// StartSpan starts a span that is recorded when ended.
func (p *InMemoryTracerProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)
	id := strconv.FormatUint(p.nextID.Add(1), 16)
	span := &RecordedSpan{
		Name:       name,
		Kind:       cfg.kind,
		StartTime:  time.Now(),
		Attributes: cfg.attributes,
		TraceID:    "trace-" + id,
		SpanID:     "span-" + id,
	}
	return ctx, &inMemorySpan{provider: p, span: span}
}

// Shutdown does nothing.
func (p *InMemoryTracerProvider) Shutdown(context.Context) error { return nil }

// GetSpans returns the finished spans in end order.
func (p *InMemoryTracerProvider) GetSpans() []*RecordedSpan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*RecordedSpan, len(p.spans))
	copy(out, p.spans)
	return out
}

// GetSpansByName filters finished spans by name.
func (p *InMemoryTracerProvider) GetSpansByName(name string) []*RecordedSpan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*RecordedSpan
	for _, s := range p.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

type inMemorySpan struct {
	provider *InMemoryTracerProvider
	mu       sync.Mutex
	span     *RecordedSpan
}

func (s *inMemorySpan) End(err error) {
	s.mu.Lock()
	s.span.EndTime = time.Now()
	s.span.Error = err
	if err != nil && s.span.Status == SpanStatusUnset {
		s.span.Status = SpanStatusError
		s.span.StatusDesc = err.Error()
	}
	s.mu.Unlock()

	s.provider.mu.Lock()
	s.provider.spans = append(s.provider.spans, s.span)
	s.provider.mu.Unlock()
}

func (s *inMemorySpan) SetAttribute(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span.Attributes[key] = value
}

func (s *inMemorySpan) AddEvent(name string, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span.Events = append(s.span.Events, RecordedEvent{Name: name, Attributes: attrs, Time: time.Now()})
}

func (s *inMemorySpan) SetStatus(code SpanStatus, description string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.span.Status = code
	s.span.StatusDesc = description
}

func (s *inMemorySpan) SpanContext() SpanContext {
	return SpanContext{TraceID: s.span.TraceID, SpanID: s.span.SpanID}
}
