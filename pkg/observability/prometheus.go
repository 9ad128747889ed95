package observability

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusProvider implements MetricsProvider with lazily registered
// Prometheus vectors. The label names of a metric are fixed by its first use.
type PrometheusProvider struct {
	mu         sync.RWMutex
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	durationBuckets []float64
	valueBuckets    []float64
}

// PrometheusOption configures the Prometheus provider.
type PrometheusOption func(*PrometheusProvider)

// WithDurationBuckets sets the buckets used for *_seconds histograms.
func WithDurationBuckets(buckets []float64) PrometheusOption {
	return func(p *PrometheusProvider) { p.durationBuckets = buckets }
}

// WithValueBuckets sets the buckets used for every other histogram.
func WithValueBuckets(buckets []float64) PrometheusOption {
	return func(p *PrometheusProvider) { p.valueBuckets = buckets }
}

// WithPrometheusRegistry uses an existing registry.
func WithPrometheusRegistry(registry *prometheus.Registry) PrometheusOption {
	return func(p *PrometheusProvider) { p.registry = registry }
}

// NewPrometheusProvider creates a provider with Go runtime and process
// collectors registered.
//
// Example:
//
//	metrics := observability.NewPrometheusProvider()
//	mux.Handle("GET /metrics", metrics.Handler())
func NewPrometheusProvider(opts ...PrometheusOption) *PrometheusProvider {
	p := &PrometheusProvider{
		registry:        prometheus.NewRegistry(),
		counters:        make(map[string]*prometheus.CounterVec),
		gauges:          make(map[string]*prometheus.GaugeVec),
		histograms:      make(map[string]*prometheus.HistogramVec),
		durationBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		valueBuckets:    []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 0.75, 1},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.registry.MustRegister(collectors.NewGoCollector())
	p.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return p
}

// Counter increments a counter.
func (p *PrometheusProvider) Counter(_ context.Context, name string, value int64, labels map[string]string) {
	p.counterVec(name, labels).With(labels).Add(float64(value))
}

// Gauge sets a gauge.
func (p *PrometheusProvider) Gauge(_ context.Context, name string, value float64, labels map[string]string) {
	p.gaugeVec(name, labels).With(labels).Set(value)
}

// Histogram observes a value.
func (p *PrometheusProvider) Histogram(_ context.Context, name string, value float64, labels map[string]string) {
	p.histogramVec(name, labels, p.valueBuckets).With(labels).Observe(value)
}

// RecordDuration observes a duration in seconds.
func (p *PrometheusProvider) RecordDuration(_ context.Context, name string, duration time.Duration, labels map[string]string) {
	p.histogramVec(name, labels, p.durationBuckets).With(labels).Observe(duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Registry returns the underlying registry.
func (p *PrometheusProvider) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusProvider) counterVec(name string, labels map[string]string) *prometheus.CounterVec {
	p.mu.RLock()
	vec, ok := p.counters[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.counters[name]; ok {
		return vec
	}
	vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: "Counter for " + name}, labelNames(labels))
	p.registry.MustRegister(vec)
	p.counters[name] = vec
	return vec
}

func (p *PrometheusProvider) gaugeVec(name string, labels map[string]string) *prometheus.GaugeVec {
	p.mu.RLock()
	vec, ok := p.gauges[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.gauges[name]; ok {
		return vec
	}
	vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: "Gauge for " + name}, labelNames(labels))
	p.registry.MustRegister(vec)
	p.gauges[name] = vec
	return vec
}

func (p *PrometheusProvider) histogramVec(name string, labels map[string]string, buckets []float64) *prometheus.HistogramVec {
	p.mu.RLock()
	vec, ok := p.histograms[name]
	p.mu.RUnlock()
	if ok {
		return vec
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if vec, ok = p.histograms[name]; ok {
		return vec
	}
	vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name,
		Help:    "Histogram for " + name,
		Buckets: buckets,
	}, labelNames(labels))
	p.registry.MustRegister(vec)
	p.histograms[name] = vec
	return vec
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
