package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// OTLPConfig configures span export to an OTLP collector (Jaeger, Tempo, ...).
type OTLPConfig struct {
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Endpoint       string            `yaml:"endpoint"` // host:port, 4317 for gRPC, 4318 for HTTP
	UseHTTP        bool              `yaml:"use_http"`
	Insecure       bool              `yaml:"insecure"`
	Headers        map[string]string `yaml:"headers"`
	SampleRate     float64           `yaml:"sample_rate"`
	BatchTimeout   time.Duration     `yaml:"batch_timeout"`
}

// DefaultOTLPConfig returns a gRPC, insecure, always-sample configuration.
func DefaultOTLPConfig(serviceName, endpoint string) OTLPConfig {
	return OTLPConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Endpoint:       endpoint,
		Insecure:       true,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
	}
}

// OTLPTracerProvider implements TracerProvider on the OpenTelemetry SDK.
type OTLPTracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewOTLPTracerProvider creates the exporter and installs the provider as the
// global OpenTelemetry tracer provider. Call Shutdown on exit to flush spans.
func NewOTLPTracerProvider(ctx context.Context, cfg OTLPConfig) (*OTLPTracerProvider, error) {
	exporter, err := createExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SampleRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &OTLPTracerProvider{
		provider: provider,
		tracer:   provider.Tracer(cfg.ServiceName),
	}, nil
}

// StartSpan starts an OpenTelemetry span.
func (p *OTLPTracerProvider) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, Span) {
	cfg := newSpanConfig(opts)

	kind := trace.SpanKindInternal
	switch cfg.kind {
	case SpanKindServer:
		kind = trace.SpanKindServer
	case SpanKindClient:
		kind = trace.SpanKindClient
	}

	ctx, span := p.tracer.Start(ctx, name, trace.WithSpanKind(kind))
	for k, v := range cfg.attributes {
		span.SetAttributes(toAttribute(k, v))
	}
	return ctx, &otlpSpan{span: span}
}

// Shutdown flushes pending spans.
func (p *OTLPTracerProvider) Shutdown(ctx context.Context) error {
	return p.provider.Shutdown(ctx)
}

type otlpSpan struct {
	span trace.Span
}

func (s *otlpSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

func (s *otlpSpan) SetAttribute(key string, value any) {
	s.span.SetAttributes(toAttribute(key, value))
}

func (s *otlpSpan) AddEvent(name string, attrs map[string]any) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, toAttribute(k, v))
	}
	s.span.AddEvent(name, trace.WithAttributes(kv...))
}

func (s *otlpSpan) SetStatus(code SpanStatus, description string) {
	switch code {
	case SpanStatusOK:
		s.span.SetStatus(codes.Ok, description)
	case SpanStatusError:
		s.span.SetStatus(codes.Error, description)
	default:
		s.span.SetStatus(codes.Unset, description)
	}
}

func (s *otlpSpan) SpanContext() SpanContext {
	sc := s.span.SpanContext()
	return SpanContext{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case time.Duration:
		return attribute.Int64(key, v.Milliseconds())
	default:
		return attribute.String(key, "")
	}
}

func createExporter(ctx context.Context, cfg OTLPConfig) (*otlptrace.Exporter, error) {
	if cfg.UseHTTP {
		options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			options = append(options, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			options = append(options, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, options...)
	}

	options := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		options = append(options, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		options = append(options, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, options...)
}
