package observability

// Metric names recorded by the services. Label sets are fixed per name so the
// Prometheus vectors stay consistent.
const (
	// retrieval: labels strategy, outcome (context|empty|error)
	MetricRetrievalRequests = "smartchat_retrieval_requests_total"
	// retrieval: labels strategy
	MetricRetrievalDuration = "smartchat_retrieval_duration_seconds"
	// retrieval: labels strategy
	MetricRetrievalCompression = "smartchat_retrieval_compression_ratio"
	// retrieval: labels scorer
	MetricScoringFallbacks = "smartchat_scoring_fallbacks_total"

	// switcher: labels provider, model, outcome (success|failure)
	MetricProviderAttempts = "smartchat_provider_attempts_total"
	// switcher: labels provider, model
	MetricProviderLatency = "smartchat_provider_latency_seconds"
	// switcher: labels provider, model
	MetricProviderCost = "smartchat_provider_cost_usd"
	// switcher: labels outcome (success|fallback|exhausted|no_eligible)
	MetricSelections = "smartchat_selections_total"
	// switcher: labels provider, model, status
	MetricProviderHealth = "smartchat_provider_health"

	// http: labels route, status
	MetricHTTPRequests = "smartchat_http_requests_total"
	// http: labels route
	MetricHTTPDuration = "smartchat_http_request_duration_seconds"
)

// OrNoop returns m, or a NoopMetricsProvider when m is nil.
func OrNoop(m MetricsProvider) MetricsProvider {
	if m == nil {
		return &NoopMetricsProvider{}
	}
	return m
}

// TracerOrNoop returns t, or a NoopTracerProvider when t is nil.
func TracerOrNoop(t TracerProvider) TracerProvider {
	if t == nil {
		return &NoopTracerProvider{}
	}
	return t
}
