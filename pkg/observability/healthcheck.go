package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

var startTime = time.Now()

// HealthCheckConfig configures a HealthCheckRegistry.
type HealthCheckConfig struct {
	// Timeout applies to checks that do not set their own. Default 5s.
	Timeout time.Duration
	// CacheDuration reuses the last report for this long. Zero disables caching.
	CacheDuration time.Duration
}

// DefaultHealthCheckConfig returns a 5s timeout and a 10s cache.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Timeout:       5 * time.Second,
		CacheDuration: 10 * time.Second,
	}
}

// HealthCheckOption configures a HealthCheckRegistry.
type HealthCheckOption func(*HealthCheckConfig)

// WithHealthCheckTimeout sets the default per-check timeout.
func WithHealthCheckTimeout(timeout time.Duration) HealthCheckOption {
	return func(cfg *HealthCheckConfig) { cfg.Timeout = timeout }
}

// WithCacheDuration sets how long a report is reused.
func WithCacheDuration(d time.Duration) HealthCheckOption {
	return func(cfg *HealthCheckConfig) { cfg.CacheDuration = d }
}

// HealthCheckRegistry runs a dynamic set of checks concurrently.
//
// A failing critical check makes the report unhealthy; a failing non-critical
// check only degrades it.
//
// Example:
//
//	health := observability.NewHealthCheckRegistry()
//	health.Register(&observability.HTTPHealthCheck{CheckName: "embedding-backend", URL: "http://ollama:11434"}, true)
//	mux.Handle("GET /healthz", health.Handler())
type HealthCheckRegistry struct {
	mu       sync.RWMutex
	checks   map[string]HealthChecker
	critical map[string]bool
	config   HealthCheckConfig

	cacheMu   sync.Mutex
	cached    HealthReport
	cachedAt  time.Time
	hasCached bool
}

// NewHealthCheckRegistry creates an empty registry.
func NewHealthCheckRegistry(opts ...HealthCheckOption) *HealthCheckRegistry {
	cfg := DefaultHealthCheckConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &HealthCheckRegistry{
		checks:   make(map[string]HealthChecker),
		critical: make(map[string]bool),
		config:   cfg,
	}
}

// Register adds or replaces a check.
func (r *HealthCheckRegistry) Register(check HealthChecker, critical bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[check.Name()] = check
	r.critical[check.Name()] = critical
	r.invalidate()
}

// Unregister removes a check.
func (r *HealthCheckRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.checks, name)
	delete(r.critical, name)
	r.invalidate()
}

func (r *HealthCheckRegistry) invalidate() {
	r.cacheMu.Lock()
	r.hasCached = false
	r.cacheMu.Unlock()
}

// RunAll runs every registered check, or returns the cached report.
func (r *HealthCheckRegistry) RunAll(ctx context.Context) HealthReport {
	if r.config.CacheDuration > 0 {
		r.cacheMu.Lock()
		if r.hasCached && time.Since(r.cachedAt) < r.config.CacheDuration {
			report := r.cached
			r.cacheMu.Unlock()
			return report
		}
		r.cacheMu.Unlock()
	}

	r.mu.RLock()
	checks := make([]HealthChecker, 0, len(r.checks))
	for _, c := range r.checks {
		checks = append(checks, c)
	}
	critical := make(map[string]bool, len(r.critical))
	for k, v := range r.critical {
		critical[k] = v
	}
	r.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name() < checks[j].Name() })
	report := runHealthChecks(ctx, checks, critical, r.config)

	if r.config.CacheDuration > 0 {
		r.cacheMu.Lock()
		r.cached, r.cachedAt, r.hasCached = report, time.Now(), true
		r.cacheMu.Unlock()
	}
	return report
}

// Handler serves the report as JSON; unhealthy reports use status 503.
func (r *HealthCheckRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		report := r.RunAll(req.Context())
		status := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(report); err != nil {
			smartchat.LogError(req.Context(), "failed to encode health report", err)
		}
	})
}

func runHealthChecks(ctx context.Context, checks []HealthChecker, critical map[string]bool, cfg HealthCheckConfig) HealthReport {
	report := HealthReport{
		Status:    HealthStatusHealthy,
		Checks:    make(map[string]HealthCheckResult, len(checks)),
		Uptime:    time.Since(startTime),
		Timestamp: time.Now(),
	}
	if len(checks) == 0 {
		return report
	}

	results := make(chan HealthCheckResult, len(checks))
	var wg sync.WaitGroup
	for _, check := range checks {
		wg.Add(1)
		go func(c HealthChecker) {
			defer wg.Done()

			timeout := c.Timeout()
			if timeout == 0 {
				timeout = cfg.Timeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := c.Check(checkCtx)
			result := HealthCheckResult{
				Name:     c.Name(),
				Status:   "ok",
				Critical: critical[c.Name()],
				Latency:  time.Since(start),
			}
			if err != nil {
				result.Status = "error"
				result.Error = err.Error()
			}
			results <- result
		}(check)
	}
	wg.Wait()
	close(results)

	for result := range results {
		report.Checks[result.Name] = result
		if result.Status == "ok" {
			continue
		}
		if result.Critical {
			report.Status = HealthStatusUnhealthy
		} else if report.Status == HealthStatusHealthy {
			report.Status = HealthStatusDegraded
		}
	}
	return report
}

// HTTPHealthCheck expects an HTTP endpoint to answer with ExpectedStatusCode.
type HTTPHealthCheck struct {
	CheckName          string
	URL                string
	Method             string // default GET
	ExpectedStatusCode int    // default 200
	Headers            map[string]string
	CheckTimeout       time.Duration
	Client             *http.Client
}

func (c *HTTPHealthCheck) Name() string { return c.CheckName }

func (c *HTTPHealthCheck) Check(ctx context.Context) error {
	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	expected := c.ExpectedStatusCode
	if expected == 0 {
		expected = http.StatusOK
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, method, c.URL, nil)
	if err != nil {
		return smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "failed to create health request")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "health request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != expected {
		return smartchat.NewKindErr(ctx, smartchat.KindBackend,
			fmt.Sprintf("unexpected status code: %d (expected %d)", resp.StatusCode, expected))
	}
	return nil
}

func (c *HTTPHealthCheck) Timeout() time.Duration { return c.CheckTimeout }

// FuncHealthCheck adapts a function to HealthChecker.
type FuncHealthCheck struct {
	CheckName    string
	CheckFunc    func(ctx context.Context) error
	CheckTimeout time.Duration
}

func (c *FuncHealthCheck) Name() string { return c.CheckName }

func (c *FuncHealthCheck) Check(ctx context.Context) error { return c.CheckFunc(ctx) }

func (c *FuncHealthCheck) Timeout() time.Duration { return c.CheckTimeout }
