package switcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// RetryConfig controls transient-error retries inside one fallback step.
type RetryConfig struct {
	MaxRetries uint64        `yaml:"max_retries" json:"maxRetries"`
	BaseDelay  time.Duration `yaml:"base_delay" json:"baseDelay"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"maxDelay"`
	Jitter     time.Duration `yaml:"jitter" json:"jitter"`
}

// Config configures the Orchestrator.
type Config struct {
	DefaultPriority        Priority      `yaml:"default_priority" json:"defaultPriority"`
	DefaultMaxResponseTime time.Duration `yaml:"default_max_response_time" json:"defaultMaxResponseTime"`
	// DefaultMaxCostPerMessage in USD applies when a request sets none.
	// Zero disables the ceiling.
	DefaultMaxCostPerMessage float64   `yaml:"default_max_cost_per_message" json:"defaultMaxCostPerMessage"`
	CostModel                CostModel `yaml:"cost_model" json:"costModel"`
	// MaxAttempts bounds the fallback chain. Zero tries every candidate.
	MaxAttempts int           `yaml:"max_attempts" json:"maxAttempts"`
	Retry       RetryConfig   `yaml:"retry" json:"retry"`
	Breaker     BreakerConfig `yaml:"breaker" json:"breaker"`
	ABTestRate  float64       `yaml:"ab_test_rate" json:"abTestRate"`
	// DefaultQuality ranks models without history.
	DefaultQuality     float64              `yaml:"default_quality" json:"defaultQuality"`
	Weights            map[Priority]Weights `yaml:"weights" json:"weights"`
	History            HistoryConfig        `yaml:"history" json:"history"`
	Insights           InsightRules         `yaml:"insights" json:"insights"`
	HealthProbeTimeout time.Duration        `yaml:"health_probe_timeout" json:"healthProbeTimeout"`
	// CacheTTL keeps successful completions of identical prompts when a
	// response cache is attached.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cacheTTL"`
}

// DefaultConfig returns balanced defaults: 30s per attempt, a $0.50
// ceiling, no retries inside an attempt and a breaker opening after five
// consecutive failures.
func DefaultConfig() Config {
	return Config{
		DefaultPriority:          PriorityBalanced,
		DefaultMaxResponseTime:   30 * time.Second,
		DefaultMaxCostPerMessage: 0.5,
		CostModel:                CostModel{ExpectedOutputTokens: 512, MaxOutputTokens: 2048},
		Retry:                    RetryConfig{BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second},
		Breaker:                  BreakerConfig{FailureThreshold: 5, OpenTimeout: 30 * time.Second},
		ABTestRate:               0.1,
		DefaultQuality:           0.7,
		Weights:                  DefaultWeights(),
		History:                  DefaultHistoryConfig(),
		Insights:                 DefaultInsightRules(),
		HealthProbeTimeout:       10 * time.Second,
	}
}

// Validate checks ranges and fills missing weights from the defaults.
func (c *Config) Validate() error {
	if !c.DefaultPriority.Valid() {
		return fmt.Errorf("unknown default priority %q", c.DefaultPriority)
	}
	if c.DefaultMaxResponseTime <= 0 {
		return errors.New("default max response time must be positive")
	}
	if c.DefaultMaxCostPerMessage < 0 {
		return errors.New("default max cost per message must not be negative")
	}
	if c.CostModel.ExpectedOutputTokens <= 0 || c.CostModel.MaxOutputTokens < c.CostModel.ExpectedOutputTokens {
		return errors.New("cost model needs 0 < expected output tokens <= max output tokens")
	}
	if c.MaxAttempts < 0 {
		return errors.New("max attempts must not be negative")
	}
	if c.Retry.MaxRetries > 0 && c.Retry.BaseDelay <= 0 {
		return errors.New("retry base delay must be positive when retries are enabled")
	}
	if c.ABTestRate < 0 || c.ABTestRate > 1 {
		return errors.New("A/B test rate must be within [0, 1]")
	}
	if c.DefaultQuality < 0 || c.DefaultQuality > 1 {
		return errors.New("default quality must be within [0, 1]")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache TTL must not be negative")
	}
	if c.Weights == nil {
		c.Weights = DefaultWeights()
	}
	for p, w := range DefaultWeights() {
		if _, ok := c.Weights[p]; !ok {
			c.Weights[p] = w
		}
	}
	if c.HealthProbeTimeout <= 0 {
		c.HealthProbeTimeout = 10 * time.Second
	}
	return nil
}

// Orchestrator selects a provider/model for each message and invokes it
// with a bounded fallback chain. It is safe for concurrent use.
type Orchestrator struct {
	cfg        Config
	registry   *Registry
	invokers   map[string]Invoker
	classifier Classifier
	quality    QualityScorer
	history    *History
	sampler    *Sampler
	tokenizer  retrieval.Tokenizer
	metrics    observability.MetricsProvider
	tracer     observability.TracerProvider
	now        func() time.Time
	guards     *guards
	cache      *ResponseCache
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClassifier replaces the heuristic classifier.
func WithClassifier(c Classifier) Option { return func(o *Orchestrator) { o.classifier = c } }

// WithQualityScorer replaces the heuristic quality scorer.
func WithQualityScorer(q QualityScorer) Option { return func(o *Orchestrator) { o.quality = q } }

// WithHistory shares an existing history, for example one restored from a store.
func WithHistory(h *History) Option { return func(o *Orchestrator) { o.history = h } }

// WithSampler sets the A/B sampler.
func WithSampler(s *Sampler) Option { return func(o *Orchestrator) { o.sampler = s } }

// WithTokenizer sets the tokenizer used for prompt cost estimates.
func WithTokenizer(t retrieval.Tokenizer) Option { return func(o *Orchestrator) { o.tokenizer = t } }

// WithMetrics sets the metrics provider.
func WithMetrics(m observability.MetricsProvider) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithTracer sets the tracer provider.
func WithTracer(t observability.TracerProvider) Option { return func(o *Orchestrator) { o.tracer = t } }

// WithResponseCache serves repeated prompts from c.
func WithResponseCache(c *ResponseCache) Option { return func(o *Orchestrator) { o.cache = c } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// NewOrchestrator builds an orchestrator. invokers are keyed by provider name.
func NewOrchestrator(cfg Config, registry *Registry, invokers map[string]Invoker, opts ...Option) (*Orchestrator, error) {
	ctx := context.Background()
	if err := cfg.Validate(); err != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindConfig, err, "invalid switcher config")
	}
	if registry == nil {
		return nil, smartchat.NewKindErr(ctx, smartchat.KindConfig, "switcher requires a provider registry")
	}

	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		invokers: make(map[string]Invoker, len(invokers)),
		now:      time.Now,
	}
	for name, inv := range invokers {
		o.invokers[name] = inv
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.classifier == nil {
		o.classifier = NewHeuristicClassifier()
	}
	if o.quality == nil {
		o.quality = HeuristicQualityScorer{}
	}
	if o.history == nil {
		o.history = NewHistory(cfg.History)
		o.history.now = o.now
	}
	if o.sampler == nil {
		o.sampler = NewSampler(cfg.ABTestRate, uint64(o.now().UnixNano()))
	}
	if o.tokenizer == nil {
		o.tokenizer = retrieval.NewWordTokenizer()
	}
	o.metrics = observability.OrNoop(o.metrics)
	o.tracer = observability.TracerOrNoop(o.tracer)
	o.guards = newGuards(cfg.Breaker, o.now)
	return o, nil
}

// Registry returns the provider registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// History returns the request history.
func (o *Orchestrator) History() *History { return o.history }

// rejections counts why profiles were filtered out.
type rejections struct {
	unhealthy, capability, cost, latency, invoker int
}

func (r rejections) String() string {
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(r.unhealthy, "unhealthy")
	add(r.capability, "missing required capabilities")
	add(r.cost, "over the cost ceiling")
	add(r.latency, "too slow for the response time limit")
	add(r.invoker, "without a configured invoker")
	return strings.Join(parts, ", ")
}

// SelectAndInvoke classifies the message, filters and ranks candidates,
// and invokes them in rank order until one succeeds. Provider failures,
// exhaustion and the absence of eligible providers are reported in the
// Response; the error is non-nil only for invalid requests and caller
// cancellation.
func (o *Orchestrator) SelectAndInvoke(ctx context.Context, req Request) (resp *Response, err error) {
	ctx, span := o.tracer.StartSpan(ctx, "switcher.select_and_invoke")
	defer func() { span.End(err) }()

	if err := o.validate(ctx, &req); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, smartchat.WrapErr(ctx, err, "request cancelled")
	}

	if req.Complexity == "" {
		req.Complexity = o.classifier.Classify(req.Message)
	}
	ceiling := o.costCeiling(req)
	promptTokens := o.promptTokens(req)
	span.SetAttribute("complexity", string(req.Complexity))
	span.SetAttribute("priority", string(req.Priority))

	resp = &Response{Complexity: req.Complexity, Alternatives: []Alternative{}, Attempts: []Attempt{}}

	snap := o.registry.Snapshot()
	cands, rej := o.filter(snap.Profiles(), req, promptTokens, ceiling)
	if len(cands) == 0 {
		reason := "no providers configured"
		if snap.Len() > 0 {
			reason = fmt.Sprintf("no eligible provider among %d profiles: %s", snap.Len(), rej)
		}
		resp.SelectionReason = reason
		resp.Error = reason
		resp.ErrorKind = smartchat.KindNoEligibleProvider
		o.countSelection(ctx, req, "no_eligible")
		smartchat.LogWarn(ctx, "no eligible provider", "complexity", req.Complexity, "reason", reason)
		return resp, nil
	}

	rank(cands, o.cfg.Weights[req.Priority], req.Complexity)
	resp.SelectionReason, resp.SelectionConfidence = o.order(cands, req, resp)

	for _, c := range cands[1:] {
		resp.Alternatives = append(resp.Alternatives, Alternative{
			Provider:      c.profile.Provider,
			Model:         c.profile.Model,
			Score:         c.score,
			EstimatedCost: c.estimatedCost,
		})
	}
	resp.EstimatedCost = cands[0].estimatedCost

	if err := o.invokeChain(ctx, cands, req, promptTokens, resp); err != nil {
		return nil, err
	}
	span.SetAttribute("provider", resp.SelectedProvider)
	span.SetAttribute("model", resp.SelectedModel)
	span.SetAttribute("success", resp.Success)
	return resp, nil
}

func (o *Orchestrator) validate(ctx context.Context, req *Request) error {
	req.Message = strings.TrimSpace(req.Message)
	switch {
	case req.Message == "":
		return smartchat.NewKindErr(ctx, smartchat.KindValidation, "message is required")
	case req.Complexity != "" && !req.Complexity.Valid():
		return smartchat.NewKindErr(ctx, smartchat.KindValidation, "unknown message complexity").
			Tag(slog.String("complexity", string(req.Complexity)))
	case req.Priority != "" && !req.Priority.Valid():
		return smartchat.NewKindErr(ctx, smartchat.KindValidation, "unknown quality priority").
			Tag(slog.String("priority", string(req.Priority)))
	case req.MaxResponseTime < 0:
		return smartchat.NewKindErr(ctx, smartchat.KindValidation, "max response time must not be negative")
	}
	if req.Priority == "" {
		req.Priority = o.cfg.DefaultPriority
	}
	if req.MaxResponseTime == 0 {
		req.MaxResponseTime = o.cfg.DefaultMaxResponseTime
	}
	return nil
}

// costCeiling returns the per-message ceiling, or a negative value when
// there is none.
func (o *Orchestrator) costCeiling(req Request) float64 {
	switch {
	case req.MaxCostPerMessage < 0:
		return -1
	case req.MaxCostPerMessage > 0:
		return req.MaxCostPerMessage
	case o.cfg.DefaultMaxCostPerMessage > 0:
		return o.cfg.DefaultMaxCostPerMessage
	}
	return -1
}

func (o *Orchestrator) promptTokens(req Request) int {
	n := o.tokenizer.CountTokens(req.SystemPrompt) + o.tokenizer.CountTokens(req.Message)
	for _, m := range req.History {
		n += o.tokenizer.CountTokens(m.Content)
	}
	return n
}

func (o *Orchestrator) filter(profiles []ProviderProfile, req Request, promptTokens int, ceiling float64) ([]candidate, rejections) {
	var (
		cands []candidate
		rej   rejections
	)
	required := req.Required()

	for _, p := range profiles {
		if p.Health == HealthUnhealthy {
			rej.unhealthy++
			continue
		}
		missing := false
		for _, c := range required {
			if !p.Has(c) {
				missing = true
				break
			}
		}
		if missing {
			rej.capability++
			continue
		}
		est := o.cfg.CostModel.Estimate(p, promptTokens, req.Complexity)
		if ceiling >= 0 && est > ceiling {
			rej.cost++
			continue
		}
		if p.ResponseTimeEstimateMs > 0 && p.ResponseTimeEstimate() > req.MaxResponseTime {
			rej.latency++
			continue
		}
		if _, ok := o.invokers[p.Provider]; !ok {
			rej.invoker++
			continue
		}

		quality := o.cfg.DefaultQuality
		if req.EnableOptimization {
			if q, ok := o.history.Quality(p.Key()); ok {
				quality = q
			}
		}
		cands = append(cands, candidate{profile: p, estimatedCost: est, quality: quality})
	}
	return cands, rej
}

// order moves the honored preference or the A/B variant to the front of the
// ranked candidates and explains the choice.
func (o *Orchestrator) order(cands []candidate, req Request, resp *Response) (string, float64) {
	top := cands[0]

	if req.PreferredProvider != "" || req.PreferredModel != "" {
		want := req.PreferredProvider
		switch {
		case want == "":
			want = req.PreferredModel
		case req.PreferredModel != "":
			want += "/" + req.PreferredModel
		}
		for i, c := range cands {
			if (req.PreferredProvider == "" || c.profile.Provider == req.PreferredProvider) &&
				(req.PreferredModel == "" || c.profile.Model == req.PreferredModel) {
				moveToFront(cands, i)
				return "user preference", 1.0
			}
		}
		return fmt.Sprintf("preferred %s unavailable (unhealthy or filtered out), fell back to %s ranked first by %s priority",
			want, top.profile.Key(), req.Priority), confidence(cands)
	}

	if req.EnableABTesting {
		if idx, ok := o.sampler.Sample(len(cands)); ok {
			conf := confidence(cands)
			resp.ABTest = &ABTestInfo{
				Variant: cands[idx].profile.Key(),
				Control: top.profile.Key(),
				Rate:    o.sampler.Rate(),
			}
			moveToFront(cands, idx)
			return fmt.Sprintf("A/B test variant (control %s)", top.profile.Key()), conf
		}
	}

	return fmt.Sprintf("ranked first by %s priority for %s complexity (score %.3f)",
		req.Priority, req.Complexity, top.score), confidence(cands)
}

func moveToFront(cands []candidate, i int) {
	c := cands[i]
	copy(cands[1:i+1], cands[:i])
	cands[0] = c
}

func (o *Orchestrator) invokeChain(ctx context.Context, cands []candidate, req Request, promptTokens int, resp *Response) error {
	limit := len(cands)
	if o.cfg.MaxAttempts > 0 && o.cfg.MaxAttempts < limit {
		limit = o.cfg.MaxAttempts
	}
	inv := Invocation{
		System:    req.SystemPrompt,
		Messages:  append(append([]Message(nil), req.History...), Message{Role: "user", Content: req.Message}),
		MaxTokens: o.cfg.CostModel.MaxOutputTokens,
	}

	if o.cache != nil {
		top := cands[0]
		probe := inv
		probe.Model = top.profile.Model
		if comp, ok := o.cache.Get(ctx, top.profile, probe); ok {
			o.serveCached(ctx, req, top, comp, promptTokens, resp)
			return nil
		}
	}

	var (
		last     ProviderProfile
		lastErr  error
		lastID   string
		failures int
	)
	for i, c := range cands[:limit] {
		p := c.profile
		last = p
		guard := o.guards.get(p)
		if !guard.breaker.Allow() {
			resp.Attempts = append(resp.Attempts, Attempt{Provider: p.Provider, Model: p.Model, Skipped: true, Error: "circuit open"})
			lastErr = fmt.Errorf("%s: circuit open", p.Key())
			o.countAttempt(ctx, p, "skipped")
			continue
		}

		inv.Model = p.Model
		start := o.now()
		comp, err := o.attempt(ctx, o.invokers[p.Provider], guard, inv, req.MaxResponseTime)
		elapsed := o.now().Sub(start)
		labels := map[string]string{"provider": p.Provider, "model": p.Model}
		o.metrics.RecordDuration(ctx, observability.MetricProviderLatency, elapsed, labels)

		if err != nil {
			if ctx.Err() != nil {
				guard.breaker.Release()
				return smartchat.WrapErr(ctx, ctx.Err(), "request cancelled during provider invocation")
			}
			guard.breaker.RecordFailure()
			failures++
			lastErr = err
			resp.Attempts = append(resp.Attempts, Attempt{Provider: p.Provider, Model: p.Model, Duration: elapsed, Error: err.Error()})
			o.countAttempt(ctx, p, "failure")
			lastID = o.record(req, p, HistoryEntry{ResponseTime: elapsed, Error: err.Error(), FallbackUsed: i > 0}, resp.ABTest)
			smartchat.LogWarn(ctx, "provider attempt failed, falling back",
				"provider", p.Provider, "model", p.Model, "attempt", i+1, "error", err)
			continue
		}

		guard.breaker.RecordSuccess()
		resp.Attempts = append(resp.Attempts, Attempt{Provider: p.Provider, Model: p.Model, Duration: elapsed})
		o.countAttempt(ctx, p, "success")
		if o.cache != nil {
			o.cache.Put(ctx, p, inv, comp)
		}
		o.succeed(ctx, req, c, comp, promptTokens, elapsed, i > 0, resp)
		if failures > 0 {
			resp.SelectionReason += fmt.Sprintf("; fallback after %d failed attempt(s)", failures)
		}
		return nil
	}

	resp.Success = false
	resp.SelectedProvider = last.Provider
	resp.SelectedModel = last.Model
	resp.FallbackUsed = limit > 1
	resp.ErrorKind = smartchat.KindExhausted
	resp.Error = fmt.Sprintf("all %d candidate(s) failed; last error: %v", limit, lastErr)
	resp.HistoryID = lastID
	o.countSelection(ctx, req, "exhausted")
	smartchat.LogError(ctx, "provider fallback chain exhausted", lastErr, "attempts", limit, "complexity", req.Complexity)
	return nil
}

// attempt runs one fallback step under its own deadline: rate limiter,
// concurrency slot, then the call with transient retries.
func (o *Orchestrator) attempt(ctx context.Context, inv Invoker, guard *providerGuard, in Invocation, timeout time.Duration) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	release, err := guard.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var comp *Completion
	err = retry.Do(ctx, o.backoff(), func(ctx context.Context) error {
		c, err := inv.Invoke(ctx, in)
		if err != nil {
			if isRetryable(ctx, err) {
				return retry.RetryableError(err)
			}
			return err
		}
		comp = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	if comp == nil || strings.TrimSpace(comp.Content) == "" {
		return nil, errors.New("provider returned an empty completion")
	}
	return comp, nil
}

func (o *Orchestrator) backoff() retry.Backoff {
	rc := o.cfg.Retry
	base := rc.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	b := retry.NewExponential(base)
	if rc.MaxDelay > 0 {
		b = retry.WithCappedDuration(rc.MaxDelay, b)
	}
	if rc.Jitter > 0 {
		b = retry.WithJitter(rc.Jitter, b)
	}
	return retry.WithMaxRetries(rc.MaxRetries, b)
}

func (o *Orchestrator) succeed(ctx context.Context, req Request, c candidate, comp *Completion, promptTokens int, elapsed time.Duration, fallback bool, resp *Response) {
	p := c.profile
	usage := Usage{PromptTokens: comp.PromptTokens, CompletionTokens: comp.CompletionTokens}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = promptTokens
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = o.tokenizer.CountTokens(comp.Content)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	resp.Success = true
	resp.Content = comp.Content
	resp.SelectedProvider = p.Provider
	resp.SelectedModel = p.Model
	resp.TokensUsed = usage
	resp.Cost = price(p, usage.TotalTokens)
	resp.EstimatedCost = c.estimatedCost
	resp.ResponseTime = elapsed
	resp.FallbackUsed = fallback
	resp.QualityScore = o.quality.Score(ctx, QualityInput{Question: req.Message, Answer: comp.Content, Complexity: req.Complexity})

	resp.HistoryID = o.record(req, p, HistoryEntry{
		Success:      true,
		Cost:         resp.Cost,
		TokensUsed:   usage.TotalTokens,
		ResponseTime: elapsed,
		QualityScore: resp.QualityScore,
		FallbackUsed: fallback,
	}, resp.ABTest)

	labels := map[string]string{"provider": p.Provider, "model": p.Model}
	o.metrics.Histogram(ctx, observability.MetricProviderCost, resp.Cost, labels)
	o.countSelection(ctx, req, "success")
	smartchat.LogInfo(ctx, "provider selected",
		"provider", p.Provider, "model", p.Model, "complexity", req.Complexity,
		"cost", resp.Cost, "quality", resp.QualityScore, "fallback", fallback)
}

// serveCached answers from the response cache. Cache hits cost nothing and
// are kept out of the history.
func (o *Orchestrator) serveCached(ctx context.Context, req Request, c candidate, comp *Completion, promptTokens int, resp *Response) {
	p := c.profile
	usage := Usage{PromptTokens: comp.PromptTokens, CompletionTokens: comp.CompletionTokens}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = promptTokens
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	resp.Success = true
	resp.CacheHit = true
	resp.Content = comp.Content
	resp.SelectedProvider = p.Provider
	resp.SelectedModel = p.Model
	resp.TokensUsed = usage
	resp.EstimatedCost = c.estimatedCost
	resp.QualityScore = o.quality.Score(ctx, QualityInput{Question: req.Message, Answer: comp.Content, Complexity: req.Complexity})
	resp.SelectionReason += "; served from response cache"

	o.countSelection(ctx, req, "cache_hit")
	smartchat.LogInfo(ctx, "response served from cache", "provider", p.Provider, "model", p.Model)
}

// record appends one attempt outcome to the history and returns its ID.
func (o *Orchestrator) record(req Request, p ProviderProfile, e HistoryEntry, ab *ABTestInfo) string {
	e.ID = uuid.NewString()
	e.UserID = req.UserID
	e.AgentID = req.AgentID
	e.ConversationID = req.ConversationID
	e.Provider = p.Provider
	e.Model = p.Model
	e.Complexity = req.Complexity
	e.Priority = req.Priority
	e.CreatedAt = o.now()
	if ab != nil && ab.Variant == p.Key() {
		e.ABVariant = true
	}
	o.history.Append(e)
	return e.ID
}

func (o *Orchestrator) countAttempt(ctx context.Context, p ProviderProfile, outcome string) {
	o.metrics.Counter(ctx, observability.MetricProviderAttempts, 1,
		map[string]string{"provider": p.Provider, "model": p.Model, "outcome": outcome})
}

func (o *Orchestrator) countSelection(ctx context.Context, req Request, outcome string) {
	o.metrics.Counter(ctx, observability.MetricSelections, 1,
		map[string]string{"priority": string(req.Priority), "complexity": string(req.Complexity), "outcome": outcome})
}

// GetOptimizationInsights aggregates the trailing days of history for the
// given user and agent. Empty IDs match everything. Days outside
// [1, history max age] are clamped.
func (o *Orchestrator) GetOptimizationInsights(ctx context.Context, userID, agentID string, days int) (Insights, error) {
	if err := ctx.Err(); err != nil {
		return Insights{}, smartchat.WrapErr(ctx, err, "request cancelled")
	}
	days = o.clampDays(days)
	entries := o.RecentHistory(userID, agentID, days)
	return buildInsights(entries, days, o.cfg.Insights), nil
}

// RecentHistory returns entries of the trailing days, oldest first.
func (o *Orchestrator) RecentHistory(userID, agentID string, days int) []HistoryEntry {
	days = o.clampDays(days)
	since := o.now().Add(-time.Duration(days) * 24 * time.Hour)
	return o.history.Entries(HistoryFilter{UserID: userID, AgentID: agentID, Since: since})
}

func (o *Orchestrator) clampDays(days int) int {
	maxDays := 30
	if o.cfg.History.MaxAge > 0 {
		maxDays = max(1, int(o.cfg.History.MaxAge/(24*time.Hour)))
	}
	return min(max(days, 1), maxDays)
}

// RefreshHealth probes every profile whose invoker implements Pinger and
// publishes the results as one registry snapshot.
func (o *Orchestrator) RefreshHealth(ctx context.Context) map[string]HealthStatus {
	statuses := o.registry.RefreshHealth(ctx, func(p ProviderProfile) HealthProbe {
		pinger, ok := o.invokers[p.Provider].(Pinger)
		if !ok {
			return nil
		}
		return func(ctx context.Context, p ProviderProfile) error { return pinger.Ping(ctx, p.Model) }
	}, o.cfg.HealthProbeTimeout)

	for key, status := range statuses {
		provider, model, _ := strings.Cut(key, "/")
		value := 1.0
		switch status {
		case HealthDegraded:
			value = 0.5
		case HealthUnhealthy:
			value = 0
		}
		o.metrics.Gauge(ctx, observability.MetricProviderHealth, value, map[string]string{"provider": provider, "model": model})
	}
	return statuses
}

// HealthChecks returns one reachability check per provider whose invoker
// implements Pinger, probing the provider's first registered model.
func (o *Orchestrator) HealthChecks() []observability.HealthChecker {
	names := make([]string, 0, len(o.invokers))
	for name := range o.invokers {
		names = append(names, name)
	}
	sort.Strings(names)

	var checks []observability.HealthChecker
	for _, name := range names {
		pinger, ok := o.invokers[name].(Pinger)
		if !ok {
			continue
		}
		checks = append(checks, &observability.FuncHealthCheck{
			CheckName:    "provider-" + name,
			CheckTimeout: o.cfg.HealthProbeTimeout,
			CheckFunc: func(ctx context.Context) error {
				for _, p := range o.registry.Snapshot().Profiles() {
					if p.Provider == name {
						return pinger.Ping(ctx, p.Model)
					}
				}
				return fmt.Errorf("no profile registered for provider %s", name)
			},
		})
	}
	return checks
}
