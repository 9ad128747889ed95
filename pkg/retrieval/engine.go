package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// Config configures an Engine.
type Config struct {
	Defaults        Options                  `yaml:"defaults"`
	QualityWeights  QualityWeights           `yaml:"quality_weights"`
	Thresholds      RecommendationThresholds `yaml:"recommendations"`
	LexicalFallback bool                     `yaml:"lexical_fallback"`
	Separator       string                   `yaml:"separator"`
}

// DefaultConfig returns defaults with lexical fallback enabled.
func DefaultConfig() Config {
	return Config{
		Defaults:        DefaultOptions(),
		QualityWeights:  DefaultQualityWeights(),
		Thresholds:      DefaultRecommendationThresholds(),
		LexicalFallback: true,
		Separator:       "\n\n",
	}
}

// Validate checks the defaults and weights.
func (c Config) Validate() error {
	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("retrieval defaults: %w", err)
	}
	if err := c.QualityWeights.Validate(); err != nil {
		return err
	}
	if c.Separator == "" {
		return fmt.Errorf("separator must not be empty")
	}
	return nil
}

// Engine is the context retrieval and optimization engine. It holds no
// per-request state and is safe for concurrent use.
type Engine struct {
	cfg        Config
	scorer     Scorer
	fallback   Scorer
	tokenizer  Tokenizer
	summarizer Summarizer
	similarity Similarity
	metrics    observability.MetricsProvider
	tracer     observability.TracerProvider
	checks     []observability.HealthChecker
}

// Option configures an Engine.
type Option func(*Engine)

// WithScorer sets the primary relevance scorer. Default: LexicalScorer.
func WithScorer(s Scorer) Option { return func(e *Engine) { e.scorer = s } }

// WithFallbackScorer sets the scorer used when the primary fails. It
// overrides Config.LexicalFallback.
func WithFallbackScorer(s Scorer) Option { return func(e *Engine) { e.fallback = s } }

// WithTokenizer sets the tokenizer. Default: WordTokenizer.
func WithTokenizer(t Tokenizer) Option { return func(e *Engine) { e.tokenizer = t } }

// WithSummarizer sets the conversation summarizer.
func WithSummarizer(s Summarizer) Option { return func(e *Engine) { e.summarizer = s } }

// WithSimilarity sets the near-duplicate measure used by diversity filtering
// and quality scoring. Default: HybridSimilarity.
func WithSimilarity(s Similarity) Option { return func(e *Engine) { e.similarity = s } }

// WithMetrics sets the metrics provider.
func WithMetrics(m observability.MetricsProvider) Option { return func(e *Engine) { e.metrics = m } }

// WithTracer sets the tracer provider.
func WithTracer(t observability.TracerProvider) Option { return func(e *Engine) { e.tracer = t } }

// NewEngine builds an Engine. The configuration is validated once here.
//
// Example:
//
//	scorer, _ := retrieval.NewEmbeddingScorer(embedder, 4096)
//	engine, err := retrieval.NewEngine(retrieval.DefaultConfig(),
//	    retrieval.WithScorer(scorer),
//	    retrieval.WithTokenizer(tok),
//	)
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, smartchat.WrapKindErr(context.Background(), smartchat.KindConfig, err, "invalid retrieval config")
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.scorer == nil {
		e.scorer = NewLexicalScorer()
	}
	if _, lexical := e.scorer.(*LexicalScorer); e.fallback == nil && cfg.LexicalFallback && !lexical {
		e.fallback = NewLexicalScorer()
	}
	if e.tokenizer == nil {
		e.tokenizer = NewWordTokenizer()
	}
	if e.summarizer == nil {
		e.summarizer = &ExtractiveSummarizer{Tokenizer: e.tokenizer}
	}
	if e.similarity == nil {
		e.similarity = HybridSimilarity
	}
	e.metrics = observability.OrNoop(e.metrics)
	e.tracer = observability.TracerOrNoop(e.tracer)

	if p, ok := e.scorer.(interface{ Ping(context.Context) error }); ok {
		e.checks = append(e.checks, &observability.FuncHealthCheck{
			CheckName:    "embedding-backend",
			CheckFunc:    p.Ping,
			CheckTimeout: 5 * time.Second,
		})
	}
	return e, nil
}

// Tokenizer returns the engine's tokenizer so callers can share its accounting.
func (e *Engine) Tokenizer() Tokenizer { return e.tokenizer }

// Defaults returns the configured default options.
func (e *Engine) Defaults() Options { return e.cfg.Defaults }

// HealthChecks returns probes for the engine's remote dependencies.
func (e *Engine) HealthChecks() []observability.HealthChecker { return e.checks }

// RetrieveAndOptimize turns a query and candidate sources into a
// token-bounded, quality-scored context bundle.
//
// An empty bundle is a valid result, not an error. Errors are returned for
// invalid input, cancellation, or a scoring failure with no fallback.
func (e *Engine) RetrieveAndOptimize(ctx context.Context, query string, sources []KnowledgeSource, opts Options) (res *Result, err error) {
	start := time.Now()
	ctx, span := e.tracer.StartSpan(ctx, "retrieval.optimize", observability.WithAttributes(map[string]any{
		"sources": len(sources),
	}))
	defer func() { span.End(err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, smartchat.NewKindErr(ctx, smartchat.KindValidation, "query is required")
	}
	if verr := opts.Validate(); verr != nil {
		return nil, smartchat.WrapKindErr(ctx, smartchat.KindValidation, verr, "invalid retrieval options")
	}
	labels := map[string]string{"strategy": string(opts.ChunkingStrategy)}

	history := recentTurns(opts)
	summary, summaryTokens := e.summarize(ctx, history, opts)
	docBudget := opts.MaxTokens - summaryTokens

	candidates := e.chunkSources(sources, opts)
	res = &Result{Stats: Stats{SourcesConsidered: len(sources), ChunksScored: len(candidates)}}

	scored, degraded, err := e.score(ctx, query, candidates)
	if err != nil {
		e.metrics.Counter(ctx, observability.MetricRetrievalRequests, 1, withOutcome(labels, "error"))
		return nil, err
	}
	res.Stats.DegradedScoring = degraded

	relevant := scored[:0]
	for _, r := range scored {
		if r.RelevanceScore >= opts.MinRelevanceScore {
			relevant = append(relevant, r)
		}
	}
	res.Stats.AboveThreshold = len(relevant)

	capped := capPerSource(relevant, opts.MaxResultsPerSource)
	res.Stats.AfterCapping = len(capped)

	sortByRank(capped)
	pool := capped
	if opts.EnableDiversityFiltering {
		pool = selectDiverse(capped, opts.DiversityLambda, opts.DuplicateThreshold, e.similarity)
		sortByRank(pool)
	}
	res.Stats.AfterDiversity = len(pool)

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	originalTokens := summaryTokens
	for i := range pool {
		pool[i].Tokens = e.tokenizer.CountTokens(e.render(pool[i]) + e.cfg.Separator)
		originalTokens += pool[i].Tokens
	}

	used := 0
	var selected []SearchResult
	for _, r := range pool {
		if used+r.Tokens > docBudget {
			break
		}
		selected = append(selected, r)
		used += r.Tokens
	}
	res.Selected = selected
	res.Stats.Selected = len(selected)

	optimizedTokens := summaryTokens + used
	ratio := 1.0
	if optimizedTokens > 0 && originalTokens > 0 {
		ratio = float64(optimizedTokens) / float64(originalTokens)
	}

	rendered := make([]string, len(selected))
	for i, r := range selected {
		rendered[i] = e.render(r)
	}
	res.Context = OptimizedContext{
		Content:             strings.Join(rendered, e.cfg.Separator),
		OriginalTokenCount:  originalTokens,
		OptimizedTokenCount: optimizedTokens,
		CompressionRatio:    ratio,
		ChunkingStrategy:    opts.ChunkingStrategy,
		ConversationSummary: summary.Text,
	}
	res.Quality = assessQuality(qualityInput{
		selected:       selected,
		includeHistory: opts.IncludeConversationHistory,
		historyTurns:   len(history),
		summary:        summary,
	}, e.cfg.QualityWeights, e.similarity)
	res.SourcesUsed = sourcesUsed(selected)

	rin := recommendInput{opts: opts, historyTurns: len(history), docBudget: docBudget}
	if len(selected) == 0 && len(pool) > 0 {
		rin.firstTokens = pool[0].Tokens
	}
	res.Recommendations = recommend(res, rin, e.cfg.Thresholds)
	res.Stats.Duration = time.Since(start)

	outcome := "context"
	if res.Empty() {
		outcome = "empty"
	}
	e.metrics.Counter(ctx, observability.MetricRetrievalRequests, 1, withOutcome(labels, outcome))
	e.metrics.RecordDuration(ctx, observability.MetricRetrievalDuration, res.Stats.Duration, labels)
	e.metrics.Histogram(ctx, observability.MetricRetrievalCompression, ratio, labels)
	span.SetAttribute("selected", len(selected))
	span.SetAttribute("optimized_tokens", optimizedTokens)

	smartchat.LogDebug(ctx, "context optimized",
		"sources", len(sources),
		"candidates", len(candidates),
		"selected", len(selected),
		"tokens", optimizedTokens,
		"max_tokens", opts.MaxTokens,
		"overall", res.Quality.OverallScore,
	)
	return res, nil
}

func (e *Engine) render(r SearchResult) string {
	name := r.SourceName
	if name == "" {
		name = r.SourceID
	}
	return "[" + name + "]\n" + r.Content
}

func recentTurns(opts Options) []ConversationTurn {
	if !opts.IncludeConversationHistory || len(opts.History) == 0 || opts.MaxHistoryTurns == 0 {
		return nil
	}
	if len(opts.History) <= opts.MaxHistoryTurns {
		return opts.History
	}
	return opts.History[len(opts.History)-opts.MaxHistoryTurns:]
}

// summarize carves the summary out of the budget first. A failing or
// oversized summary is dropped rather than failing the request.
func (e *Engine) summarize(ctx context.Context, turns []ConversationTurn, opts Options) (Summary, int) {
	if len(turns) == 0 {
		return Summary{}, 0
	}
	budget := int(float64(opts.MaxTokens) * opts.HistoryBudgetRatio)
	summary, err := e.summarizer.Summarize(ctx, turns, budget)
	if err != nil {
		smartchat.LogWarn(ctx, "conversation summary failed, continuing without it", "error", err)
		return Summary{}, 0
	}
	tokens := e.tokenizer.CountTokens(summary.Text)
	if tokens > budget {
		smartchat.LogWarn(ctx, "conversation summary exceeded its budget, dropping it",
			"tokens", tokens, "budget", budget)
		return Summary{}, 0
	}
	return summary, tokens
}

func (e *Engine) chunkSources(sources []KnowledgeSource, opts Options) []SearchResult {
	var out []SearchResult
	for _, src := range sources {
		priority := src.Priority
		if priority <= 0 {
			priority = 1
		}
		for i, chunk := range chunkContent(src.Content, opts.ChunkingStrategy, opts.ChunkSize, e.tokenizer) {
			out = append(out, SearchResult{
				SourceID:    src.ID,
				SourceName:  src.Name,
				SourceType:  src.Type,
				ChunkIndex:  i,
				Content:     chunk,
				Priority:    priority,
				Credibility: clampUnit(src.CredibilityScore),
			})
		}
	}
	return out
}

// score runs the primary scorer and, when configured, the fallback on
// failure. Cancellation is never masked by the fallback.
func (e *Engine) score(ctx context.Context, query string, candidates []SearchResult) ([]SearchResult, bool, error) {
	if len(candidates) == 0 {
		return candidates, false, nil
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Content
	}

	degraded := false
	scores, err := e.scorer.Score(ctx, query, texts)
	if err == nil && len(scores) != len(texts) {
		err = fmt.Errorf("scorer returned %d scores for %d texts", len(scores), len(texts))
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if e.fallback == nil {
			return nil, false, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "relevance scoring failed")
		}
		smartchat.LogWarn(ctx, "primary scorer failed, using fallback", "error", err)
		e.metrics.Counter(ctx, observability.MetricScoringFallbacks, 1, map[string]string{"scorer": fmt.Sprintf("%T", e.scorer)})
		degraded = true
		if scores, err = e.fallback.Score(ctx, query, texts); err != nil {
			return nil, false, smartchat.WrapKindErr(ctx, smartchat.KindBackend, err, "fallback scoring failed")
		}
	}

	for i := range candidates {
		candidates[i].RelevanceScore = clampUnit(scores[i])
	}
	return candidates, degraded, nil
}

// capPerSource keeps the best maxPerSource chunks of each source.
func capPerSource(results []SearchResult, maxPerSource int) []SearchResult {
	ordered := make([]SearchResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ChunkIndex < b.ChunkIndex
	})

	counts := make(map[string]int)
	out := ordered[:0]
	for _, r := range ordered {
		if counts[r.SourceID] >= maxPerSource {
			continue
		}
		counts[r.SourceID]++
		out = append(out, r)
	}
	return out
}

// sortByRank orders by relevance*priority descending, then source ID and
// chunk index ascending.
func sortByRank(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if ra, rb := a.RankScore(), b.RankScore(); ra != rb {
			return ra > rb
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.ChunkIndex < b.ChunkIndex
	})
}

func sourcesUsed(selected []SearchResult) []SourceUsage {
	index := make(map[string]int)
	var out []SourceUsage
	for _, r := range selected {
		if i, ok := index[r.SourceID]; ok {
			out[i].Chunks++
			if r.RelevanceScore > out[i].RelevanceScore {
				out[i].RelevanceScore = r.RelevanceScore
			}
			continue
		}
		index[r.SourceID] = len(out)
		out = append(out, SourceUsage{
			SourceID:       r.SourceID,
			Name:           r.SourceName,
			Type:           r.SourceType,
			RelevanceScore: r.RelevanceScore,
			Chunks:         1,
		})
	}
	return out
}

func withOutcome(labels map[string]string, outcome string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out["outcome"] = outcome
	return out
}
