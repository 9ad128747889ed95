package retrieval

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/calque-ai/go-smartchat/pkg/observability"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// scoreByText returns the score registered for the first key contained in
// each text, or fallback when none matches.
func scoreByText(scores map[string]float64, fallback float64) ScorerFunc {
	return func(ctx context.Context, _ string, texts []string) ([]float64, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out := make([]float64, len(texts))
		for i, text := range texts {
			out[i] = fallback
			for key, s := range scores {
				if strings.Contains(text, key) {
					out[i] = s
					break
				}
			}
		}
		return out, nil
	}
}

func constantScorer(score float64) ScorerFunc {
	return scoreByText(nil, score)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithTokenizer(WordTokenizer{Ratio: 1})}, opts...)
	e, err := NewEngine(DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func plainOptions(maxTokens int) Options {
	opts := DefaultOptions()
	opts.MaxTokens = maxTokens
	opts.ChunkingStrategy = ChunkingNone
	opts.EnableDiversityFiltering = false
	opts.IncludeConversationHistory = false
	return opts
}

func TestRetrieveAndOptimizeEmptyKnowledgeBase(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	res, err := e.RetrieveAndOptimize(context.Background(), "what is your refund policy?", nil, DefaultOptions())
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}

	if !res.Empty() {
		t.Errorf("Empty() = false, want true")
	}
	if res.Context.Content != "" {
		t.Errorf("Content = %q, want empty", res.Context.Content)
	}
	if res.Context.CompressionRatio != 1 {
		t.Errorf("CompressionRatio = %v, want 1", res.Context.CompressionRatio)
	}
	if res.Quality != (QualityAssessment{}) {
		t.Errorf("Quality = %+v, want all zero", res.Quality)
	}
	if !containsString(res.Recommendations, RecNoRelevantContext) {
		t.Errorf("Recommendations = %v, want %q", res.Recommendations, RecNoRelevantContext)
	}
}

func TestRetrieveAndOptimizeSinglePerfectMatch(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithScorer(constantScorer(0.95)))
	sources := []KnowledgeSource{{
		ID:               "go-guide",
		Type:             SourceDocument,
		Name:             "Go Guide",
		Content:          "Channels connect concurrent goroutines.",
		CredibilityScore: 0.9,
		Priority:         1,
	}}

	res, err := e.RetrieveAndOptimize(context.Background(), "how do channels work", sources, plainOptions(4000))
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}

	if len(res.Selected) != 1 {
		t.Fatalf("selected %d results, want 1", len(res.Selected))
	}
	if want := "[Go Guide]\nChannels connect concurrent goroutines."; res.Context.Content != want {
		t.Errorf("Content = %q, want %q", res.Context.Content, want)
	}
	if res.Context.CompressionRatio != 1 {
		t.Errorf("CompressionRatio = %v, want 1", res.Context.CompressionRatio)
	}
	if res.Quality.RelevanceScore != 0.95 {
		t.Errorf("RelevanceScore = %v, want 0.95", res.Quality.RelevanceScore)
	}
	if res.Quality.DiversityScore != 1 {
		t.Errorf("DiversityScore = %v, want 1", res.Quality.DiversityScore)
	}
	if len(res.SourcesUsed) != 1 || res.SourcesUsed[0].SourceID != "go-guide" {
		t.Errorf("SourcesUsed = %+v, want go-guide", res.SourcesUsed)
	}
}

func TestRetrieveAndOptimizeFitsBudget(t *testing.T) {
	t.Parallel()

	scores := make(map[string]float64)
	var sources []KnowledgeSource
	for i := range 50 {
		id := fmt.Sprintf("doc-%02d", i)
		marker := fmt.Sprintf("marker%02d", i)
		scores[marker] = 0.99 - float64(i)*0.005
		sources = append(sources, KnowledgeSource{
			ID:               id,
			Type:             SourceDocument,
			Name:             id,
			Content:          marker + " alpha beta gamma delta epsilon zeta eta theta iota",
			CredibilityScore: 0.8,
			Priority:         1,
		})
	}

	e := newTestEngine(t, WithScorer(scoreByText(scores, 0)))
	// each entry renders to 11 words: the name line plus ten content words
	res, err := e.RetrieveAndOptimize(context.Background(), "alpha", sources, plainOptions(55))
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}

	var got []string
	for _, r := range res.Selected {
		got = append(got, r.SourceID)
	}
	want := []string{"doc-00", "doc-01", "doc-02", "doc-03", "doc-04"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("selected = %v, want %v", got, want)
	}
	if res.Context.OptimizedTokenCount != 55 {
		t.Errorf("OptimizedTokenCount = %d, want 55", res.Context.OptimizedTokenCount)
	}
	if res.Context.OriginalTokenCount != 550 {
		t.Errorf("OriginalTokenCount = %d, want 550", res.Context.OriginalTokenCount)
	}
	if res.Context.CompressionRatio != 0.1 {
		t.Errorf("CompressionRatio = %v, want 0.1", res.Context.CompressionRatio)
	}
}

func TestRetrieveAndOptimizeInvariants(t *testing.T) {
	t.Parallel()

	sources := []KnowledgeSource{
		{ID: "refunds", Name: "Refund Policy", Priority: 2, CredibilityScore: 0.9, Content: "Refunds are issued within 14 days of purchase. " +
			"Contact support with your order number to request a refund.\n\nDigital goods are refundable only if unused."},
		{ID: "shipping", Name: "Shipping", Priority: 1, CredibilityScore: 0.7, Content: "Orders ship within two business days. " +
			"Refunds for lost parcels are handled by the carrier claims process."},
		{ID: "faq", Name: "FAQ", Priority: 1, CredibilityScore: 0.4, Content: "Our refund policy allows returns for 14 days. " +
			"Refunds are issued within 14 days of purchase."},
		{ID: "careers", Name: "Careers", Priority: 1, CredibilityScore: 1, Content: "We are hiring engineers in Berlin and Lisbon."},
	}
	history := []ConversationTurn{
		{Role: "user", Content: "I bought a course last week."},
		{Role: "assistant", Content: "Thanks, how can I help with your course?"},
	}

	e := newTestEngine(t)
	for _, strategy := range []ChunkingStrategy{ChunkingNone, ChunkingSemantic, ChunkingFixedWindow} {
		for maxTokens := 1; maxTokens <= 120; maxTokens += 7 {
			opts := DefaultOptions()
			opts.MaxTokens = maxTokens
			opts.MinRelevanceScore = 0.2
			opts.ChunkingStrategy = strategy
			opts.ChunkSize = 12
			opts.History = history

			res, err := e.RetrieveAndOptimize(context.Background(), "how do refunds work", sources, opts)
			if err != nil {
				t.Fatalf("%s/%d: RetrieveAndOptimize() error = %v", strategy, maxTokens, err)
			}
			if res.Context.OptimizedTokenCount > maxTokens {
				t.Errorf("%s/%d: OptimizedTokenCount = %d exceeds budget", strategy, maxTokens, res.Context.OptimizedTokenCount)
			}
			if r := res.Context.CompressionRatio; r <= 0 || r > 1 {
				t.Errorf("%s/%d: CompressionRatio = %v, want (0,1]", strategy, maxTokens, r)
			}
			for _, s := range res.Selected {
				if s.RelevanceScore < opts.MinRelevanceScore {
					t.Errorf("%s/%d: selected %s with relevance %v below floor", strategy, maxTokens, s.SourceID, s.RelevanceScore)
				}
			}
			q := res.Quality
			for name, v := range map[string]float64{
				"relevance": q.RelevanceScore, "diversity": q.DiversityScore,
				"credibility": q.CredibilityScore, "coherence": q.CoherenceScore, "overall": q.OverallScore,
			} {
				if v < 0 || v > 1 {
					t.Errorf("%s/%d: %s score = %v, want [0,1]", strategy, maxTokens, name, v)
				}
			}
		}
	}
}

func TestRetrieveAndOptimizeRelevanceFloor(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithScorer(scoreByText(map[string]float64{"strong": 0.9, "weak": 0.4}, 0)))
	sources := []KnowledgeSource{
		{ID: "a", Name: "A", Content: "strong match", Priority: 1},
		{ID: "b", Name: "B", Content: "weak match", Priority: 1},
	}

	res, err := e.RetrieveAndOptimize(context.Background(), "match", sources, plainOptions(1000))
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}
	if len(res.Selected) != 1 || res.Selected[0].SourceID != "a" {
		t.Errorf("selected = %+v, want only a", res.Selected)
	}
	if res.Stats.AboveThreshold != 1 {
		t.Errorf("AboveThreshold = %d, want 1", res.Stats.AboveThreshold)
	}
}

func TestRetrieveAndOptimizeZeroRelevanceFloor(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithScorer(constantScorer(0.3)))
	sources := []KnowledgeSource{{ID: "a", Name: "A", Content: "loosely related note", Priority: 1}}

	opts := plainOptions(1000)
	opts.MinRelevanceScore = 0
	res, err := e.RetrieveAndOptimize(context.Background(), "anything", sources, opts)
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}
	if len(res.Selected) != 1 || res.Stats.AboveThreshold != 1 {
		t.Errorf("selected %d (above threshold %d), want the 0.3 match kept", len(res.Selected), res.Stats.AboveThreshold)
	}
	if res.Context.Content == "" {
		t.Error("Content is empty")
	}
}

func TestRetrieveAndOptimizePerSourceCap(t *testing.T) {
	t.Parallel()

	paragraphs := []string{
		"first paragraph about tokens here",
		"second paragraph about tokens here",
		"third paragraph about tokens here",
		"fourth paragraph about tokens here",
		"fifth paragraph about tokens here",
	}
	sources := []KnowledgeSource{{ID: "big", Name: "Big", Content: strings.Join(paragraphs, "\n\n"), Priority: 1}}

	e := newTestEngine(t, WithScorer(constantScorer(0.9)))
	opts := plainOptions(1000)
	opts.ChunkingStrategy = ChunkingSemantic
	opts.ChunkSize = 5
	opts.MaxResultsPerSource = 2

	res, err := e.RetrieveAndOptimize(context.Background(), "tokens", sources, opts)
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}
	if res.Stats.ChunksScored != 5 {
		t.Errorf("ChunksScored = %d, want 5", res.Stats.ChunksScored)
	}
	if len(res.Selected) != 2 {
		t.Fatalf("selected %d chunks, want 2", len(res.Selected))
	}
	for i, r := range res.Selected {
		if r.ChunkIndex != i {
			t.Errorf("Selected[%d].ChunkIndex = %d, want %d", i, r.ChunkIndex, i)
		}
	}
	if res.SourcesUsed[0].Chunks != 2 {
		t.Errorf("SourcesUsed[0].Chunks = %d, want 2", res.SourcesUsed[0].Chunks)
	}
}

func TestRetrieveAndOptimizePriorityWeighting(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithScorer(constantScorer(0.8)))
	sources := []KnowledgeSource{
		{ID: "a-low", Name: "Low", Content: "one two three", Priority: 1},
		{ID: "b-high", Name: "High", Content: "four five six", Priority: 2},
	}

	// room for one entry of four words
	res, err := e.RetrieveAndOptimize(context.Background(), "numbers", sources, plainOptions(4))
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}
	if len(res.Selected) != 1 || res.Selected[0].SourceID != "b-high" {
		t.Errorf("selected = %+v, want b-high", res.Selected)
	}
}

func TestRetrieveAndOptimizeDiversity(t *testing.T) {
	t.Parallel()

	sources := []KnowledgeSource{
		{ID: "a", Name: "A", Content: "Refunds are issued within 14 days of purchase.", Priority: 1},
		{ID: "b", Name: "B", Content: "Refunds are issued within 14 days of purchase.", Priority: 1},
		{ID: "c", Name: "C", Content: "Shipping takes two business days worldwide.", Priority: 1},
	}
	scorer := scoreByText(map[string]float64{"Refunds": 0.9, "Shipping": 0.7}, 0)

	tests := []struct {
		name      string
		diversity bool
		want      []string
	}{
		{name: "enabled drops duplicate", diversity: true, want: []string{"a", "c"}},
		{name: "disabled keeps duplicate", diversity: false, want: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEngine(t, WithScorer(scorer))
			opts := plainOptions(1000)
			opts.EnableDiversityFiltering = tt.diversity

			res, err := e.RetrieveAndOptimize(context.Background(), "refunds", sources, opts)
			if err != nil {
				t.Fatalf("RetrieveAndOptimize() error = %v", err)
			}
			var got []string
			for _, r := range res.Selected {
				got = append(got, r.SourceID)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("selected = %v, want %v", got, tt.want)
			}
			if tt.diversity {
				if n := duplicatePairs(res.Selected, opts.DuplicateThreshold, HybridSimilarity); n != 0 {
					t.Errorf("duplicate pairs = %d, want 0", n)
				}
			}
		})
	}
}

func TestRetrieveAndOptimizeDeterministic(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	sources := []KnowledgeSource{
		{ID: "x", Name: "X", Content: "Goroutines are cheap. Channels pass values between goroutines.", Priority: 1, CredibilityScore: 0.8},
		{ID: "y", Name: "Y", Content: "Channels can be buffered or unbuffered.", Priority: 1, CredibilityScore: 0.6},
		{ID: "z", Name: "Z", Content: "Select waits on multiple channel operations.", Priority: 1, CredibilityScore: 0.7},
	}
	opts := DefaultOptions()
	opts.MinRelevanceScore = 0.1

	first, err := e.RetrieveAndOptimize(context.Background(), "goroutine channels", sources, opts)
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}
	for range 5 {
		again, err := e.RetrieveAndOptimize(context.Background(), "goroutine channels", sources, opts)
		if err != nil {
			t.Fatalf("RetrieveAndOptimize() error = %v", err)
		}
		if !reflect.DeepEqual(first.Selected, again.Selected) || first.Context != again.Context || first.Quality != again.Quality {
			t.Fatalf("results differ between identical calls")
		}
	}
}

func TestRetrieveAndOptimizeConversationSummary(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithScorer(constantScorer(0.9)))
	opts := plainOptions(100)
	opts.IncludeConversationHistory = true
	opts.History = []ConversationTurn{
		{Role: "user", Content: "My order arrived broken. It was a lamp."},
		{Role: "assistant", Content: "Sorry to hear that. Do you have a photo?"},
		{Role: "user", Content: "Yes, I can send it."},
	}
	sources := []KnowledgeSource{{ID: "returns", Name: "Returns", Content: "Damaged items are replaced free of charge.", Priority: 1}}

	res, err := e.RetrieveAndOptimize(context.Background(), "can I get a replacement", sources, opts)
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}

	want := "user: My order arrived broken.\nassistant: Sorry to hear that.\nuser: Yes, I can send it."
	if res.Context.ConversationSummary != want {
		t.Errorf("ConversationSummary = %q, want %q", res.Context.ConversationSummary, want)
	}
	if res.Quality.CoherenceScore != 1 {
		t.Errorf("CoherenceScore = %v, want 1", res.Quality.CoherenceScore)
	}
	if res.Context.OptimizedTokenCount > opts.MaxTokens {
		t.Errorf("OptimizedTokenCount = %d exceeds %d", res.Context.OptimizedTokenCount, opts.MaxTokens)
	}
}

func TestRetrieveAndOptimizeBudgetTooSmall(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, WithScorer(constantScorer(0.9)))
	sources := []KnowledgeSource{{ID: "a", Name: "A", Content: "one two three four five six seven eight nine ten", Priority: 1}}

	res, err := e.RetrieveAndOptimize(context.Background(), "numbers", sources, plainOptions(5))
	if err != nil {
		t.Fatalf("RetrieveAndOptimize() error = %v", err)
	}
	if !res.Empty() {
		t.Fatalf("Empty() = false, want true")
	}
	if res.Context.CompressionRatio != 1 {
		t.Errorf("CompressionRatio = %v, want 1", res.Context.CompressionRatio)
	}
	if len(res.Recommendations) != 2 || !strings.Contains(res.Recommendations[0], "needs 11 tokens") {
		t.Errorf("Recommendations = %v, want budget advice first", res.Recommendations)
	}
}

func TestRetrieveAndOptimizeScoringFallback(t *testing.T) {
	t.Parallel()

	failing := ScorerFunc(func(context.Context, string, []string) ([]float64, error) {
		return nil, errors.New("embedding service unavailable")
	})
	sources := []KnowledgeSource{{ID: "a", Name: "A", Content: "refund policy refunds are issued in 14 days", Priority: 1}}

	t.Run("falls back to lexical", func(t *testing.T) {
		t.Parallel()

		metrics := observability.NewInMemoryMetricsProvider()
		e := newTestEngine(t, WithScorer(failing), WithMetrics(metrics))
		opts := plainOptions(1000)
		opts.MinRelevanceScore = 0.3

		res, err := e.RetrieveAndOptimize(context.Background(), "refund policy", sources, opts)
		if err != nil {
			t.Fatalf("RetrieveAndOptimize() error = %v", err)
		}
		if !res.Stats.DegradedScoring {
			t.Errorf("DegradedScoring = false, want true")
		}
		if len(res.Recommendations) == 0 || res.Recommendations[0] != RecDegradedScoring {
			t.Errorf("Recommendations = %v, want %q first", res.Recommendations, RecDegradedScoring)
		}
		if len(res.Selected) != 1 {
			t.Errorf("selected %d results, want 1", len(res.Selected))
		}
		if got := metrics.SumCounter(observability.MetricScoringFallbacks); got != 1 {
			t.Errorf("fallback counter = %d, want 1", got)
		}
	})

	t.Run("fails without fallback", func(t *testing.T) {
		t.Parallel()

		cfg := DefaultConfig()
		cfg.LexicalFallback = false
		e, err := NewEngine(cfg, WithScorer(failing))
		if err != nil {
			t.Fatalf("NewEngine() error = %v", err)
		}
		_, err = e.RetrieveAndOptimize(context.Background(), "refund policy", sources, plainOptions(1000))
		if !smartchat.IsKind(err, smartchat.KindBackend) {
			t.Errorf("error = %v, want kind %s", err, smartchat.KindBackend)
		}
	})
}

func TestRetrieveAndOptimizeErrors(t *testing.T) {
	t.Parallel()

	sources := []KnowledgeSource{{ID: "a", Name: "A", Content: "content", Priority: 1}}
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name  string
		ctx   context.Context
		query string
		opts  Options
		check func(error) bool
	}{
		{
			name:  "empty query",
			ctx:   context.Background(),
			query: "  ",
			opts:  DefaultOptions(),
			check: func(err error) bool { return smartchat.IsKind(err, smartchat.KindValidation) },
		},
		{
			name:  "negative budget",
			ctx:   context.Background(),
			query: "q",
			opts:  Options{MaxTokens: -1},
			check: func(err error) bool { return smartchat.IsKind(err, smartchat.KindValidation) },
		},
		{
			name:  "unknown strategy",
			ctx:   context.Background(),
			query: "q",
			opts:  func() Options { o := DefaultOptions(); o.ChunkingStrategy = "paragraphs"; return o }(),
			check: func(err error) bool { return smartchat.IsKind(err, smartchat.KindValidation) },
		},
		{
			name:  "cancelled",
			ctx:   cancelled,
			query: "q",
			opts:  DefaultOptions(),
			check: func(err error) bool { return errors.Is(err, context.Canceled) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			e := newTestEngine(t, WithScorer(constantScorer(0.9)))
			_, err := e.RetrieveAndOptimize(tt.ctx, tt.query, sources, tt.opts)
			if err == nil || !tt.check(err) {
				t.Errorf("error = %v, unexpected", err)
			}
		})
	}
}

func TestEngineHealthChecks(t *testing.T) {
	t.Parallel()

	lexical := newTestEngine(t)
	if n := len(lexical.HealthChecks()); n != 0 {
		t.Errorf("lexical engine has %d health checks, want 0", n)
	}

	scorer, err := NewEmbeddingScorer(&fakeEmbedder{}, 16)
	if err != nil {
		t.Fatalf("NewEmbeddingScorer() error = %v", err)
	}
	e := newTestEngine(t, WithScorer(scorer))
	checks := e.HealthChecks()
	if len(checks) != 1 || checks[0].Name() != "embedding-backend" {
		t.Fatalf("HealthChecks() = %v, want embedding-backend", checks)
	}
	if err := checks[0].Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v", err)
	}
}

func TestNewEngineRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.QualityWeights.Relevance = 0.9
	if _, err := NewEngine(cfg); !smartchat.IsKind(err, smartchat.KindConfig) {
		t.Errorf("NewEngine() error = %v, want kind %s", err, smartchat.KindConfig)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
