package retrieval

import "fmt"

// Recommendation texts. RecNoRelevantContext is stable so callers can match it.
const (
	RecNoRelevantContext = "no relevant context found: answer without retrieved context or add knowledge sources covering this topic"
	RecDegradedScoring   = "embedding backend unavailable: relevance was computed with lexical scoring"
)

// RecommendationThresholds control when advisory messages are emitted.
type RecommendationThresholds struct {
	LowCompression float64 `yaml:"low_compression" json:"lowCompression"`
	LowRelevance   float64 `yaml:"low_relevance" json:"lowRelevance"`
	LowDiversity   float64 `yaml:"low_diversity" json:"lowDiversity"`
	LowCredibility float64 `yaml:"low_credibility" json:"lowCredibility"`
	LowCoherence   float64 `yaml:"low_coherence" json:"lowCoherence"`
}

// DefaultRecommendationThresholds returns the stock thresholds.
func DefaultRecommendationThresholds() RecommendationThresholds {
	return RecommendationThresholds{
		LowCompression: 0.5,
		LowRelevance:   0.7,
		LowDiversity:   0.4,
		LowCredibility: 0.5,
		LowCoherence:   0.5,
	}
}

type recommendInput struct {
	opts         Options
	historyTurns int
	// firstTokens is the size of the best candidate when none fit the budget.
	firstTokens int
	docBudget   int
}

func recommend(res *Result, in recommendInput, t RecommendationThresholds) []string {
	var recs []string
	if res.Stats.DegradedScoring {
		recs = append(recs, RecDegradedScoring)
	}
	if res.Empty() {
		if in.firstTokens > 0 {
			recs = append(recs, fmt.Sprintf(
				"best matching chunk needs %d tokens but only %d are available: raise maxTokens or use a smaller chunkSize",
				in.firstTokens, in.docBudget))
		}
		return append(recs, RecNoRelevantContext)
	}

	q := res.Quality
	if res.Context.CompressionRatio < t.LowCompression {
		dropped := res.Stats.AfterDiversity - res.Stats.Selected
		recs = append(recs, fmt.Sprintf(
			"only %.0f%% of relevant context fit in %d tokens (%d chunks dropped): raise maxTokens or narrow the query",
			res.Context.CompressionRatio*100, in.opts.MaxTokens, dropped))
	}
	if q.RelevanceScore < t.LowRelevance {
		recs = append(recs, fmt.Sprintf(
			"mean relevance %.2f is weak: the knowledge base may not cover this query well", q.RelevanceScore))
	}
	if len(res.Selected) > 1 && q.DiversityScore < t.LowDiversity {
		recs = append(recs, "selected chunks overlap heavily: enable diversity filtering or deduplicate sources")
	}
	if q.CredibilityScore < t.LowCredibility {
		recs = append(recs, fmt.Sprintf(
			"source credibility %.2f is low: prefer verified documents for this topic", q.CredibilityScore))
	}
	if in.opts.IncludeConversationHistory && in.historyTurns > 0 && q.CoherenceScore < t.LowCoherence {
		recs = append(recs, "conversation summary covers few recent turns: raise historyBudgetRatio for better continuity")
	}
	return recs
}
