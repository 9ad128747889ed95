package retrieval

import (
	"math"
	"strings"
	"testing"
)

func TestAssessQuality(t *testing.T) {
	t.Parallel()

	w := DefaultQualityWeights()
	constSim := func(v float64) Similarity {
		return func(string, string) float64 { return v }
	}

	tests := []struct {
		name string
		in   qualityInput
		sim  Similarity
		want QualityAssessment
	}{
		{
			name: "empty selection",
			in:   qualityInput{},
			sim:  constSim(0),
			want: QualityAssessment{},
		},
		{
			name: "single result without history",
			in: qualityInput{selected: []SearchResult{
				{Content: "x", RelevanceScore: 0.8, Credibility: 0.5},
			}},
			sim: constSim(0),
			want: QualityAssessment{
				RelevanceScore:   0.8,
				DiversityScore:   1,
				CredibilityScore: 0.5,
				CoherenceScore:   1,
				OverallScore:     0.4*0.8 + 0.2 + 0.25*0.5 + 0.15,
			},
		},
		{
			name: "credibility weighted by relevance with partial history",
			in: qualityInput{
				selected: []SearchResult{
					{Content: "x", RelevanceScore: 0.9, Credibility: 1},
					{Content: "y", RelevanceScore: 0.3, Credibility: 0},
				},
				includeHistory: true,
				historyTurns:   4,
				summary:        Summary{TurnsCovered: 2},
			},
			sim: constSim(0.5),
			want: QualityAssessment{
				RelevanceScore:   0.6,
				DiversityScore:   0.5,
				CredibilityScore: 0.75,
				CoherenceScore:   0.5,
				OverallScore:     0.4*0.6 + 0.2*0.5 + 0.25*0.75 + 0.15*0.5,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := assessQuality(tt.in, w, tt.sim)
			for name, pair := range map[string][2]float64{
				"relevance":   {got.RelevanceScore, tt.want.RelevanceScore},
				"diversity":   {got.DiversityScore, tt.want.DiversityScore},
				"credibility": {got.CredibilityScore, tt.want.CredibilityScore},
				"coherence":   {got.CoherenceScore, tt.want.CoherenceScore},
				"overall":     {got.OverallScore, tt.want.OverallScore},
			} {
				if math.Abs(pair[0]-pair[1]) > 1e-9 {
					t.Errorf("%s = %v, want %v", name, pair[0], pair[1])
				}
			}
		})
	}
}

func TestQualityWeightsValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultQualityWeights().Validate(); err != nil {
		t.Errorf("default weights invalid: %v", err)
	}
	bad := QualityWeights{Relevance: 1.2, Diversity: -0.2}
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "non-negative") {
		t.Errorf("Validate() error = %v, want non-negative error", err)
	}
	if err := (QualityWeights{Relevance: 0.5}).Validate(); err == nil {
		t.Errorf("Validate() error = nil, want sum error")
	}
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Options)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Options) {}, ok: true},
		{name: "zero relevance floor", mutate: func(o *Options) { o.MinRelevanceScore = 0 }, ok: true},
		{name: "pure diversity", mutate: func(o *Options) { o.DiversityLambda = 0 }, ok: true},
		{name: "no history budget", mutate: func(o *Options) { o.HistoryBudgetRatio = 0 }, ok: true},
		{name: "zero budget", mutate: func(o *Options) { o.MaxTokens = 0 }},
		{name: "relevance above one", mutate: func(o *Options) { o.MinRelevanceScore = 1.5 }},
		{name: "no results per source", mutate: func(o *Options) { o.MaxResultsPerSource = 0 }},
		{name: "history ratio one", mutate: func(o *Options) { o.HistoryBudgetRatio = 1 }},
		{name: "unknown strategy", mutate: func(o *Options) { o.ChunkingStrategy = "sliding" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := DefaultOptions()
			tt.mutate(&opts)
			if err := opts.Validate(); (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestExtractiveSummarizer(t *testing.T) {
	t.Parallel()

	s := &ExtractiveSummarizer{Tokenizer: WordTokenizer{Ratio: 1}, MaxWordsPerTurn: 3}
	turns := []ConversationTurn{
		{Role: "user", Content: "First question about billing. More detail."},
		{Content: "   "},
		{Role: "assistant", Content: "Answer here."},
	}

	tests := []struct {
		name   string
		budget int
		want   Summary
	}{
		{name: "zero budget", budget: 0, want: Summary{}},
		{name: "newest fits only", budget: 4, want: Summary{Text: "assistant: Answer here.", TurnsCovered: 1}},
		{
			name:   "all fit in order",
			budget: 20,
			want:   Summary{Text: "user: First question about ...\nassistant: Answer here.", TurnsCovered: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := s.Summarize(t.Context(), turns, tt.budget)
			if err != nil {
				t.Fatalf("Summarize() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Summarize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
