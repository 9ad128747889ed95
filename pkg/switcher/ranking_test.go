package switcher

import (
	"math"
	"testing"
)

func TestCostModel(t *testing.T) {
	t.Parallel()

	m := CostModel{ExpectedOutputTokens: 512, MaxOutputTokens: 2048}
	tests := []struct {
		name   string
		prompt int
		c      Complexity
		want   int
	}{
		{"simple uses expected", 100, ComplexitySimple, 512},
		{"medium uses expected", 5000, ComplexityMedium, 512},
		{"complex scales with prompt", 400, ComplexityComplex, 1200},
		{"complex never below expected", 10, ComplexityComplex, 512},
		{"expert capped", 1000, ComplexityExpert, 2048},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := m.OutputTokens(tt.prompt, tt.c); got != tt.want {
				t.Errorf("OutputTokens(%d, %s) = %d, want %d", tt.prompt, tt.c, got, tt.want)
			}
		})
	}

	p := ProviderProfile{CostPer1kTokens: 2}
	if got := m.Estimate(p, 488, ComplexitySimple); math.Abs(got-2.0) > 1e-9 {
		t.Errorf("Estimate() = %v, want 2.0", got)
	}
}

func TestComplexityFit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model, message Complexity
		want           float64
	}{
		{ComplexityMedium, ComplexityMedium, 1},
		{ComplexityExpert, ComplexitySimple, 0.7},
		{ComplexitySimple, ComplexityMedium, 0.6},
		{ComplexitySimple, ComplexityExpert, 0},
	}
	for _, tt := range tests {
		if got := complexityFit(tt.model, tt.message); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("complexityFit(%s, %s) = %v, want %v", tt.model, tt.message, got, tt.want)
		}
	}
}

func rankCandidates() []candidate {
	return []candidate{
		{profile: ProviderProfile{Provider: "pricey", Model: "fast", ResponseTimeEstimateMs: 100, Tier: ComplexityMedium}, estimatedCost: 1.0, quality: 0.7},
		{profile: ProviderProfile{Provider: "cheap", Model: "slow", ResponseTimeEstimateMs: 2000, Tier: ComplexityMedium}, estimatedCost: 0.01, quality: 0.7},
	}
}

func TestRankByPriority(t *testing.T) {
	t.Parallel()

	weights := DefaultWeights()
	tests := []struct {
		priority Priority
		want     string
	}{
		{PriorityCost, "cheap/slow"},
		{PrioritySpeed, "pricey/fast"},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			t.Parallel()

			cands := rankCandidates()
			rank(cands, weights[tt.priority], ComplexityMedium)
			if got := cands[0].profile.Key(); got != tt.want {
				t.Errorf("top = %s, want %s", got, tt.want)
			}
			if cands[0].score < cands[1].score {
				t.Error("candidates not sorted by score")
			}
		})
	}
}

func TestRankQualityAndFit(t *testing.T) {
	t.Parallel()

	cands := []candidate{
		{profile: ProviderProfile{Provider: "a", Model: "small", Tier: ComplexitySimple}, estimatedCost: 0.1, quality: 0.5},
		{profile: ProviderProfile{Provider: "b", Model: "large", Tier: ComplexityExpert}, estimatedCost: 0.1, quality: 0.9},
	}
	rank(cands, DefaultWeights()[PriorityQuality], ComplexityExpert)
	if cands[0].profile.Key() != "b/large" {
		t.Errorf("quality priority picked %s for an expert message", cands[0].profile.Key())
	}
}

func TestRankTieBreak(t *testing.T) {
	t.Parallel()

	cands := []candidate{
		{profile: ProviderProfile{Provider: "zeta", Model: "m"}, estimatedCost: 0.1, quality: 0.7},
		{profile: ProviderProfile{Provider: "alpha", Model: "z"}, estimatedCost: 0.1, quality: 0.7},
		{profile: ProviderProfile{Provider: "alpha", Model: "a"}, estimatedCost: 0.1, quality: 0.7},
	}
	rank(cands, DefaultWeights()[PriorityBalanced], ComplexityMedium)

	want := []string{"alpha/a", "alpha/z", "zeta/m"}
	for i, c := range cands {
		if c.profile.Key() != want[i] {
			t.Errorf("position %d = %s, want %s", i, c.profile.Key(), want[i])
		}
	}
	if got := confidence(cands); got != 0.5 {
		t.Errorf("confidence() of a tie = %v, want 0.5", got)
	}
}

func TestConfidence(t *testing.T) {
	t.Parallel()

	if got := confidence(nil); got != 0 {
		t.Errorf("confidence(nil) = %v", got)
	}
	sole := []candidate{{score: 0.9}}
	if got := confidence(sole); got <= 0.9 || got >= 1 {
		t.Errorf("confidence(sole) = %v, want within (0.9, 1)", got)
	}
	wide := []candidate{{score: 0.9}, {score: 0.4}}
	narrow := []candidate{{score: 0.9}, {score: 0.85}}
	if confidence(wide) <= confidence(narrow) {
		t.Error("a larger margin did not raise confidence")
	}
	if got := inverseNorm(3, 3, 3); got != 1 {
		t.Errorf("inverseNorm with equal bounds = %v, want 1", got)
	}
}
