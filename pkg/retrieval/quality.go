package retrieval

import (
	"fmt"
	"math"
)

// QualityWeights combine the four quality scores into the overall score.
type QualityWeights struct {
	Relevance   float64 `yaml:"relevance" json:"relevance"`
	Diversity   float64 `yaml:"diversity" json:"diversity"`
	Credibility float64 `yaml:"credibility" json:"credibility"`
	Coherence   float64 `yaml:"coherence" json:"coherence"`
}

// DefaultQualityWeights favors relevance, then credibility.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{Relevance: 0.4, Diversity: 0.2, Credibility: 0.25, Coherence: 0.15}
}

// Validate requires non-negative weights summing to 1.
func (w QualityWeights) Validate() error {
	for name, v := range map[string]float64{
		"relevance": w.Relevance, "diversity": w.Diversity,
		"credibility": w.Credibility, "coherence": w.Coherence,
	} {
		if v < 0 || math.IsNaN(v) {
			return fmt.Errorf("quality weight %s must be non-negative, got %v", name, v)
		}
	}
	if sum := w.Relevance + w.Diversity + w.Credibility + w.Coherence; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("quality weights must sum to 1, got %v", sum)
	}
	return nil
}

type qualityInput struct {
	selected       []SearchResult
	includeHistory bool
	historyTurns   int // turns eligible for the summary
	summary        Summary
}

// assessQuality grades the selected results. An empty selection scores 0
// everywhere.
func assessQuality(in qualityInput, w QualityWeights, sim Similarity) QualityAssessment {
	if len(in.selected) == 0 {
		return QualityAssessment{}
	}

	var relevanceSum, credWeighted, credWeight float64
	for _, r := range in.selected {
		relevanceSum += r.RelevanceScore
		credWeighted += clampUnit(r.Credibility) * r.RelevanceScore
		credWeight += r.RelevanceScore
	}

	q := QualityAssessment{
		RelevanceScore: clampUnit(relevanceSum / float64(len(in.selected))),
		DiversityScore: diversityScore(in.selected, sim),
		CoherenceScore: coherenceScore(in),
	}
	if credWeight > 0 {
		q.CredibilityScore = clampUnit(credWeighted / credWeight)
	}
	q.OverallScore = clampUnit(w.Relevance*q.RelevanceScore +
		w.Diversity*q.DiversityScore +
		w.Credibility*q.CredibilityScore +
		w.Coherence*q.CoherenceScore)
	return q
}

// diversityScore is 1 minus the mean pairwise similarity.
func diversityScore(results []SearchResult, sim Similarity) float64 {
	if len(results) < 2 {
		return 1
	}
	var total float64
	pairs := 0
	for i := range results {
		for j := i + 1; j < len(results); j++ {
			total += sim(results[i].Content, results[j].Content)
			pairs++
		}
	}
	return clampUnit(1 - total/float64(pairs))
}

// coherenceScore is the share of eligible history turns the summary covers.
// Without history to follow there is nothing to break, so the score is 1.
func coherenceScore(in qualityInput) float64 {
	if !in.includeHistory || in.historyTurns == 0 {
		return 1
	}
	return clampUnit(float64(in.summary.TurnsCovered) / float64(in.historyTurns))
}
