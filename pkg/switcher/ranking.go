package switcher

import (
	"math"
	"sort"
)

// Weights combine the four normalized ranking factors.
type Weights struct {
	Cost    float64 `yaml:"cost" json:"cost"`
	Speed   float64 `yaml:"speed" json:"speed"`
	Quality float64 `yaml:"quality" json:"quality"`
	Fit     float64 `yaml:"fit" json:"fit"`
}

// DefaultWeights returns the factor weights for each priority.
func DefaultWeights() map[Priority]Weights {
	return map[Priority]Weights{
		PriorityCost:     {Cost: 0.55, Speed: 0.15, Quality: 0.15, Fit: 0.15},
		PrioritySpeed:    {Cost: 0.15, Speed: 0.55, Quality: 0.15, Fit: 0.15},
		PriorityQuality:  {Cost: 0.1, Speed: 0.1, Quality: 0.45, Fit: 0.35},
		PriorityBalanced: {Cost: 0.25, Speed: 0.25, Quality: 0.25, Fit: 0.25},
	}
}

// CostModel estimates what a message will cost on a profile.
type CostModel struct {
	// ExpectedOutputTokens for simple and medium messages.
	ExpectedOutputTokens int `yaml:"expected_output_tokens" json:"expectedOutputTokens"`
	// MaxOutputTokens caps the estimate for complex and expert messages,
	// which expect three times the prompt.
	MaxOutputTokens int `yaml:"max_output_tokens" json:"maxOutputTokens"`
}

// OutputTokens returns the expected completion size.
func (m CostModel) OutputTokens(promptTokens int, c Complexity) int {
	if c.Tier() >= ComplexityComplex.Tier() {
		return max(m.ExpectedOutputTokens, min(3*promptTokens, m.MaxOutputTokens))
	}
	return m.ExpectedOutputTokens
}

// Estimate returns the expected cost in USD.
func (m CostModel) Estimate(p ProviderProfile, promptTokens int, c Complexity) float64 {
	return price(p, promptTokens+m.OutputTokens(promptTokens, c))
}

func price(p ProviderProfile, tokens int) float64 {
	return float64(tokens) / 1000 * p.CostPer1kTokens
}

// candidate is a profile that passed filtering.
type candidate struct {
	profile       ProviderProfile
	estimatedCost float64
	quality       float64
	score         float64
}

// complexityFit is 1 when the model tier matches the message. Overpowered
// models lose a little per tier, underpowered models lose a lot.
func complexityFit(model, message Complexity) float64 {
	d := model.Tier() - message.Tier()
	if d >= 0 {
		return math.Max(0, 1-0.1*float64(d))
	}
	return math.Max(0, 1+0.4*float64(d))
}

// rank scores and orders candidates in place, best first. Ties are broken
// by provider, then model, ascending.
func rank(cands []candidate, w Weights, complexity Complexity) {
	if len(cands) == 0 {
		return
	}
	minCost, maxCost := cands[0].estimatedCost, cands[0].estimatedCost
	minLat, maxLat := cands[0].profile.ResponseTimeEstimateMs, cands[0].profile.ResponseTimeEstimateMs
	for _, c := range cands[1:] {
		minCost = math.Min(minCost, c.estimatedCost)
		maxCost = math.Max(maxCost, c.estimatedCost)
		minLat = min(minLat, c.profile.ResponseTimeEstimateMs)
		maxLat = max(maxLat, c.profile.ResponseTimeEstimateMs)
	}

	for i := range cands {
		c := &cands[i]
		costScore := inverseNorm(c.estimatedCost, minCost, maxCost)
		speedScore := inverseNorm(float64(c.profile.ResponseTimeEstimateMs), float64(minLat), float64(maxLat))
		fit := complexityFit(c.profile.Tier, complexity)
		c.score = w.Cost*costScore + w.Speed*speedScore + w.Quality*c.quality + w.Fit*fit
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.profile.Provider != b.profile.Provider {
			return a.profile.Provider < b.profile.Provider
		}
		return a.profile.Model < b.profile.Model
	})
}

// inverseNorm maps v in [lo, hi] to [1, 0]. Equal bounds map to 1.
func inverseNorm(v, lo, hi float64) float64 {
	if hi <= lo {
		return 1
	}
	return (hi - v) / (hi - lo)
}

// confidence maps the winner's margin over the runner-up into [0.5, 1). A
// sole candidate's margin is its own score.
func confidence(cands []candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	margin := cands[0].score
	if len(cands) > 1 {
		margin = cands[0].score - cands[1].score
	}
	margin = math.Max(0, margin)
	return 0.5 + 0.5*margin/(margin+0.1)
}
