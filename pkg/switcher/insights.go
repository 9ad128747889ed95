package switcher

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// ModelStats aggregates history for one provider/model.
type ModelStats struct {
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Requests     int           `json:"requests"`
	Successes    int           `json:"successes"`
	SuccessRate  float64       `json:"successRate"`
	AvgCost      float64       `json:"avgCost"`
	AvgLatency   time.Duration `json:"avgLatency"`
	AvgQuality   float64       `json:"avgQuality"`
	TotalCost    float64       `json:"totalCost"`
	FallbackRate float64       `json:"fallbackRate"`
}

// Insights summarizes a history window.
type Insights struct {
	WindowDays      int          `json:"windowDays"`
	TotalRequests   int          `json:"totalRequests"`
	TotalCost       float64      `json:"totalCost"`
	SuccessRate     float64      `json:"successRate"`
	Models          []ModelStats `json:"models"`
	Recommendations []string     `json:"recommendations"`
}

// InsightRules are the thresholds behind the recommendations.
type InsightRules struct {
	// SlowerRatio and PricierRatio flag a model this much above the fleet
	// average (0.2 = 20%).
	SlowerRatio  float64 `yaml:"slower_ratio" json:"slowerRatio"`
	PricierRatio float64 `yaml:"pricier_ratio" json:"pricierRatio"`
	// MinSuccessRate below which a model is flagged for investigation.
	MinSuccessRate float64 `yaml:"min_success_rate" json:"minSuccessRate"`
	// MinRequests a model needs before it is judged.
	MinRequests int `yaml:"min_requests" json:"minRequests"`
}

// DefaultInsightRules flags 20% regressions and success below 90%.
func DefaultInsightRules() InsightRules {
	return InsightRules{SlowerRatio: 0.2, PricierRatio: 0.2, MinSuccessRate: 0.9, MinRequests: 5}
}

// buildInsights aggregates entries. Averages of cost, latency and quality
// cover successful calls only.
func buildInsights(entries []HistoryEntry, days int, rules InsightRules) Insights {
	ins := Insights{WindowDays: days, TotalRequests: len(entries), Recommendations: []string{}}
	if len(entries) == 0 {
		ins.Models = []ModelStats{}
		return ins
	}

	type acc struct {
		stats     ModelStats
		latency   time.Duration
		quality   float64
		fallbacks int
	}
	byKey := make(map[string]*acc)
	successes := 0
	for _, e := range entries {
		a, ok := byKey[e.Key()]
		if !ok {
			a = &acc{stats: ModelStats{Provider: e.Provider, Model: e.Model}}
			byKey[e.Key()] = a
		}
		a.stats.Requests++
		a.stats.TotalCost += e.Cost
		ins.TotalCost += e.Cost
		if e.FallbackUsed {
			a.fallbacks++
		}
		if !e.Success {
			continue
		}
		successes++
		a.stats.Successes++
		a.latency += e.ResponseTime
		a.quality += e.QualityScore
	}
	ins.SuccessRate = float64(successes) / float64(len(entries))

	for _, a := range byKey {
		s := a.stats
		s.SuccessRate = float64(s.Successes) / float64(s.Requests)
		s.FallbackRate = float64(a.fallbacks) / float64(s.Requests)
		if s.Successes > 0 {
			s.AvgCost = s.TotalCost / float64(s.Successes)
			s.AvgLatency = a.latency / time.Duration(s.Successes)
			s.AvgQuality = a.quality / float64(s.Successes)
		}
		ins.Models = append(ins.Models, s)
	}
	sort.Slice(ins.Models, func(i, j int) bool {
		a, b := ins.Models[i], ins.Models[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		return a.Model < b.Model
	})

	ins.Recommendations = recommendModels(ins.Models, rules)
	return ins
}

// recommendModels compares each judged model against the fleet average of
// the other judged models.
func recommendModels(models []ModelStats, rules InsightRules) []string {
	recs := []string{}
	var judged []ModelStats
	for _, m := range models {
		if m.Requests >= rules.MinRequests {
			judged = append(judged, m)
		}
	}

	for _, m := range judged {
		name := m.Provider + "/" + m.Model
		if m.SuccessRate < rules.MinSuccessRate {
			recs = append(recs, fmt.Sprintf("%s succeeds on only %.0f%% of requests: investigate errors or lower its priority",
				name, m.SuccessRate*100))
		}
	}

	var withSuccess []ModelStats
	for _, m := range judged {
		if m.Successes > 0 {
			withSuccess = append(withSuccess, m)
		}
	}
	if len(withSuccess) < 2 {
		return recs
	}

	var sumLat time.Duration
	var sumCost, sumQuality float64
	for _, m := range withSuccess {
		sumLat += m.AvgLatency
		sumCost += m.AvgCost
		sumQuality += m.AvgQuality
	}
	n := float64(len(withSuccess))
	avgLat := float64(sumLat) / n
	avgCost := sumCost / n
	avgQuality := sumQuality / n

	for _, m := range withSuccess {
		name := m.Provider + "/" + m.Model
		noQualityGain := m.AvgQuality <= avgQuality
		if avgLat > 0 && float64(m.AvgLatency) >= avgLat*(1+rules.SlowerRatio) && noQualityGain {
			recs = append(recs, fmt.Sprintf("%s has %.0f%% higher latency with no quality gain: consider demoting",
				name, (float64(m.AvgLatency)/avgLat-1)*100))
		}
		if avgCost > 0 && m.AvgCost >= avgCost*(1+rules.PricierRatio) && noQualityGain {
			recs = append(recs, fmt.Sprintf("%s costs %.0f%% more with no quality gain: consider demoting",
				name, (m.AvgCost/avgCost-1)*100))
		}
	}

	best, bestRatio := "", -1.0
	for _, m := range withSuccess {
		ratio := m.AvgQuality / math.Max(m.AvgCost, 1e-6)
		if ratio > bestRatio {
			best, bestRatio = m.Provider+"/"+m.Model, ratio
		}
	}
	recs = append(recs, fmt.Sprintf("%s offers the best quality per cost: consider promoting it for balanced traffic", best))
	return recs
}
