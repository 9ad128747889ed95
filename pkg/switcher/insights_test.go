package switcher

import (
	"strings"
	"testing"
	"time"
)

func insightEntries() []HistoryEntry {
	var out []HistoryEntry
	add := func(provider, model string, n int, success bool, latency time.Duration, cost, quality float64) {
		for range n {
			out = append(out, HistoryEntry{
				Provider: provider, Model: model, Success: success,
				ResponseTime: latency, Cost: cost, QualityScore: quality,
			})
		}
	}
	add("a", "fast", 10, true, 100*time.Millisecond, 0.001, 0.8)
	add("b", "slow", 10, true, 300*time.Millisecond, 0.001, 0.7)
	add("c", "pricey", 10, true, 100*time.Millisecond, 0.01, 0.7)
	add("d", "flaky", 5, true, 100*time.Millisecond, 0.001, 0.75)
	add("d", "flaky", 5, false, 100*time.Millisecond, 0, 0)
	return out
}

func TestBuildInsights(t *testing.T) {
	t.Parallel()

	ins := buildInsights(insightEntries(), 7, DefaultInsightRules())

	if ins.TotalRequests != 40 || ins.WindowDays != 7 {
		t.Errorf("totals = %d requests, %d days", ins.TotalRequests, ins.WindowDays)
	}
	if ins.SuccessRate != 35.0/40 {
		t.Errorf("SuccessRate = %v, want 0.875", ins.SuccessRate)
	}
	if len(ins.Models) != 4 || ins.Models[0].Provider != "a" || ins.Models[3].Provider != "d" {
		t.Fatalf("Models = %+v", ins.Models)
	}
	flaky := ins.Models[3]
	if flaky.SuccessRate != 0.5 || flaky.AvgLatency != 100*time.Millisecond {
		t.Errorf("flaky stats = %+v", flaky)
	}

	wants := []string{
		"d/flaky succeeds on only 50%",
		"b/slow has",
		"c/pricey costs",
		"a/fast offers the best quality per cost",
	}
	if len(ins.Recommendations) != len(wants) {
		t.Fatalf("Recommendations = %q", ins.Recommendations)
	}
	for _, want := range wants {
		found := false
		for _, r := range ins.Recommendations {
			if strings.HasPrefix(r, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("missing recommendation %q in %q", want, ins.Recommendations)
		}
	}
}

func TestBuildInsightsEmptyAndSparse(t *testing.T) {
	t.Parallel()

	empty := buildInsights(nil, 30, DefaultInsightRules())
	if empty.TotalRequests != 0 || empty.Models == nil || len(empty.Recommendations) != 0 {
		t.Errorf("empty insights = %+v", empty)
	}

	sparse := buildInsights(insightEntries()[:3], 30, DefaultInsightRules())
	if len(sparse.Recommendations) != 0 {
		t.Errorf("models below MinRequests were judged: %q", sparse.Recommendations)
	}
}
