package retrieval

// selectDiverse runs a Maximal Marginal Relevance pass over results, which
// must already be in rank order. A candidate whose similarity to an already
// selected result exceeds dupThreshold is dropped outright; the rest are
// picked greedily by lambda*relevance - (1-lambda)*maxSimilarity. Ties keep
// the earlier candidate, so the pass is deterministic.
func selectDiverse(results []SearchResult, lambda, dupThreshold float64, sim Similarity) []SearchResult {
	if len(results) <= 1 {
		return results
	}

	selected := []SearchResult{results[0]}
	remaining := make([]SearchResult, len(results)-1)
	copy(remaining, results[1:])
	maxSims := make([]float64, len(remaining))

	for len(remaining) > 0 {
		last := selected[len(selected)-1]
		bestIdx := -1
		bestScore := 0.0

		kept := remaining[:0]
		keptSims := maxSims[:0]
		for i, candidate := range remaining {
			s := sim(candidate.Content, last.Content)
			if s > maxSims[i] {
				maxSims[i] = s
			}
			if maxSims[i] > dupThreshold {
				continue
			}
			kept = append(kept, candidate)
			keptSims = append(keptSims, maxSims[i])

			score := lambda*candidate.RelevanceScore - (1-lambda)*maxSims[i]
			if bestIdx == -1 || score > bestScore {
				bestIdx = len(kept) - 1
				bestScore = score
			}
		}
		remaining, maxSims = kept, keptSims

		if bestIdx == -1 {
			break
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		maxSims = append(maxSims[:bestIdx], maxSims[bestIdx+1:]...)
	}
	return selected
}

// duplicatePairs counts pairs whose similarity exceeds threshold.
func duplicatePairs(results []SearchResult, threshold float64, sim Similarity) int {
	n := 0
	for i := range results {
		for j := i + 1; j < len(results); j++ {
			if sim(results[i].Content, results[j].Content) > threshold {
				n++
			}
		}
	}
	return n
}
