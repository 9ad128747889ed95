package retrieval

import (
	"math"
	"strings"

	"github.com/hbollon/go-edlib"
)

// Similarity compares two texts and returns a value in [0, 1].
type Similarity func(a, b string) float64

// HybridSimilarity weights 2-gram cosine (0.7) over word Jaccard (0.3), on
// lowercased input. It is the default near-duplicate measure.
func HybridSimilarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == b {
		return 1
	}
	jaccard := edlib.JaccardSimilarity(a, b, 0)
	cosine := edlib.CosineSimilarity(a, b, 2)
	return clampUnit(float64(0.7*cosine + 0.3*jaccard))
}

// cosineSimilarity compares two embeddings.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		normA += af * af
		normB += bf * bf
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
