package retrieval

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Embedder turns texts into vectors. The returned slice has one vector per
// input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingScorer scores by cosine similarity between the query embedding
// and each text embedding. Vectors are cached by exact text.
type EmbeddingScorer struct {
	embedder Embedder
	cache    *lru.Cache[string, []float32]
}

// NewEmbeddingScorer wraps embedder with an LRU cache of cacheSize vectors.
func NewEmbeddingScorer(embedder Embedder, cacheSize int) (*EmbeddingScorer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, []float32](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &EmbeddingScorer{embedder: embedder, cache: cache}, nil
}

// Score implements Scorer. Negative cosine similarities are clamped to 0.
func (s *EmbeddingScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	all := make([]string, 0, len(texts)+1)
	all = append(all, query)
	all = append(all, texts...)

	vectors, err := s.vectors(ctx, all)
	if err != nil {
		return nil, err
	}

	queryVec := vectors[0]
	scores := make([]float64, len(texts))
	for i := range texts {
		scores[i] = clampUnit(cosineSimilarity(queryVec, vectors[i+1]))
	}
	return scores, nil
}

// vectors resolves every text, embedding only cache misses in a single call.
func (s *EmbeddingScorer) vectors(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	missingIdx := make(map[string][]int)

	for i, text := range texts {
		if vec, ok := s.cache.Get(text); ok {
			out[i] = vec
			continue
		}
		if _, seen := missingIdx[text]; !seen {
			missing = append(missing, text)
		}
		missingIdx[text] = append(missingIdx[text], i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	embedded, err := s.embedder.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(embedded), len(missing))
	}

	for i, text := range missing {
		s.cache.Add(text, embedded[i])
		for _, idx := range missingIdx[text] {
			out[idx] = embedded[i]
		}
	}
	return out, nil
}

// Ping embeds a short probe text, bypassing the cache.
func (s *EmbeddingScorer) Ping(ctx context.Context) error {
	vecs, err := s.embedder.Embed(ctx, []string{"health check"})
	if err != nil {
		return err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return fmt.Errorf("embedder returned an empty vector")
	}
	return nil
}
