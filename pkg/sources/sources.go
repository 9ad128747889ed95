// Package sources resolves agents and their knowledge sources.
//
// Registries are read-only from the request path: handlers call Agent and
// Sources, while writes happen at startup or from external indexing jobs.
package sources

import (
	"context"
	"math"

	"github.com/calque-ai/go-smartchat/pkg/retrieval"
)

// Agent is the per-agent configuration the chat routes need.
type Agent struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	SystemPrompt string `json:"systemPrompt" yaml:"system_prompt"`
	Provider     string `json:"provider" yaml:"provider"` // default provider for smart-chat
	Model        string `json:"model" yaml:"model"`
}

// Query narrows a Sources call.
type Query struct {
	// Limit caps the number of sources returned. Zero means no cap.
	Limit int

	// Embedding enables the vector prefilter. Sources without an embedding
	// are excluded when it is set.
	Embedding []float32

	// MinSimilarity is the cosine similarity floor used with Embedding.
	MinSimilarity float64
}

// Registry gives read access to agents and their sources.
type Registry interface {
	Agent(ctx context.Context, agentID string) (Agent, error)
	Sources(ctx context.Context, agentID string, q Query) ([]retrieval.KnowledgeSource, error)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
