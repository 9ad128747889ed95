package sources

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// MemoryRegistry is an in-process Registry, typically seeded from config.
type MemoryRegistry struct {
	mu      sync.RWMutex
	agents  map[string]Agent
	sources map[string][]memorySource
}

type memorySource struct {
	source    retrieval.KnowledgeSource
	embedding []float32
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		agents:  make(map[string]Agent),
		sources: make(map[string][]memorySource),
	}
}

// PutAgent adds or replaces an agent.
func (r *MemoryRegistry) PutAgent(agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
}

// PutSource adds or replaces a source of agentID. embedding may be nil.
func (r *MemoryRegistry) PutSource(agentID string, src retrieval.KnowledgeSource, embedding []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := memorySource{source: src, embedding: append([]float32(nil), embedding...)}
	list := r.sources[agentID]
	for i := range list {
		if list[i].source.ID == src.ID {
			list[i] = entry
			return
		}
	}
	r.sources[agentID] = append(list, entry)
}

// Agent implements Registry.
func (r *MemoryRegistry) Agent(ctx context.Context, agentID string) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[agentID]
	if !ok {
		return Agent{}, smartchat.NewKindErr(ctx, smartchat.KindNotFound, "agent not found").
			Tag(slog.String("agent_id", agentID))
	}
	return agent, nil
}

// Sources implements Registry. Without an embedding, sources are ordered by
// priority descending then ID; with one, by similarity descending.
func (r *MemoryRegistry) Sources(ctx context.Context, agentID string, q Query) ([]retrieval.KnowledgeSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.agents[agentID]; !ok {
		return nil, smartchat.NewKindErr(ctx, smartchat.KindNotFound, "agent not found").
			Tag(slog.String("agent_id", agentID))
	}

	type scored struct {
		src retrieval.KnowledgeSource
		sim float64
	}
	picked := make([]scored, 0, len(r.sources[agentID]))
	for _, entry := range r.sources[agentID] {
		if len(q.Embedding) == 0 {
			picked = append(picked, scored{src: entry.source})
			continue
		}
		if len(entry.embedding) == 0 {
			continue
		}
		sim := cosine(q.Embedding, entry.embedding)
		if sim < q.MinSimilarity {
			continue
		}
		picked = append(picked, scored{src: entry.source, sim: sim})
	}

	sort.SliceStable(picked, func(i, j int) bool {
		a, b := picked[i], picked[j]
		if len(q.Embedding) > 0 && a.sim != b.sim {
			return a.sim > b.sim
		}
		if a.src.Priority != b.src.Priority {
			return a.src.Priority > b.src.Priority
		}
		return a.src.ID < b.src.ID
	})
	if q.Limit > 0 && len(picked) > q.Limit {
		picked = picked[:q.Limit]
	}

	out := make([]retrieval.KnowledgeSource, len(picked))
	for i, p := range picked {
		out[i] = p.src
	}
	return out, nil
}
