package sources

import (
	"context"
	"math"
	"testing"

	"github.com/calque-ai/go-smartchat/pkg/retrieval"
	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

func seeded() *MemoryRegistry {
	r := NewMemoryRegistry()
	r.PutAgent(Agent{ID: "support", Name: "Support", Provider: "openai", Model: "gpt-4o-mini"})
	r.PutAgent(Agent{ID: "empty"})
	r.PutSource("support", retrieval.KnowledgeSource{ID: "faq", Name: "FAQ", Content: "refunds", Priority: 1}, []float32{1, 0})
	r.PutSource("support", retrieval.KnowledgeSource{ID: "manual", Name: "Manual", Content: "setup", Priority: 2}, []float32{0, 1})
	r.PutSource("support", retrieval.KnowledgeSource{ID: "blog", Name: "Blog", Content: "news", Priority: 1}, nil)
	return r
}

func ids(srcs []retrieval.KnowledgeSource) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMemoryRegistryAgent(t *testing.T) {
	t.Parallel()
	r := seeded()
	ctx := context.Background()

	agent, err := r.Agent(ctx, "support")
	if err != nil {
		t.Fatalf("Agent() error = %v", err)
	}
	if agent.Provider != "openai" || agent.Model != "gpt-4o-mini" {
		t.Errorf("Agent() = %+v", agent)
	}

	_, err = r.Agent(ctx, "missing")
	if !smartchat.IsKind(err, smartchat.KindNotFound) {
		t.Errorf("Agent(missing) error kind = %v, want not_found", smartchat.KindOf(err))
	}
}

func TestMemoryRegistrySources(t *testing.T) {
	t.Parallel()
	r := seeded()
	ctx := context.Background()

	tests := []struct {
		name  string
		agent string
		query Query
		want  []string
	}{
		{name: "priority order", agent: "support", want: []string{"manual", "blog", "faq"}},
		{name: "limit", agent: "support", query: Query{Limit: 2}, want: []string{"manual", "blog"}},
		{name: "vector prefilter", agent: "support", query: Query{Embedding: []float32{1, 0.1}, MinSimilarity: 0.5}, want: []string{"faq"}},
		{name: "vector order", agent: "support", query: Query{Embedding: []float32{1, 1}}, want: []string{"manual", "faq"}},
		{name: "agent without sources", agent: "empty", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Sources(ctx, tt.agent, tt.query)
			if err != nil {
				t.Fatalf("Sources() error = %v", err)
			}
			if !equal(ids(got), tt.want) {
				t.Errorf("Sources() = %v, want %v", ids(got), tt.want)
			}
		})
	}

	if _, err := r.Sources(ctx, "missing", Query{}); !smartchat.IsKind(err, smartchat.KindNotFound) {
		t.Errorf("Sources(missing) error kind = %v, want not_found", smartchat.KindOf(err))
	}
}

func TestMemoryRegistryPutSourceReplaces(t *testing.T) {
	t.Parallel()
	r := seeded()
	r.PutSource("support", retrieval.KnowledgeSource{ID: "faq", Content: "updated", Priority: 5}, nil)

	got, err := r.Sources(context.Background(), "support", Query{})
	if err != nil {
		t.Fatalf("Sources() error = %v", err)
	}
	if len(got) != 3 || got[0].ID != "faq" || got[0].Content != "updated" {
		t.Errorf("Sources() = %+v, want replaced faq first", got)
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2}, []float32{1, 2}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := cosine(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: cosine() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
