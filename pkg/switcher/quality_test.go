package switcher

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type invokerFunc func(ctx context.Context, in Invocation) (*Completion, error)

func (f invokerFunc) Invoke(ctx context.Context, in Invocation) (*Completion, error) { return f(ctx, in) }

func TestHeuristicQualityScorer(t *testing.T) {
	t.Parallel()

	q := HeuristicQualityScorer{}
	ctx := context.Background()
	question := "How do goroutines communicate?"

	good := q.Score(ctx, QualityInput{
		Question:   question,
		Answer:     "Goroutines communicate by sending values over channels, which also synchronize them.",
		Complexity: ComplexityMedium,
	})
	refusal := q.Score(ctx, QualityInput{
		Question:   question,
		Answer:     "I can't help with that request, sorry about that.",
		Complexity: ComplexityMedium,
	})
	truncated := q.Score(ctx, QualityInput{
		Question:   question,
		Answer:     "Goroutines communicate by sending values over channels, which also synchronize",
		Complexity: ComplexityMedium,
	})

	if got := q.Score(ctx, QualityInput{Question: question, Answer: "  "}); got != 0 {
		t.Errorf("empty answer score = %v, want 0", got)
	}
	if good <= refusal {
		t.Errorf("good %v <= refusal %v", good, refusal)
	}
	if good <= truncated {
		t.Errorf("good %v <= truncated %v", good, truncated)
	}
	if good < 0 || good > 1 {
		t.Errorf("score %v outside [0,1]", good)
	}
}

func TestLengthFit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		words int
		c     Complexity
		want  float64
	}{
		{50, ComplexityMedium, 1},
		{0, ComplexitySimple, 0},
		{25, ComplexityComplex, 0.5},
		{10000, ComplexityExpert, 0.3},
	}
	for _, tt := range tests {
		if got := lengthFit(tt.words, tt.c); got != tt.want {
			t.Errorf("lengthFit(%d, %s) = %v, want %v", tt.words, tt.c, got, tt.want)
		}
	}
}

func TestJudgeQualityScorer(t *testing.T) {
	t.Parallel()

	in := QualityInput{Question: "What is Go?", Answer: "Go is a compiled programming language.", Complexity: ComplexitySimple}
	heuristic := HeuristicQualityScorer{}.Score(context.Background(), in)

	tests := []struct {
		name  string
		reply string
		err   error
		want  float64
	}{
		{"plain json", `{"score": 0.9, "reasoning": "accurate"}`, nil, 0.9},
		{"fenced json", "```json\n{\"score\": 0.4, \"reasoning\": \"thin\"}\n```", nil, 0.4},
		{"clamped", `{"score": 1.7, "reasoning": "overeager"}`, nil, 1},
		{"invalid json", "great answer", nil, heuristic},
		{"judge error", "", errors.New("unavailable"), heuristic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var gotSchema []byte
			judge, err := NewJudgeQualityScorer(invokerFunc(func(_ context.Context, inv Invocation) (*Completion, error) {
				gotSchema = inv.JSONSchema
				if tt.err != nil {
					return nil, tt.err
				}
				return &Completion{Content: tt.reply}, nil
			}), "judge-model", 0)
			if err != nil {
				t.Fatalf("NewJudgeQualityScorer() error = %v", err)
			}

			if got := judge.Score(context.Background(), in); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
			if len(gotSchema) == 0 {
				t.Error("judge invocation carried no schema")
			}
		})
	}
}

func TestJudgeSchema(t *testing.T) {
	t.Parallel()

	judge, err := NewJudgeQualityScorer(invokerFunc(func(context.Context, Invocation) (*Completion, error) {
		return nil, errors.New("unused")
	}), "m", 0)
	if err != nil {
		t.Fatal(err)
	}
	schema := string(judge.Schema())
	for _, want := range []string{`"score"`, `"reasoning"`, `"required"`, `"maximum":1`} {
		if !strings.Contains(schema, want) {
			t.Errorf("schema %s missing %s", schema, want)
		}
	}

	if _, err := NewJudgeQualityScorer(nil, "m", 0); err == nil {
		t.Error("NewJudgeQualityScorer(nil) error = nil")
	}
}

func TestStripCodeFence(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{`{"a":1}`, `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"```json\n{\"a\":1}\n```  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
