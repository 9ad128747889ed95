package switcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/invopop/jsonschema"

	"github.com/calque-ai/go-smartchat/pkg/smartchat"
)

// QualityInput is one answered message.
type QualityInput struct {
	Question   string
	Answer     string
	Complexity Complexity
}

// QualityScorer grades an answer in [0,1] after the fact.
type QualityScorer interface {
	Score(ctx context.Context, in QualityInput) float64
}

// QualityScorerFunc adapts a function to QualityScorer.
type QualityScorerFunc func(ctx context.Context, in QualityInput) float64

// Score calls f.
func (f QualityScorerFunc) Score(ctx context.Context, in QualityInput) float64 { return f(ctx, in) }

var refusalMarkers = []string{
	"i can't", "i cannot", "i can not", "i'm unable", "i am unable",
	"i'm not able", "as an ai", "i don't have access",
}

// wordRange is the expected answer length in words per complexity.
var wordRange = map[Complexity][2]int{
	ComplexitySimple:  {3, 150},
	ComplexityMedium:  {15, 300},
	ComplexityComplex: {50, 800},
	ComplexityExpert:  {100, 1500},
}

// HeuristicQualityScorer grades an answer on length fit for the message
// complexity, sentence completeness, refusal phrasing and term overlap with
// the question.
type HeuristicQualityScorer struct{}

// Score implements QualityScorer.
func (HeuristicQualityScorer) Score(_ context.Context, in QualityInput) float64 {
	answer := strings.TrimSpace(in.Answer)
	if answer == "" {
		return 0
	}
	lower := strings.ToLower(answer)

	refusal := 1.0
	if containsAny(lower, refusalMarkers) {
		refusal = 0.2
	}

	score := 0.3*lengthFit(len(strings.Fields(answer)), in.Complexity) +
		0.2*completeness(answer) +
		0.25*refusal +
		0.25*termOverlap(in.Question, lower)
	return math.Min(1, math.Max(0, score))
}

func lengthFit(words int, c Complexity) float64 {
	r, ok := wordRange[c]
	if !ok {
		r = wordRange[ComplexityMedium]
	}
	switch {
	case words < r[0]:
		return float64(words) / float64(r[0])
	case words > r[1]:
		return math.Max(0.3, float64(r[1])/float64(words))
	}
	return 1
}

func completeness(answer string) float64 {
	if strings.HasSuffix(answer, "```") {
		return 1
	}
	last := []rune(answer)[len([]rune(answer))-1]
	if strings.ContainsRune(".!?)]\"'`:", last) {
		return 1
	}
	return 0.6
}

// termOverlap is the fraction of the question's content words (longer than
// three letters) found in the answer. A question without such words scores 1.
func termOverlap(question, lowerAnswer string) float64 {
	terms := strings.FieldsFunc(strings.ToLower(question), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	total, found := 0, 0
	seen := make(map[string]bool)
	for _, t := range terms {
		if len([]rune(t)) <= 3 || seen[t] {
			continue
		}
		seen[t] = true
		total++
		if strings.Contains(lowerAnswer, t) {
			found++
		}
	}
	if total == 0 {
		return 1
	}
	return float64(found) / float64(total)
}

// judgeVerdict is the structured response the judge model returns.
type judgeVerdict struct {
	Score     float64 `json:"score" jsonschema:"required,minimum=0,maximum=1,description=Answer quality from 0 (useless) to 1 (excellent)"`
	Reasoning string  `json:"reasoning" jsonschema:"required,description=One or two sentences justifying the score"`
}

const judgeSystemPrompt = `You grade assistant answers. Consider correctness, completeness, relevance to the question and clarity.
Reply with a single JSON object matching this schema and nothing else:
%s`

// JudgeQualityScorer asks a model to grade answers and falls back to a
// heuristic when the judge fails or returns something unparsable.
type JudgeQualityScorer struct {
	invoker  Invoker
	model    string
	timeout  time.Duration
	fallback QualityScorer
	schema   []byte
	system   string
}

// NewJudgeQualityScorer builds a judge on inv/model. A zero timeout means 10s.
func NewJudgeQualityScorer(inv Invoker, model string, timeout time.Duration) (*JudgeQualityScorer, error) {
	if inv == nil || model == "" {
		return nil, fmt.Errorf("judge requires an invoker and a model")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema, err := json.Marshal(reflector.Reflect(&judgeVerdict{}))
	if err != nil {
		return nil, fmt.Errorf("failed to build judge schema: %w", err)
	}
	return &JudgeQualityScorer{
		invoker:  inv,
		model:    model,
		timeout:  timeout,
		fallback: HeuristicQualityScorer{},
		schema:   schema,
		system:   fmt.Sprintf(judgeSystemPrompt, schema),
	}, nil
}

// Schema returns the JSON schema sent to the judge.
func (j *JudgeQualityScorer) Schema() []byte { return j.schema }

// Score implements QualityScorer.
func (j *JudgeQualityScorer) Score(ctx context.Context, in QualityInput) float64 {
	if strings.TrimSpace(in.Answer) == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	comp, err := j.invoker.Invoke(ctx, Invocation{
		Model:  j.model,
		System: j.system,
		Messages: []Message{{
			Role:    "user",
			Content: "Question:\n" + in.Question + "\n\nAnswer:\n" + in.Answer,
		}},
		MaxTokens:  256,
		JSONSchema: j.schema,
	})
	if err != nil {
		smartchat.LogWarn(ctx, "quality judge failed, using heuristic", "model", j.model, "error", err)
		return j.fallback.Score(ctx, in)
	}

	var v judgeVerdict
	if err := json.Unmarshal([]byte(stripCodeFence(comp.Content)), &v); err != nil {
		smartchat.LogWarn(ctx, "quality judge returned invalid JSON, using heuristic", "model", j.model, "error", err)
		return j.fallback.Score(ctx, in)
	}
	smartchat.LogDebug(ctx, "quality judged", "score", v.Score, "reasoning", v.Reasoning)
	return math.Min(1, math.Max(0, v.Score))
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
