package retrieval

import (
	"context"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
)

// Scorer computes the relevance of each text to query, in [0, 1]. The result
// has one score per text, in input order. Implementations may call remote
// services and must honor ctx cancellation.
type Scorer interface {
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, query string, texts []string) ([]float64, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	return f(ctx, query, texts)
}

// LexicalScorer scores by query term coverage blended with character-level
// similarity. Terms match fuzzily with Jaro-Winkler so plurals and small typos
// still count.
type LexicalScorer struct {
	// FuzzyThreshold is the Jaro-Winkler similarity at which two terms match.
	FuzzyThreshold float32
	// CoverageWeight weights term coverage against 2-gram cosine similarity.
	CoverageWeight float64
}

// NewLexicalScorer returns a scorer with a 0.9 fuzzy threshold and a 0.75
// coverage weight.
func NewLexicalScorer() *LexicalScorer {
	return &LexicalScorer{FuzzyThreshold: 0.9, CoverageWeight: 0.75}
}

// Score implements Scorer.
func (s *LexicalScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	terms := queryTerms(query)
	lowerQuery := strings.ToLower(query)
	scores := make([]float64, len(texts))

	for i, text := range texts {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		lowerText := strings.ToLower(text)
		coverage := s.coverage(terms, lowerText)
		cosine := float64(edlib.CosineSimilarity(lowerQuery, lowerText, 2))
		scores[i] = clampUnit(s.CoverageWeight*coverage + (1-s.CoverageWeight)*cosine)
	}
	return scores, nil
}

func (s *LexicalScorer) coverage(terms []string, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	words := make(map[string]struct{})
	for _, w := range tokenize(text) {
		words[w] = struct{}{}
	}

	matched := 0
	for _, term := range terms {
		if _, ok := words[term]; ok {
			matched++
			continue
		}
		for w := range words {
			if edlib.JaroWinklerSimilarity(term, w) >= s.FuzzyThreshold {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(terms))
}

// queryTerms lowercases, tokenizes and removes stopwords and duplicates. When
// every word is a stopword the raw words are used.
func queryTerms(query string) []string {
	words := tokenize(strings.ToLower(query))
	seen := make(map[string]bool, len(words))
	var terms []string
	for _, w := range words {
		if stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, w)
	}
	if len(terms) == 0 {
		for _, w := range words {
			if !seen[w] {
				seen[w] = true
				terms = append(terms, w)
			}
		}
	}
	return terms
}

func tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "can": true, "do": true, "does": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "our": true, "so": true, "that": true, "the": true, "this": true,
	"to": true, "was": true, "we": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "will": true, "with": true, "you": true, "your": true,
}
