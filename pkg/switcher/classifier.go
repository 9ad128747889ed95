package switcher

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Classifier estimates message complexity.
type Classifier interface {
	Classify(text string) Complexity
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) Complexity

// Classify implements Classifier.
func (f ClassifierFunc) Classify(text string) Complexity { return f(text) }

// HeuristicClassifier maps messages to complexities with keyword sets and
// character length thresholds. Expert markers win over complex markers,
// which win over medium markers.
//
// Keywords match whole words; a plural "s" is accepted. A trailing "*"
// marks a stem matched as a word prefix, and keywords with spaces match
// consecutive words.
type HeuristicClassifier struct {
	ComplexLength   int
	ExpertLength    int
	ExpertKeywords  []string
	ComplexKeywords []string
	MediumKeywords  []string
	// MediumWords is the word count from which a message is at least medium.
	MediumWords int
}

// NewHeuristicClassifier returns the stock heuristic: 200 and 500 character
// thresholds for complex and expert.
func NewHeuristicClassifier() *HeuristicClassifier {
	return &HeuristicClassifier{
		ComplexLength: 200,
		ExpertLength:  500,
		ExpertKeywords: []string{
			"architect*", "design pattern", "trade-off", "tradeoff", "best approach",
			"should i", "pros and cons", "scalab*", "strategy", "strategies",
		},
		ComplexKeywords: []string{
			"explain", "compare", "analyze", "analyse", "implement", "refactor",
			"review", "code", "function", "bug", "error", "optimi*",
		},
		MediumKeywords: []string{"how", "why", "debug", "fix", "difference"},
		MediumWords:    12,
	}
}

// Classify implements Classifier.
func (c *HeuristicClassifier) Classify(text string) Complexity {
	q := strings.ToLower(strings.TrimSpace(text))
	length := utf8.RuneCountInString(q)
	words := splitWords(q)

	switch {
	case length > c.ExpertLength || matchesAny(words, c.ExpertKeywords):
		return ComplexityExpert
	case length > c.ComplexLength || matchesAny(words, c.ComplexKeywords):
		return ComplexityComplex
	case len(words) >= c.MediumWords || matchesAny(words, c.MediumKeywords):
		return ComplexityMedium
	}
	return ComplexitySimple
}

// splitWords keeps letters, digits, inner hyphens and apostrophes.
func splitWords(s string) []string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '\''
	})
	out := words[:0]
	for _, w := range words {
		if w = strings.Trim(w, "-'"); w != "" {
			out = append(out, w)
		}
	}
	return out
}

func matchesAny(words, keywords []string) bool {
	return slices.ContainsFunc(keywords, func(k string) bool { return matchesPhrase(words, k) })
}

func matchesPhrase(words []string, keyword string) bool {
	parts := strings.Fields(keyword)
	if len(parts) == 0 || len(parts) > len(words) {
		return false
	}
	for i := 0; i+len(parts) <= len(words); i++ {
		ok := true
		for j, p := range parts {
			if !matchesWord(words[i+j], p) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func matchesWord(word, keyword string) bool {
	if stem, ok := strings.CutSuffix(keyword, "*"); ok {
		return strings.HasPrefix(word, stem)
	}
	return word == keyword || word == keyword+"s" || word == keyword+"es"
}
