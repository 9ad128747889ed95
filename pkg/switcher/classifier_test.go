package switcher

import (
	"strings"
	"testing"
)

func TestHeuristicClassifier(t *testing.T) {
	t.Parallel()

	c := NewHeuristicClassifier()
	tests := []struct {
		name string
		text string
		want Complexity
	}{
		{"greeting", "hi", ComplexitySimple},
		{"short question word", "How do I reset my password?", ComplexityMedium},
		{"many plain words", "one two three four five six seven eight nine ten eleven twelve", ComplexityMedium},
		{"complex keyword", "Please explain goroutines", ComplexityComplex},
		{"complex by length", strings.Repeat("word ", 45), ComplexityComplex},
		{"expert keyword", "Which architecture fits a payments platform?", ComplexityExpert},
		{"expert by length", strings.Repeat("word ", 110), ComplexityExpert},
		{"case insensitive", "COMPARE these two options", ComplexityComplex},
		{"keyword inside a word", "show me the menu", ComplexitySimple},
		{"however is not how", "however, thanks", ComplexitySimple},
		{"plural keyword", "any bugs here?", ComplexityComplex},
		{"stem prefix", "is this scalable", ComplexityExpert},
		{"phrase", "pros and cons of tabs", ComplexityExpert},
		{"hyphenated keyword", "what's the trade-off?", ComplexityExpert},
		{"phrase words apart", "pros, then cons", ComplexitySimple},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := c.Classify(tt.text); got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifierFunc(t *testing.T) {
	t.Parallel()

	var c Classifier = ClassifierFunc(func(string) Complexity { return ComplexityExpert })
	if got := c.Classify("anything"); got != ComplexityExpert {
		t.Errorf("Classify() = %s, want expert", got)
	}
}

func TestComplexityTier(t *testing.T) {
	t.Parallel()

	order := []Complexity{ComplexitySimple, ComplexityMedium, ComplexityComplex, ComplexityExpert}
	for i, c := range order {
		if c.Tier() != i || !c.Valid() {
			t.Errorf("%s.Tier() = %d, want %d", c, c.Tier(), i)
		}
	}
	if Complexity("trivial").Valid() {
		t.Error("unknown complexity reported valid")
	}
}
