package retrieval

import (
	"context"
	"strings"
)

// Summary is a condensed view of recent conversation turns.
type Summary struct {
	Text         string
	TurnsCovered int
}

// Summarizer condenses turns into at most budget tokens.
type Summarizer interface {
	Summarize(ctx context.Context, turns []ConversationTurn, budget int) (Summary, error)
}

// ExtractiveSummarizer keeps the first sentence of each turn, newest first,
// until the budget is spent, and emits the kept lines in chronological order.
type ExtractiveSummarizer struct {
	Tokenizer Tokenizer
	// MaxWordsPerTurn caps each extracted line. Default 40.
	MaxWordsPerTurn int
}

// Summarize implements Summarizer.
func (s *ExtractiveSummarizer) Summarize(_ context.Context, turns []ConversationTurn, budget int) (Summary, error) {
	if len(turns) == 0 || budget <= 0 {
		return Summary{}, nil
	}
	maxWords := s.MaxWordsPerTurn
	if maxWords <= 0 {
		maxWords = 40
	}

	var lines []string
	used := 0
	for i := len(turns) - 1; i >= 0; i-- {
		line := summarizeTurn(turns[i], maxWords)
		if line == "" {
			continue
		}
		cost := s.Tokenizer.CountTokens(line)
		if used+cost > budget {
			break
		}
		lines = append(lines, line)
		used += cost
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return Summary{Text: strings.Join(lines, "\n"), TurnsCovered: len(lines)}, nil
}

func summarizeTurn(turn ConversationTurn, maxWords int) string {
	content := strings.TrimSpace(turn.Content)
	if content == "" {
		return ""
	}
	if sentences := splitSentences(content); len(sentences) > 0 {
		content = sentences[0]
	}
	words := strings.Fields(content)
	if len(words) > maxWords {
		words = append(words[:maxWords], "...")
	}

	role := turn.Role
	if role == "" {
		role = "user"
	}
	return role + ": " + strings.Join(words, " ")
}
