package retrieval

import (
	"fmt"
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Tokenizer counts tokens in text. Implementations must be safe for
// concurrent use.
type Tokenizer interface {
	CountTokens(text string) int
}

// WordTokenizer approximates tokens as words times Ratio, rounded up.
type WordTokenizer struct {
	Ratio float64
}

// NewWordTokenizer returns the 1.33 tokens-per-word approximation.
func NewWordTokenizer() WordTokenizer {
	return WordTokenizer{Ratio: 1.33}
}

// CountTokens implements Tokenizer.
func (t WordTokenizer) CountTokens(text string) int {
	ratio := t.Ratio
	if ratio <= 0 {
		ratio = 1.33
	}
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * ratio))
}

// TiktokenTokenizer counts BPE tokens with tiktoken-go.
type TiktokenTokenizer struct {
	encoding string
	tke      *tiktoken.Tiktoken
}

// NewTiktokenTokenizer resolves modelOrEncoding first as an encoding name,
// then as a model name, and finally falls back to cl100k_base.
//
// Example:
//
//	tok, err := retrieval.NewTiktokenTokenizer("gpt-4o-mini")
func NewTiktokenTokenizer(modelOrEncoding string) (*TiktokenTokenizer, error) {
	if modelOrEncoding == "" {
		modelOrEncoding = defaultEncoding
	}

	encoding := modelOrEncoding
	tke, err := tiktoken.GetEncoding(modelOrEncoding)
	if err != nil {
		tke, err = tiktoken.EncodingForModel(modelOrEncoding)
		if err != nil {
			encoding = defaultEncoding
			tke, err = tiktoken.GetEncoding(defaultEncoding)
			if err != nil {
				return nil, fmt.Errorf("failed to load default encoding %q: %w", defaultEncoding, err)
			}
		}
	}

	return &TiktokenTokenizer{encoding: encoding, tke: tke}, nil
}

// CountTokens implements Tokenizer.
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.tke.Encode(text, nil, nil))
}

// Encoding returns the resolved encoding or model name.
func (t *TiktokenTokenizer) Encoding() string {
	return t.encoding
}
