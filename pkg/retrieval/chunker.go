package retrieval

import (
	"strings"
	"unicode"
)

// chunkContent splits content according to strategy. size is a token budget
// for semantic chunks and a word count for fixed windows. Chunks are never
// empty and a single oversized sentence is kept whole.
func chunkContent(content string, strategy ChunkingStrategy, size int, tok Tokenizer) []string {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	switch strategy {
	case ChunkingSemantic:
		return semanticChunks(content, size, tok)
	case ChunkingFixedWindow:
		return fixedWindowChunks(content, size)
	default:
		return []string{content}
	}
}

// semanticChunks packs paragraphs, or the sentences of long paragraphs, into
// chunks of at most size tokens.
func semanticChunks(content string, size int, tok Tokenizer) []string {
	var units []string
	for _, para := range splitParagraphs(content) {
		if tok.CountTokens(para) <= size {
			units = append(units, para)
			continue
		}
		units = append(units, splitSentences(para)...)
	}

	var chunks []string
	var current strings.Builder
	currentTokens := 0
	for _, unit := range units {
		unitTokens := tok.CountTokens(unit)
		if current.Len() > 0 && currentTokens+unitTokens > size {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(unit)
		currentTokens += unitTokens
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// fixedWindowChunks slides a window of size words with a 10% overlap.
func fixedWindowChunks(content string, size int) []string {
	words := strings.Fields(content)
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	overlap := size / 10
	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

func splitParagraphs(content string) []string {
	var paras []string
	for _, block := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n\n") {
		if block = strings.TrimSpace(block); block != "" {
			paras = append(paras, block)
		}
	}
	return paras
}

// splitSentences breaks after '.', '!' or '?' when followed by whitespace.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
