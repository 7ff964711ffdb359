package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text using the cl100k_base
// encoding. Falls back to a character heuristic when the encoding cannot
// be loaded (offline environments).
func CountTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})

	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}

	// Rough heuristic: ~4 chars per token for English prose.
	return len(text) / 4
}

// SplitByTokens splits text into pieces of at most budget tokens, breaking
// on paragraph boundaries where possible.
func SplitByTokens(text string, budget int) []string {
	if budget <= 0 || CountTokens(text) <= budget {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")
	var parts []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, para := range paragraphs {
		paraTokens := CountTokens(para)

		// A single oversized paragraph is split hard by characters.
		if paraTokens > budget {
			flush()
			runes := []rune(para)
			// Approximate character budget from the token budget.
			charBudget := budget * 4
			for len(runes) > 0 {
				n := charBudget
				if n > len(runes) {
					n = len(runes)
				}
				parts = append(parts, string(runes[:n]))
				runes = runes[n:]
			}
			continue
		}

		if currentTokens+paraTokens > budget {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentTokens += paraTokens
	}
	flush()

	return parts
}
