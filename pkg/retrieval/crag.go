package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/neurosnap/sentences"
	"github.com/neurosnap/sentences/english"

	"github.com/thoth-kb/thoth/pkg/llm"
)

// assessConfidence maps the fraction of retained documents above the
// relevance floor to the tri-level CRAG verdict.
func assessConfidence(results []SearchResult, floor, lower, upper float64) Confidence {
	if len(results) == 0 {
		return ConfidenceIncorrect
	}

	above := 0
	for _, r := range results {
		if r.Score >= floor {
			above++
		}
	}
	frac := float64(above) / float64(len(results))

	switch {
	case frac >= upper:
		return ConfidenceCorrect
	case frac >= lower:
		return ConfidenceAmbiguous
	default:
		return ConfidenceIncorrect
	}
}

var (
	sentenceTokenizerOnce sync.Once
	sentenceTokenizer     *sentences.DefaultSentenceTokenizer
)

// splitStatements breaks chunk text into per-sentence factual units
// ("knowledge strips"). Falls back to line splitting if the tokenizer
// cannot load its training data.
func splitStatements(text string) []string {
	sentenceTokenizerOnce.Do(func() {
		tok, err := english.NewSentenceTokenizer(nil)
		if err != nil {
			slog.Warn("sentence tokenizer unavailable, splitting on newlines", "error", err)
			return
		}
		sentenceTokenizer = tok
	})

	var parts []string
	if sentenceTokenizer != nil {
		for _, s := range sentenceTokenizer.Tokenize(text) {
			parts = append(parts, s.Text)
		}
	} else {
		parts = strings.Split(text, "\n")
	}

	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// refineStrips is the ambiguous-confidence corrective action: each
// retained chunk is decomposed into knowledge strips, each strip graded
// against the query, and the survivors recomposed into a tighter chunk.
func refineStrips(ctx context.Context, g *grader, query string, results []SearchResult) []SearchResult {
	refined := make([]SearchResult, 0, len(results))

	for _, r := range results {
		strips := splitStatements(r.Chunk.Content)
		if len(strips) <= 1 {
			refined = append(refined, r)
			continue
		}

		var kept []string
		for _, strip := range strips {
			if g.gradeStrip(ctx, query, strip) {
				kept = append(kept, strip)
			}
		}

		if len(kept) == 0 {
			continue
		}
		r.Chunk.Content = strings.Join(kept, " ")
		refined = append(refined, r)
	}
	return refined
}

const stripPrompt = `Does this statement help answer the question?
Answer with a single word: yes or no.

Question: %s

Statement: %s`

func (g *grader) gradeStrip(ctx context.Context, query, strip string) bool {
	resp, _, err := g.provider.Complete(ctx, llm.Request{
		System: "You judge whether single statements are useful. Answer only yes or no.",
		Prompt: fmt.Sprintf(stripPrompt, query, strip),
	})
	if err != nil {
		slog.Warn("strip grading failed, keeping statement", "error", err)
		return true
	}
	return parseYesNo(resp, true)
}
