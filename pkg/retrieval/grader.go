package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/thoth-kb/thoth/pkg/llm"
)

// grader asks the LLM a binary relevance question per candidate chunk.
// Calls run in parallel up to the configured batch size and fail open:
// a grading error keeps the chunk.
type grader struct {
	provider llm.Provider
	batch    int
}

func newGrader(provider llm.Provider, batch int) *grader {
	if batch <= 0 {
		batch = 4
	}
	return &grader{provider: provider, batch: batch}
}

const gradePrompt = `Is the following document relevant to the question?
Answer with a single word: yes or no.

Question: %s

Document:
%s`

// Grade returns the candidates judged relevant, preserving order.
func (g *grader) Grade(ctx context.Context, query string, candidates []SearchResult) []SearchResult {
	if len(candidates) == 0 {
		return nil
	}

	verdicts := make([]bool, len(candidates))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.batch)
	for i := range candidates {
		i := i
		eg.Go(func() error {
			verdicts[i] = g.gradeOne(gctx, query, candidates[i].Chunk.Content)
			return nil
		})
	}
	_ = eg.Wait()

	kept := make([]SearchResult, 0, len(candidates))
	for i, ok := range verdicts {
		if ok {
			kept = append(kept, candidates[i])
		}
	}
	return kept
}

func (g *grader) gradeOne(ctx context.Context, query, content string) bool {
	resp, _, err := g.provider.Complete(ctx, llm.Request{
		System: "You judge document relevance. Answer only yes or no.",
		Prompt: fmt.Sprintf(gradePrompt, query, content),
	})
	if err != nil {
		slog.Warn("relevance grading failed, keeping chunk", "error", err)
		return true
	}
	return parseYesNo(resp, true)
}

// parseYesNo reads a binary verdict, returning fallback when the reply
// is neither.
func parseYesNo(resp string, fallback bool) bool {
	s := strings.ToLower(strings.TrimSpace(resp))
	s = strings.Trim(s, ".!\"' ")
	switch {
	case strings.HasPrefix(s, "yes"):
		return true
	case strings.HasPrefix(s, "no"):
		return false
	default:
		return fallback
	}
}
