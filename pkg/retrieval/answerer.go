package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thoth-kb/thoth/pkg/llm"
)

// answerer generates the final answer and verifies it is grounded in
// the retrieved sources.
type answerer struct {
	provider llm.Provider

	// mode is "strict" or "lenient". Strict rejects any unsupported
	// claim; lenient tolerates minor additions.
	mode string
}

func newAnswerer(provider llm.Provider, mode string) *answerer {
	if mode == "" {
		mode = "strict"
	}
	return &answerer{provider: provider, mode: mode}
}

const answerPrompt = `Answer the question using ONLY the sources below.
Cite nothing outside them. If the sources do not contain the answer, say so.

Question: %s

Sources:
%s`

const answerStrictRetryPrompt = `Answer the question using ONLY the sources below.
Every claim in your answer must be directly supported by a source sentence.
Do not add any information that is not in the sources. If the sources do
not contain the answer, say exactly that.

Question: %s

Sources:
%s`

// Generate produces an answer over the refined context. The stricter
// prompt is used on the grounding-check retry.
func (a *answerer) Generate(ctx context.Context, query string, results []SearchResult, strictRetry bool) (string, error) {
	prompt := answerPrompt
	if strictRetry {
		prompt = answerStrictRetryPrompt
	}

	text, _, err := a.provider.Complete(ctx, llm.Request{
		System: "You answer research questions from provided paper excerpts.",
		Prompt: fmt.Sprintf(prompt, query, formatSources(results)),
	})
	if err != nil {
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Direct answers without retrieval (chit-chat, meta questions).
func (a *answerer) Direct(ctx context.Context, query string) (string, error) {
	text, _, err := a.provider.Complete(ctx, llm.Request{
		System: "You are a research assistant for an academic paper library.",
		Prompt: query,
	})
	if err != nil {
		return "", fmt.Errorf("direct answer failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

const groundedStrictPrompt = `Is EVERY claim in the answer directly supported by the sources?
Answer with a single word: yes or no.

Sources:
%s

Answer to verify:
%s`

const groundedLenientPrompt = `Is the answer broadly consistent with the sources? Minor additions
are acceptable, contradictions are not.
Answer with a single word: yes or no.

Sources:
%s

Answer to verify:
%s`

// CheckGrounded runs the hallucination check. A verdict that is neither
// yes nor no defaults to grounded; an LLM error fails open.
func (a *answerer) CheckGrounded(ctx context.Context, answer string, results []SearchResult) bool {
	prompt := groundedStrictPrompt
	if a.mode == "lenient" {
		prompt = groundedLenientPrompt
	}

	resp, _, err := a.provider.Complete(ctx, llm.Request{
		System: "You verify whether answers are grounded in sources. Answer only yes or no.",
		Prompt: fmt.Sprintf(prompt, formatSources(results), answer),
	})
	if err != nil {
		slog.Warn("hallucination check failed, accepting answer", "error", err)
		return true
	}
	return parseYesNo(resp, true)
}

func formatSources(results []SearchResult) string {
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "[%d] (article %s)\n%s\n\n", i+1, r.Chunk.ArticleID, r.Chunk.Content)
	}
	return sb.String()
}
