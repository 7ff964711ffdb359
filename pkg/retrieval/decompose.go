package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thoth-kb/thoth/pkg/llm"
)

type decomposition struct {
	SubQueries []string `json:"sub_queries" jsonschema_description:"2-4 standalone sub-queries that together answer the original question"`
}

const decomposePrompt = `Break the following multi-hop question into 2-4 standalone sub-queries.
Each sub-query must be answerable from a single document.

Question: %s`

// decompose splits a multi-hop query into sub-queries with one LLM
// call. On any failure the original query is returned alone.
func decompose(ctx context.Context, provider llm.Provider, query string) []string {
	var out decomposition
	err := llm.CompleteStructured(ctx, provider, llm.Request{
		System: "You decompose complex research questions into simpler retrieval queries. Respond with JSON.",
		Prompt: fmt.Sprintf(decomposePrompt, query),
	}, &out)
	if err != nil {
		slog.Warn("query decomposition failed, retrieving with original query", "error", err)
		return []string{query}
	}

	var subs []string
	for _, q := range out.SubQueries {
		if q = strings.TrimSpace(q); q != "" {
			subs = append(subs, q)
		}
	}
	if len(subs) < 2 {
		return []string{query}
	}
	if len(subs) > 4 {
		subs = subs[:4]
	}
	return subs
}
