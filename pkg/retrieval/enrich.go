package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/thoth-kb/thoth/pkg/llm"
)

// enricher prefixes each chunk with a short LLM-generated context line
// situating it within its document. Enrichment is best-effort: any
// failure leaves the raw chunk in place.
type enricher struct {
	provider llm.Provider
	batch    int

	// excerptLimit caps the document excerpt passed as context.
	excerptLimit int
}

func newEnricher(provider llm.Provider, batch int) *enricher {
	if batch <= 0 {
		batch = 8
	}
	return &enricher{provider: provider, batch: batch, excerptLimit: 4000}
}

const enrichPrompt = `Here is an excerpt of a research paper:

<document>
%s
</document>

Here is one chunk from that paper:

<chunk>
%s
</chunk>

Write 1-2 sentences situating this chunk within the paper, to improve
search retrieval of the chunk. Reply with only the context sentences.`

// Enrich rewrites chunks in place, prefixing generated context.
func (e *enricher) Enrich(ctx context.Context, document string, chunks []Chunk) {
	excerpt := document
	if len(excerpt) > e.excerptLimit {
		excerpt = excerpt[:e.excerptLimit]
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.batch)
	for i := range chunks {
		i := i
		eg.Go(func() error {
			situating, _, err := e.provider.Complete(gctx, llm.Request{
				System: "You write terse situating context for document chunks.",
				Prompt: fmt.Sprintf(enrichPrompt, excerpt, chunks[i].Content),
			})
			if err != nil {
				slog.Warn("chunk enrichment failed, keeping raw chunk",
					"chunk", chunks[i].ID, "error", err)
				return nil
			}
			if situating != "" {
				chunks[i].Content = situating + "\n\n" + chunks[i].Content
			}
			return nil
		})
	}
	_ = eg.Wait()
}
