package pipeline

import (
	"context"
	"fmt"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/llm"
)

const extractSystem = `You extract bibliographic references from academic papers. Respond with a single JSON object and nothing else.`

const extractPrompt = `List every reference cited by the following paper text. Return a JSON object:

{"citations": [{"raw": "...", "title": "...", "authors": ["..."], "year": 2020, "doi": "...", "arxiv_id": "..."}]}

Rules:
- "raw" is the reference string exactly as it appears; it is the only required field.
- Leave fields you cannot determine empty (or 0 for year).
- Preserve the order references appear in.

Paper text:

%s`

type extractedCitation struct {
	Raw     string   `json:"raw"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Year    int      `json:"year"`
	DOI     string   `json:"doi"`
	ArxivID string   `json:"arxiv_id"`
}

type extraction struct {
	Citations []extractedCitation `json:"citations"`
}

// extractCitations pulls the reference list out of the markdown. Texts
// over the context budget are split on paragraph boundaries and the
// per-part results concatenated in order (map-reduce).
func (p *Pipeline) extractCitations(ctx context.Context, markdown string) ([]citegraph.Citation, error) {
	parts := llm.SplitByTokens(markdown, p.contextBudget)

	var citations []citegraph.Citation
	seen := make(map[string]bool)

	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return citations, err
		}

		var result extraction
		if err := llm.CompleteStructured(ctx, p.provider, llm.Request{
			System: extractSystem,
			Prompt: fmt.Sprintf(extractPrompt, part),
		}, &result); err != nil {
			return citations, fmt.Errorf("citation extraction failed: %w", err)
		}

		for _, ec := range result.Citations {
			if ec.Raw == "" && ec.Title == "" {
				continue
			}
			// Split parts overlap at reference-section boundaries;
			// dedup on the raw string.
			key := ec.Raw
			if key == "" {
				key = ec.Title
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			citations = append(citations, citegraph.Citation{
				Raw:     ec.Raw,
				Title:   ec.Title,
				Authors: ec.Authors,
				Year:    ec.Year,
				DOI:     citegraph.NormalizeDOI(ec.DOI),
				ArxivID: citegraph.NormalizeArxivID(ec.ArxivID),
			})
		}
	}

	return citations, nil
}
