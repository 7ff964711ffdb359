package pipeline

import (
	"context"
	"fmt"

	"github.com/thoth-kb/thoth/pkg/analysis"
	"github.com/thoth-kb/thoth/pkg/llm"
)

const analyzeSystem = `You are an expert research assistant. You read academic papers and produce structured analyses. Respond with a single JSON object and nothing else.`

const analyzePrompt = `Analyze the following academic paper and return a JSON object with these fields:

- title (string): the paper's title
- authors (array of string): the authors in order
- summary (string): a 3-6 sentence summary of the paper
- methodology (string): the research methodology used
- key_points (array of string): the most important findings or claims
- tags (array of string): 3-8 short topical tags, lowercase, hyphenated
%s
Paper text:

%s`

// analyze runs the structured analysis call. The input is truncated to
// the context budget; the structured decoder retries once internally
// with a repair prompt before giving up.
func (p *Pipeline) analyze(ctx context.Context, markdown string) (*analysis.Record, error) {
	excerpt := markdown
	if parts := llm.SplitByTokens(markdown, p.contextBudget); len(parts) > 1 {
		excerpt = parts[0]
	}

	prompt := fmt.Sprintf(analyzePrompt, p.schema.Active().PromptFragment(), excerpt)

	var raw map[string]interface{}
	if err := llm.CompleteStructured(ctx, p.provider, llm.Request{
		System: analyzeSystem,
		Prompt: prompt,
	}, &raw); err != nil {
		return nil, fmt.Errorf("analysis call failed: %w", err)
	}

	record, err := analysis.DecodeRecord(raw, p.schema)
	if err != nil {
		return nil, fmt.Errorf("analysis record invalid: %w", err)
	}
	return record, nil
}
