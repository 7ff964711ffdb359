// Package llm provides the completion and embedding provider abstractions
// used by the pipeline, filter and retrieval engine.
package llm

import "context"

// Request is a single completion request.
type Request struct {
	// System is the system prompt (optional).
	System string

	// Prompt is the user message.
	Prompt string

	// JSONMode requests a JSON object response when supported.
	JSONMode bool

	// Temperature overrides the provider default when non-nil.
	Temperature *float32

	// MaxTokens overrides the provider default when positive.
	MaxTokens int
}

// Usage reports token accounting for a call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider produces completions. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Complete runs a single completion and returns the text response.
	Complete(ctx context.Context, req Request) (string, Usage, error)

	// Model returns the active model name.
	Model() string
}

// Embedder produces dense vectors for texts. Implementations must be safe
// for concurrent use.
type Embedder interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimensionality.
	Dimension() int
}
