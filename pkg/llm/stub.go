package llm

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
)

// StubProvider is a deterministic in-memory Provider for tests and dry
// runs. Responses are matched by substring against the prompt; the first
// match wins. Unmatched prompts return Fallback.
type StubProvider struct {
	// Responses maps a prompt substring to a canned response.
	Responses map[string]string

	// Fallback is returned when nothing matches.
	Fallback string

	// Err, when set, is returned by every call.
	Err error

	calls atomic.Int64
}

// Complete implements Provider.
func (s *StubProvider) Complete(ctx context.Context, req Request) (string, Usage, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return "", Usage{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return "", Usage{}, err
	}

	for needle, resp := range s.Responses {
		if needle != "" && strings.Contains(req.Prompt, needle) {
			return resp, Usage{PromptTokens: CountTokens(req.Prompt)}, nil
		}
	}
	return s.Fallback, Usage{PromptTokens: CountTokens(req.Prompt)}, nil
}

// Model implements Provider.
func (s *StubProvider) Model() string {
	return "stub"
}

// Calls returns how many completions were requested.
func (s *StubProvider) Calls() int64 {
	return s.calls.Load()
}

// StubEmbedder produces deterministic pseudo-embeddings derived from a
// hash of the input text. Vectors are unit-length so cosine similarity
// behaves sensibly in tests.
type StubEmbedder struct {
	Dim int
}

// Embed implements Embedder.
func (s *StubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dim := s.Dim
	if dim == 0 {
		dim = 8
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, dim)
		h := fnv.New64a()
		_, _ = h.Write([]byte(text))
		seed := h.Sum64()

		var norm float64
		for j := range vec {
			seed = seed*6364136223846793005 + 1442695040888963407
			v := float32(int64(seed>>33))/float32(1<<31) + 0.5
			vec[j] = v
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			inv := float32(1.0 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= inv
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Dimension implements Embedder.
func (s *StubEmbedder) Dimension() int {
	if s.Dim == 0 {
		return 8
	}
	return s.Dim
}
