package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "plain object",
			raw:  `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "code fence",
			raw:  "```json\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "leading prose",
			raw:  "Here is the result:\n{\"a\": 1}\nHope that helps!",
			want: `{"a": 1}`,
		},
		{
			name: "nested braces in strings",
			raw:  `{"text": "a { b } c"} trailing`,
			want: `{"text": "a { b } c"}`,
		},
		{
			name: "array",
			raw:  `[{"a": 1}, {"b": 2}]`,
			want: `[{"a": 1}, {"b": 2}]`,
		},
		{
			name: "no json",
			raw:  "I cannot answer that.",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.raw))
		})
	}
}

func TestCompleteStructured(t *testing.T) {
	type result struct {
		Score float64 `json:"score"`
	}

	stub := &StubProvider{Fallback: `{"score": 0.85}`}

	var r result
	err := CompleteStructured(context.Background(), stub, Request{Prompt: "score this"}, &r)
	require.NoError(t, err)
	assert.Equal(t, 0.85, r.Score)
	assert.Equal(t, int64(1), stub.Calls())
}

func TestCompleteStructuredRepair(t *testing.T) {
	type result struct {
		Score float64 `json:"score"`
	}

	// First response is broken; the repair prompt includes the words
	// "corrected JSON" so the stub can recognize it.
	stub := &StubProvider{
		Responses: map[string]string{
			"corrected JSON": `{"score": 0.5}`,
		},
		Fallback: `not json at all`,
	}

	var r result
	err := CompleteStructured(context.Background(), stub, Request{Prompt: "score this"}, &r)
	require.NoError(t, err)
	assert.Equal(t, 0.5, r.Score)
	assert.Equal(t, int64(2), stub.Calls())
}

func TestCompleteStructuredFailsAfterRepair(t *testing.T) {
	type result struct {
		Score float64 `json:"score"`
	}

	stub := &StubProvider{Fallback: "still not json"}

	var r result
	err := CompleteStructured(context.Background(), stub, Request{Prompt: "score"}, &r)
	require.Error(t, err)

	var soErr *ErrStructuredOutput
	assert.ErrorAs(t, err, &soErr)
}

func TestSplitByTokens(t *testing.T) {
	text := "para one\n\npara two\n\npara three"
	parts := SplitByTokens(text, 1000)
	assert.Equal(t, []string{text}, parts)

	parts = SplitByTokens(text, 3)
	assert.Greater(t, len(parts), 1)
}
