package retrieval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkerTypesFromHeadings(t *testing.T) {
	c := newChunker(1000, 200)
	md := `# Abstract

This paper proposes a method.

## Method

We use attention layers.

# References

[1] Some citation.`

	chunks := c.Split("art-1", md)
	require.Len(t, chunks, 3)
	assert.Equal(t, ChunkAbstract, chunks[0].Type)
	assert.Equal(t, ChunkSection, chunks[1].Type)
	assert.Equal(t, ChunkReference, chunks[2].Type)
	assert.Equal(t, "art-1-0", chunks[0].ID)
	assert.Equal(t, 2, chunks[2].Index)
}

func TestChunkerOverlap(t *testing.T) {
	c := newChunker(100, 20)

	var long string
	for i := 0; i < 60; i++ {
		long += "word word1 "
	}

	chunks := c.Split("art-1", long)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk.Content), 100)
		assert.NotEmpty(t, chunk.Content)
	}
}

func TestBM25RanksKeywordMatches(t *testing.T) {
	idx := newBM25Index()
	idx.Add("a", "transformers use self attention for sequence modeling")
	idx.Add("b", "convolutional networks use sliding kernels over images")
	idx.Add("c", "attention weights are computed with softmax over queries")

	hits := idx.Search("self attention transformers", 3)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID)
}

func TestBM25Remove(t *testing.T) {
	idx := newBM25Index()
	idx.Add("a", "unique marker phrase")
	idx.Remove("a")
	assert.Empty(t, idx.Search("unique marker", 5))
}

func TestFuseRRFOrder(t *testing.T) {
	// Chunk A: dense rank 1, lexical rank 5. Chunk B: dense rank 6,
	// lexical rank 1. With k=60, A's reciprocal sum (1/60 + 1/64) beats
	// B's (1/65 + 1/60).
	dense := rankedList{"A", "d2", "d3", "d4", "d5", "B"}
	sparse := rankedList{"B", "s2", "s3", "s4", "A"}

	fused := fuseRRF([]rankedList{dense, sparse}, 60, 2)
	require.Len(t, fused, 2)
	assert.Equal(t, "A", fused[0].ID)
	assert.Equal(t, "B", fused[1].ID)
	assert.Greater(t, fused[0].Score, fused[1].Score)
}

func TestAssessConfidence(t *testing.T) {
	results := func(scores ...float64) []SearchResult {
		out := make([]SearchResult, len(scores))
		for i, s := range scores {
			out[i].Score = s
		}
		return out
	}

	assert.Equal(t, ConfidenceCorrect, assessConfidence(results(0.9, 0.8, 0.7), 0.5, 0.4, 0.7))
	assert.Equal(t, ConfidenceAmbiguous, assessConfidence(results(0.9, 0.2, 0.1, 0.8), 0.5, 0.4, 0.7))
	assert.Equal(t, ConfidenceIncorrect, assessConfidence(results(0.2, 0.1, 0.3), 0.5, 0.4, 0.7))
	assert.Equal(t, ConfidenceIncorrect, assessConfidence(nil, 0.5, 0.4, 0.7))
}

func TestRouterHeuristics(t *testing.T) {
	r := newRouter(nil, false)
	ctx := context.Background()

	assert.Equal(t, RouteDirectAnswer, r.Classify(ctx, "hello there"))
	assert.Equal(t, RouteMultiHopRAG, r.Classify(ctx, "compare the two attention mechanisms"))
	assert.Equal(t, RouteMultiHopRAG, r.Classify(ctx, "what is the difference between BERT and GPT"))
	assert.Equal(t, RouteStandardRAG, r.Classify(ctx, "what dataset does the paper evaluate on"))
}

func TestSplitStatements(t *testing.T) {
	parts := splitStatements("The model has 12 layers. It was trained on C4. Evaluation used GLUE.")
	require.Len(t, parts, 3)
	assert.Contains(t, parts[0], "12 layers")
}

func TestParseYesNo(t *testing.T) {
	assert.True(t, parseYesNo("Yes", false))
	assert.True(t, parseYesNo("yes.", false))
	assert.False(t, parseYesNo("No, it is not relevant", true))
	assert.True(t, parseYesNo("maybe", true))
	assert.False(t, parseYesNo("unclear", false))
}
