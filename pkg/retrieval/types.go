// Package retrieval answers questions over the article corpus with
// hybrid dense+lexical search and an agentic correction pipeline.
package retrieval

// Chunk is one retrieval unit: a contiguous slice of an article's
// markdown plus positioning metadata.
type Chunk struct {
	ID        string `json:"id"`
	ArticleID string `json:"article_id"`
	Index     int    `json:"chunk_index"`
	Type      string `json:"chunk_type"`
	Content   string `json:"content"`
}

// Chunk types.
const (
	ChunkAbstract  = "abstract"
	ChunkSection   = "section"
	ChunkReference = "reference"
)

// SearchResult is a scored chunk returned from hybrid search.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// QueryRoute classifies how a query should be handled.
type QueryRoute string

const (
	RouteDirectAnswer QueryRoute = "direct_answer"
	RouteStandardRAG  QueryRoute = "standard_rag"
	RouteMultiHopRAG  QueryRoute = "multi_hop_rag"
)

// Confidence is the CRAG tri-level assessment of retrieval quality.
type Confidence string

const (
	ConfidenceCorrect   Confidence = "correct"
	ConfidenceAmbiguous Confidence = "ambiguous"
	ConfidenceIncorrect Confidence = "incorrect"
)

// Answer is the final output of Ask.
type Answer struct {
	Text       string         `json:"text"`
	Sources    []SearchResult `json:"sources,omitempty"`
	Route      QueryRoute     `json:"route"`
	Confidence Confidence     `json:"confidence,omitempty"`

	// Warning is set when the answer failed the grounding check twice
	// and is surfaced anyway.
	Warning string `json:"warning,omitempty"`

	// NotFound is set when retrieval confidence was too low to answer
	// from the local corpus.
	NotFound bool `json:"not_found,omitempty"`
}
