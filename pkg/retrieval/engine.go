package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/llm"
	"github.com/thoth-kb/thoth/pkg/observability"
	"github.com/thoth-kb/thoth/pkg/vector"
)

// Engine owns the chunk table, the lexical index and the vector
// collection. Ingestion hands it markdown via IndexPaper; queries come
// in through Search and Ask.
type Engine struct {
	cfg        config.RetrievalConfig
	collection string

	chunks   *chunkStore
	lexical  *bm25Index
	vectors  vector.Provider
	embedder llm.Embedder
	provider llm.Provider

	chunker  *chunker
	router   *router
	grader   *grader
	enricher *enricher
	answerer *answerer

	metrics *observability.Metrics
}

// Option configures the engine.
type Option func(*Engine)

// WithMetrics attaches prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New builds the engine and warms the lexical index from the chunk
// table.
func New(ctx context.Context, cfg config.RetrievalConfig, collection string, graph *citegraph.Store, vectors vector.Provider, provider llm.Provider, embedder llm.Embedder, opts ...Option) (*Engine, error) {
	chunks, err := newChunkStore(ctx, graph)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:        cfg,
		collection: collection,
		chunks:     chunks,
		lexical:    newBM25Index(),
		vectors:    vectors,
		embedder:   embedder,
		provider:   provider,
		chunker:    newChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		router:     newRouter(embedder, cfg.SemanticRouter),
		grader:     newGrader(provider, cfg.GradeBatch),
		enricher:   newEnricher(provider, cfg.EnrichBatch),
		answerer:   newAnswerer(provider, cfg.HallucinationMode),
	}
	for _, opt := range opts {
		opt(e)
	}

	stored, err := chunks.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range stored {
		e.lexical.Add(c.ID, c.Content)
	}
	if len(stored) > 0 {
		slog.Info("warmed lexical index", "chunks", len(stored))
	}

	return e, nil
}

// IndexPaper chunks, optionally enriches, embeds and indexes one
// article's markdown. Re-indexing an article replaces its chunks.
func (e *Engine) IndexPaper(ctx context.Context, articleID, markdown string) error {
	if articleID == "" {
		return fmt.Errorf("article id is required")
	}

	chunks := e.chunker.Split(articleID, markdown)
	if len(chunks) == 0 {
		return nil
	}

	if e.cfg.Enrich {
		e.enricher.Enrich(ctx, markdown, chunks)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	// Clear any previous index state for the article.
	old, err := e.chunks.DeleteArticle(ctx, articleID)
	if err != nil {
		return err
	}
	for _, id := range old {
		e.lexical.Remove(id)
	}
	if err := e.vectors.DeleteByFilter(ctx, e.collection, map[string]any{"article_id": articleID}); err != nil {
		slog.Warn("failed to clear old vectors", "article", articleID, "error", err)
	}

	if err := e.chunks.ReplaceArticle(ctx, articleID, chunks); err != nil {
		return err
	}
	for i, c := range chunks {
		e.lexical.Add(c.ID, c.Content)
		err := e.vectors.Upsert(ctx, e.collection, c.ID, embeddings[i], map[string]any{
			"article_id":  c.ArticleID,
			"chunk_index": c.Index,
			"chunk_type":  c.Type,
			"content":     c.Content,
		})
		if err != nil {
			return fmt.Errorf("failed to index vector: %w", err)
		}
	}

	slog.Info("indexed article", "article", articleID, "chunks", len(chunks))
	return nil
}

// RemovePaper drops an article from both indexes.
func (e *Engine) RemovePaper(ctx context.Context, articleID string) error {
	ids, err := e.chunks.DeleteArticle(ctx, articleID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		e.lexical.Remove(id)
	}
	if err := e.vectors.DeleteByFilter(ctx, e.collection, map[string]any{"article_id": articleID}); err != nil {
		return fmt.Errorf("failed to remove vectors: %w", err)
	}
	return nil
}

// Search runs hybrid retrieval and returns the fused top results with
// scores normalized to [0, 1].
func (e *Engine) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	return e.hybridSearch(ctx, query, topK)
}

func (e *Engine) hybridSearch(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	var dense rankedList
	var sparse rankedList

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		vecs, err := e.embedder.Embed(gctx, []string{query})
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		hits, err := e.vectors.Search(gctx, e.collection, vecs[0], topK)
		if err != nil {
			return fmt.Errorf("dense search failed: %w", err)
		}
		for _, h := range hits {
			dense = append(dense, h.ID)
		}
		return nil
	})
	eg.Go(func() error {
		for _, h := range e.lexical.Search(query, topK) {
			sparse = append(sparse, h.ID)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	fused := fuseRRF([]rankedList{dense, sparse}, e.cfg.FusionK, topK)
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	for i, h := range fused {
		ids[i] = h.ID
	}
	byID, err := e.chunks.Get(ctx, ids)
	if err != nil {
		return nil, err
	}

	// Normalize fused scores so the top hit scores 1.0; downstream
	// confidence thresholds work on this scale.
	max := fused[0].Score
	out := make([]SearchResult, 0, len(fused))
	for _, h := range fused {
		c, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, SearchResult{Chunk: c, Score: h.Score / max})
	}
	return out, nil
}

// Ask runs the full agentic pipeline: route, retrieve, grade, assess,
// correct, answer, verify. Every stage fails open toward the best
// available intermediate answer.
func (e *Engine) Ask(ctx context.Context, query string) (*Answer, error) {
	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.RetrievalLatency.Observe(time.Since(start).Seconds())
		}
	}()

	route := e.router.Classify(ctx, query)
	e.metrics.RetrievalStage("route", string(route))

	if route == RouteDirectAnswer {
		text, err := e.answerer.Direct(ctx, query)
		if err != nil {
			return nil, err
		}
		return &Answer{Text: text, Route: route}, nil
	}

	queries := []string{query}
	if route == RouteMultiHopRAG {
		queries = decompose(ctx, e.provider, query)
	}

	merged := e.retrieveAll(ctx, queries)
	e.metrics.RetrievalStage("retrieve", outcomeLabel(len(merged) > 0))

	kept := e.grader.Grade(ctx, query, merged)
	e.metrics.RetrievalStage("grade", outcomeLabel(len(kept) > 0))

	confidence := assessConfidence(kept, e.cfg.RelevanceFloor, e.cfg.LowerConfidence, e.cfg.UpperConfidence)
	e.metrics.RetrievalStage("confidence", string(confidence))

	switch confidence {
	case ConfidenceIncorrect:
		return &Answer{
			Text:       "No sufficiently relevant material found in the local corpus.",
			Route:      route,
			Confidence: confidence,
			NotFound:   true,
		}, nil
	case ConfidenceAmbiguous:
		kept = refineStrips(ctx, e.grader, query, kept)
	}

	text, err := e.answerer.Generate(ctx, query, kept, false)
	if err != nil {
		// Fail open with the retrieved sources and no generated text.
		return &Answer{
			Route:      route,
			Confidence: confidence,
			Sources:    kept,
			Warning:    "answer generation failed",
		}, nil
	}

	answer := &Answer{Text: text, Route: route, Confidence: confidence, Sources: kept}

	if !e.answerer.CheckGrounded(ctx, text, kept) {
		e.metrics.RetrievalStage("hallucination", "retry")

		retried, err := e.answerer.Generate(ctx, query, kept, true)
		if err == nil && retried != "" {
			answer.Text = retried
		}
		if !e.answerer.CheckGrounded(ctx, answer.Text, kept) {
			answer.Warning = "answer may contain claims not supported by the sources"
			e.metrics.RetrievalStage("hallucination", "flagged")
		}
	}

	return answer, nil
}

// retrieveAll merges hybrid results of all sub-queries, keeping the
// best score per chunk.
func (e *Engine) retrieveAll(ctx context.Context, queries []string) []SearchResult {
	best := make(map[string]SearchResult)
	for _, q := range queries {
		results, err := e.hybridSearch(ctx, q, e.cfg.TopK)
		if err != nil {
			slog.Warn("hybrid search failed for sub-query", "query", q, "error", err)
			continue
		}
		for _, r := range results {
			if prev, ok := best[r.Chunk.ID]; !ok || r.Score > prev.Score {
				best[r.Chunk.ID] = r
			}
		}
	}

	out := make([]SearchResult, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sortResults(out)
	if len(out) > e.cfg.TopK {
		out = out[:e.cfg.TopK]
	}
	return out
}

func sortResults(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "empty"
}
