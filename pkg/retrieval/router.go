package retrieval

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/thoth-kb/thoth/pkg/llm"
)

// router classifies a query before retrieval. The heuristic pass is
// free; the semantic pass embeds the query against per-route exemplars
// and picks the closest centroid.
type router struct {
	embedder llm.Embedder
	semantic bool

	// centroid vectors per route, computed lazily on first use
	centroids map[QueryRoute][]float32
}

func newRouter(embedder llm.Embedder, semantic bool) *router {
	return &router{embedder: embedder, semantic: semantic}
}

var multiHopMarkers = []string{
	"compare", "difference between", "versus", " vs ", "relationship between",
	"how do", "how does each", "across papers", "both papers", "trade-off",
	"contrast",
}

var directMarkers = []string{
	"hello", "hi ", "hey", "thanks", "thank you", "who are you",
	"what can you do", "help me understand how you work",
}

var routeExemplars = map[QueryRoute][]string{
	RouteDirectAnswer: {
		"hello there",
		"what can you help me with",
		"thanks for the answer",
	},
	RouteStandardRAG: {
		"what dataset does the paper use for evaluation",
		"summarize the main contribution of the attention paper",
		"which optimizer was used in the experiments",
	},
	RouteMultiHopRAG: {
		"compare the architectures of these two papers",
		"what is the relationship between the pretraining objective and downstream accuracy across papers",
		"how do the evaluation protocols differ between the cited works",
	},
}

// Classify picks a route. Heuristics run first; the semantic router is
// consulted only when enabled and the heuristics are inconclusive.
func (r *router) Classify(ctx context.Context, query string) QueryRoute {
	q := strings.ToLower(strings.TrimSpace(query))

	for _, marker := range directMarkers {
		if strings.HasPrefix(q, strings.TrimSpace(marker)) || q == strings.TrimSpace(marker) {
			return RouteDirectAnswer
		}
	}
	for _, marker := range multiHopMarkers {
		if strings.Contains(q, marker) {
			return RouteMultiHopRAG
		}
	}

	if r.semantic && r.embedder != nil {
		if route, ok := r.classifySemantic(ctx, query); ok {
			return route
		}
	}
	return RouteStandardRAG
}

func (r *router) classifySemantic(ctx context.Context, query string) (QueryRoute, bool) {
	if err := r.ensureCentroids(ctx); err != nil {
		slog.Warn("semantic router unavailable, using heuristic route", "error", err)
		return "", false
	}

	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) != 1 {
		slog.Warn("failed to embed query for routing", "error", err)
		return "", false
	}

	best := RouteStandardRAG
	bestScore := float32(-1)
	for route, centroid := range r.centroids {
		if score := cosine(vecs[0], centroid); score > bestScore {
			bestScore = score
			best = route
		}
	}
	return best, true
}

func (r *router) ensureCentroids(ctx context.Context) error {
	if r.centroids != nil {
		return nil
	}

	centroids := make(map[QueryRoute][]float32, len(routeExemplars))
	for route, examples := range routeExemplars {
		vecs, err := r.embedder.Embed(ctx, examples)
		if err != nil {
			return err
		}
		centroids[route] = meanVector(vecs)
	}
	r.centroids = centroids
	return nil
}

func meanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			out[i] += v[i]
		}
	}
	for i := range out {
		out[i] /= float32(len(vecs))
	}
	return out
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}
