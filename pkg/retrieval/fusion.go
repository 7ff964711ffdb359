package retrieval

import "sort"

// rankedList is one retriever's output, already ordered best-first.
type rankedList []string

// fuseRRF combines ranked lists with reciprocal-rank fusion:
// score(d) = Σ 1/(k + rank_i(d)) over every list containing d.
// Ties break on chunk id for determinism.
func fuseRRF(lists []rankedList, k int, topK int) []bm25Hit {
	if k <= 0 {
		k = 60
	}

	scores := make(map[string]float64)
	for _, list := range lists {
		for rank, id := range list {
			scores[id] += 1.0 / (float64(k) + float64(rank))
		}
	}

	fused := make([]bm25Hit, 0, len(scores))
	for id, score := range scores {
		fused = append(fused, bm25Hit{ID: id, Score: score})
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].ID < fused[j].ID
	})

	if topK > 0 && len(fused) > topK {
		fused = fused[:topK]
	}
	return fused
}
