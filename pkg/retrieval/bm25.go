package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// bm25Index is the in-memory lexical index over chunks. It is rebuilt
// from the chunk table at startup and maintained incrementally, so both
// SQL dialects share one implementation.
type bm25Index struct {
	k1 float64
	b  float64

	mu        sync.RWMutex
	docs      map[string][]string // chunk id -> tokens
	docFreq   map[string]int
	totalLen  int
	stopwords map[string]bool
}

func newBM25Index() *bm25Index {
	return &bm25Index{
		k1:        1.5,
		b:         0.75,
		docs:      make(map[string][]string),
		docFreq:   make(map[string]int),
		stopwords: bm25Stopwords(),
	}
}

// Add indexes a chunk, replacing any previous content for the id.
func (idx *bm25Index) Add(id, content string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(id)

	tokens := idx.tokenize(content)
	idx.docs[id] = tokens
	idx.totalLen += len(tokens)
	for _, term := range uniqueTerms(tokens) {
		idx.docFreq[term]++
	}
}

// Remove drops a chunk from the index.
func (idx *bm25Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *bm25Index) removeLocked(id string) {
	tokens, ok := idx.docs[id]
	if !ok {
		return
	}
	idx.totalLen -= len(tokens)
	for _, term := range uniqueTerms(tokens) {
		if idx.docFreq[term] <= 1 {
			delete(idx.docFreq, term)
		} else {
			idx.docFreq[term]--
		}
	}
	delete(idx.docs, id)
}

type bm25Hit struct {
	ID    string
	Score float64
}

// Search ranks all indexed chunks against the query.
func (idx *bm25Index) Search(query string, topK int) []bm25Hit {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	numDocs := len(idx.docs)
	if numDocs == 0 {
		return nil
	}
	avgLen := float64(idx.totalLen) / float64(numDocs)

	queryTerms := uniqueTerms(idx.tokenize(query))
	if len(queryTerms) == 0 {
		return nil
	}

	var hits []bm25Hit
	for id, tokens := range idx.docs {
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}

		score := 0.0
		for _, term := range queryTerms {
			freq := tf[term]
			if freq == 0 {
				continue
			}
			df := idx.docFreq[term]
			idf := math.Log((float64(numDocs)-float64(df)+0.5)/(float64(df)+0.5) + 1)

			num := float64(freq) * (idx.k1 + 1)
			den := float64(freq) + idx.k1*(1-idx.b+idx.b*(float64(len(tokens))/avgLen))
			score += idf * (num / den)
		}
		if score > 0 {
			hits = append(hits, bm25Hit{ID: id, Score: score})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

var bm25TokenRe = regexp.MustCompile(`[^\w\s]`)

func (idx *bm25Index) tokenize(text string) []string {
	text = bm25TokenRe.ReplaceAllString(strings.ToLower(text), " ")
	words := strings.Fields(text)

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if !idx.stopwords[w] {
			tokens = append(tokens, w)
		}
	}
	return tokens
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func bm25Stopwords() map[string]bool {
	words := []string{
		"a", "an", "the", "and", "or", "but", "in", "on", "at", "to", "for",
		"of", "with", "by", "from", "as", "is", "was", "are", "were", "been",
		"be", "have", "has", "had", "do", "does", "did", "will", "would",
		"could", "should", "may", "might", "must", "shall", "can", "need",
		"this", "that", "these", "those", "what", "which", "who", "whom",
		"when", "where", "why", "how", "not", "no", "so", "than", "too",
		"very", "just", "also", "now",
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
