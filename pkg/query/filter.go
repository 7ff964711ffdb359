package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/gateway"
	"github.com/thoth-kb/thoth/pkg/llm"
	"github.com/thoth-kb/thoth/pkg/observability"
)

// ArticleMetadata is what a scraper knows about a candidate article
// before any download happens.
type ArticleMetadata struct {
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Authors  []string `json:"authors,omitempty"`
	Year     int      `json:"year,omitempty"`
	DOI      string   `json:"doi,omitempty"`
	ArxivID  string   `json:"arxiv_id,omitempty"`
	PDFURL   string   `json:"pdf_url,omitempty"`
}

// Evaluation is the structured verdict the LLM returns for one query.
type Evaluation struct {
	Relevance       float64  `json:"relevance"`
	MatchedKeywords []string `json:"matched_keywords,omitempty"`
	TopicAnalysis   string   `json:"topic_analysis,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`

	// Recommendation is keep, reject or review.
	Recommendation string `json:"recommendation,omitempty"`

	Confidence float64 `json:"confidence,omitempty"`
}

// Decision is the filter outcome for one article.
type Decision struct {
	Fingerprint     string             `json:"article_fingerprint"`
	QueryScores     map[string]float64 `json:"query_scores"`
	MatchingQueries []string           `json:"matching_queries,omitempty"`
	BestQuery       string             `json:"best_query,omitempty"`
	BestScore       float64            `json:"best_score"`

	// Outcome is download, skip or error.
	Outcome string `json:"decision"`

	Reasoning string    `json:"reasoning,omitempty"`
	PDFPath   string    `json:"pdf_path,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	DecisionDownload = "download"
	DecisionSkip     = "skip"
	DecisionError    = "error"

	// noQueriesMarker explains a skip caused by an empty query store.
	noQueriesMarker = "no research queries configured"
)

// Filter scores candidate articles against the stored queries.
type Filter struct {
	cfg      config.FilterConfig
	store    *Store
	provider llm.Provider
	gw       *gateway.Gateway
	incoming string
	metrics  *observability.Metrics
}

// NewFilter builds a Filter. The gateway may be nil when PDF download is
// never requested; incoming is where downloaded PDFs land.
func NewFilter(cfg config.FilterConfig, store *Store, provider llm.Provider, gw *gateway.Gateway, incoming string, metrics *observability.Metrics) *Filter {
	return &Filter{
		cfg:      cfg,
		store:    store,
		provider: provider,
		gw:       gw,
		incoming: incoming,
		metrics:  metrics,
	}
}

// ProcessArticle evaluates an article against every stored query and
// decides download vs skip. The decision is appended to the decision
// log before returning.
func (f *Filter) ProcessArticle(ctx context.Context, meta ArticleMetadata, downloadPDF bool) (*Decision, error) {
	decision := &Decision{
		Fingerprint: Fingerprint(meta),
		QueryScores: make(map[string]float64),
		Timestamp:   time.Now().UTC(),
	}

	queries, err := f.store.List()
	if err != nil {
		decision.Outcome = DecisionError
		decision.Reasoning = err.Error()
		f.logDecision(decision)
		return decision, err
	}

	if len(queries) == 0 {
		decision.Outcome = DecisionSkip
		decision.Reasoning = noQueriesMarker
		f.metrics.FilterDecision(DecisionSkip)
		f.logDecision(decision)
		return decision, nil
	}

	var reasons []string
	for _, q := range queries {
		quick := QuickScore(q, meta)

		// The quick score only gates the expensive evaluation; the
		// decision itself rests on the LLM relevance.
		if f.cfg.QuickScoreThreshold > 0 && quick < f.cfg.QuickScoreThreshold {
			decision.QueryScores[q.Name] = round3(quick)
			continue
		}

		eval, err := f.evaluate(ctx, q, meta)
		if err != nil {
			slog.Warn("Query evaluation failed, scoring zero", "query", q.Name, "error", err)
			decision.QueryScores[q.Name] = 0
			continue
		}

		score := round3(eval.Relevance)
		decision.QueryScores[q.Name] = score
		if eval.Reasoning != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", q.Name, eval.Reasoning))
		}

		if score >= q.MinimumRelevanceScore {
			decision.MatchingQueries = append(decision.MatchingQueries, q.Name)
		}
	}

	sort.Strings(decision.MatchingQueries)
	decision.BestQuery, decision.BestScore = bestOf(decision.QueryScores)
	decision.Reasoning = strings.Join(reasons, " | ")

	if len(decision.MatchingQueries) > 0 {
		decision.Outcome = DecisionDownload
	} else {
		decision.Outcome = DecisionSkip
	}

	if decision.Outcome == DecisionDownload && downloadPDF {
		if path, err := f.downloadPDF(ctx, meta); err != nil {
			slog.Warn("PDF download failed, decision stands", "title", meta.Title, "error", err)
		} else {
			decision.PDFPath = path
		}
	}

	f.metrics.FilterDecision(decision.Outcome)
	f.logDecision(decision)
	return decision, nil
}

const evaluateSystem = `You judge whether academic papers are relevant to a standing research query. Respond with a single JSON object and nothing else.`

const evaluatePrompt = `Evaluate how relevant the article is to the research query.

Research query %q:
%s

Article:
Title: %s
Abstract: %s

Return a JSON object:
{"relevance": <0..1>, "matched_keywords": [...], "topic_analysis": "...", "reasoning": "...", "recommendation": "keep|reject|review", "confidence": <0..1>}`

func (f *Filter) evaluate(ctx context.Context, q ResearchQuery, meta ArticleMetadata) (*Evaluation, error) {
	var eval Evaluation
	err := llm.CompleteStructured(ctx, f.provider, llm.Request{
		System: evaluateSystem,
		Prompt: fmt.Sprintf(evaluatePrompt, q.Name, describeQuery(q), meta.Title, meta.Abstract),
	}, &eval)
	if err != nil {
		return nil, err
	}

	if eval.Relevance < 0 {
		eval.Relevance = 0
	}
	if eval.Relevance > 1 {
		eval.Relevance = 1
	}
	return &eval, nil
}

func describeQuery(q ResearchQuery) string {
	var sb strings.Builder
	if q.ResearchQuestion != "" {
		fmt.Fprintf(&sb, "Question: %s\n", q.ResearchQuestion)
	}
	if q.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", q.Description)
	}
	if len(q.Keywords) > 0 {
		fmt.Fprintf(&sb, "Keywords: %s\n", strings.Join(q.Keywords, ", "))
	}
	if len(q.RequiredTopics) > 0 {
		fmt.Fprintf(&sb, "Required topics: %s\n", strings.Join(q.RequiredTopics, ", "))
	}
	if len(q.PreferredTopics) > 0 {
		fmt.Fprintf(&sb, "Preferred topics: %s\n", strings.Join(q.PreferredTopics, ", "))
	}
	if len(q.ExcludedTopics) > 0 {
		fmt.Fprintf(&sb, "Excluded topics: %s\n", strings.Join(q.ExcludedTopics, ", "))
	}
	if len(q.MethodologyPreferences) > 0 {
		fmt.Fprintf(&sb, "Preferred methodologies: %s\n", strings.Join(q.MethodologyPreferences, ", "))
	}
	return sb.String()
}

// QuickScore is the cheap keyword-overlap score used to gate LLM
// evaluation: required topics weigh 0.4, keywords 0.4, preferred topics
// 0.2; every excluded-topic hit halves the total.
func QuickScore(q ResearchQuery, meta ArticleMetadata) float64 {
	text := strings.ToLower(meta.Title + " " + meta.Abstract)

	score := 0.4*overlap(text, q.RequiredTopics) +
		0.4*overlap(text, q.Keywords) +
		0.2*overlap(text, q.PreferredTopics)

	for _, excluded := range q.ExcludedTopics {
		if excluded != "" && strings.Contains(text, strings.ToLower(excluded)) {
			score /= 2
		}
	}
	return score
}

// overlap is the fraction of terms present in the text. An empty term
// list scores a full match so queries need not use every category.
func overlap(text string, terms []string) float64 {
	if len(terms) == 0 {
		return 1
	}
	hits := 0
	for _, term := range terms {
		if term != "" && strings.Contains(text, strings.ToLower(term)) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// bestOf returns the highest-scoring query; score ties favor the name
// that sorts first.
func bestOf(scores map[string]float64) (string, float64) {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	best := ""
	bestScore := math.Inf(-1)
	for _, name := range names {
		if scores[name] > bestScore {
			best = name
			bestScore = scores[name]
		}
	}
	if best == "" {
		return "", 0
	}
	return best, bestScore
}

func (f *Filter) downloadPDF(ctx context.Context, meta ArticleMetadata) (string, error) {
	if meta.PDFURL == "" {
		return "", fmt.Errorf("article has no pdf url")
	}
	if f.gw == nil {
		return "", fmt.Errorf("no gateway configured for downloads")
	}

	data, err := f.gw.Download(ctx, meta.PDFURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(f.incoming, 0o755); err != nil {
		return "", fmt.Errorf("failed to create incoming directory: %w", err)
	}

	name := SanitizeName(meta.Title)
	if name == "" {
		name = Fingerprint(meta)[:12]
	}
	path := filepath.Join(f.incoming, name+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write downloaded pdf: %w", err)
	}
	return path, nil
}

// logDecision appends to the JSONL decision log. Log failures never
// change the decision.
func (f *Filter) logDecision(d *Decision) {
	if f.cfg.DecisionLog == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(f.cfg.DecisionLog), 0o755); err != nil {
		slog.Warn("Failed to create decision log directory", "error", err)
		return
	}

	file, err := os.OpenFile(f.cfg.DecisionLog, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Failed to open decision log", "error", err)
		return
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(d); err != nil {
		slog.Warn("Failed to append decision", "error", err)
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Fingerprint derives a stable identifier for an article from its best
// available identity.
func Fingerprint(meta ArticleMetadata) string {
	switch {
	case meta.DOI != "":
		return "doi:" + strings.ToLower(meta.DOI)
	case meta.ArxivID != "":
		return "arxiv:" + strings.ToLower(meta.ArxivID)
	default:
		return "title:" + SanitizeName(meta.Title)
	}
}
