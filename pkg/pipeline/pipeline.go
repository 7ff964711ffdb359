// Package pipeline implements the PDF ingestion DAG: fingerprint,
// convert, analyze, extract citations, enhance, register, note, index,
// record. A watcher feeds the pipeline from an incoming directory;
// Submit feeds it directly.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thoth-kb/thoth/pkg/analysis"
	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/enhance"
	"github.com/thoth-kb/thoth/pkg/llm"
	"github.com/thoth-kb/thoth/pkg/observability"
	"github.com/thoth-kb/thoth/pkg/retrieval"
	"github.com/thoth-kb/thoth/pkg/tracker"
)

// Options collects the pipeline's collaborators. Graph, Tracker and
// Provider are required; the rest degrade gracefully when absent.
type Options struct {
	Config config.PipelineConfig
	Paths  config.PathsConfig

	Schema   *analysis.SchemaConfig
	Provider llm.Provider

	// ContextBudget caps tokens per LLM call; longer texts are split.
	ContextBudget int

	Converter Converter
	Enhancer  *enhance.Enhancer
	Graph     *citegraph.Store
	Engine    *retrieval.Engine
	Tracker   *tracker.Tracker
	Metrics   *observability.Metrics
}

// Pipeline processes PDFs. Safe for concurrent use; the DAG for one PDF
// is sequential, distinct PDFs may run in parallel up to the watcher's
// worker count.
type Pipeline struct {
	cfg           config.PipelineConfig
	paths         config.PathsConfig
	schema        *analysis.SchemaConfig
	provider      llm.Provider
	contextBudget int
	converter     Converter
	cache         *conversionCache
	enhancer      *enhance.Enhancer
	graph         *citegraph.Store
	engine        *retrieval.Engine
	tracker       *tracker.Tracker
	metrics       *observability.Metrics
}

// Result reports what one pipeline run produced.
type Result struct {
	ArticleID    string
	NotePath     string
	MarkdownPath string
	PDFPath      string

	// Skipped means the content hash was already processed.
	Skipped bool

	// AnalysisFailed and CitationsFailed flag soft-step degradation;
	// the note still exists.
	AnalysisFailed  bool
	CitationsFailed bool

	Citations int
}

// New builds a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Graph == nil {
		return nil, fmt.Errorf("pipeline requires a citation graph store")
	}
	if opts.Tracker == nil {
		return nil, fmt.Errorf("pipeline requires a tracker")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("pipeline requires an llm provider")
	}

	cfg := opts.Config
	cfg.SetDefaults()

	schema := opts.Schema
	if schema == nil {
		schema = analysis.DefaultSchema()
	}

	converter := opts.Converter
	if converter == nil {
		converter = NewPDFConverter()
	}

	budget := opts.ContextBudget
	if budget <= 0 {
		budget = 100000
	}

	return &Pipeline{
		cfg:           cfg,
		paths:         opts.Paths,
		schema:        schema,
		provider:      opts.Provider,
		contextBudget: budget,
		converter:     converter,
		cache:         newConversionCache(opts.Paths.Cache),
		enhancer:      opts.Enhancer,
		graph:         opts.Graph,
		engine:        opts.Engine,
		tracker:       opts.Tracker,
		metrics:       opts.Metrics,
	}, nil
}

// Process runs the full DAG for one PDF. The whole run is bounded by
// 10x the per-step timeout.
func (p *Pipeline) Process(ctx context.Context, pdfPath string) (*Result, error) {
	if !strings.EqualFold(filepath.Ext(pdfPath), ".pdf") {
		p.metrics.PipelineOutcome("rejected")
		return nil, fmt.Errorf("not a pdf: %s", pdfPath)
	}
	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(abs); err != nil {
		p.metrics.PipelineOutcome("rejected")
		return nil, fmt.Errorf("pdf not readable: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*p.cfg.StepTimeout)
	defer cancel()

	result, err := p.run(ctx, abs)
	switch {
	case err != nil:
		p.metrics.PipelineOutcome("failed")
	case result.Skipped:
		p.metrics.PipelineOutcome("skipped")
	default:
		p.metrics.PipelineOutcome("processed")
	}
	return result, err
}

func (p *Pipeline) run(ctx context.Context, pdfPath string) (*Result, error) {
	log := slog.With("pdf", pdfPath)

	// Step 1: fingerprint. Known content short-circuits regardless of
	// where the file showed up.
	contentHash, size, err := p.step1Fingerprint(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	if entry, ok := p.tracker.FindContent(contentHash, size); ok {
		log.Info("PDF already processed, skipping", "note", entry.NotePath)
		return &Result{
			Skipped:   true,
			ArticleID: entry.ArticleID,
			NotePath:  entry.NotePath,
		}, nil
	}

	// Step 2: convert (cached by content hash).
	markdown, noImages, err := p.step2Convert(ctx, pdfPath, contentHash)
	if err != nil {
		return nil, fmt.Errorf("conversion failed: %w", err)
	}

	result := &Result{}

	// Step 3: analyze. Soft: a failed analysis degrades the note but
	// the markdown is preserved.
	record, err := p.step3Analyze(ctx, noImages)
	if err != nil {
		log.Warn("Analysis failed, continuing without record", "error", err)
		result.AnalysisFailed = true
	}

	// Step 4: extract citations. Soft: an empty list is acceptable.
	citations, err := p.step4Extract(ctx, noImages)
	if err != nil {
		log.Warn("Citation extraction failed, continuing without citations", "error", err)
		result.CitationsFailed = true
		citations = nil
	}

	// Step 5: enhance. Best-effort by construction.
	citations = p.step5Enhance(ctx, citations)

	// Step 6: register. Fatal: without an article id nothing else can
	// be recorded.
	articleID, err := p.step6Register(ctx, pdfPath, record, citations)
	if err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	result.ArticleID = articleID
	result.Citations = len(citations)

	// Step 7: render the note and move the PDF next to it.
	notePath, newPDFPath, markdownPath, err := p.step7Note(ctx, pdfPath, articleID, record, citations, contentHash, markdown)
	if err != nil {
		return nil, fmt.Errorf("note creation failed: %w", err)
	}
	result.NotePath = notePath
	result.PDFPath = newPDFPath
	result.MarkdownPath = markdownPath

	// Update the article with its artifact paths; merge semantics fill
	// only what registration left empty.
	if _, err := p.graph.RegisterArticle(ctx, citegraph.Article{
		ID:           articleID,
		Title:        titleFor(record, pdfPath),
		PDFPath:      newPDFPath,
		NotePath:     notePath,
		MarkdownPath: markdownPath,
	}); err != nil {
		log.Warn("Failed to record artifact paths", "error", err)
	}

	// Step 8: index. Warn-only: the article is registered either way.
	p.step8Index(ctx, articleID, noImages, log)

	// Step 9: record.
	if err := p.step9Record(newPDFPath, notePath, articleID); err != nil {
		return result, fmt.Errorf("tracker update failed: %w", err)
	}

	log.Info("PDF processed",
		"article", articleID,
		"note", notePath,
		"citations", len(citations),
		"analysis_failed", result.AnalysisFailed)
	return result, nil
}

func (p *Pipeline) step1Fingerprint(ctx context.Context, pdfPath string) (string, int64, error) {
	defer p.observe("fingerprint")()
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	return p.tracker.Fingerprint(pdfPath)
}

func (p *Pipeline) step2Convert(ctx context.Context, pdfPath, contentHash string) (markdown, noImages string, err error) {
	defer p.observe("convert")()

	if md, ni, ok := p.cache.get(contentHash); ok {
		slog.Debug("Conversion cache hit", "pdf", pdfPath)
		return md, ni, nil
	}

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	markdown, err = p.converter.Convert(stepCtx, pdfPath)
	if err != nil {
		return "", "", err
	}
	noImages = stripImages(markdown)

	if err := p.cache.put(contentHash, markdown, noImages); err != nil {
		slog.Warn("Failed to cache conversion", "pdf", pdfPath, "error", err)
	}
	return markdown, noImages, nil
}

func (p *Pipeline) step3Analyze(ctx context.Context, noImages string) (*analysis.Record, error) {
	defer p.observe("analyze")()

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.analyze(stepCtx, noImages)
}

func (p *Pipeline) step4Extract(ctx context.Context, noImages string) ([]citegraph.Citation, error) {
	defer p.observe("extract")()

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.extractCitations(stepCtx, noImages)
}

func (p *Pipeline) step5Enhance(ctx context.Context, citations []citegraph.Citation) []citegraph.Citation {
	defer p.observe("enhance")()

	if p.enhancer == nil || len(citations) == 0 {
		return citations
	}

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.enhancer.Enhance(stepCtx, citations)
}

func (p *Pipeline) step6Register(ctx context.Context, pdfPath string, record *analysis.Record, citations []citegraph.Citation) (string, error) {
	defer p.observe("register")()

	// Artifact paths are recorded after the note step moves the PDF;
	// setting them here would freeze the pre-move location.
	article := citegraph.Article{
		Title: titleFor(record, pdfPath),
	}
	if record != nil {
		article.Authors = record.Authors
		article.Tags = record.Tags
		article.Abstract = record.Summary
	}

	articleID, err := p.graph.RegisterArticle(ctx, article)
	if err != nil {
		return "", err
	}

	if len(citations) > 0 {
		if err := p.graph.AddCitations(ctx, articleID, citations); err != nil {
			return "", err
		}
	}

	if resolved, err := p.graph.ResolvePending(ctx, articleID); err != nil {
		slog.Warn("Pending citation resolution failed", "article", articleID, "error", err)
	} else if resolved > 0 {
		slog.Info("Resolved pending citations", "article", articleID, "count", resolved)
	}

	return articleID, nil
}

func (p *Pipeline) step7Note(ctx context.Context, pdfPath, articleID string, record *analysis.Record, citations []citegraph.Citation, contentHash, markdown string) (notePath, newPDFPath, markdownPath string, err error) {
	defer p.observe("note")()
	if err := ctx.Err(); err != nil {
		return "", "", "", err
	}

	notePath, err = p.renderNote(articleID, record, citations, titleFor(record, pdfPath))
	if err != nil {
		return "", "", "", err
	}

	newPDFPath, err = movePDF(pdfPath, notePath)
	if err != nil {
		return "", "", "", err
	}

	// The converted markdown lives beside the note too, so the three
	// artifacts stay together.
	markdownPath = strings.TrimSuffix(notePath, ".md") + ".text.md"
	if err := os.WriteFile(markdownPath, []byte(markdown), 0o644); err != nil {
		return "", "", "", fmt.Errorf("failed to write markdown artifact: %w", err)
	}

	return notePath, newPDFPath, markdownPath, nil
}

func (p *Pipeline) step8Index(ctx context.Context, articleID, noImages string, log *slog.Logger) {
	defer p.observe("index")()

	if p.engine == nil {
		return
	}

	stepCtx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	if err := p.engine.IndexPaper(stepCtx, articleID, noImages); err != nil {
		log.Warn("Indexing failed, article remains registered", "article", articleID, "error", err)
	}
}

func (p *Pipeline) step9Record(pdfPath, notePath, articleID string) error {
	defer p.observe("record")()
	return p.tracker.MarkProcessed(pdfPath, tracker.Metadata{
		NotePath:  notePath,
		ArticleID: articleID,
	})
}

func (p *Pipeline) observe(step string) func() {
	start := time.Now()
	return func() {
		p.metrics.ObserveStep(step, time.Since(start))
	}
}

// titleFor picks the best available title: the analysis record's, else
// the filename.
func titleFor(record *analysis.Record, pdfPath string) string {
	if record != nil && record.Title != "" {
		return record.Title
	}
	base := filepath.Base(pdfPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
