package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/llm"
	"github.com/thoth-kb/thoth/pkg/tracker"
)

// fakeConverter returns canned markdown regardless of the PDF bytes, so
// tests exercise the DAG without real PDF parsing.
type fakeConverter struct {
	markdown string
	calls    int
}

func (f *fakeConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	f.calls++
	return f.markdown, nil
}

const testMarkdown = `# Attention Is All You Need

## Abstract

We propose the Transformer, a model architecture relying entirely on attention.

## References

[1] Bahdanau et al. Neural machine translation. 2015.
`

const analyzeResponse = `{
	"title": "Attention Is All You Need",
	"authors": ["Ashish Vaswani"],
	"summary": "Introduces the Transformer architecture.",
	"methodology": "Sequence transduction experiments on WMT.",
	"key_points": ["Attention replaces recurrence"],
	"tags": ["transformers", "attention"]
}`

const extractResponse = `{
	"citations": [
		{"raw": "[1] Bahdanau et al. Neural machine translation. 2015.",
		 "title": "Neural Machine Translation",
		 "authors": ["Dzmitry Bahdanau"],
		 "year": 2015}
	]
}`

func testPipeline(t *testing.T, provider llm.Provider, conv Converter) (*Pipeline, string) {
	t.Helper()

	workspace := t.TempDir()
	paths := config.PathsConfig{Workspace: workspace}
	paths.SetDefaults()
	require.NoError(t, os.MkdirAll(paths.Incoming, 0o755))

	graph, err := citegraph.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	tr, err := tracker.New(filepath.Join(workspace, "ledger.json"))
	require.NoError(t, err)

	p, err := New(Options{
		Config:    config.PipelineConfig{StepTimeout: 30 * time.Second},
		Paths:     paths,
		Provider:  provider,
		Converter: conv,
		Graph:     graph,
		Tracker:   tr,
	})
	require.NoError(t, err)
	return p, paths.Incoming
}

func writePDF(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func happyProvider() *llm.StubProvider {
	return &llm.StubProvider{Responses: map[string]string{
		"Analyze the following academic paper": analyzeResponse,
		"List every reference cited":           extractResponse,
	}}
}

func TestProcessEndToEnd(t *testing.T) {
	conv := &fakeConverter{markdown: testMarkdown}
	p, incoming := testPipeline(t, happyProvider(), conv)

	pdf := writePDF(t, incoming, "attention.pdf", "%PDF-1.4 fake body")

	result, err := p.Process(context.Background(), pdf)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.False(t, result.AnalysisFailed)
	assert.NotEmpty(t, result.ArticleID)
	assert.Equal(t, 1, result.Citations)

	// Note rendered with analysis content and the reference list.
	note, err := os.ReadFile(result.NotePath)
	require.NoError(t, err)
	assert.Contains(t, string(note), "# Attention Is All You Need")
	assert.Contains(t, string(note), "Introduces the Transformer architecture.")
	assert.Contains(t, string(note), "Neural Machine Translation")

	// PDF moved next to the note; the original is gone.
	assert.FileExists(t, result.PDFPath)
	assert.Equal(t, filepath.Dir(result.NotePath), filepath.Dir(result.PDFPath))
	assert.NoFileExists(t, pdf)

	// Markdown artifact colocated too.
	assert.FileExists(t, result.MarkdownPath)

	// Article carries the final paths.
	article, err := p.graph.GetArticle(context.Background(), result.ArticleID)
	require.NoError(t, err)
	assert.Equal(t, result.NotePath, article.NotePath)
	assert.Equal(t, result.PDFPath, article.PDFPath)
}

func TestProcessSkipsKnownContent(t *testing.T) {
	conv := &fakeConverter{markdown: testMarkdown}
	p, incoming := testPipeline(t, happyProvider(), conv)

	first := writePDF(t, incoming, "paper.pdf", "%PDF-1.4 same bytes")
	result, err := p.Process(context.Background(), first)
	require.NoError(t, err)
	require.False(t, result.Skipped)

	// Same content under a new name short-circuits at the fingerprint
	// step: no conversion, same article.
	second := writePDF(t, incoming, "paper-copy.pdf", "%PDF-1.4 same bytes")
	again, err := p.Process(context.Background(), second)
	require.NoError(t, err)
	assert.True(t, again.Skipped)
	assert.Equal(t, result.ArticleID, again.ArticleID)
	assert.Equal(t, 1, conv.calls)
}

func TestProcessRerunsOnModifiedContent(t *testing.T) {
	conv := &fakeConverter{markdown: testMarkdown}
	p, incoming := testPipeline(t, happyProvider(), conv)

	pdf := writePDF(t, incoming, "paper.pdf", "%PDF-1.4 version one")
	_, err := p.Process(context.Background(), pdf)
	require.NoError(t, err)

	// A new file at the same path with different bytes is new work.
	pdf = writePDF(t, incoming, "paper.pdf", "%PDF-1.4 version two, revised")
	result, err := p.Process(context.Background(), pdf)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, conv.calls)
}

func TestProcessAnalysisFailureIsSoft(t *testing.T) {
	// Analysis (and its repair) return prose; extraction still works.
	provider := &llm.StubProvider{Responses: map[string]string{
		"Analyze the following academic paper": "I cannot produce JSON today.",
		"List every reference cited":           extractResponse,
	}}
	conv := &fakeConverter{markdown: testMarkdown}
	p, incoming := testPipeline(t, provider, conv)

	pdf := writePDF(t, incoming, "degraded.pdf", "%PDF-1.4 body")
	result, err := p.Process(context.Background(), pdf)
	require.NoError(t, err)
	assert.True(t, result.AnalysisFailed)
	assert.NotEmpty(t, result.ArticleID)

	note, err := os.ReadFile(result.NotePath)
	require.NoError(t, err)
	assert.Contains(t, string(note), "Analysis failed")
	assert.Contains(t, string(note), "# degraded", "falls back to the filename title")
}

func TestProcessRejectsNonPDF(t *testing.T) {
	p, incoming := testPipeline(t, happyProvider(), &fakeConverter{markdown: testMarkdown})

	path := writePDF(t, incoming, "notes.txt", "plain text")
	_, err := p.Process(context.Background(), path)
	assert.ErrorContains(t, err, "not a pdf")
}

func TestConversionCacheRoundTrip(t *testing.T) {
	cache := newConversionCache(t.TempDir())

	_, _, ok := cache.get("deadbeef")
	assert.False(t, ok)

	require.NoError(t, cache.put("deadbeef", "# Title\n![fig](a.png)", "# Title\n"))
	md, ni, ok := cache.get("deadbeef")
	require.True(t, ok)
	assert.Equal(t, "# Title\n![fig](a.png)", md)
	assert.Equal(t, "# Title\n", ni)
}

func TestStripImages(t *testing.T) {
	in := "Intro ![figure 1](images/fig1.png) text.\nPlain line.\n![](bare.png)"
	out := stripImages(in)
	assert.NotContains(t, out, "fig1.png")
	assert.NotContains(t, out, "![")
	assert.Contains(t, out, "Intro  text.")
	assert.Contains(t, out, "Plain line.")
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Attention Is All You Need":  "Attention Is All You Need",
		"BERT: Pre-training / Deep?": "BERT Pre-training  Deep",
		"":                           "untitled",
		"///":                        "untitled",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeFilename(in), "input %q", in)
	}
}
