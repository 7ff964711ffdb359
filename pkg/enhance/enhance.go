// Package enhance fills missing citation metadata from external research
// APIs. A single Semantic Scholar batch call covers every citation with an
// identifier; citations still incomplete after that go through per-citation
// fallback lookups in a bounded worker pool. External failures never
// cascade: a citation keeps its best-known fields.
package enhance

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/gateway"
	"github.com/thoth-kb/thoth/pkg/sources"
)

const defaultWorkers = 3

// Enhancer runs the citation enhancement pass.
type Enhancer struct {
	s2       *sources.SemanticScholar
	crossref *sources.Crossref
	pubmed   *sources.PubMed
	opencite *sources.OpenCitations
	locator  *sources.Locator
	workers  int
}

// New builds an Enhancer over the gateway. workers bounds the fallback
// fan-out; zero means the default of 3.
func New(gw *gateway.Gateway, workers int, contactEmail string) *Enhancer {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Enhancer{
		s2:       sources.NewSemanticScholar(gw),
		crossref: sources.NewCrossref(gw),
		pubmed:   sources.NewPubMed(gw),
		opencite: sources.NewOpenCitations(gw),
		locator:  sources.NewLocator(gw, contactEmail),
		workers:  workers,
	}
}

// Enhance fills in missing fields on the citations in place and returns
// the slice. The merge is monotonic: existing fields are never cleared
// or overwritten.
func (e *Enhancer) Enhance(ctx context.Context, citations []citegraph.Citation) []citegraph.Citation {
	if len(citations) == 0 {
		return citations
	}

	// Batch pass first: one call resolves everything with a DOI or
	// arXiv id.
	batch, err := e.s2.LookupBatch(ctx, citations)
	if err != nil {
		slog.Warn("Semantic Scholar batch lookup failed, falling back per citation", "error", err)
	}
	for i, m := range batch {
		m.Apply(&citations[i])
	}

	// Fallback fan-out for whatever the batch left incomplete.
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range citations {
		if sources.Complete(&citations[i]) {
			continue
		}
		c := &citations[i]
		g.Go(func() error {
			e.fallback(ctx, c)
			return nil
		})
	}
	g.Wait()

	return citations
}

// fallback runs the per-citation lookups: Crossref (then PubMed) for
// missing bibliographic fields, the PDF locator for a missing PDF URL.
func (e *Enhancer) fallback(ctx context.Context, c *citegraph.Citation) {
	if c.Title == "" || len(c.Authors) == 0 || c.Year == 0 || c.DOI == "" {
		e.applyLookup(c, "crossref", func() (*sources.Metadata, error) {
			if c.DOI != "" {
				return e.crossref.LookupDOI(ctx, c.DOI)
			}
			return e.crossref.LookupTitle(ctx, c.Title)
		})
	}
	if c.DOI == "" && c.ArxivID == "" && c.Title != "" {
		e.applyLookup(c, "semanticscholar", func() (*sources.Metadata, error) {
			return e.s2.LookupTitle(ctx, c.Title)
		})
	}
	if c.DOI == "" && c.Title != "" {
		e.applyLookup(c, "pubmed", func() (*sources.Metadata, error) {
			return e.pubmed.LookupTitle(ctx, c.Title)
		})
	}
	if c.PDFURL == "" {
		if m := e.locator.FindPDF(ctx, c); m != nil {
			m.Apply(c)
		}
	}
}

func (e *Enhancer) applyLookup(c *citegraph.Citation, source string, run func() (*sources.Metadata, error)) {
	m, err := run()
	if err != nil {
		slog.Debug("citation lookup failed", "source", source, "title", c.Title, "error", err)
		return
	}
	if m != nil {
		m.Apply(c)
	}
}

// EnhanceStored re-runs enhancement over an article's persisted
// citations and saves any fields that were filled in.
func (e *Enhancer) EnhanceStored(ctx context.Context, graph *citegraph.Store, articleID string) (int, error) {
	citations, err := graph.CitationsFor(ctx, articleID)
	if err != nil {
		return 0, err
	}

	before := make([]citegraph.Citation, len(citations))
	copy(before, citations)

	e.Enhance(ctx, citations)

	updated := 0
	for i := range citations {
		if citationEqual(&before[i], &citations[i]) {
			continue
		}
		if err := graph.UpdateCitation(ctx, citations[i]); err != nil {
			slog.Warn("failed to persist enhanced citation", "citation", citations[i].ID, "error", err)
			continue
		}
		updated++
	}
	return updated, nil
}

// DiscoverReferences asks OpenCitations for the papers a DOI cites and
// returns them as unresolved citation stubs.
func (e *Enhancer) DiscoverReferences(ctx context.Context, doi string) ([]citegraph.Citation, error) {
	dois, err := e.opencite.References(ctx, doi)
	if err != nil {
		return nil, err
	}
	out := make([]citegraph.Citation, 0, len(dois))
	for _, d := range dois {
		out = append(out, citegraph.Citation{DOI: citegraph.NormalizeDOI(d)})
	}
	return out, nil
}

func citationEqual(a, b *citegraph.Citation) bool {
	if a.Title != b.Title || a.Year != b.Year || a.DOI != b.DOI ||
		a.ArxivID != b.ArxivID || a.PDFURL != b.PDFURL ||
		a.PDFSource != b.PDFSource || len(a.Authors) != len(b.Authors) {
		return false
	}
	for i := range a.Authors {
		if a.Authors[i] != b.Authors[i] {
			return false
		}
	}
	if (a.IsOpenAccess == nil) != (b.IsOpenAccess == nil) {
		return false
	}
	return a.IsOpenAccess == nil || *a.IsOpenAccess == *b.IsOpenAccess
}
