package sources

import (
	"context"
	"log/slog"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/gateway"
)

// Locator aggregates the PDF-location sources in priority order:
// unpaywall, arxiv, openalex, biorxiv. The first source that yields a
// PDF URL wins; individual source failures are logged and skipped.
type Locator struct {
	unpaywall *Unpaywall
	arxiv     *Arxiv
	openalex  *OpenAlex
	biorxiv   *BioRxiv
}

func NewLocator(gw *gateway.Gateway, contactEmail string) *Locator {
	return &Locator{
		unpaywall: NewUnpaywall(gw, contactEmail),
		arxiv:     NewArxiv(gw),
		openalex:  NewOpenAlex(gw),
		biorxiv:   NewBioRxiv(gw),
	}
}

// FindPDF locates a PDF for the citation. Returns empty metadata when
// no source knows the paper.
func (l *Locator) FindPDF(ctx context.Context, c *citegraph.Citation) *Metadata {
	type lookup struct {
		name string
		run  func() (*Metadata, error)
	}

	var lookups []lookup
	if c.DOI != "" {
		lookups = append(lookups,
			lookup{"unpaywall", func() (*Metadata, error) { return l.unpaywall.LookupDOI(ctx, c.DOI) }})
	}
	if c.ArxivID != "" {
		lookups = append(lookups,
			lookup{"arxiv", func() (*Metadata, error) { return l.arxiv.LookupID(ctx, c.ArxivID) }})
	} else if c.Title != "" {
		lookups = append(lookups,
			lookup{"arxiv", func() (*Metadata, error) { return l.arxiv.LookupTitle(ctx, c.Title) }})
	}
	if c.DOI != "" {
		lookups = append(lookups,
			lookup{"openalex", func() (*Metadata, error) { return l.openalex.LookupDOI(ctx, c.DOI) }},
			lookup{"biorxiv", func() (*Metadata, error) { return l.biorxiv.LookupDOI(ctx, c.DOI) }})
	} else if c.Title != "" {
		lookups = append(lookups,
			lookup{"openalex", func() (*Metadata, error) { return l.openalex.LookupTitle(ctx, c.Title) }})
	}

	for _, lk := range lookups {
		m, err := lk.run()
		if err != nil {
			slog.Debug("pdf locator source failed", "source", lk.name, "error", err)
			continue
		}
		if m != nil && m.PDFURL != "" {
			return m
		}
	}
	return nil
}
