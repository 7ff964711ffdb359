package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/gateway"
)

// Arxiv queries the arXiv Atom API. arXiv PDFs are always open access,
// so a hit doubles as a PDF location.
type Arxiv struct {
	gw *gateway.Gateway
}

func NewArxiv(gw *gateway.Gateway) *Arxiv {
	return &Arxiv{gw: gw}
}

type arxivFeed struct {
	Entries []arxivEntry `xml:"entry"`
}

type arxivEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href string `xml:"href,attr"`
		Type string `xml:"type,attr"`
	} `xml:"link"`
}

func (e *arxivEntry) metadata() Metadata {
	m := Metadata{
		Title:    strings.Join(strings.Fields(e.Title), " "),
		Abstract: strings.TrimSpace(e.Summary),
		ArxivID:  citegraph.NormalizeArxivID(e.ID),
		Source:   "arxiv",
	}
	for _, a := range e.Authors {
		if a.Name != "" {
			m.Authors = append(m.Authors, a.Name)
		}
	}
	if len(e.Published) >= 4 {
		fmt.Sscanf(e.Published[:4], "%d", &m.Year)
	}
	for _, l := range e.Links {
		if l.Type == "application/pdf" {
			m.PDFURL = l.Href
			break
		}
	}
	if m.PDFURL == "" && m.ArxivID != "" {
		m.PDFURL = "https://arxiv.org/pdf/" + m.ArxivID
	}
	open := true
	m.IsOpenAccess = &open
	return m
}

// LookupID fetches one entry by arXiv identifier.
func (a *Arxiv) LookupID(ctx context.Context, arxivID string) (*Metadata, error) {
	return a.query(ctx, url.Values{"id_list": {citegraph.NormalizeArxivID(arxivID)}})
}

// LookupTitle searches by exact-ish title.
func (a *Arxiv) LookupTitle(ctx context.Context, title string) (*Metadata, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}
	return a.query(ctx, url.Values{
		"search_query": {`ti:"` + title + `"`},
		"max_results":  {"1"},
	})
}

func (a *Arxiv) query(ctx context.Context, params url.Values) (*Metadata, error) {
	raw, err := a.gw.Get(ctx, "arxiv", "/query", params, nil)
	if err != nil {
		return nil, fmt.Errorf("arxiv query failed: %w", err)
	}

	var feed arxivFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		return nil, fmt.Errorf("unexpected arxiv response: %w", err)
	}
	if len(feed.Entries) == 0 {
		return nil, nil
	}

	m := feed.Entries[0].metadata()
	return &m, nil
}
