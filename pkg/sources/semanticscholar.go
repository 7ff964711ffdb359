package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/gateway"
)

// SemanticScholar is the primary enhancement source: one batch call
// covers every citation that has an identifier.
type SemanticScholar struct {
	gw *gateway.Gateway
}

func NewSemanticScholar(gw *gateway.Gateway) *SemanticScholar {
	return &SemanticScholar{gw: gw}
}

const s2Fields = "title,authors,year,abstract,externalIds,openAccessPdf,isOpenAccess"

type s2Paper struct {
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Authors []struct {
		Name string `json:"name"`
	} `json:"authors"`
	Abstract    string `json:"abstract"`
	ExternalIDs struct {
		DOI   string `json:"DOI"`
		ArXiv string `json:"ArXiv"`
	} `json:"externalIds"`
	OpenAccessPdf *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
	IsOpenAccess *bool `json:"isOpenAccess"`
}

func (p *s2Paper) metadata() Metadata {
	m := Metadata{
		Title:        p.Title,
		Year:         p.Year,
		Abstract:     p.Abstract,
		DOI:          p.ExternalIDs.DOI,
		ArxivID:      p.ExternalIDs.ArXiv,
		IsOpenAccess: p.IsOpenAccess,
		Source:       "semanticscholar",
	}
	for _, a := range p.Authors {
		if a.Name != "" {
			m.Authors = append(m.Authors, a.Name)
		}
	}
	if p.OpenAccessPdf != nil {
		m.PDFURL = p.OpenAccessPdf.URL
	}
	return m
}

// paperID builds the Semantic Scholar identifier for a citation, or ""
// when it has none.
func paperID(c *citegraph.Citation) string {
	switch {
	case c.DOI != "":
		return "DOI:" + c.DOI
	case c.ArxivID != "":
		return "ARXIV:" + c.ArxivID
	default:
		return ""
	}
}

// LookupBatch resolves up to 500 citations with identifiers in one
// call. The result maps citation index to metadata; citations without
// identifiers are skipped.
func (s *SemanticScholar) LookupBatch(ctx context.Context, citations []citegraph.Citation) (map[int]Metadata, error) {
	var ids []string
	var positions []int
	for i := range citations {
		if id := paperID(&citations[i]); id != "" {
			ids = append(ids, id)
			positions = append(positions, i)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > 500 {
		ids = ids[:500]
		positions = positions[:500]
	}

	params := url.Values{"fields": {s2Fields}}
	raw, err := s.gw.Post(ctx, "semanticscholar", "/paper/batch?"+params.Encode(),
		map[string]interface{}{"ids": ids}, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic scholar batch lookup failed: %w", err)
	}

	// The response is positional; null entries mean "not found".
	var papers []*s2Paper
	if err := json.Unmarshal(raw, &papers); err != nil {
		return nil, fmt.Errorf("unexpected semantic scholar response: %w", err)
	}

	out := make(map[int]Metadata)
	for i, p := range papers {
		if i >= len(positions) || p == nil {
			continue
		}
		out[positions[i]] = p.metadata()
	}
	return out, nil
}

// LookupTitle finds a single paper by title match.
func (s *SemanticScholar) LookupTitle(ctx context.Context, title string) (*Metadata, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	raw, err := s.gw.Get(ctx, "semanticscholar", "/paper/search", url.Values{
		"query":  {title},
		"fields": {s2Fields},
		"limit":  {"1"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic scholar search failed: %w", err)
	}

	var resp struct {
		Data []s2Paper `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected semantic scholar response: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}

	m := resp.Data[0].metadata()
	return &m, nil
}
