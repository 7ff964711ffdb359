package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/thoth-kb/thoth/pkg/gateway"
)

// PubMed resolves biomedical papers through the E-utilities API: an
// esearch call to find the PMID, then esummary for the record.
type PubMed struct {
	gw *gateway.Gateway
}

func NewPubMed(gw *gateway.Gateway) *PubMed {
	return &PubMed{gw: gw}
}

// LookupTitle searches PubMed by title.
func (p *PubMed) LookupTitle(ctx context.Context, title string) (*Metadata, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	raw, err := p.gw.Get(ctx, "pubmed", "/esearch.fcgi", url.Values{
		"db":      {"pubmed"},
		"term":    {title + "[Title]"},
		"retmode": {"json"},
		"retmax":  {"1"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("pubmed search failed: %w", err)
	}

	var search struct {
		ESearchResult struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(raw, &search); err != nil {
		return nil, fmt.Errorf("unexpected pubmed response: %w", err)
	}
	if len(search.ESearchResult.IDList) == 0 {
		return nil, nil
	}

	return p.summary(ctx, search.ESearchResult.IDList[0])
}

func (p *PubMed) summary(ctx context.Context, pmid string) (*Metadata, error) {
	raw, err := p.gw.Get(ctx, "pubmed", "/esummary.fcgi", url.Values{
		"db":      {"pubmed"},
		"id":      {pmid},
		"retmode": {"json"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("pubmed summary failed: %w", err)
	}

	var resp struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected pubmed response: %w", err)
	}

	var record struct {
		Title   string `json:"title"`
		PubDate string `json:"pubdate"`
		Authors []struct {
			Name string `json:"name"`
		} `json:"authors"`
		ArticleIDs []struct {
			IDType string `json:"idtype"`
			Value  string `json:"value"`
		} `json:"articleids"`
	}
	rawRecord, ok := resp.Result[pmid]
	if !ok {
		return nil, nil
	}
	if err := json.Unmarshal(rawRecord, &record); err != nil {
		return nil, fmt.Errorf("unexpected pubmed record: %w", err)
	}

	m := Metadata{Title: record.Title, Source: "pubmed"}
	for _, a := range record.Authors {
		if a.Name != "" {
			m.Authors = append(m.Authors, a.Name)
		}
	}
	if len(record.PubDate) >= 4 {
		fmt.Sscanf(record.PubDate[:4], "%d", &m.Year)
	}
	for _, id := range record.ArticleIDs {
		if id.IDType == "doi" {
			m.DOI = id.Value
			break
		}
	}
	return &m, nil
}
