package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/thoth-kb/thoth/pkg/gateway"
)

// OpenAlex is a broad bibliographic source with OA locations.
type OpenAlex struct {
	gw *gateway.Gateway
}

func NewOpenAlex(gw *gateway.Gateway) *OpenAlex {
	return &OpenAlex{gw: gw}
}

type openAlexWork struct {
	Title           string `json:"title"`
	DOI             string `json:"doi"`
	PublicationYear int    `json:"publication_year"`
	Authorships     []struct {
		Author struct {
			DisplayName string `json:"display_name"`
		} `json:"author"`
	} `json:"authorships"`
	OpenAccess struct {
		IsOA  bool   `json:"is_oa"`
		OAURL string `json:"oa_url"`
	} `json:"open_access"`
}

func (w *openAlexWork) metadata() Metadata {
	m := Metadata{
		Title:        w.Title,
		Year:         w.PublicationYear,
		DOI:          w.DOI,
		PDFURL:       w.OpenAccess.OAURL,
		IsOpenAccess: &w.OpenAccess.IsOA,
		Source:       "openalex",
	}
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			m.Authors = append(m.Authors, a.Author.DisplayName)
		}
	}
	return m
}

// LookupDOI fetches one work by DOI.
func (o *OpenAlex) LookupDOI(ctx context.Context, doi string) (*Metadata, error) {
	raw, err := o.gw.Get(ctx, "openalex", "/works/doi:"+url.PathEscape(doi), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("openalex lookup failed: %w", err)
	}

	var work openAlexWork
	if err := json.Unmarshal(raw, &work); err != nil {
		return nil, fmt.Errorf("unexpected openalex response: %w", err)
	}

	m := work.metadata()
	return &m, nil
}

// LookupTitle finds the closest title match.
func (o *OpenAlex) LookupTitle(ctx context.Context, title string) (*Metadata, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	raw, err := o.gw.Get(ctx, "openalex", "/works", url.Values{
		"filter":   {"title.search:" + title},
		"per-page": {"1"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("openalex search failed: %w", err)
	}

	var resp struct {
		Results []openAlexWork `json:"results"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected openalex response: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}

	m := resp.Results[0].metadata()
	return &m, nil
}
