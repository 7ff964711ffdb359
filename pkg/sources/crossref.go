package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/thoth-kb/thoth/pkg/gateway"
)

// Crossref resolves DOIs and bibliographic queries.
type Crossref struct {
	gw *gateway.Gateway
}

func NewCrossref(gw *gateway.Gateway) *Crossref {
	return &Crossref{gw: gw}
}

type crossrefWork struct {
	Title  []string `json:"title"`
	DOI    string   `json:"DOI"`
	Author []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Link []struct {
		URL         string `json:"URL"`
		ContentType string `json:"content-type"`
	} `json:"link"`
}

func (w *crossrefWork) metadata() Metadata {
	m := Metadata{DOI: w.DOI, Source: "crossref"}
	if len(w.Title) > 0 {
		m.Title = w.Title[0]
	}
	for _, a := range w.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name != "" {
			m.Authors = append(m.Authors, name)
		}
	}
	if len(w.Issued.DateParts) > 0 && len(w.Issued.DateParts[0]) > 0 {
		m.Year = w.Issued.DateParts[0][0]
	}
	for _, l := range w.Link {
		if l.ContentType == "application/pdf" {
			m.PDFURL = l.URL
			break
		}
	}
	return m
}

// LookupDOI fetches one work by DOI.
func (c *Crossref) LookupDOI(ctx context.Context, doi string) (*Metadata, error) {
	raw, err := c.gw.Get(ctx, "crossref", "/works/"+url.PathEscape(doi), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("crossref lookup failed: %w", err)
	}

	var resp struct {
		Message crossrefWork `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected crossref response: %w", err)
	}

	m := resp.Message.metadata()
	return &m, nil
}

// LookupTitle finds the best bibliographic match for a title.
func (c *Crossref) LookupTitle(ctx context.Context, title string) (*Metadata, error) {
	if strings.TrimSpace(title) == "" {
		return nil, nil
	}

	raw, err := c.gw.Get(ctx, "crossref", "/works", url.Values{
		"query.bibliographic": {title},
		"rows":                {"1"},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("crossref search failed: %w", err)
	}

	var resp struct {
		Message struct {
			Items []crossrefWork `json:"items"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected crossref response: %w", err)
	}
	if len(resp.Message.Items) == 0 {
		return nil, nil
	}

	m := resp.Message.Items[0].metadata()
	return &m, nil
}
