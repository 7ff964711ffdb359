package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/thoth-kb/thoth/pkg/gateway"
)

// BioRxiv resolves preprints by DOI; bioRxiv PDFs are open access.
type BioRxiv struct {
	gw *gateway.Gateway
}

func NewBioRxiv(gw *gateway.Gateway) *BioRxiv {
	return &BioRxiv{gw: gw}
}

// LookupDOI returns preprint metadata and the content PDF URL.
func (b *BioRxiv) LookupDOI(ctx context.Context, doi string) (*Metadata, error) {
	raw, err := b.gw.Get(ctx, "biorxiv", "/details/biorxiv/"+doi, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("biorxiv lookup failed: %w", err)
	}

	var resp struct {
		Collection []struct {
			Title   string `json:"title"`
			Authors string `json:"authors"`
			Date    string `json:"date"`
			DOI     string `json:"doi"`
			Version string `json:"version"`
		} `json:"collection"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected biorxiv response: %w", err)
	}
	if len(resp.Collection) == 0 {
		return nil, nil
	}

	// The collection lists every version; the last entry is current.
	latest := resp.Collection[len(resp.Collection)-1]
	open := true
	m := Metadata{
		Title:        latest.Title,
		DOI:          latest.DOI,
		IsOpenAccess: &open,
		Source:       "biorxiv",
	}
	for _, a := range strings.Split(latest.Authors, ";") {
		if a = strings.TrimSpace(a); a != "" {
			m.Authors = append(m.Authors, a)
		}
	}
	if len(latest.Date) >= 4 {
		fmt.Sscanf(latest.Date[:4], "%d", &m.Year)
	}
	version := latest.Version
	if version == "" {
		version = "1"
	}
	m.PDFURL = fmt.Sprintf("https://www.biorxiv.org/content/%sv%s.full.pdf", latest.DOI, version)
	return &m, nil
}
