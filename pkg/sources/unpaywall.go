package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/thoth-kb/thoth/pkg/gateway"
)

// Unpaywall locates legal open-access PDFs by DOI. Requires a contact
// email per the API's terms.
type Unpaywall struct {
	gw    *gateway.Gateway
	email string
}

func NewUnpaywall(gw *gateway.Gateway, email string) *Unpaywall {
	if email == "" {
		email = "thoth@example.org"
	}
	return &Unpaywall{gw: gw, email: email}
}

// LookupDOI returns OA status and the best PDF location for a DOI.
func (u *Unpaywall) LookupDOI(ctx context.Context, doi string) (*Metadata, error) {
	raw, err := u.gw.Get(ctx, "unpaywall", "/"+url.PathEscape(doi), url.Values{
		"email": {u.email},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("unpaywall lookup failed: %w", err)
	}

	var resp struct {
		DOI            string `json:"doi"`
		Title          string `json:"title"`
		Year           int    `json:"year"`
		IsOA           bool   `json:"is_oa"`
		BestOALocation *struct {
			URLForPDF string `json:"url_for_pdf"`
		} `json:"best_oa_location"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("unexpected unpaywall response: %w", err)
	}

	m := Metadata{
		Title:        resp.Title,
		Year:         resp.Year,
		DOI:          resp.DOI,
		IsOpenAccess: &resp.IsOA,
		Source:       "unpaywall",
	}
	if resp.BestOALocation != nil {
		m.PDFURL = resp.BestOALocation.URLForPDF
	}
	return &m, nil
}
