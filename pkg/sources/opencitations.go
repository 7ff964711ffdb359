package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/thoth-kb/thoth/pkg/gateway"
)

// OpenCitations lists the DOIs a paper references, used to backfill
// identifiers for citations that only have titles.
type OpenCitations struct {
	gw *gateway.Gateway
}

func NewOpenCitations(gw *gateway.Gateway) *OpenCitations {
	return &OpenCitations{gw: gw}
}

// References returns the DOIs cited by the given DOI.
func (o *OpenCitations) References(ctx context.Context, doi string) ([]string, error) {
	raw, err := o.gw.Get(ctx, "opencitations", "/references/"+url.PathEscape(doi), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("opencitations lookup failed: %w", err)
	}

	var entries []struct {
		Cited string `json:"cited"`
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("unexpected opencitations response: %w", err)
	}

	var dois []string
	for _, e := range entries {
		if e.Cited != "" {
			dois = append(dois, e.Cited)
		}
	}
	return dois, nil
}
