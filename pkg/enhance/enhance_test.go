package enhance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/gateway"
)

func testGateway(t *testing.T, services map[string]http.HandlerFunc) *gateway.Gateway {
	t.Helper()

	cfg := config.GatewayConfig{Services: map[string]config.ServiceConfig{}}
	for name, handler := range services {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		cfg.Services[name] = config.ServiceConfig{BaseURL: srv.URL, RateLimit: 1000}
	}
	cfg.SetDefaults()
	for name := range cfg.Services {
		if _, ok := services[name]; !ok {
			delete(cfg.Services, name)
		}
	}
	return gateway.New(cfg)
}

func TestEnhanceBatchThenFallback(t *testing.T) {
	var crossrefCalls atomic.Int64

	gw := testGateway(t, map[string]http.HandlerFunc{
		"semanticscholar": func(w http.ResponseWriter, r *http.Request) {
			// Resolve the identified citation, leave the other untouched.
			w.Write([]byte(`[{
				"title": "Paper A", "year": 2020,
				"authors": [{"name": "Ada"}],
				"externalIds": {"DOI": "10.1/a"},
				"openAccessPdf": {"url": "https://pdfs/a.pdf"},
				"isOpenAccess": true
			}]`))
		},
		"crossref": func(w http.ResponseWriter, r *http.Request) {
			crossrefCalls.Add(1)
			w.Write([]byte(`{"message": {"items": [{
				"title": ["Paper B"],
				"DOI": "10.1/b",
				"author": [{"given": "Bob", "family": "Byrne"}],
				"issued": {"date-parts": [[2019]]}
			}]}}`))
		},
		"unpaywall": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"is_oa": true, "best_oa_location": {"url_for_pdf": "https://oa/b.pdf"}}`))
		},
		"arxiv":    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<feed></feed>`)) },
		"openalex": func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"results": []}`)) },
		"biorxiv":  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"collection": []}`)) },
		"pubmed": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"esearchresult": {"idlist": []}}`))
		},
	})

	e := New(gw, 2, "lab@example.org")
	citations := e.Enhance(context.Background(), []citegraph.Citation{
		{DOI: "10.1/a"},
		{Title: "Paper B"},
	})

	a := citations[0]
	assert.Equal(t, "Paper A", a.Title)
	assert.Equal(t, 2020, a.Year)
	assert.Equal(t, "https://pdfs/a.pdf", a.PDFURL)
	assert.Equal(t, "semanticscholar", a.PDFSource)

	b := citations[1]
	assert.Equal(t, "Paper B", b.Title)
	assert.Equal(t, "10.1/b", b.DOI)
	assert.Equal(t, 2019, b.Year)
	assert.Equal(t, []string{"Bob Byrne"}, b.Authors)
	assert.Equal(t, "https://oa/b.pdf", b.PDFURL)
	assert.Equal(t, "unpaywall", b.PDFSource)

	assert.Equal(t, int64(1), crossrefCalls.Load(), "complete citations skip the fallback")
}

func TestEnhanceKeepsExistingFields(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"semanticscholar": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{
				"title": "Remote Title", "year": 1999,
				"authors": [{"name": "Someone Else"}],
				"externalIds": {"DOI": "10.1/a"},
				"openAccessPdf": {"url": "https://pdfs/other.pdf"}
			}]`))
		},
	})

	e := New(gw, 1, "")
	citations := e.Enhance(context.Background(), []citegraph.Citation{{
		DOI:     "10.1/a",
		Title:   "Local Title",
		Authors: []string{"Ada"},
		Year:    2020,
		PDFURL:  "https://local.pdf",
	}})

	c := citations[0]
	assert.Equal(t, "Local Title", c.Title)
	assert.Equal(t, []string{"Ada"}, c.Authors)
	assert.Equal(t, 2020, c.Year)
	assert.Equal(t, "https://local.pdf", c.PDFURL)
}

func TestEnhanceSurvivesSourceFailures(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"semanticscholar": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadRequest)
		},
		"crossref": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadRequest)
		},
		"pubmed": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadRequest)
		},
		"unpaywall": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadRequest)
		},
		"arxiv":    func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadRequest) },
		"openalex": func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadRequest) },
		"biorxiv":  func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadRequest) },
	})

	e := New(gw, 2, "")
	citations := e.Enhance(context.Background(), []citegraph.Citation{
		{DOI: "10.1/a", Title: "Known Fields Survive"},
	})

	assert.Equal(t, "10.1/a", citations[0].DOI)
	assert.Equal(t, "Known Fields Survive", citations[0].Title)
}

func TestDiscoverReferences(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"opencitations": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"cited": "10.1/X"}, {"cited": "https://doi.org/10.1/y"}]`))
		},
	})

	refs, err := New(gw, 1, "").DiscoverReferences(context.Background(), "10.1/a")
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, "10.1/x", refs[0].DOI)
	assert.Equal(t, "10.1/y", refs[1].DOI, "resolver urls normalized")
}
