package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
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
	// SetDefaults adds real research API entries; strip everything we
	// did not stub so tests never touch the network.
	for name := range cfg.Services {
		if _, ok := services[name]; !ok {
			delete(cfg.Services, name)
		}
	}
	return gateway.New(cfg)
}

func TestSemanticScholarBatch(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"semanticscholar": func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)

			var body struct {
				IDs []string `json:"ids"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, []string{"DOI:10.1/a", "ARXIV:2101.00001"}, body.IDs)

			// Positional response with a null for the second id.
			w.Write([]byte(`[
				{"title": "Paper A", "year": 2020,
				 "authors": [{"name": "Ada"}],
				 "externalIds": {"DOI": "10.1/a"},
				 "openAccessPdf": {"url": "https://pdfs/a.pdf"},
				 "isOpenAccess": true},
				null
			]`))
		},
	})

	s2 := NewSemanticScholar(gw)
	citations := []citegraph.Citation{
		{DOI: "10.1/a"},
		{ArxivID: "2101.00001"},
		{Title: "no identifier"},
	}

	got, err := s2.LookupBatch(context.Background(), citations)
	require.NoError(t, err)
	require.Len(t, got, 1)

	m := got[0]
	assert.Equal(t, "Paper A", m.Title)
	assert.Equal(t, 2020, m.Year)
	assert.Equal(t, []string{"Ada"}, m.Authors)
	assert.Equal(t, "https://pdfs/a.pdf", m.PDFURL)
	require.NotNil(t, m.IsOpenAccess)
	assert.True(t, *m.IsOpenAccess)
}

func TestCrossrefLookupTitle(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"crossref": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Deep Learning", r.URL.Query().Get("query.bibliographic"))
			w.Write([]byte(`{"message": {"items": [{
				"title": ["Deep Learning"],
				"DOI": "10.1038/nature14539",
				"author": [{"given": "Yann", "family": "LeCun"}],
				"issued": {"date-parts": [[2015]]}
			}]}}`))
		},
	})

	m, err := NewCrossref(gw).LookupTitle(context.Background(), "Deep Learning")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "10.1038/nature14539", m.DOI)
	assert.Equal(t, []string{"Yann LeCun"}, m.Authors)
	assert.Equal(t, 2015, m.Year)
}

func TestArxivLookupID(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"arxiv": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "1706.03762", r.URL.Query().Get("id_list"))
			w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v5</id>
    <title>Attention Is All
 You Need</title>
    <summary>The dominant sequence transduction models...</summary>
    <published>2017-06-12T17:57:34Z</published>
    <author><name>Ashish Vaswani</name></author>
    <link href="http://arxiv.org/pdf/1706.03762v5" type="application/pdf"/>
  </entry>
</feed>`))
		},
	})

	m, err := NewArxiv(gw).LookupID(context.Background(), "arXiv:1706.03762")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Attention Is All You Need", m.Title)
	assert.Equal(t, "1706.03762", m.ArxivID)
	assert.Equal(t, 2017, m.Year)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v5", m.PDFURL)
}

func TestUnpaywallLookup(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"unpaywall": func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.URL.Query().Get("email"))
			w.Write([]byte(`{
				"doi": "10.1/a", "title": "Paper A", "year": 2020, "is_oa": true,
				"best_oa_location": {"url_for_pdf": "https://oa/a.pdf"}
			}`))
		},
	})

	m, err := NewUnpaywall(gw, "lab@example.org").LookupDOI(context.Background(), "10.1/a")
	require.NoError(t, err)
	assert.Equal(t, "https://oa/a.pdf", m.PDFURL)
	require.NotNil(t, m.IsOpenAccess)
	assert.True(t, *m.IsOpenAccess)
}

func TestOpenCitationsReferences(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"opencitations": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"cited": "10.1/x"}, {"cited": "10.1/y"}, {"cited": ""}]`))
		},
	})

	dois, err := NewOpenCitations(gw).References(context.Background(), "10.1/a")
	require.NoError(t, err)
	assert.Equal(t, []string{"10.1/x", "10.1/y"}, dois)
}

func TestBioRxivUsesLatestVersion(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"biorxiv": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"collection": [
				{"title": "Preprint", "doi": "10.1101/z", "version": "1", "date": "2023-01-01", "authors": "Doe, J."},
				{"title": "Preprint", "doi": "10.1101/z", "version": "2", "date": "2023-02-01", "authors": "Doe, J."}
			]}`))
		},
	})

	m, err := NewBioRxiv(gw).LookupDOI(context.Background(), "10.1101/z")
	require.NoError(t, err)
	assert.Equal(t, "https://www.biorxiv.org/content/10.1101/zv2.full.pdf", m.PDFURL)
	assert.Equal(t, 2023, m.Year)
}

func TestPubMedLookupTitle(t *testing.T) {
	gw := testGateway(t, map[string]http.HandlerFunc{
		"pubmed": func(w http.ResponseWriter, r *http.Request) {
			switch {
			case strings.Contains(r.URL.Path, "esearch"):
				assert.Equal(t, "CRISPR screening[Title]", r.URL.Query().Get("term"))
				w.Write([]byte(`{"esearchresult": {"idlist": ["12345"]}}`))
			default:
				assert.Equal(t, "12345", r.URL.Query().Get("id"))
				w.Write([]byte(`{"result": {"12345": {
					"title": "CRISPR screening",
					"pubdate": "2022 Mar",
					"authors": [{"name": "Zhang F"}],
					"articleids": [{"idtype": "doi", "value": "10.1/c"}]
				}}}`))
			}
		},
	})

	m, err := NewPubMed(gw).LookupTitle(context.Background(), "CRISPR screening")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "CRISPR screening", m.Title)
	assert.Equal(t, 2022, m.Year)
	assert.Equal(t, []string{"Zhang F"}, m.Authors)
	assert.Equal(t, "10.1/c", m.DOI)
}

func TestMetadataApplyIsMonotonic(t *testing.T) {
	c := citegraph.Citation{Title: "Existing Title", PDFURL: "https://existing.pdf", PDFSource: "arxiv"}

	open := false
	m := Metadata{
		Title:        "New Title",
		Authors:      []string{"Ada"},
		Year:         2021,
		DOI:          "DOI:10.1/a",
		PDFURL:       "https://other.pdf",
		IsOpenAccess: &open,
		Source:       "crossref",
	}
	m.Apply(&c)

	assert.Equal(t, "Existing Title", c.Title, "existing title kept")
	assert.Equal(t, "https://existing.pdf", c.PDFURL, "existing pdf kept")
	assert.Equal(t, "arxiv", c.PDFSource)
	assert.Equal(t, []string{"Ada"}, c.Authors)
	assert.Equal(t, 2021, c.Year)
	assert.Equal(t, "10.1/a", c.DOI, "doi normalized on apply")
	require.NotNil(t, c.IsOpenAccess)
	assert.False(t, *c.IsOpenAccess)
}

func TestLocatorPriority(t *testing.T) {
	unpaywallCalled := false
	openalexCalled := false

	gw := testGateway(t, map[string]http.HandlerFunc{
		"unpaywall": func(w http.ResponseWriter, r *http.Request) {
			unpaywallCalled = true
			w.Write([]byte(`{"doi": "10.1/a", "is_oa": true, "best_oa_location": {"url_for_pdf": "https://oa/a.pdf"}}`))
		},
		"openalex": func(w http.ResponseWriter, r *http.Request) {
			openalexCalled = true
			w.Write([]byte(`{"results": []}`))
		},
		"arxiv":   func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`<feed></feed>`)) },
		"biorxiv": func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"collection": []}`)) },
	})

	loc := NewLocator(gw, "lab@example.org")
	c := citegraph.Citation{DOI: "10.1/a", Title: "Paper A"}

	m := loc.FindPDF(context.Background(), &c)
	require.NotNil(t, m)
	assert.Equal(t, "unpaywall", m.Source)
	assert.Equal(t, "https://oa/a.pdf", m.PDFURL)
	assert.True(t, unpaywallCalled)
	assert.False(t, openalexCalled, "later sources not consulted after a hit")
}
