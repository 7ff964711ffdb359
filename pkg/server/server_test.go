package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/llm"
	"github.com/thoth-kb/thoth/pkg/observability"
	"github.com/thoth-kb/thoth/pkg/query"
)

func testServer(t *testing.T, filter *query.Filter) *httptest.Server {
	t.Helper()
	s := New(config.ServerConfig{}, nil, filter, observability.New())
	srv := httptest.NewServer(s.http.Handler)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSearchWithoutEngine(t *testing.T) {
	srv := testServer(t, nil)

	resp := postJSON(t, srv.URL+"/search", map[string]string{"query": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestFilterEndpoint(t *testing.T) {
	store, err := query.NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Create(query.ResearchQuery{
		Name:                  "ml",
		Keywords:              []string{"machine learning"},
		MinimumRelevanceScore: 0.7,
	}))

	provider := &llm.StubProvider{Responses: map[string]string{
		"Evaluate how relevant": `{"relevance": 0.9, "recommendation": "keep"}`,
	}}
	filter := query.NewFilter(config.FilterConfig{}, store, provider, nil, t.TempDir(), nil)

	srv := testServer(t, filter)

	resp := postJSON(t, srv.URL+"/filter", map[string]interface{}{
		"article": map[string]string{"title": "Machine Learning Advances"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decision query.Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decision))
	assert.Equal(t, query.DecisionDownload, decision.Outcome)
	assert.Equal(t, []string{"ml"}, decision.MatchingQueries)

	// Missing title is a bad request.
	resp = postJSON(t, srv.URL+"/filter", map[string]interface{}{"article": map[string]string{}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsExposition(t *testing.T) {
	srv := testServer(t, nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
