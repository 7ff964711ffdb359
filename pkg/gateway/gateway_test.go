package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thoth-kb/thoth/pkg/config"
)

func testConfig(baseURL string) config.GatewayConfig {
	cfg := config.GatewayConfig{
		Services: map[string]config.ServiceConfig{
			"test": {BaseURL: baseURL, RateLimit: 1000},
		},
		DefaultRateLimit: 1000,
		MaxRetries:       2,
		RetryBase:        time.Millisecond,
		RetryCeiling:     5 * time.Millisecond,
		CircuitThreshold: 3,
		CircuitCooldown:  100 * time.Millisecond,
		Timeout:          5 * time.Second,
	}
	cfg.SetDefaults()
	return cfg
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/papers", r.URL.Path)
		assert.Equal(t, "q1", r.URL.Query().Get("query"))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL))

	params := url.Values{"query": {"q1"}}
	resp, err := g.Get(context.Background(), "test", "/papers", params, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(resp))
}

func TestUnknownService(t *testing.T) {
	g := New(testConfig("http://localhost:1"))

	_, err := g.Get(context.Background(), "nope", "/x", nil, nil)
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestCacheHitSkipsRemote(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"n": 1}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL))

	for i := 0; i < 3; i++ {
		_, err := g.Get(context.Background(), "test", "/x", nil, nil)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), hits.Load())
}

func TestRetryOn5xx(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL))

	resp, err := g.Get(context.Background(), "test", "/x", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(resp))
	assert.Equal(t, int64(3), calls.Load())
}

func TestNoRetryOn4xx(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL))

	_, err := g.Get(context.Background(), "test", "/x", nil, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 404, httpErr.StatusCode)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetryAfterHonored(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL))

	_, err := g.Get(context.Background(), "test", "/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 4 // one call exhausts the threshold
	g := New(cfg)

	_, err := g.Get(context.Background(), "test", "/x", nil, nil)
	require.Error(t, err)

	// Circuit should now be open: a different path fails fast.
	_, err = g.Get(context.Background(), "test", "/y", nil, nil)
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestRateLimitWindow(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Services["test"] = config.ServiceConfig{BaseURL: srv.URL, RateLimit: 5}
	cfg.CacheTTL = time.Nanosecond // effectively disable caching
	g := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	for i := 0; i < 10; i++ {
		params := url.Values{"i": {string(rune('a' + i))}}
		_, err := g.Get(ctx, "test", "/x", params, nil)
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// 10 requests at 5 rps with burst 5 needs at least ~1s.
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)
	assert.Equal(t, int64(10), calls.Load())
}

func TestCacheLRUEviction(t *testing.T) {
	c := newResponseCache(2)
	c.put("a", []byte("1"), time.Minute)
	c.put("b", []byte("2"), time.Minute)

	_, ok := c.get("a") // refresh a
	require.True(t, ok)

	c.put("c", []byte("3"), time.Minute)

	_, ok = c.get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := newResponseCache(10)
	c.put("a", []byte("1"), 10*time.Millisecond)

	_, ok := c.get("a")
	require.True(t, ok)

	time.Sleep(20 * time.Millisecond)
	_, ok = c.get("a")
	assert.False(t, ok)
}

func TestInputsNotMutated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	g := New(testConfig(srv.URL))

	params := url.Values{"q": {"x"}}
	headers := http.Header{"X-Custom": {"y"}}

	_, err := g.Get(context.Background(), "test", "/x", params, headers)
	require.NoError(t, err)

	assert.Equal(t, url.Values{"q": {"x"}}, params)
	assert.Equal(t, http.Header{"X-Custom": {"y"}}, headers)
}
