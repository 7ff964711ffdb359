// Package gateway is the single choke point for outbound HTTP to research
// APIs. It enforces per-service rate limits, response caching, retry with
// exponential backoff, and circuit behavior for failing services.
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/observability"
)

// Gateway mediates all outbound HTTP. Safe for concurrent use.
type Gateway struct {
	cfg      config.GatewayConfig
	client   *http.Client
	cache    *responseCache
	limiters *limiterSet
	circuit  *circuitBreaker
	metrics  *observability.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.client = client
	}
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// New creates a Gateway from config.
func New(cfg config.GatewayConfig, opts ...Option) *Gateway {
	rates := make(map[string]float64, len(cfg.Services))
	for name, svc := range cfg.Services {
		rates[name] = svc.RateLimit
	}

	g := &Gateway{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		cache:    newResponseCache(cfg.CacheMaxEntries),
		limiters: newLimiterSet(cfg.DefaultRateLimit, rates),
		circuit:  newCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Get issues a GET to a named service. Params and headers are never
// mutated. The response body must be JSON.
func (g *Gateway) Get(ctx context.Context, service, path string, params url.Values, headers http.Header) (json.RawMessage, error) {
	return g.request(ctx, http.MethodGet, service, path, params, nil, headers)
}

// Post issues a POST with a JSON body to a named service.
func (g *Gateway) Post(ctx context.Context, service, path string, body interface{}, headers http.Header) (json.RawMessage, error) {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}
	return g.request(ctx, http.MethodPost, service, path, nil, encoded, headers)
}

// Download fetches a binary resource from an absolute URL, bypassing the
// JSON decoding but still honoring retry and rate limiting under the
// "download" service bucket.
func (g *Gateway) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if err := g.limiters.wait(ctx, "download"); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid download url: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Service: "download", StatusCode: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

func (g *Gateway) request(ctx context.Context, method, service, path string, params url.Values, body []byte, headers http.Header) (json.RawMessage, error) {
	svc, ok := g.cfg.Services[service]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownService, service)
	}

	fullURL, err := buildURL(svc.BaseURL, path, params)
	if err != nil {
		return nil, err
	}

	key := cacheKey(method, fullURL, params, body)
	if cached, ok := g.cache.get(key); ok {
		g.metrics.CacheHit(service)
		return json.RawMessage(cached), nil
	}

	if err := g.circuit.allow(service); err != nil {
		g.metrics.GatewayRequest(service, "circuit_open")
		return nil, err
	}

	ttl := g.cfg.CacheTTL
	if svc.CacheTTL > 0 {
		ttl = svc.CacheTTL
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.Retry(service)
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Every network attempt takes a rate-limiter token; cache hits
		// above never reach this point.
		if err := g.limiters.wait(ctx, service); err != nil {
			return nil, err
		}

		respBody, err := g.attempt(ctx, method, fullURL, body, headers, svc)
		if err == nil {
			g.circuit.recordSuccess(service)
			g.metrics.GatewayRequest(service, "ok")
			g.cache.put(key, respBody, ttl)
			return json.RawMessage(respBody), nil
		}

		lastErr = err

		if httpErr, ok := asHTTPError(err); ok {
			httpErr.Service = service
			if !httpErr.IsRetriable() {
				g.metrics.GatewayRequest(service, "client_error")
				return nil, httpErr
			}
		}

		g.circuit.recordFailure(service, err)

		if attempt == g.cfg.MaxRetries {
			break
		}

		delay := g.backoff(attempt, err)
		slog.Debug("Gateway retrying",
			"service", service,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	g.metrics.GatewayRequest(service, "exhausted")
	return nil, fmt.Errorf("%s request failed after %d attempts: %w", service, g.cfg.MaxRetries+1, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, method, fullURL string, body []byte, headers http.Header, svc config.ServiceConfig) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for name, values := range headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if svc.APIKeyHeader != "" && svc.APIKey != "" {
		req.Header.Set(svc.APIKeyHeader, svc.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transport error: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 512)}
		if resp.StatusCode == 429 {
			if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
				return nil, &rateLimitedError{HTTPError: httpErr, retryAfter: after}
			}
		}
		return nil, httpErr
	}

	return respBody, nil
}

// rateLimitedError wraps a 429 that carried a Retry-After hint.
type rateLimitedError struct {
	*HTTPError
	retryAfter time.Duration
}

func asHTTPError(err error) (*HTTPError, bool) {
	switch e := err.(type) {
	case *rateLimitedError:
		return e.HTTPError, true
	case *HTTPError:
		return e, true
	default:
		return nil, false
	}
}

func (g *Gateway) backoff(attempt int, err error) time.Duration {
	if rle, ok := err.(*rateLimitedError); ok && rle.retryAfter > 0 {
		return rle.retryAfter
	}

	delay := time.Duration(float64(g.cfg.RetryBase) * math.Pow(2, float64(attempt)))
	if delay > g.cfg.RetryCeiling {
		delay = g.cfg.RetryCeiling
	}
	// Full jitter keeps herds of retries from aligning.
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func buildURL(base, path string, params url.Values) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}
	return u.String(), nil
}

// cacheKey derives a stable key from method, url, sorted params and a
// body hash.
func cacheKey(method, fullURL string, params url.Values, body []byte) string {
	var sb strings.Builder
	sb.WriteString(method)
	sb.WriteByte('|')
	sb.WriteString(fullURL)
	sb.WriteByte('|')

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(strings.Join(params[k], ","))
		sb.WriteByte('&')
	}

	if len(body) > 0 {
		sum := sha256.Sum256(body)
		sb.WriteString(hex.EncodeToString(sum[:]))
	}

	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
