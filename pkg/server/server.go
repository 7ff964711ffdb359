// Package server exposes the retrieval engine and article filter over
// HTTP. The server is deliberately thin: every route validates input,
// calls one component, and encodes the result.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/observability"
	"github.com/thoth-kb/thoth/pkg/query"
	"github.com/thoth-kb/thoth/pkg/retrieval"
)

// Server serves the HTTP API.
type Server struct {
	cfg     config.ServerConfig
	engine  *retrieval.Engine
	filter  *query.Filter
	metrics *observability.Metrics

	http *http.Server
}

// New builds a Server. Engine and filter may be nil; their routes then
// answer 503.
func New(cfg config.ServerConfig, engine *retrieval.Engine, filter *query.Filter, metrics *observability.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		filter:  filter,
		metrics: metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Post("/search", s.handleSearch)
	r.Post("/ask", s.handleAsk)
	r.Post("/filter", s.handleFilter)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(
			metrics.Registry(), promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval engine not configured")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	results, err := s.engine.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		slog.Error("Search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

type askRequest struct {
	Query string `json:"query"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "retrieval engine not configured")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := s.engine.Ask(r.Context(), req.Query)
	if err != nil {
		slog.Error("Ask failed", "error", err)
		writeError(w, http.StatusInternalServerError, "answer generation failed")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type filterRequest struct {
	Article     query.ArticleMetadata `json:"article"`
	DownloadPDF bool                  `json:"download_pdf,omitempty"`
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	if s.filter == nil {
		writeError(w, http.StatusServiceUnavailable, "article filter not configured")
		return
	}

	var req filterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Article.Title == "" {
		writeError(w, http.StatusBadRequest, "article title is required")
		return
	}

	decision, err := s.filter.ProcessArticle(r.Context(), req.Article, req.DownloadPDF)
	if err != nil {
		slog.Error("Filter failed", "error", err)
		writeError(w, http.StatusInternalServerError, "filter failed")
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
