package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thoth-kb/thoth/pkg/analysis"
	"github.com/thoth-kb/thoth/pkg/citegraph"
	"github.com/thoth-kb/thoth/pkg/config"
	"github.com/thoth-kb/thoth/pkg/enhance"
	"github.com/thoth-kb/thoth/pkg/gateway"
	"github.com/thoth-kb/thoth/pkg/llm"
	"github.com/thoth-kb/thoth/pkg/observability"
	"github.com/thoth-kb/thoth/pkg/pipeline"
	"github.com/thoth-kb/thoth/pkg/query"
	"github.com/thoth-kb/thoth/pkg/retrieval"
	"github.com/thoth-kb/thoth/pkg/tracker"
	"github.com/thoth-kb/thoth/pkg/vector"
)

// app is the composition root: every component is constructed here and
// wired by explicit dependency, never via globals.
type app struct {
	cfg     *config.Config
	metrics *observability.Metrics

	graph   *citegraph.Store
	tracker *tracker.Tracker
	gateway *gateway.Gateway
	vectors vector.Provider

	provider llm.Provider
	embedder llm.Embedder

	engine   *retrieval.Engine
	enhancer *enhance.Enhancer
	pipeline *pipeline.Pipeline
	queries  *query.Store
	filter   *query.Filter
}

// contactEmail identifies us to APIs with polite-use policies.
const contactEmail = "thoth@example.org"

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:     cfg,
		metrics: observability.New(),
	}

	graph, err := citegraph.Open(cfg.Store.Driver, cfg.Store.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a.graph = graph

	tr, err := tracker.New(cfg.Paths.Workspace+"/tracker.json",
		tracker.WithHeadBytes(cfg.Pipeline.FingerprintBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to open tracker: %w", err)
	}
	a.tracker = tr

	a.gateway = gateway.New(cfg.Gateway, gateway.WithMetrics(a.metrics))

	vectors, err := vector.NewProvider(cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	a.vectors = vectors

	provider, err := llm.NewOpenAIProvider(cfg.LLM)
	if err != nil {
		return nil, err
	}
	a.provider = provider

	embedder, err := llm.NewOpenAIEmbedder(cfg.Embedder)
	if err != nil {
		return nil, err
	}
	a.embedder = embedder

	engine, err := retrieval.New(ctx, cfg.Retrieval, cfg.Vector.Collection,
		graph, vectors, provider, embedder, retrieval.WithMetrics(a.metrics))
	if err != nil {
		return nil, fmt.Errorf("failed to build retrieval engine: %w", err)
	}
	a.engine = engine

	a.enhancer = enhance.New(a.gateway, cfg.Pipeline.EnhanceWorkers, contactEmail)

	pipe, err := pipeline.New(pipeline.Options{
		Config:        cfg.Pipeline,
		Paths:         cfg.Paths,
		Schema:        analysis.LoadSchema(cfg.Analysis.SchemaPath),
		Provider:      provider,
		ContextBudget: cfg.LLM.ContextBudget,
		Enhancer:      a.enhancer,
		Graph:         graph,
		Engine:        engine,
		Tracker:       tr,
		Metrics:       a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.pipeline = pipe

	queries, err := query.NewStore(cfg.Paths.Queries)
	if err != nil {
		return nil, err
	}
	a.queries = queries

	a.filter = query.NewFilter(cfg.Filter, queries, provider, a.gateway,
		cfg.Paths.Incoming, a.metrics)

	return a, nil
}

func (a *app) Close() {
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			slog.Warn("Failed to close vector store", "error", err)
		}
	}
	if a.graph != nil {
		a.graph.Close()
	}
}
