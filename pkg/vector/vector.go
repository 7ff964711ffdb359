// Package vector abstracts the vector index used for dense retrieval
// over paper chunks.
package vector

import (
	"context"
	"fmt"

	"github.com/thoth-kb/thoth/pkg/config"
)

// Result is a scored hit from a similarity search.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider is a vector index backend. Embeddings are computed externally;
// providers only store and search pre-computed vectors.
type Provider interface {
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	Delete(ctx context.Context, collection string, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	Name() string
	Close() error
}

// NewProvider builds the configured backend.
func NewProvider(cfg config.VectorConfig) (Provider, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemProvider(cfg.PersistPath)
	case "qdrant":
		return NewQdrantProvider(cfg.Host, cfg.Port, cfg.APIKey, cfg.UseTLS)
	default:
		return nil, fmt.Errorf("unknown vector provider: %q", cfg.Provider)
	}
}
