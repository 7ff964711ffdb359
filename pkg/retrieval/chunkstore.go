package retrieval

import (
	"context"
	"fmt"

	"github.com/thoth-kb/thoth/pkg/citegraph"
)

// chunkStore persists chunks in the shared relational store so the
// lexical index can be rebuilt after a restart.
type chunkStore struct {
	graph *citegraph.Store
}

const createChunksSQL = `
CREATE TABLE IF NOT EXISTS chunks (
    id VARCHAR(128) PRIMARY KEY,
    article_id VARCHAR(64) NOT NULL,
    chunk_index INTEGER NOT NULL,
    chunk_type VARCHAR(32) NOT NULL,
    content TEXT NOT NULL
)`

const createChunksArticleIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_chunks_article ON chunks(article_id)`

func newChunkStore(ctx context.Context, graph *citegraph.Store) (*chunkStore, error) {
	for _, stmt := range []string{createChunksSQL, createChunksArticleIndexSQL} {
		if _, err := graph.DB().ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize chunk schema: %w", err)
		}
	}
	return &chunkStore{graph: graph}, nil
}

func (cs *chunkStore) rebind(q string) string {
	if cs.graph.Dialect() != "postgres" {
		return q
	}
	out := make([]byte, 0, len(q)+8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
		} else {
			out = append(out, q[i])
		}
	}
	return string(out)
}

// ReplaceArticle swaps the stored chunks of an article in one
// transaction.
func (cs *chunkStore) ReplaceArticle(ctx context.Context, articleID string, chunks []Chunk) error {
	tx, err := cs.graph.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, cs.rebind(`DELETE FROM chunks WHERE article_id = ?`), articleID); err != nil {
		return fmt.Errorf("failed to clear chunks: %w", err)
	}

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, cs.rebind(
			`INSERT INTO chunks (id, article_id, chunk_index, chunk_type, content) VALUES (?, ?, ?, ?, ?)`),
			c.ID, c.ArticleID, c.Index, c.Type, c.Content)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// DeleteArticle removes all chunks of an article and returns their ids.
func (cs *chunkStore) DeleteArticle(ctx context.Context, articleID string) ([]string, error) {
	ids, err := cs.articleChunkIDs(ctx, articleID)
	if err != nil {
		return nil, err
	}
	if _, err := cs.graph.DB().ExecContext(ctx, cs.rebind(`DELETE FROM chunks WHERE article_id = ?`), articleID); err != nil {
		return nil, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return ids, nil
}

func (cs *chunkStore) articleChunkIDs(ctx context.Context, articleID string) ([]string, error) {
	rows, err := cs.graph.DB().QueryContext(ctx, cs.rebind(`SELECT id FROM chunks WHERE article_id = ?`), articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// All streams every stored chunk, used to warm the lexical index.
func (cs *chunkStore) All(ctx context.Context) ([]Chunk, error) {
	rows, err := cs.graph.DB().QueryContext(ctx,
		`SELECT id, article_id, chunk_index, chunk_type, content FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.ArticleID, &c.Index, &c.Type, &c.Content); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get fetches chunks by id, preserving the requested order.
func (cs *chunkStore) Get(ctx context.Context, ids []string) (map[string]Chunk, error) {
	out := make(map[string]Chunk, len(ids))
	for _, id := range ids {
		row := cs.graph.DB().QueryRowContext(ctx, cs.rebind(
			`SELECT id, article_id, chunk_index, chunk_type, content FROM chunks WHERE id = ?`), id)
		var c Chunk
		if err := row.Scan(&c.ID, &c.ArticleID, &c.Index, &c.Type, &c.Content); err != nil {
			continue
		}
		out[c.ID] = c
	}
	return out, nil
}
