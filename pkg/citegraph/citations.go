package citegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// AddCitations inserts citation edges for a source article. Each citation
// is resolved against existing articles by DOI, arXiv ID, then normalized
// title; duplicate (source, target) edges are collapsed. Resolution is
// monotonic: an already-resolved stored edge is never cleared.
func (s *Store) AddCitations(ctx context.Context, sourceArticleID string, citations []Citation) error {
	if sourceArticleID == "" {
		return fmt.Errorf("source article id is required")
	}

	source, err := s.GetArticle(ctx, sourceArticleID)
	if err != nil {
		return err
	}
	if source == nil {
		return fmt.Errorf("unknown source article %s", sourceArticleID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seenTargets, err := s.existingTargetsTx(ctx, tx, sourceArticleID)
	if err != nil {
		return err
	}

	for _, c := range citations {
		c.ID = uuid.NewString()
		c.SourceArticleID = sourceArticleID
		c.DOI = NormalizeDOI(c.DOI)
		c.ArxivID = NormalizeArxivID(c.ArxivID)

		if c.TargetArticleID == "" {
			target, err := s.matchArticleTx(ctx, tx, c.DOI, c.ArxivID, c.Title)
			if err != nil {
				return err
			}
			if target != nil && target.ID != sourceArticleID {
				c.TargetArticleID = target.ID
			}
		}

		// Collapse duplicate resolved edges.
		if c.TargetArticleID != "" {
			if seenTargets[c.TargetArticleID] {
				continue
			}
			seenTargets[c.TargetArticleID] = true
		}

		if err := s.insertCitationTx(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit citations: %w", err)
	}
	return nil
}

func (s *Store) existingTargetsTx(ctx context.Context, tx *sql.Tx, sourceID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, s.rebind(
		`SELECT target_article_id FROM citations WHERE source_article_id = ? AND target_article_id IS NOT NULL`),
		sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing edges: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		seen[target] = true
	}
	return seen, rows.Err()
}

const citationColumns = `id, source_article_id, target_article_id, title, authors_json, year, doi, arxiv_id, pdf_url, pdf_source, is_open_access, backup_id, raw`

func (s *Store) insertCitationTx(ctx context.Context, tx *sql.Tx, c Citation) error {
	authorsJSON, _ := json.Marshal(c.Authors)

	var openAccess interface{}
	if c.IsOpenAccess != nil {
		openAccess = *c.IsOpenAccess
	}

	_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO citations (id, source_article_id, target_article_id, title, authors_json, year,
    doi, arxiv_id, pdf_url, pdf_source, is_open_access, backup_id, raw)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.SourceArticleID, nullable(c.TargetArticleID), nullable(c.Title),
		string(authorsJSON), nullableInt(c.Year), nullable(c.DOI), nullable(c.ArxivID),
		nullable(c.PDFURL), nullable(c.PDFSource), openAccess, nullable(c.BackupID), nullable(c.Raw))
	if err != nil {
		return fmt.Errorf("failed to insert citation: %w", err)
	}
	return nil
}

// UpdateCitation persists enhanced fields for a citation. Resolution is
// monotonic: a null incoming target never clears a stored one.
func (s *Store) UpdateCitation(ctx context.Context, c Citation) error {
	if c.ID == "" {
		return fmt.Errorf("citation id is required")
	}

	authorsJSON, _ := json.Marshal(c.Authors)

	var openAccess interface{}
	if c.IsOpenAccess != nil {
		openAccess = *c.IsOpenAccess
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE citations SET
    target_article_id = COALESCE(NULLIF(?, ''), target_article_id),
    title = COALESCE(NULLIF(?, ''), title),
    authors_json = ?,
    year = COALESCE(?, year),
    doi = COALESCE(NULLIF(?, ''), doi),
    arxiv_id = COALESCE(NULLIF(?, ''), arxiv_id),
    pdf_url = COALESCE(NULLIF(?, ''), pdf_url),
    pdf_source = COALESCE(NULLIF(?, ''), pdf_source),
    is_open_access = COALESCE(?, is_open_access),
    backup_id = COALESCE(NULLIF(?, ''), backup_id)
WHERE id = ?`),
		c.TargetArticleID, c.Title, string(authorsJSON), nullableInt(c.Year),
		NormalizeDOI(c.DOI), NormalizeArxivID(c.ArxivID), c.PDFURL, c.PDFSource,
		openAccess, c.BackupID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update citation: %w", err)
	}
	return nil
}

// CitationsFor returns the citations emitted by an article.
func (s *Store) CitationsFor(ctx context.Context, sourceArticleID string) ([]Citation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+citationColumns+` FROM citations WHERE source_article_id = ?`), sourceArticleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load citations: %w", err)
	}
	defer rows.Close()
	return scanCitations(rows)
}

func scanCitations(rows *sql.Rows) ([]Citation, error) {
	var out []Citation
	for rows.Next() {
		var c Citation
		var target, title, authorsJSON, doi, arxivID, pdfURL, pdfSource, backupID, raw sql.NullString
		var year sql.NullInt64
		var openAccess sql.NullBool

		err := rows.Scan(&c.ID, &c.SourceArticleID, &target, &title, &authorsJSON, &year,
			&doi, &arxivID, &pdfURL, &pdfSource, &openAccess, &backupID, &raw)
		if err != nil {
			return nil, err
		}

		c.TargetArticleID = target.String
		c.Title = title.String
		c.Year = int(year.Int64)
		c.DOI = doi.String
		c.ArxivID = arxivID.String
		c.PDFURL = pdfURL.String
		c.PDFSource = pdfSource.String
		c.BackupID = backupID.String
		c.Raw = raw.String
		if authorsJSON.String != "" {
			_ = json.Unmarshal([]byte(authorsJSON.String), &c.Authors)
		}
		if openAccess.Valid {
			v := openAccess.Bool
			c.IsOpenAccess = &v
		}

		out = append(out, c)
	}
	return out, rows.Err()
}

// ResolvePending links unresolved citations that match a newly registered
// article. Called by the pipeline after registration.
func (s *Store) ResolvePending(ctx context.Context, articleID string) (int, error) {
	article, err := s.GetArticle(ctx, articleID)
	if err != nil {
		return 0, err
	}
	if article == nil {
		return 0, fmt.Errorf("unknown article %s", articleID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	resolved := 0
	for _, clause := range []struct {
		column string
		value  string
	}{
		{"doi", article.DOI},
		{"arxiv_id", article.ArxivID},
	} {
		if clause.value == "" {
			continue
		}
		res, err := tx.ExecContext(ctx, s.rebind(
			`UPDATE citations SET target_article_id = ? WHERE target_article_id IS NULL AND `+clause.column+` = ? AND source_article_id != ?`),
			articleID, clause.value, articleID)
		if err != nil {
			return 0, fmt.Errorf("failed to resolve citations: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			resolved += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit resolution: %w", err)
	}
	return resolved, nil
}

// FindRelated walks the citation graph from an article up to depth (max 2)
// following edges in both directions, bounded by the fan-out cap.
func (s *Store) FindRelated(ctx context.Context, articleID string, depth int) ([]Article, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 2 {
		depth = 2
	}

	visited := map[string]bool{articleID: true}
	frontier := []string{articleID}
	var relatedIDs []string

	for level := 0; level < depth; level++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := s.neighbors(ctx, id)
			if err != nil {
				return nil, err
			}
			if len(neighbors) > s.fanOutCap {
				neighbors = neighbors[:s.fanOutCap]
			}
			for _, n := range neighbors {
				if visited[n] {
					continue
				}
				visited[n] = true
				relatedIDs = append(relatedIDs, n)
				next = append(next, n)
			}
		}
		frontier = next
	}

	var out []Article
	for _, id := range relatedIDs {
		a, err := s.GetArticle(ctx, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *Store) neighbors(ctx context.Context, articleID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT target_article_id FROM citations WHERE source_article_id = ? AND target_article_id IS NOT NULL
UNION
SELECT source_article_id FROM citations WHERE target_article_id = ?`),
		articleID, articleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load neighbors: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// RemoveArticle deletes an article and its outgoing citations. Incoming
// edges revert to unresolved. Returns whether a row was deleted.
func (s *Store) RemoveArticle(ctx context.Context, articleID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM citations WHERE source_article_id = ?`), articleID); err != nil {
		return false, fmt.Errorf("failed to delete citations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE citations SET target_article_id = NULL WHERE target_article_id = ?`), articleID); err != nil {
		return false, fmt.Errorf("failed to unlink citations: %w", err)
	}

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM articles WHERE id = ?`), articleID)
	if err != nil {
		return false, fmt.Errorf("failed to delete article: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit removal: %w", err)
	}
	return n > 0, nil
}

// Stats returns graph-wide counts.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats

	queries := []struct {
		dest  *int
		query string
	}{
		{&st.Articles, `SELECT COUNT(*) FROM articles`},
		{&st.Citations, `SELECT COUNT(*) FROM citations`},
		{&st.ResolvedCitations, `SELECT COUNT(*) FROM citations WHERE target_article_id IS NOT NULL`},
		{&st.ArticlesWithPDF, `SELECT COUNT(*) FROM articles WHERE pdf_path IS NOT NULL`},
		{&st.ArticlesWithNotes, `SELECT COUNT(*) FROM articles WHERE note_path IS NOT NULL`},
	}

	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return st, fmt.Errorf("stats query failed: %w", err)
		}
	}
	return st, nil
}
