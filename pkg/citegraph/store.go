package citegraph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQL-backed citation graph. All writes go through a single
// transactional path; reads are allowed concurrently.
type Store struct {
	db      *sql.DB
	dialect string

	// fanOutCap bounds BFS expansion per node in FindRelated.
	fanOutCap int
}

const (
	createArticlesSQL = `
CREATE TABLE IF NOT EXISTS articles (
    id VARCHAR(64) PRIMARY KEY,
    doi VARCHAR(255),
    arxiv_id VARCHAR(64),
    norm_title VARCHAR(255) NOT NULL,
    title TEXT NOT NULL,
    authors_json TEXT,
    abstract TEXT,
    year INTEGER,
    pdf_path TEXT,
    markdown_path TEXT,
    note_path TEXT,
    tags_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

	createArticlesDOIIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_doi ON articles(doi) WHERE doi IS NOT NULL AND doi != ''`

	createArticlesArxivIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS idx_articles_arxiv ON articles(arxiv_id) WHERE arxiv_id IS NOT NULL AND arxiv_id != ''`

	createArticlesTitleIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_articles_norm_title ON articles(norm_title)`

	createCitationsSQL = `
CREATE TABLE IF NOT EXISTS citations (
    id VARCHAR(64) PRIMARY KEY,
    source_article_id VARCHAR(64) NOT NULL REFERENCES articles(id),
    target_article_id VARCHAR(64),
    title TEXT,
    authors_json TEXT,
    year INTEGER,
    doi VARCHAR(255),
    arxiv_id VARCHAR(64),
    pdf_url TEXT,
    pdf_source VARCHAR(64),
    is_open_access BOOLEAN,
    backup_id VARCHAR(64),
    raw TEXT
)`

	createCitationsSourceIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_citations_source ON citations(source_article_id)`

	createCitationsTargetIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_citations_target ON citations(target_article_id)`
)

// Open connects to the store. Driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*Store, error) {
	driverName := driver
	if driver == "sqlite" {
		driverName = "sqlite3"
		// Serialize sqlite writers at the connection level.
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", driver, err)
	}

	return NewStore(db, driver)
}

// NewStore wraps an existing connection and initializes the schema.
func NewStore(db *sql.DB, dialect string) (*Store, error) {
	switch dialect {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	s := &Store{db: db, dialect: dialect, fanOutCap: 50}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, stmt := range []string{
		createArticlesSQL,
		createArticlesDOIIndexSQL,
		createArticlesArxivIndexSQL,
		createArticlesTitleIndexSQL,
		createCitationsSQL,
		createCitationsSourceIndexSQL,
		createCitationsTargetIndexSQL,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to initialize citegraph schema: %w", err)
		}
	}

	return s, nil
}

// DB exposes the underlying connection for components sharing the store
// (the retrieval engine keeps its chunks in the same database).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Dialect returns the active SQL dialect.
func (s *Store) Dialect() string {
	return s.dialect
}

// Close closes the connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		} else {
			sb.WriteByte(query[i])
		}
	}
	return sb.String()
}

// RegisterArticle upserts an article and returns its stable id.
//
// Match precedence: exact DOI, exact arXiv ID, normalized-title equality.
// On match, non-empty incoming scalars overwrite empty existing ones and
// tags are unioned. On no match, a new row is inserted.
func (s *Store) RegisterArticle(ctx context.Context, incoming Article) (string, error) {
	if strings.TrimSpace(incoming.Title) == "" {
		return "", fmt.Errorf("article title is required")
	}

	incoming.DOI = NormalizeDOI(incoming.DOI)
	incoming.ArxivID = NormalizeArxivID(incoming.ArxivID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.matchArticleTx(ctx, tx, incoming.DOI, incoming.ArxivID, incoming.Title)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()

	if existing == nil {
		incoming.ID = uuid.NewString()
		incoming.CreatedAt = now
		incoming.UpdatedAt = now

		if err := s.insertArticleTx(ctx, tx, incoming); err != nil {
			return "", err
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit article insert: %w", err)
		}
		return incoming.ID, nil
	}

	merged := mergeArticles(*existing, incoming)
	merged.UpdatedAt = now

	if err := s.updateArticleTx(ctx, tx, merged); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit article update: %w", err)
	}
	return merged.ID, nil
}

func (s *Store) matchArticleTx(ctx context.Context, tx *sql.Tx, doi, arxivID, title string) (*Article, error) {
	if doi != "" {
		a, err := s.queryOneTx(ctx, tx, `SELECT `+articleColumns+` FROM articles WHERE doi = ?`, doi)
		if err != nil || a != nil {
			return a, err
		}
	}
	if arxivID != "" {
		a, err := s.queryOneTx(ctx, tx, `SELECT `+articleColumns+` FROM articles WHERE arxiv_id = ?`, arxivID)
		if err != nil || a != nil {
			return a, err
		}
	}
	if norm := NormalizeTitle(title); norm != "" {
		return s.queryOneTx(ctx, tx, `SELECT `+articleColumns+` FROM articles WHERE norm_title = ?`, norm)
	}
	return nil, nil
}

const articleColumns = `id, doi, arxiv_id, title, authors_json, abstract, year, pdf_path, markdown_path, note_path, tags_json, created_at, updated_at`

func (s *Store) queryOneTx(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (*Article, error) {
	row := tx.QueryRowContext(ctx, s.rebind(query), args...)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("article lookup failed: %w", err)
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var doi, arxivID, authorsJSON, abstract, pdfPath, mdPath, notePath, tagsJSON sql.NullString
	var year sql.NullInt64

	err := row.Scan(&a.ID, &doi, &arxivID, &a.Title, &authorsJSON, &abstract, &year,
		&pdfPath, &mdPath, &notePath, &tagsJSON, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	a.DOI = doi.String
	a.ArxivID = arxivID.String
	a.Abstract = abstract.String
	a.Year = int(year.Int64)
	a.PDFPath = pdfPath.String
	a.MarkdownPath = mdPath.String
	a.NotePath = notePath.String
	if authorsJSON.String != "" {
		_ = json.Unmarshal([]byte(authorsJSON.String), &a.Authors)
	}
	if tagsJSON.String != "" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &a.Tags)
	}
	return &a, nil
}

func (s *Store) insertArticleTx(ctx context.Context, tx *sql.Tx, a Article) error {
	authorsJSON, _ := json.Marshal(a.Authors)
	tagsJSON, _ := json.Marshal(a.Tags)

	_, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO articles (id, doi, arxiv_id, norm_title, title, authors_json, abstract, year,
    pdf_path, markdown_path, note_path, tags_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, nullable(a.DOI), nullable(a.ArxivID), NormalizeTitle(a.Title), a.Title,
		string(authorsJSON), nullable(a.Abstract), nullableInt(a.Year),
		nullable(a.PDFPath), nullable(a.MarkdownPath), nullable(a.NotePath),
		string(tagsJSON), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	return nil
}

func (s *Store) updateArticleTx(ctx context.Context, tx *sql.Tx, a Article) error {
	authorsJSON, _ := json.Marshal(a.Authors)
	tagsJSON, _ := json.Marshal(a.Tags)

	_, err := tx.ExecContext(ctx, s.rebind(`
UPDATE articles SET doi = ?, arxiv_id = ?, norm_title = ?, title = ?, authors_json = ?,
    abstract = ?, year = ?, pdf_path = ?, markdown_path = ?, note_path = ?,
    tags_json = ?, updated_at = ?
WHERE id = ?`),
		nullable(a.DOI), nullable(a.ArxivID), NormalizeTitle(a.Title), a.Title,
		string(authorsJSON), nullable(a.Abstract), nullableInt(a.Year),
		nullable(a.PDFPath), nullable(a.MarkdownPath), nullable(a.NotePath),
		string(tagsJSON), a.UpdatedAt, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	return nil
}

// mergeArticles applies incoming non-empty scalars over existing empty
// ones and unions tags. Existing non-empty values are never clobbered
// except the title, where the longer (usually fuller) variant wins.
func mergeArticles(existing, incoming Article) Article {
	merged := existing

	if merged.DOI == "" {
		merged.DOI = incoming.DOI
	}
	if merged.ArxivID == "" {
		merged.ArxivID = incoming.ArxivID
	}
	if len(incoming.Title) > len(merged.Title) {
		merged.Title = incoming.Title
	}
	if len(merged.Authors) == 0 {
		merged.Authors = incoming.Authors
	}
	if merged.Abstract == "" {
		merged.Abstract = incoming.Abstract
	}
	if merged.Year == 0 {
		merged.Year = incoming.Year
	}
	if incoming.PDFPath != "" {
		merged.PDFPath = incoming.PDFPath
	}
	if incoming.MarkdownPath != "" {
		merged.MarkdownPath = incoming.MarkdownPath
	}
	if incoming.NotePath != "" {
		merged.NotePath = incoming.NotePath
	}

	merged.Tags = unionStrings(existing.Tags, incoming.Tags)
	return merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// GetArticle fetches an article by id.
func (s *Store) GetArticle(ctx context.Context, id string) (*Article, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+articleColumns+` FROM articles WHERE id = ?`), id)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("article lookup failed: %w", err)
	}
	return a, nil
}

// SearchArticles returns articles whose title matches the query substring,
// newest first.
func (s *Store) SearchArticles(ctx context.Context, query string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT `+articleColumns+` FROM articles WHERE norm_title LIKE ? ORDER BY updated_at DESC LIMIT ?`),
		"%"+NormalizeTitle(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("article search failed: %w", err)
	}
	defer rows.Close()

	var out []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int) interface{} {
	if n == 0 {
		return nil
	}
	return n
}
