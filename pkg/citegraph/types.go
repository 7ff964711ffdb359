// Package citegraph owns the canonical article set and citation edges.
package citegraph

import "time"

// Article is a canonical paper record.
type Article struct {
	ID           string    `json:"id"`
	DOI          string    `json:"doi,omitempty"`
	ArxivID      string    `json:"arxiv_id,omitempty"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors,omitempty"`
	Abstract     string    `json:"abstract,omitempty"`
	Year         int       `json:"year,omitempty"`
	PDFPath      string    `json:"pdf_path,omitempty"`
	MarkdownPath string    `json:"markdown_path,omitempty"`
	NotePath     string    `json:"note_path,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Citation is a reference emitted by one article, possibly resolved to
// another article in the graph.
type Citation struct {
	ID              string   `json:"id"`
	SourceArticleID string   `json:"source_article_id"`
	TargetArticleID string   `json:"target_article_id,omitempty"`
	Title           string   `json:"title,omitempty"`
	Authors         []string `json:"authors,omitempty"`
	Year            int      `json:"year,omitempty"`
	DOI             string   `json:"doi,omitempty"`
	ArxivID         string   `json:"arxiv_id,omitempty"`
	PDFURL          string   `json:"pdf_url,omitempty"`
	PDFSource       string   `json:"pdf_source,omitempty"`
	IsOpenAccess    *bool    `json:"is_open_access,omitempty"`
	BackupID        string   `json:"backup_id,omitempty"`
	Raw             string   `json:"raw,omitempty"`
}

// Resolved reports whether the citation points at a known article.
func (c Citation) Resolved() bool {
	return c.TargetArticleID != ""
}

// Stats summarizes the graph.
type Stats struct {
	Articles           int `json:"articles"`
	Citations          int `json:"citations"`
	ResolvedCitations  int `json:"resolved_citations"`
	ArticlesWithPDF    int `json:"articles_with_pdf"`
	ArticlesWithNotes  int `json:"articles_with_notes"`
}
