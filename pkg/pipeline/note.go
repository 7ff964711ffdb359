package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/thoth-kb/thoth/pkg/analysis"
	"github.com/thoth-kb/thoth/pkg/citegraph"
)

// noteTemplate renders the markdown note colocated with the PDF. The
// front matter keeps the note greppable and tool-friendly.
const noteTemplate = `---
article_id: {{.ArticleID}}
title: "{{.Title}}"
{{- if .Authors}}
authors:
{{- range .Authors}}
  - "{{.}}"
{{- end}}
{{- end}}
{{- if .Year}}
year: {{.Year}}
{{- end}}
{{- if .Tags}}
tags: [{{join .Tags ", "}}]
{{- end}}
created: {{.Created}}
---

# {{.Title}}
{{- if .AnalysisFailed}}

> Analysis failed for this paper; only the extracted text was preserved.
{{- end}}
{{- if .Summary}}

## Summary

{{.Summary}}
{{- end}}
{{- if .Methodology}}

## Methodology

{{.Methodology}}
{{- end}}
{{- if .KeyPoints}}

## Key Points
{{range .KeyPoints}}
- {{.}}
{{- end}}
{{- end}}
{{- if .Citations}}

## References
{{range $i, $c := .Citations}}
{{ref $i $c}}
{{- end}}
{{- end}}
`

type noteData struct {
	ArticleID      string
	Title          string
	Authors        []string
	Year           int
	Tags           []string
	Summary        string
	Methodology    string
	KeyPoints      []string
	Citations      []citegraph.Citation
	Created        string
	AnalysisFailed bool
}

var noteTmpl = template.Must(template.New("note").Funcs(template.FuncMap{
	"join": strings.Join,
	"ref": func(i int, c citegraph.Citation) string {
		return citegraph.FormatCitation(c, citegraph.StyleIEEE, i+1)
	},
}).Parse(noteTemplate))

// renderNote writes the note into the notes directory and returns its
// path. The note filename derives from the article title.
func (p *Pipeline) renderNote(articleID string, record *analysis.Record, citations []citegraph.Citation, fallbackTitle string) (string, error) {
	data := noteData{
		ArticleID:      articleID,
		Title:          fallbackTitle,
		Citations:      citations,
		Created:        time.Now().UTC().Format("2006-01-02"),
		AnalysisFailed: record == nil,
	}
	if record != nil {
		data.Title = record.Title
		data.Authors = record.Authors
		data.Tags = record.Tags
		data.Summary = record.Summary
		data.Methodology = record.Methodology
		data.KeyPoints = record.KeyPoints
	}

	var sb strings.Builder
	if err := noteTmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render note: %w", err)
	}

	if err := os.MkdirAll(p.paths.Notes, 0o755); err != nil {
		return "", fmt.Errorf("failed to create notes directory: %w", err)
	}

	notePath := filepath.Join(p.paths.Notes, sanitizeFilename(data.Title)+".md")
	if err := os.WriteFile(notePath, []byte(sb.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write note: %w", err)
	}
	return notePath, nil
}

// movePDF relocates the source PDF next to the note. Rename is tried
// first; a copy+remove fallback covers cross-device moves.
func movePDF(src, notePath string) (string, error) {
	dst := strings.TrimSuffix(notePath, ".md") + ".pdf"
	if src == dst {
		return dst, nil
	}

	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf for move: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("failed to create pdf at destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return "", fmt.Errorf("failed to copy pdf: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to finish pdf copy: %w", err)
	}

	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("failed to remove source pdf: %w", err)
	}
	return dst, nil
}

// sanitizeFilename maps a title to a safe filename.
func sanitizeFilename(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ', r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		}
	}
	s := strings.TrimSpace(sb.String())
	if len(s) > 120 {
		s = s[:120]
	}
	if s == "" {
		s = "untitled"
	}
	return s
}
