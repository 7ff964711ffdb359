package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Converter turns a PDF into markdown. Conversion is the slowest pipeline
// step, so results are cached by content hash (see conversionCache).
type Converter interface {
	Convert(ctx context.Context, pdfPath string) (markdown string, err error)
}

// PDFConverter extracts embedded text from a PDF. Scanned documents
// without a text layer come back empty; a remote OCR converter can be
// swapped in for those.
type PDFConverter struct{}

func NewPDFConverter() *PDFConverter {
	return &PDFConverter{}
}

func (c *PDFConverter) Convert(ctx context.Context, pdfPath string) (string, error) {
	f, reader, err := pdf.Open(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// One unreadable page does not sink the document.
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
	}

	markdown := strings.TrimSpace(sb.String())
	if markdown == "" {
		return "", fmt.Errorf("no extractable text in %s (scanned document?)", pdfPath)
	}
	return markdown, nil
}

// markdown image references: ![alt](target)
var imageRefRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)

// stripImages produces the no-images markdown variant used for analysis
// and indexing.
func stripImages(markdown string) string {
	stripped := imageRefRe.ReplaceAllString(markdown, "")

	var out []string
	for _, line := range strings.Split(stripped, "\n") {
		out = append(out, strings.TrimRight(line, " \t"))
	}
	return strings.Join(out, "\n")
}

// conversionCache stores conversion results keyed by content hash so a
// retry after a crash skips the OCR work.
type conversionCache struct {
	dir string
}

const (
	cacheMarkdownName = "markdown.md"
	cacheNoImagesName = "markdown_no_images.md"
)

func newConversionCache(dir string) *conversionCache {
	return &conversionCache{dir: dir}
}

func (c *conversionCache) get(contentHash string) (markdown, noImages string, ok bool) {
	base := filepath.Join(c.dir, contentHash)

	md, err := os.ReadFile(filepath.Join(base, cacheMarkdownName))
	if err != nil {
		return "", "", false
	}
	ni, err := os.ReadFile(filepath.Join(base, cacheNoImagesName))
	if err != nil {
		return "", "", false
	}
	return string(md), string(ni), true
}

func (c *conversionCache) put(contentHash, markdown, noImages string) error {
	base := filepath.Join(c.dir, contentHash)
	if err := os.MkdirAll(base, 0o755); err != nil {
		return fmt.Errorf("failed to create conversion cache dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(base, cacheMarkdownName), []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("failed to cache markdown: %w", err)
	}
	if err := os.WriteFile(filepath.Join(base, cacheNoImagesName), []byte(noImages), 0o644); err != nil {
		return fmt.Errorf("failed to cache no-images markdown: %w", err)
	}
	return nil
}
