// Package sources holds typed clients for the research APIs consumed
// during citation enhancement and PDF location. Every call goes through
// the gateway; clients only shape requests and normalize responses.
package sources

import (
	"github.com/thoth-kb/thoth/pkg/citegraph"
)

// Metadata is the normalized partial record a source returns for one
// citation. Empty fields mean "this source does not know".
type Metadata struct {
	Title        string
	Authors      []string
	Year         int
	DOI          string
	ArxivID      string
	Abstract     string
	PDFURL       string
	IsOpenAccess *bool

	// Source names the API that produced this record.
	Source string
}

// Apply merges the metadata into a citation monotonically: only empty
// citation fields are filled, and an existing PDF location is kept.
func (m Metadata) Apply(c *citegraph.Citation) {
	if c.Title == "" {
		c.Title = m.Title
	}
	if len(c.Authors) == 0 {
		c.Authors = m.Authors
	}
	if c.Year == 0 {
		c.Year = m.Year
	}
	if c.DOI == "" {
		c.DOI = citegraph.NormalizeDOI(m.DOI)
	}
	if c.ArxivID == "" {
		c.ArxivID = citegraph.NormalizeArxivID(m.ArxivID)
	}
	if c.PDFURL == "" && m.PDFURL != "" {
		c.PDFURL = m.PDFURL
		c.PDFSource = m.Source
	}
	if c.IsOpenAccess == nil && m.IsOpenAccess != nil {
		v := *m.IsOpenAccess
		c.IsOpenAccess = &v
	}
}

// Complete reports whether a citation already has everything the
// enhancement pass could add.
func Complete(c *citegraph.Citation) bool {
	return c.Title != "" && len(c.Authors) > 0 && c.Year != 0 &&
		(c.DOI != "" || c.ArxivID != "") && c.PDFURL != ""
}
