package citegraph

import (
	"fmt"
	"sort"
	"strings"
)

// Bibliography styles.
const (
	StyleIEEE    = "ieee"
	StyleAPA     = "apa"
	StyleMLA     = "mla"
	StyleChicago = "chicago"
	StyleHarvard = "harvard"
)

// BibEntry is one formatted bibliography line.
type BibEntry struct {
	Citation Citation
	Text     string
}

// FormatBibliography renders the citations of an article in the given
// style, sorted by first author then year. Unknown styles fall back to
// IEEE.
func FormatBibliography(citations []Citation, style string) []BibEntry {
	sorted := make([]Citation, len(citations))
	copy(sorted, citations)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := firstAuthor(sorted[i]), firstAuthor(sorted[j])
		if ai != aj {
			return ai < aj
		}
		return sorted[i].Year < sorted[j].Year
	})

	out := make([]BibEntry, 0, len(sorted))
	for i, c := range sorted {
		out = append(out, BibEntry{Citation: c, Text: FormatCitation(c, style, i+1)})
	}
	return out
}

// FormatCitation renders a single citation. The index is used by
// numbered styles (IEEE).
func FormatCitation(c Citation, style string, index int) string {
	switch style {
	case StyleAPA:
		return formatAPA(c)
	case StyleMLA:
		return formatMLA(c)
	case StyleChicago:
		return formatChicago(c)
	case StyleHarvard:
		return formatHarvard(c)
	default:
		return formatIEEE(c, index)
	}
}

func formatIEEE(c Citation, index int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d] ", index)
	if authors := joinAuthors(c.Authors, 3, "et al."); authors != "" {
		sb.WriteString(authors)
		sb.WriteString(", ")
	}
	fmt.Fprintf(&sb, "%q", titleOrFallback(c))
	if c.Year > 0 {
		fmt.Fprintf(&sb, ", %d", c.Year)
	}
	sb.WriteString(".")
	appendIdentifier(&sb, c)
	return sb.String()
}

func formatAPA(c Citation) string {
	var sb strings.Builder
	if authors := joinAuthors(c.Authors, 20, "et al."); authors != "" {
		sb.WriteString(authors)
		sb.WriteString(" ")
	}
	if c.Year > 0 {
		fmt.Fprintf(&sb, "(%d). ", c.Year)
	}
	sb.WriteString(titleOrFallback(c))
	sb.WriteString(".")
	appendIdentifier(&sb, c)
	return sb.String()
}

func formatMLA(c Citation) string {
	var sb strings.Builder
	if authors := joinAuthors(c.Authors, 2, "et al."); authors != "" {
		sb.WriteString(authors)
		sb.WriteString(". ")
	}
	fmt.Fprintf(&sb, "%q", titleOrFallback(c))
	if c.Year > 0 {
		fmt.Fprintf(&sb, " %d", c.Year)
	}
	sb.WriteString(".")
	appendIdentifier(&sb, c)
	return sb.String()
}

func formatChicago(c Citation) string {
	var sb strings.Builder
	if authors := joinAuthors(c.Authors, 10, "et al."); authors != "" {
		sb.WriteString(authors)
		sb.WriteString(". ")
	}
	fmt.Fprintf(&sb, "%q", titleOrFallback(c))
	if c.Year > 0 {
		fmt.Fprintf(&sb, " (%d)", c.Year)
	}
	sb.WriteString(".")
	appendIdentifier(&sb, c)
	return sb.String()
}

func formatHarvard(c Citation) string {
	var sb strings.Builder
	if authors := joinAuthors(c.Authors, 3, "et al."); authors != "" {
		sb.WriteString(authors)
		if c.Year > 0 {
			fmt.Fprintf(&sb, " %d", c.Year)
		}
		sb.WriteString(", ")
	} else if c.Year > 0 {
		fmt.Fprintf(&sb, "%d, ", c.Year)
	}
	fmt.Fprintf(&sb, "'%s'.", titleOrFallback(c))
	appendIdentifier(&sb, c)
	return sb.String()
}

// joinAuthors lists up to max authors, replacing the remainder with the
// truncation marker.
func joinAuthors(authors []string, max int, marker string) string {
	if len(authors) == 0 {
		return ""
	}
	if len(authors) > max {
		return strings.Join(authors[:max], ", ") + " " + marker
	}
	if len(authors) == 1 {
		return authors[0]
	}
	return strings.Join(authors[:len(authors)-1], ", ") + " and " + authors[len(authors)-1]
}

func titleOrFallback(c Citation) string {
	if c.Title != "" {
		return c.Title
	}
	if c.Raw != "" {
		return c.Raw
	}
	return "Untitled"
}

func appendIdentifier(sb *strings.Builder, c Citation) {
	switch {
	case c.DOI != "":
		fmt.Fprintf(sb, " https://doi.org/%s", c.DOI)
	case c.ArxivID != "":
		fmt.Fprintf(sb, " arXiv:%s", c.ArxivID)
	}
}

func firstAuthor(c Citation) string {
	if len(c.Authors) == 0 {
		return "~" // sorts after letters, authorless entries go last
	}
	return strings.ToLower(c.Authors[0])
}
