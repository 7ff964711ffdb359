package citegraph

import (
	"strings"
	"unicode"
)

// NormalizeDOI lowercases and strips resolver prefixes from a DOI.
func NormalizeDOI(doi string) string {
	s := strings.TrimSpace(strings.ToLower(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "doi.org/", "doi:"} {
		s = strings.TrimPrefix(s, prefix)
	}
	return strings.TrimSpace(s)
}

// NormalizeArxivID strips the arXiv prefix and version suffix.
func NormalizeArxivID(id string) string {
	s := strings.TrimSpace(strings.ToLower(id))
	s = strings.TrimPrefix(s, "arxiv:")
	s = strings.TrimPrefix(s, "https://arxiv.org/abs/")
	s = strings.TrimPrefix(s, "http://arxiv.org/abs/")

	// Drop a trailing version marker like v2.
	if i := strings.LastIndexByte(s, 'v'); i > 0 {
		version := s[i+1:]
		if version != "" && isDigits(version) {
			s = s[:i]
		}
	}
	return s
}

// NormalizeTitle folds a title for equality comparison: lowercase,
// punctuation stripped, whitespace collapsed, truncated to the first 120
// characters.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	lastSpace := true

	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			sb.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				sb.WriteByte(' ')
				lastSpace = true
			}
		default:
			// Punctuation is dropped entirely.
		}
	}

	s := strings.TrimSpace(sb.String())
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
