package retrieval

import (
	"fmt"
	"strings"
)

// chunker splits markdown into overlapping chunks. Heading context
// decides the chunk type: everything under an "Abstract" heading is
// tagged abstract, "References"/"Bibliography" sections are tagged
// reference, the rest section.
type chunker struct {
	size    int
	overlap int
}

func newChunker(size, overlap int) *chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 5
	}
	return &chunker{size: size, overlap: overlap}
}

// Split produces the chunks of one article's markdown.
func (c *chunker) Split(articleID, markdown string) []Chunk {
	sections := splitSections(markdown)

	var chunks []Chunk
	index := 0
	for _, sec := range sections {
		for _, piece := range c.window(sec.text) {
			chunks = append(chunks, Chunk{
				ID:        fmt.Sprintf("%s-%d", articleID, index),
				ArticleID: articleID,
				Index:     index,
				Type:      sec.chunkType,
				Content:   piece,
			})
			index++
		}
	}
	return chunks
}

type section struct {
	chunkType string
	text      string
}

func splitSections(markdown string) []section {
	var sections []section
	current := section{chunkType: ChunkSection}
	var sb strings.Builder

	flush := func() {
		text := strings.TrimSpace(sb.String())
		if text != "" {
			current.text = text
			sections = append(sections, current)
		}
		sb.Reset()
	}

	for _, line := range strings.Split(markdown, "\n") {
		if heading, ok := headingText(line); ok {
			flush()
			current = section{chunkType: classifyHeading(heading)}
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	flush()

	return sections
}

func headingText(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimLeft(trimmed, "#")), true
}

func classifyHeading(heading string) string {
	h := strings.ToLower(heading)
	switch {
	case strings.Contains(h, "abstract"):
		return ChunkAbstract
	case strings.Contains(h, "reference"), strings.Contains(h, "bibliograph"):
		return ChunkReference
	default:
		return ChunkSection
	}
}

// window slides a fixed-size window with overlap over the text,
// preferring to break at whitespace near the boundary.
func (c *chunker) window(text string) []string {
	if len(text) <= c.size {
		return []string{text}
	}

	var out []string
	start := 0
	for start < len(text) {
		end := start + c.size
		if end >= len(text) {
			out = append(out, strings.TrimSpace(text[start:]))
			break
		}

		// Back up to the nearest whitespace to avoid splitting words,
		// but never shrink the chunk below half its size.
		cut := end
		for cut > start+c.size/2 && !isSpace(text[cut]) {
			cut--
		}
		if cut == start+c.size/2 {
			cut = end
		}

		out = append(out, strings.TrimSpace(text[start:cut]))

		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return out
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
