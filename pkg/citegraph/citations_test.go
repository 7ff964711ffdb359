package citegraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedArticle(t *testing.T, s *Store, a Article) string {
	t.Helper()
	id, err := s.RegisterArticle(context.Background(), a)
	require.NoError(t, err)
	return id
}

func TestAddCitationsResolvesAgainstKnownArticles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := seedArticle(t, s, Article{Title: "Survey Paper"})
	known := seedArticle(t, s, Article{Title: "Known Paper", DOI: "10.1/known"})

	err := s.AddCitations(ctx, source, []Citation{
		{Title: "Known Paper", DOI: "doi:10.1/KNOWN"},
		{Title: "Unknown Paper", DOI: "10.1/unknown"},
	})
	require.NoError(t, err)

	citations, err := s.CitationsFor(ctx, source)
	require.NoError(t, err)
	require.Len(t, citations, 2)

	byDOI := map[string]Citation{}
	for _, c := range citations {
		byDOI[c.DOI] = c
	}
	assert.Equal(t, known, byDOI["10.1/known"].TargetArticleID)
	assert.True(t, byDOI["10.1/known"].Resolved())
	assert.False(t, byDOI["10.1/unknown"].Resolved())
}

func TestAddCitationsCollapsesDuplicateEdges(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := seedArticle(t, s, Article{Title: "Survey Paper"})
	seedArticle(t, s, Article{Title: "Target", DOI: "10.1/t", ArxivID: "2101.00001"})

	// Both citations resolve to the same target through different keys.
	err := s.AddCitations(ctx, source, []Citation{
		{Title: "Target", DOI: "10.1/t"},
		{Title: "Target (arXiv)", ArxivID: "arXiv:2101.00001v2"},
	})
	require.NoError(t, err)

	citations, err := s.CitationsFor(ctx, source)
	require.NoError(t, err)
	assert.Len(t, citations, 1)
}

func TestAddCitationsNeverSelfLinks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := seedArticle(t, s, Article{Title: "Recursive Paper", DOI: "10.1/self"})

	err := s.AddCitations(ctx, source, []Citation{{Title: "Recursive Paper", DOI: "10.1/self"}})
	require.NoError(t, err)

	citations, err := s.CitationsFor(ctx, source)
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.False(t, citations[0].Resolved())
}

func TestResolvePending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := seedArticle(t, s, Article{Title: "Survey"})
	err := s.AddCitations(ctx, source, []Citation{{Title: "Future Paper", DOI: "10.1/future"}})
	require.NoError(t, err)

	// The cited paper arrives later.
	target := seedArticle(t, s, Article{Title: "Future Paper", DOI: "10.1/future"})

	n, err := s.ResolvePending(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	citations, err := s.CitationsFor(ctx, source)
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Equal(t, target, citations[0].TargetArticleID)
}

func TestUpdateCitationIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	source := seedArticle(t, s, Article{Title: "Survey"})
	target := seedArticle(t, s, Article{Title: "Cited", DOI: "10.1/cited"})

	require.NoError(t, s.AddCitations(ctx, source, []Citation{{Title: "Cited", DOI: "10.1/cited"}}))

	citations, err := s.CitationsFor(ctx, source)
	require.NoError(t, err)
	require.Len(t, citations, 1)
	require.Equal(t, target, citations[0].TargetArticleID)

	// An enhancement pass with no target must not clear resolution.
	open := true
	update := citations[0]
	update.TargetArticleID = ""
	update.Year = 2020
	update.IsOpenAccess = &open
	require.NoError(t, s.UpdateCitation(ctx, update))

	citations, err = s.CitationsFor(ctx, source)
	require.NoError(t, err)
	assert.Equal(t, target, citations[0].TargetArticleID)
	assert.Equal(t, 2020, citations[0].Year)
	require.NotNil(t, citations[0].IsOpenAccess)
	assert.True(t, *citations[0].IsOpenAccess)
}

func TestFindRelated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedArticle(t, s, Article{Title: "Alpha", DOI: "10.1/a"})
	b := seedArticle(t, s, Article{Title: "Beta", DOI: "10.1/b"})
	c := seedArticle(t, s, Article{Title: "Gamma", DOI: "10.1/c"})

	// a -> b -> c
	require.NoError(t, s.AddCitations(ctx, a, []Citation{{Title: "Beta", DOI: "10.1/b"}}))
	require.NoError(t, s.AddCitations(ctx, b, []Citation{{Title: "Gamma", DOI: "10.1/c"}}))

	depth1, err := s.FindRelated(ctx, a, 1)
	require.NoError(t, err)
	require.Len(t, depth1, 1)
	assert.Equal(t, b, depth1[0].ID)

	depth2, err := s.FindRelated(ctx, a, 2)
	require.NoError(t, err)
	ids := make([]string, 0, len(depth2))
	for _, article := range depth2 {
		ids = append(ids, article.ID)
	}
	assert.ElementsMatch(t, []string{b, c}, ids)

	// Reverse direction: c reaches b then a.
	fromC, err := s.FindRelated(ctx, c, 2)
	require.NoError(t, err)
	assert.Len(t, fromC, 2)
}

func TestRemoveArticle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedArticle(t, s, Article{Title: "Alpha"})
	b := seedArticle(t, s, Article{Title: "Beta", DOI: "10.1/b"})
	require.NoError(t, s.AddCitations(ctx, a, []Citation{{Title: "Beta", DOI: "10.1/b"}}))

	removed, err := s.RemoveArticle(ctx, b)
	require.NoError(t, err)
	assert.True(t, removed)

	// a's citation survives but is unresolved again.
	citations, err := s.CitationsFor(ctx, a)
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.False(t, citations[0].Resolved())

	removed, err = s.RemoveArticle(ctx, b)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := seedArticle(t, s, Article{Title: "Alpha", PDFPath: "/papers/a.pdf", NotePath: "/notes/a.md"})
	seedArticle(t, s, Article{Title: "Beta", DOI: "10.1/b"})
	require.NoError(t, s.AddCitations(ctx, a, []Citation{
		{Title: "Beta", DOI: "10.1/b"},
		{Title: "Unknown"},
	}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Articles)
	assert.Equal(t, 2, st.Citations)
	assert.Equal(t, 1, st.ResolvedCitations)
	assert.Equal(t, 1, st.ArticlesWithPDF)
	assert.Equal(t, 1, st.ArticlesWithNotes)
}

func TestFormatBibliography(t *testing.T) {
	citations := []Citation{
		{Title: "Zebra Methods", Authors: []string{"Zhang"}, Year: 2021, DOI: "10.1/z"},
		{Title: "Attention Is All You Need", Authors: []string{"Vaswani", "Shazeer"}, Year: 2017, ArxivID: "1706.03762"},
	}

	entries := FormatBibliography(citations, StyleIEEE)
	require.Len(t, entries, 2)

	// Sorted by first author: Vaswani before Zhang.
	assert.Contains(t, entries[0].Text, "[1]")
	assert.Contains(t, entries[0].Text, "Vaswani and Shazeer")
	assert.Contains(t, entries[0].Text, "arXiv:1706.03762")
	assert.Contains(t, entries[1].Text, "[2]")
	assert.Contains(t, entries[1].Text, "https://doi.org/10.1/z")

	apa := FormatCitation(citations[1], StyleAPA, 1)
	assert.Contains(t, apa, "(2017)")

	harvard := FormatCitation(citations[1], StyleHarvard, 1)
	assert.Contains(t, harvard, "'Attention Is All You Need'")
}
