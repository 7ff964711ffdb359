package tracker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) (*Tracker, string) {
	t.Helper()
	dir := t.TempDir()
	tr, err := New(filepath.Join(dir, "ledger.json"))
	require.NoError(t, err)
	return tr, dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewFileIsUnprocessed(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := writeFile(t, dir, "paper.pdf", "content")

	processed, err := tr.IsProcessed(path)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestMarkProcessedRoundTrip(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := writeFile(t, dir, "paper.pdf", "content")

	require.NoError(t, tr.MarkProcessed(path, Metadata{NotePath: "/notes/paper.md", ArticleID: "a1"}))

	processed, err := tr.IsProcessed(path)
	require.NoError(t, err)
	assert.True(t, processed)

	entry, ok := tr.Entry(path)
	require.True(t, ok)
	assert.Equal(t, "/notes/paper.md", entry.NotePath)
	assert.Equal(t, "a1", entry.ArticleID)
}

func TestContentChangeInvalidates(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := writeFile(t, dir, "paper.pdf", "original content")
	require.NoError(t, tr.MarkProcessed(path, Metadata{}))

	writeFile(t, dir, "paper.pdf", "completely different content")

	status, err := tr.Check(path)
	require.NoError(t, err)
	assert.Equal(t, StatusNew, status)
	assert.False(t, tr.VerifyUnchanged(path))
}

func TestMissingFileIsGone(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := writeFile(t, dir, "paper.pdf", "content")
	require.NoError(t, tr.MarkProcessed(path, Metadata{}))
	require.NoError(t, os.Remove(path))

	status, err := tr.Check(path)
	require.NoError(t, err)
	assert.Equal(t, StatusGone, status)

	// Gone still counts as processed for the watcher.
	processed, err := tr.IsProcessed(path)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestPersistenceAcrossReload(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "ledger.json")
	path := writeFile(t, dir, "paper.pdf", "content")

	tr, err := New(ledger)
	require.NoError(t, err)
	require.NoError(t, tr.MarkProcessed(path, Metadata{NotePath: "n.md"}))

	tr2, err := New(ledger)
	require.NoError(t, err)

	processed, err := tr2.IsProcessed(path)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestCorruptLedgerQuarantined(t *testing.T) {
	dir := t.TempDir()
	ledger := filepath.Join(dir, "ledger.json")
	require.NoError(t, os.WriteFile(ledger, []byte("{not json"), 0o644))

	tr, err := New(ledger)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Len())

	// The corrupt file should have been renamed away.
	matches, err := filepath.Glob(ledger + ".corrupt.*")
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRebuildDropsGoneEntries(t *testing.T) {
	tr, dir := newTestTracker(t)
	keep := writeFile(t, dir, "keep.pdf", "a")
	gone := writeFile(t, dir, "gone.pdf", "b")

	require.NoError(t, tr.MarkProcessed(keep, Metadata{}))
	require.NoError(t, tr.MarkProcessed(gone, Metadata{}))
	require.NoError(t, os.Remove(gone))

	removed, err := tr.Rebuild()
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Contains(t, removed[0], "gone.pdf")
	assert.Equal(t, 1, tr.Len())
}

func TestForget(t *testing.T) {
	tr, dir := newTestTracker(t)
	path := writeFile(t, dir, "paper.pdf", "content")
	require.NoError(t, tr.MarkProcessed(path, Metadata{}))
	require.NoError(t, tr.Forget(path))

	processed, err := tr.IsProcessed(path)
	require.NoError(t, err)
	assert.False(t, processed)
}

func TestConcurrentMarkProcessed(t *testing.T) {
	tr, dir := newTestTracker(t)

	paths := make([]string, 8)
	for i := range paths {
		paths[i] = writeFile(t, dir, filepath.Base(dir)+string(rune('a'+i))+".pdf", "content")
	}

	done := make(chan error, len(paths))
	for _, p := range paths {
		go func(p string) {
			done <- tr.MarkProcessed(p, Metadata{})
		}(p)
	}
	for range paths {
		require.NoError(t, <-done)
	}

	assert.Equal(t, len(paths), tr.Len())
}
