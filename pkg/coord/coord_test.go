package coord

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlock(t *testing.T) *Block {
	t.Helper()
	b, err := NewBlock(filepath.Join(t.TempDir(), "coordination.md"))
	require.NoError(t, err)
	return b
}

func TestPostReplacesPlaceholder(t *testing.T) {
	b := newTestBlock(t)

	content, err := os.ReadFile(b.path)
	require.NoError(t, err)
	assert.Equal(t, Placeholder+"\n", string(content))

	msg, err := b.Post("scraper", "pipeline", "ingest arxiv batch", PriorityHigh, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, msg.Status)

	content, err = os.ReadFile(b.path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), Placeholder)
	assert.Contains(t, string(content), "scraper -> pipeline")
	assert.Contains(t, string(content), "Task: ingest arxiv batch")
}

func TestReadFilters(t *testing.T) {
	b := newTestBlock(t)

	_, err := b.Post("a", "worker-1", "first", PriorityLow, nil)
	require.NoError(t, err)
	_, err = b.Post("a", "worker-2", "second", PriorityMedium, nil)
	require.NoError(t, err)
	msg, err := b.Post("b", "worker-1", "third", PriorityHigh, map[string]interface{}{"batch": "x7"})
	require.NoError(t, err)

	all, err := b.Read("", "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	forOne, err := b.Read("worker-1", "")
	require.NoError(t, err)
	require.Len(t, forOne, 2)
	assert.Equal(t, "first", forOne[0].Task)
	assert.Equal(t, "third", forOne[1].Task)
	assert.Equal(t, "x7", forOne[1].Metadata["batch"])

	require.NoError(t, b.MarkComplete("a", "worker-1", forOne[0].Timestamp))
	pending, err := b.Read("worker-1", StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.Task, pending[0].Task)
}

func TestMarkCompleteUnknownRecord(t *testing.T) {
	b := newTestBlock(t)
	_, err := b.Post("a", "w", "task", PriorityLow, nil)
	require.NoError(t, err)

	msgs, err := b.Read("", "")
	require.NoError(t, err)
	err = b.MarkComplete("someone-else", "w", msgs[0].Timestamp)
	assert.ErrorContains(t, err, "no message")
}

func TestTimestampsMonotonicPerWriter(t *testing.T) {
	b := newTestBlock(t)

	var last *Message
	for i := 0; i < 3; i++ {
		msg, err := b.Post("a", "w", "task", PriorityLow, nil)
		require.NoError(t, err)
		if last != nil {
			assert.True(t, msg.Timestamp.After(last.Timestamp), "timestamps must strictly increase")
		}
		last = msg
	}
}

func TestCompactKeepsActiveAndRecentComplete(t *testing.T) {
	b := newTestBlock(t)

	var completed []*Message
	for i := 0; i < 4; i++ {
		msg, err := b.Post("a", "w", "done", PriorityLow, nil)
		require.NoError(t, err)
		require.NoError(t, b.MarkComplete("a", "w", msg.Timestamp))
		completed = append(completed, msg)
	}
	_, err := b.Post("a", "w", "still pending", PriorityHigh, nil)
	require.NoError(t, err)

	require.NoError(t, b.Compact(2))

	msgs, err := b.Read("", "")
	require.NoError(t, err)
	require.Len(t, msgs, 3, "1 pending + 2 most recent complete")

	var tasks []string
	for _, m := range msgs {
		tasks = append(tasks, m.Task+":"+m.Status)
	}
	assert.Contains(t, tasks, "still pending:pending")

	// The two oldest completed records are gone.
	kept, err := b.Read("", StatusComplete)
	require.NoError(t, err)
	require.Len(t, kept, 2)
	assert.True(t, kept[0].Timestamp.After(completed[1].Timestamp))
}

func TestCompactToEmptyRestoresPlaceholder(t *testing.T) {
	b := newTestBlock(t)
	msg, err := b.Post("a", "w", "only", PriorityLow, nil)
	require.NoError(t, err)
	require.NoError(t, b.MarkComplete("a", "w", msg.Timestamp))
	require.NoError(t, b.Compact(0))

	content, err := os.ReadFile(b.path)
	require.NoError(t, err)
	assert.Equal(t, Placeholder+"\n", string(content))
}

func TestRoundTrip(t *testing.T) {
	b := newTestBlock(t)

	_, err := b.Post("a", "w", "one", PriorityCritical, map[string]interface{}{"k": "v"})
	require.NoError(t, err)
	_, err = b.Post("b", "w", "two", PriorityMedium, nil)
	require.NoError(t, err)

	before, err := b.Read("", "")
	require.NoError(t, err)

	// Rewriting the document through a no-op compact must preserve the
	// record set exactly.
	require.NoError(t, b.Compact(10))
	after, err := b.Read("", "")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPostValidation(t *testing.T) {
	b := newTestBlock(t)

	_, err := b.Post("", "w", "task", PriorityLow, nil)
	assert.Error(t, err)
	_, err = b.Post("a", "w", "task", "urgent", nil)
	assert.ErrorContains(t, err, "invalid priority")
}

func TestParseRejectsMalformedRecords(t *testing.T) {
	b := newTestBlock(t)
	require.NoError(t, os.WriteFile(b.path, []byte(strings.Join([]string{
		"[2026-01-02T03:04:05Z] a -> w",
		"Task: missing status and priority",
		"---",
		"",
	}, "\n")), 0o644))

	_, err := b.Read("", "")
	assert.Error(t, err)
}
