package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherProcessesExistingAndNewFiles(t *testing.T) {
	conv := &fakeConverter{markdown: testMarkdown}
	p, incoming := testPipeline(t, happyProvider(), conv)

	// Present before the watcher starts: picked up by the initial scan.
	writePDF(t, incoming, "existing.pdf", "%PDF-1.4 existing")

	w, err := NewWatcher(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return p.tracker.Len() == 1
	}, 5*time.Second, 20*time.Millisecond, "initial scan should process the existing pdf")

	// Dropped while watching: picked up after the debounce window.
	writePDF(t, incoming, "dropped.pdf", "%PDF-1.4 dropped later")

	require.Eventually(t, func() bool {
		return p.tracker.Len() == 2
	}, 5*time.Second, 20*time.Millisecond, "watcher should process the dropped pdf")

	cancel()
	assert.NoError(t, <-done)
}

func TestWatcherSubmitBypassesDirectory(t *testing.T) {
	conv := &fakeConverter{markdown: testMarkdown}
	p, _ := testPipeline(t, happyProvider(), conv)

	w, err := NewWatcher(p)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	elsewhere := t.TempDir()
	pdf := writePDF(t, elsewhere, "direct.pdf", "%PDF-1.4 direct submission")
	require.NoError(t, w.Submit(ctx, pdf))

	require.Eventually(t, func() bool {
		return p.tracker.Len() == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
