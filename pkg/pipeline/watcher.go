package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// Watcher feeds the pipeline from the incoming directory. Create and
// write events are debounced per path so a PDF is only picked up after
// its writer goes quiet; an initial scan enqueues files that arrived
// while the watcher was down.
type Watcher struct {
	pipeline *Pipeline
	dir      string

	mu      sync.Mutex
	pending map[string]*time.Timer
	events  chan string
}

// NewWatcher builds a watcher over the pipeline's incoming directory.
func NewWatcher(p *Pipeline) (*Watcher, error) {
	dir := p.paths.Incoming
	if dir == "" {
		return nil, fmt.Errorf("incoming directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create incoming directory: %w", err)
	}

	return &Watcher{
		pipeline: p,
		dir:      dir,
		pending:  make(map[string]*time.Timer),
		events:   make(chan string, 64),
	}, nil
}

// Run watches until the context is cancelled. Processing happens on a
// bounded worker pool; the DAG for one PDF never runs concurrently with
// itself because the debounce map holds one slot per path.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addWatches(fsw); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	workers := w.pipeline.cfg.Workers
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case path := <-w.events:
					w.process(ctx, path)
				}
			}
		})
	}

	g.Go(func() error {
		return w.dispatch(ctx, fsw)
	})

	// Files that arrived while nothing was watching.
	w.scan(ctx)

	slog.Info("Watching for PDFs", "dir", w.dir, "workers", workers)

	err = g.Wait()
	if err == context.Canceled {
		return nil
	}
	return err
}

// Submit queues one file for processing, bypassing the watch directory.
func (w *Watcher) Submit(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case w.events <- path:
		return nil
	}
}

func (w *Watcher) addWatches(fsw *fsnotify.Watcher) error {
	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	if !w.pipeline.cfg.WatchRecursive {
		return nil
	}

	return filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == w.dir {
			return err
		}
		return fsw.Add(path)
	})
}

func (w *Watcher) dispatch(ctx context.Context, fsw *fsnotify.Watcher) error {
	for {
		select {
		case <-ctx.Done():
			w.drainTimers()
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			if w.pipeline.cfg.WatchRecursive {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && event.Op&fsnotify.Create != 0 {
					if err := fsw.Add(event.Name); err != nil {
						slog.Warn("Failed to watch new directory", "dir", event.Name, "error", err)
					}
					continue
				}
			}

			if !strings.EqualFold(filepath.Ext(event.Name), ".pdf") {
				continue
			}
			w.debounce(event.Name)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Watcher error", "error", err)
		}
	}
}

// debounce (re)arms a per-path timer; the path is queued when the timer
// fires without another event resetting it.
func (w *Watcher) debounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.pipeline.cfg.DebounceDelay)
		return
	}

	w.pending[path] = time.AfterFunc(w.pipeline.cfg.DebounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case w.events <- path:
		default:
			slog.Warn("Event queue full, dropping until rescan", "pdf", path)
		}
	})
}

func (w *Watcher) drainTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, timer := range w.pending {
		timer.Stop()
		delete(w.pending, path)
	}
}

// scan enqueues the PDFs already present under the incoming directory.
func (w *Watcher) scan(ctx context.Context) {
	err := filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != w.dir && !w.pipeline.cfg.WatchRecursive {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case w.events <- path:
			return nil
		}
	})
	if err != nil && err != context.Canceled {
		slog.Warn("Initial scan incomplete", "dir", w.dir, "error", err)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	result, err := w.pipeline.Process(ctx, path)
	switch {
	case err != nil:
		slog.Error("Pipeline run failed", "pdf", path, "error", err)
	case result.Skipped:
		slog.Debug("Pipeline run skipped", "pdf", path)
	}
}
