// Package tracker maintains the content-hash ledger of processed PDFs.
//
// The ledger decides whether a file needs processing, records outcomes,
// and detects silent modifications via a (size, head-hash) fingerprint.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Status classifies a path with respect to the ledger.
type Status int

const (
	// StatusNew means the path is unknown or its content changed.
	StatusNew Status = iota

	// StatusProcessed means the path is registered and unchanged.
	StatusProcessed

	// StatusGone means the path is registered but the file is missing.
	// The watcher treats this as processed; Rebuild requeues it.
	StatusGone
)

// Entry is one ledger record.
type Entry struct {
	AbsolutePath string    `json:"absolute_path"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	ProcessedAt  time.Time `json:"processed_at"`
	NotePath     string    `json:"note_path,omitempty"`
	ArticleID    string    `json:"article_id,omitempty"`
}

// Metadata accompanies MarkProcessed.
type Metadata struct {
	NotePath  string
	ArticleID string
}

type ledgerFile struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Tracker is the ledger manager. Reads are snapshot-consistent; writes
// serialize on an in-process mutex plus an on-disk lock file so multiple
// processes sharing a ledger do not interleave writes.
type Tracker struct {
	path      string
	headBytes int64

	mu      sync.RWMutex
	entries map[string]Entry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithHeadBytes sets how much of the file head feeds the fingerprint.
func WithHeadBytes(n int64) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.headBytes = n
		}
	}
}

// New loads (or creates) the ledger at path. A malformed ledger is
// quarantined with a .corrupt.<ts> suffix and a fresh one is started.
func New(path string, opts ...Option) (*Tracker, error) {
	t := &Tracker{
		path:      path,
		headBytes: 1 << 20,
		entries:   make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(t)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var lf ledgerFile
	if err := json.Unmarshal(data, &lf); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt.%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			return nil, fmt.Errorf("failed to quarantine corrupt ledger: %w", renameErr)
		}
		slog.Warn("Quarantined corrupt tracker ledger", "path", path, "quarantine", quarantine, "error", err)
		return t, nil
	}

	if lf.Entries != nil {
		t.entries = lf.Entries
	}
	return t, nil
}

// Fingerprint computes the (size, head-hash) fingerprint of a file.
func (t *Tracker) Fingerprint(path string) (sha string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", 0, err
	}

	h := sha256.New()
	if _, err := io.CopyN(h, f, t.headBytes); err != nil && err != io.EOF {
		return "", 0, fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), info.Size(), nil
}

// Check classifies a path.
func (t *Tracker) Check(path string) (Status, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return StatusNew, err
	}

	t.mu.RLock()
	entry, registered := t.entries[abs]
	t.mu.RUnlock()

	if !registered {
		return StatusNew, nil
	}

	sha, size, err := t.Fingerprint(abs)
	if os.IsNotExist(err) {
		return StatusGone, nil
	}
	if err != nil {
		return StatusNew, err
	}

	if entry.Size == size && entry.SHA256 == sha {
		return StatusProcessed, nil
	}
	return StatusNew, nil
}

// IsProcessed reports whether the path needs no processing. A registered
// but missing file counts as processed.
func (t *Tracker) IsProcessed(path string) (bool, error) {
	status, err := t.Check(path)
	if err != nil {
		return false, err
	}
	return status != StatusNew, nil
}

// FindContent looks up an entry by fingerprint, regardless of path. This
// is what lets a processed PDF that reappears under a new name
// short-circuit the pipeline.
func (t *Tracker) FindContent(sha string, size int64) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, entry := range t.entries {
		if entry.SHA256 == sha && entry.Size == size {
			return entry, true
		}
	}
	return Entry{}, false
}

// VerifyUnchanged is a cheap re-check used before reprocessing.
func (t *Tracker) VerifyUnchanged(path string) bool {
	status, err := t.Check(path)
	return err == nil && status == StatusProcessed
}

// MarkProcessed records an entry and persists the ledger atomically.
func (t *Tracker) MarkProcessed(path string, meta Metadata) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	sha, size, err := t.Fingerprint(abs)
	if err != nil {
		return fmt.Errorf("failed to fingerprint %s: %w", abs, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[abs] = Entry{
		AbsolutePath: abs,
		SHA256:       sha,
		Size:         size,
		ProcessedAt:  time.Now().UTC(),
		NotePath:     meta.NotePath,
		ArticleID:    meta.ArticleID,
	}

	return t.persistLocked()
}

// Forget removes a path from the ledger.
func (t *Tracker) Forget(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[abs]; !ok {
		return nil
	}
	delete(t.entries, abs)
	return t.persistLocked()
}

// Entry returns the recorded entry for a path.
func (t *Tracker) Entry(path string) (Entry, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Entry{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.entries[abs]
	return entry, ok
}

// Entries returns a snapshot of the ledger, sorted by path.
func (t *Tracker) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entries := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AbsolutePath < entries[j].AbsolutePath
	})
	return entries
}

// Rebuild drops entries whose files are gone and returns the removed
// paths so callers can requeue them if the files reappear.
func (t *Tracker) Rebuild() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for path := range t.entries {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			removed = append(removed, path)
			delete(t.entries, path)
		}
	}

	if len(removed) == 0 {
		return nil, nil
	}
	return removed, t.persistLocked()
}

// Len returns the number of ledger entries.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// persistLocked writes the ledger via temp file + rename under an on-disk
// lock. Callers hold t.mu.
func (t *Tracker) persistLocked() error {
	unlock, err := acquireFileLock(t.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	lf := ledgerFile{Version: 1, Entries: t.entries}
	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// acquireFileLock takes an exclusive advisory lock by creating a lock
// file. Stale locks older than a minute are broken.
func acquireFileLock(lockPath string) (func(), error) {
	deadline := time.Now().Add(10 * time.Second)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire ledger lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > time.Minute {
			slog.Warn("Breaking stale ledger lock", "path", lockPath)
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for ledger lock %s", lockPath)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
