// Package coord implements the shared coordination block: a single text
// document with a strict record grammar that cooperating agents use as a
// task queue.
//
// Record grammar:
//
//	[<ISO-8601 ts>] <sender> -> <receiver>
//	Task: <one line>
//	Priority: <low|medium|high|critical>
//	Status: <pending|in_progress|complete>
//	Metadata: <json>        (optional)
//	---
package coord

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// Placeholder marks an empty block.
const Placeholder = "[No messages]"

// Priorities.
const (
	PriorityLow      = "low"
	PriorityMedium   = "medium"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Statuses.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusComplete   = "complete"
)

// Message is one parsed record.
type Message struct {
	Timestamp time.Time              `json:"timestamp"`
	Sender    string                 `json:"sender"`
	Receiver  string                 `json:"receiver"`
	Task      string                 `json:"task"`
	Priority  string                 `json:"priority"`
	Status    string                 `json:"status"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Block manages the backing file. Writers serialize on an in-process
// mutex plus an on-disk lock so concurrent processes do not interleave.
type Block struct {
	path string

	mu sync.Mutex

	// lastTS enforces monotonic timestamps per writer: two posts within
	// the same second still order correctly.
	lastTS time.Time
}

// NewBlock opens (creating if needed) the block at path.
func NewBlock(path string) (*Block, error) {
	if path == "" {
		return nil, fmt.Errorf("block path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create block directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.WriteFile(path, []byte(Placeholder+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("failed to initialize block: %w", err)
		}
	}
	return &Block{path: path}, nil
}

// Post appends a new pending record, replacing the placeholder if the
// block is empty.
func (b *Block) Post(sender, receiver, task, priority string, metadata map[string]interface{}) (*Message, error) {
	if sender == "" || receiver == "" || task == "" {
		return nil, fmt.Errorf("sender, receiver and task are required")
	}
	switch priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
	default:
		return nil, fmt.Errorf("invalid priority %q", priority)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msg := Message{
		Timestamp: b.nextTimestampLocked(),
		Sender:    sender,
		Receiver:  receiver,
		Task:      task,
		Priority:  priority,
		Status:    StatusPending,
		Metadata:  metadata,
	}

	return &msg, b.withFileLocked(func(content string) (string, error) {
		rendered, err := renderMessage(msg)
		if err != nil {
			return "", err
		}

		if strings.TrimSpace(content) == Placeholder || strings.TrimSpace(content) == "" {
			return rendered, nil
		}
		return strings.TrimRight(content, "\n") + "\n" + rendered, nil
	})
}

// Read parses the block and filters by receiver and/or status; empty
// arguments mean no filter.
func (b *Block) Read(receiver, status string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	content, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read block: %w", err)
	}

	messages, err := parseBlock(string(content))
	if err != nil {
		return nil, err
	}

	var out []Message
	for _, m := range messages {
		if receiver != "" && m.Receiver != receiver {
			continue
		}
		if status != "" && m.Status != status {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// MarkComplete rewrites the Status line of the record identified by
// (sender, receiver, timestamp).
func (b *Block) MarkComplete(sender, receiver string, ts time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	found := false
	err := b.withFileLocked(func(content string) (string, error) {
		messages, err := parseBlock(content)
		if err != nil {
			return "", err
		}

		for i := range messages {
			if messages[i].Sender == sender && messages[i].Receiver == receiver &&
				messages[i].Timestamp.Equal(ts) {
				messages[i].Status = StatusComplete
				found = true
			}
		}
		return renderBlock(messages)
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no message from %s to %s at %s", sender, receiver, ts.Format(time.RFC3339))
	}
	return nil
}

// Compact keeps every non-complete record plus the keepRecent most
// recently completed ones.
func (b *Block) Compact(keepRecent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.withFileLocked(func(content string) (string, error) {
		messages, err := parseBlock(content)
		if err != nil {
			return "", err
		}

		var active, completed []Message
		for _, m := range messages {
			if m.Status == StatusComplete {
				completed = append(completed, m)
			} else {
				active = append(active, m)
			}
		}

		sort.SliceStable(completed, func(i, j int) bool {
			return completed[i].Timestamp.After(completed[j].Timestamp)
		})
		if keepRecent < len(completed) {
			completed = completed[:keepRecent]
		}

		// Restore document order: merge and sort by timestamp.
		kept := append(active, completed...)
		sort.SliceStable(kept, func(i, j int) bool {
			return kept[i].Timestamp.Before(kept[j].Timestamp)
		})
		return renderBlock(kept)
	})
}

// nextTimestampLocked returns a timestamp strictly after the previous
// one issued by this writer.
func (b *Block) nextTimestampLocked() time.Time {
	now := time.Now().UTC().Truncate(time.Second)
	if !now.After(b.lastTS) {
		now = b.lastTS.Add(time.Second)
	}
	b.lastTS = now
	return now
}

// withFileLocked applies a transform to the block content under the
// on-disk lock, writing atomically via temp+rename.
func (b *Block) withFileLocked(transform func(string) (string, error)) error {
	unlock, err := acquireFileLock(b.path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()

	data, err := os.ReadFile(b.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read block: %w", err)
	}

	updated, err := transform(string(data))
	if err != nil {
		return err
	}
	if !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to write block temp file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("failed to replace block: %w", err)
	}
	return nil
}

var headerRe = regexp.MustCompile(`^\[([^\]]+)\]\s+(\S+)\s+->\s+(\S+)$`)

// parseBlock parses the whole document. Malformed records fail the
// parse; the block is a shared contract and silent drops would lose
// tasks.
func parseBlock(content string) ([]Message, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || trimmed == Placeholder {
		return nil, nil
	}

	var messages []Message
	records := strings.Split(trimmed, "\n---")
	for _, record := range records {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}

		msg, err := parseRecord(record)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, nil
}

func parseRecord(record string) (*Message, error) {
	lines := strings.Split(record, "\n")
	if len(lines) < 4 {
		return nil, fmt.Errorf("malformed record (want at least 4 lines): %q", record)
	}

	header := headerRe.FindStringSubmatch(strings.TrimSpace(lines[0]))
	if header == nil {
		return nil, fmt.Errorf("malformed record header: %q", lines[0])
	}

	ts, err := time.Parse(time.RFC3339, header[1])
	if err != nil {
		return nil, fmt.Errorf("malformed record timestamp %q: %w", header[1], err)
	}

	msg := &Message{Timestamp: ts, Sender: header[2], Receiver: header[3]}
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Task: "):
			msg.Task = strings.TrimPrefix(line, "Task: ")
		case strings.HasPrefix(line, "Priority: "):
			msg.Priority = strings.TrimPrefix(line, "Priority: ")
		case strings.HasPrefix(line, "Status: "):
			msg.Status = strings.TrimPrefix(line, "Status: ")
		case strings.HasPrefix(line, "Metadata: "):
			raw := strings.TrimPrefix(line, "Metadata: ")
			if err := json.Unmarshal([]byte(raw), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("malformed record metadata %q: %w", raw, err)
			}
		}
	}

	if msg.Task == "" || msg.Priority == "" || msg.Status == "" {
		return nil, fmt.Errorf("record is missing mandatory lines: %q", record)
	}
	return msg, nil
}

func renderMessage(m Message) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s -> %s\n", m.Timestamp.Format(time.RFC3339), m.Sender, m.Receiver)
	fmt.Fprintf(&sb, "Task: %s\n", m.Task)
	fmt.Fprintf(&sb, "Priority: %s\n", m.Priority)
	fmt.Fprintf(&sb, "Status: %s\n", m.Status)
	if len(m.Metadata) > 0 {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return "", fmt.Errorf("failed to encode metadata: %w", err)
		}
		fmt.Fprintf(&sb, "Metadata: %s\n", raw)
	}
	sb.WriteString("---\n")
	return sb.String(), nil
}

func renderBlock(messages []Message) (string, error) {
	if len(messages) == 0 {
		return Placeholder + "\n", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		rendered, err := renderMessage(m)
		if err != nil {
			return "", err
		}
		sb.WriteString(rendered)
	}
	return sb.String(), nil
}

// acquireFileLock takes an exclusive advisory lock via lock-file
// creation. Stale locks older than a minute are broken.
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
			return nil, fmt.Errorf("failed to acquire block lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > time.Minute {
			os.Remove(lockPath)
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for block lock %s", lockPath)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
