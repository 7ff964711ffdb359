// Package query stores research queries and filters candidate articles
// against them.
package query

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ResearchQuery describes one standing research interest. Name is the
// primary key and must be filename-safe.
type ResearchQuery struct {
	Name             string `yaml:"name" json:"name"`
	Description      string `yaml:"description,omitempty" json:"description,omitempty"`
	ResearchQuestion string `yaml:"research_question,omitempty" json:"research_question,omitempty"`

	Keywords               []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	RequiredTopics         []string `yaml:"required_topics,omitempty" json:"required_topics,omitempty"`
	PreferredTopics        []string `yaml:"preferred_topics,omitempty" json:"preferred_topics,omitempty"`
	ExcludedTopics         []string `yaml:"excluded_topics,omitempty" json:"excluded_topics,omitempty"`
	MethodologyPreferences []string `yaml:"methodology_preferences,omitempty" json:"methodology_preferences,omitempty"`

	// MinimumRelevanceScore is the per-query floor an evaluation must
	// reach for the query to count as matching.
	MinimumRelevanceScore float64 `yaml:"minimum_relevance_score" json:"minimum_relevance_score"`

	CreatedAt time.Time `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// Store persists one YAML document per query under a directory.
type Store struct {
	dir string
}

// NewStore opens (creating if needed) a query directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("query directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create query directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Create persists a new query. Fails if the name is already taken.
func (s *Store) Create(q ResearchQuery) error {
	name := SanitizeName(q.Name)
	if name == "" {
		return fmt.Errorf("query name is required")
	}
	if _, err := os.Stat(s.path(name)); err == nil {
		return fmt.Errorf("query %q already exists", name)
	}

	q.Name = name
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	return s.write(q)
}

// Update overwrites an existing query, preserving its creation time.
func (s *Store) Update(q ResearchQuery) error {
	name := SanitizeName(q.Name)
	existing, err := s.Get(name)
	if err != nil {
		return err
	}

	q.Name = name
	q.CreatedAt = existing.CreatedAt
	q.UpdatedAt = time.Now().UTC()
	return s.write(q)
}

// Get loads one query by name.
func (s *Store) Get(name string) (*ResearchQuery, error) {
	data, err := os.ReadFile(s.path(SanitizeName(name)))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("query %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read query: %w", err)
	}

	var q ResearchQuery
	if err := yaml.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("query %q is malformed: %w", name, err)
	}
	return &q, nil
}

// Delete removes a query. Deleting a missing query is not an error.
func (s *Store) Delete(name string) error {
	err := os.Remove(s.path(SanitizeName(name)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete query: %w", err)
	}
	return nil
}

// List returns all queries sorted by name.
func (s *Store) List() ([]ResearchQuery, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list queries: %w", err)
	}

	var queries []ResearchQuery
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		q, err := s.Get(strings.TrimSuffix(entry.Name(), ".yaml"))
		if err != nil {
			return nil, err
		}
		queries = append(queries, *q)
	}

	sort.Slice(queries, func(i, j int) bool { return queries[i].Name < queries[j].Name })
	return queries, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

func (s *Store) write(q ResearchQuery) error {
	data, err := yaml.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to encode query: %w", err)
	}
	if err := os.WriteFile(s.path(q.Name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write query: %w", err)
	}
	return nil
}

// SanitizeName maps an arbitrary query name to a filename-safe key:
// lowercase, spaces to hyphens, everything else dropped.
func SanitizeName(name string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteRune('-')
		}
	}
	s := sb.String()
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
