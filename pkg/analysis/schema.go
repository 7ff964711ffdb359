// Package analysis defines the structured extraction schema for papers.
//
// A schema document selects an active preset and defines its fields;
// records produced by the pipeline are validated against the preset both
// at ingress and at read time.
package analysis

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType enumerates the recognized field types.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// FieldSpec describes one preset-specific field.
type FieldSpec struct {
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required" json:"required"`
	Description string    `yaml:"description" json:"description"`

	// Items describes array element type ("string", "integer", "object").
	Items string `yaml:"items,omitempty" json:"items,omitempty"`
}

// Preset is a named analysis schema.
type Preset struct {
	Name        string               `yaml:"name" json:"name"`
	Description string               `yaml:"description" json:"description"`
	Fields      map[string]FieldSpec `yaml:"fields" json:"fields"`

	// Instructions are appended verbatim to the analysis prompt.
	Instructions string `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// SchemaConfig is the persisted schema document.
type SchemaConfig struct {
	ActivePreset string            `yaml:"active_preset" json:"active_preset"`
	Presets      map[string]Preset `yaml:"presets" json:"presets"`
	Version      int               `yaml:"version" json:"version"`
}

// DefaultPresetName is the built-in fallback preset.
const DefaultPresetName = "general"

// DefaultSchema returns the built-in schema used when no document is
// configured or the configured one is invalid.
func DefaultSchema() *SchemaConfig {
	return &SchemaConfig{
		ActivePreset: DefaultPresetName,
		Version:      1,
		Presets: map[string]Preset{
			DefaultPresetName: {
				Name:        DefaultPresetName,
				Description: "General academic paper analysis",
				Fields: map[string]FieldSpec{
					"research_questions": {
						Type:        FieldArray,
						Items:       "string",
						Description: "The research questions the paper addresses",
					},
					"contributions": {
						Type:        FieldArray,
						Items:       "string",
						Description: "The main contributions claimed by the authors",
					},
					"limitations": {
						Type:        FieldArray,
						Items:       "string",
						Description: "Limitations acknowledged or apparent",
					},
					"datasets": {
						Type:        FieldArray,
						Items:       "string",
						Description: "Datasets used in the evaluation",
					},
				},
			},
		},
	}
}

// LoadSchema reads and validates a schema document. An empty path returns
// the default. Invalid documents fall back to the default with a warning;
// this function never fails on content, only on I/O.
func LoadSchema(path string) *SchemaConfig {
	if path == "" {
		return DefaultSchema()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Analysis schema unreadable, using default preset", "path", path, "error", err)
		return DefaultSchema()
	}

	var cfg SchemaConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		slog.Warn("Analysis schema malformed, using default preset", "path", path, "error", err)
		return DefaultSchema()
	}

	if err := cfg.Validate(); err != nil {
		slog.Warn("Analysis schema invalid, using default preset", "path", path, "error", err)
		return DefaultSchema()
	}

	return &cfg
}

// Validate checks the document structure.
func (c *SchemaConfig) Validate() error {
	if c.ActivePreset == "" {
		return fmt.Errorf("active_preset is required")
	}
	if _, ok := c.Presets[c.ActivePreset]; !ok {
		return fmt.Errorf("active_preset %q is not defined", c.ActivePreset)
	}

	for name, preset := range c.Presets {
		for field, spec := range preset.Fields {
			switch spec.Type {
			case FieldString, FieldInteger, FieldArray, FieldObject:
			default:
				return fmt.Errorf("preset %q field %q: unrecognized type %q", name, field, spec.Type)
			}
			if spec.Type == FieldArray && spec.Items == "" {
				return fmt.Errorf("preset %q field %q: array fields must declare items", name, field)
			}
		}
	}

	return nil
}

// Active returns the active preset.
func (c *SchemaConfig) Active() Preset {
	return c.Presets[c.ActivePreset]
}

// PromptFragment renders the preset's field spec for inclusion in the
// analysis prompt.
func (p Preset) PromptFragment() string {
	names := make([]string, 0, len(p.Fields))
	for name := range p.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		spec := p.Fields[name]
		sb.WriteString("- ")
		sb.WriteString(name)
		sb.WriteString(" (")
		sb.WriteString(string(spec.Type))
		if spec.Type == FieldArray {
			sb.WriteString(" of ")
			sb.WriteString(spec.Items)
		}
		if spec.Required {
			sb.WriteString(", required")
		}
		sb.WriteString("): ")
		sb.WriteString(spec.Description)
		sb.WriteString("\n")
	}
	if p.Instructions != "" {
		sb.WriteString("\nAdditional instructions: ")
		sb.WriteString(p.Instructions)
		sb.WriteString("\n")
	}
	return sb.String()
}
