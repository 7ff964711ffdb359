package analysis

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Record is the structured extraction for one paper: a fixed core plus
// preset-specific fields validated against the preset definition.
type Record struct {
	Preset        string `json:"preset"`
	SchemaVersion int    `json:"schema_version"`

	Title       string   `json:"title"`
	Authors     []string `json:"authors"`
	Summary     string   `json:"summary"`
	Methodology string   `json:"methodology,omitempty"`
	KeyPoints   []string `json:"key_points,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	// Extra holds the preset-specific fields.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// coreFields are claimed by the Record struct itself; anything else the
// model returns lands in Extra.
var coreFields = map[string]bool{
	"title":       true,
	"authors":     true,
	"summary":     true,
	"methodology": true,
	"key_points":  true,
	"tags":        true,
}

// DecodeRecord builds a Record from a raw decoded JSON object, splitting
// core fields from preset fields and validating the latter.
func DecodeRecord(raw map[string]interface{}, schema *SchemaConfig) (*Record, error) {
	core := make(map[string]interface{})
	extra := make(map[string]interface{})
	for k, v := range raw {
		if coreFields[k] {
			core[k] = v
		} else {
			extra[k] = v
		}
	}

	record := &Record{
		Preset:        schema.ActivePreset,
		SchemaVersion: schema.Version,
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           record,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build record decoder: %w", err)
	}
	if err := decoder.Decode(core); err != nil {
		return nil, fmt.Errorf("failed to decode record core: %w", err)
	}

	if len(extra) > 0 {
		record.Extra = extra
	}

	if err := record.Validate(schema); err != nil {
		return nil, err
	}
	return record, nil
}

// Validate checks the record against the preset definition. The required
// field set comes from the preset at call time, never from the struct.
func (r *Record) Validate(schema *SchemaConfig) error {
	preset, ok := schema.Presets[r.Preset]
	if !ok {
		return fmt.Errorf("record references unknown preset %q", r.Preset)
	}

	if r.Title == "" {
		return fmt.Errorf("record is missing a title")
	}

	for name, spec := range preset.Fields {
		value, present := r.Extra[name]
		if !present || value == nil {
			if spec.Required {
				return fmt.Errorf("required field %q is missing", name)
			}
			continue
		}
		if err := checkType(name, spec, value); err != nil {
			return err
		}
	}

	return nil
}

func checkType(name string, spec FieldSpec, value interface{}) error {
	switch spec.Type {
	case FieldString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field %q: expected string, got %T", name, value)
		}

	case FieldInteger:
		switch value.(type) {
		case int, int64, float64:
			if f, ok := value.(float64); ok && f != float64(int64(f)) {
				return fmt.Errorf("field %q: expected integer, got fractional number", name)
			}
		default:
			return fmt.Errorf("field %q: expected integer, got %T", name, value)
		}

	case FieldArray:
		arr, ok := value.([]interface{})
		if !ok {
			return fmt.Errorf("field %q: expected array, got %T", name, value)
		}
		for i, item := range arr {
			switch spec.Items {
			case "string":
				if _, ok := item.(string); !ok {
					return fmt.Errorf("field %q[%d]: expected string, got %T", name, i, item)
				}
			case "integer":
				if _, ok := item.(float64); !ok {
					if _, ok := item.(int); !ok {
						return fmt.Errorf("field %q[%d]: expected integer, got %T", name, i, item)
					}
				}
			case "object":
				if _, ok := item.(map[string]interface{}); !ok {
					return fmt.Errorf("field %q[%d]: expected object, got %T", name, i, item)
				}
			}
		}

	case FieldObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("field %q: expected object, got %T", name, value)
		}
	}

	return nil
}
