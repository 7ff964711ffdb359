package analysis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSchemaFallsBackOnMissing(t *testing.T) {
	cfg := LoadSchema(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, DefaultPresetName, cfg.ActivePreset)
}

func TestLoadSchemaFallsBackOnInvalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"not yaml", ":\n  - ["},
		{"unknown active preset", "active_preset: nope\npresets: {}\n"},
		{
			"bad field type",
			"active_preset: p\npresets:\n  p:\n    name: p\n    fields:\n      x:\n        type: decimal\n",
		},
		{
			"array without items",
			"active_preset: p\npresets:\n  p:\n    name: p\n    fields:\n      x:\n        type: array\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, "schema.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			cfg := LoadSchema(path)
			assert.Equal(t, DefaultPresetName, cfg.ActivePreset)
		})
	}
}

func TestLoadSchemaValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `
active_preset: ml
version: 2
presets:
  ml:
    name: ml
    description: ML paper analysis
    instructions: Focus on architectures.
    fields:
      architectures:
        type: array
        items: string
        required: true
        description: Model architectures used
      parameter_count:
        type: integer
        description: Total parameters
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := LoadSchema(path)
	require.Equal(t, "ml", cfg.ActivePreset)
	assert.Equal(t, 2, cfg.Version)

	fragment := cfg.Active().PromptFragment()
	assert.Contains(t, fragment, "architectures (array of string, required)")
	assert.Contains(t, fragment, "Focus on architectures.")
}

func mlSchema() *SchemaConfig {
	return &SchemaConfig{
		ActivePreset: "ml",
		Version:      1,
		Presets: map[string]Preset{
			"ml": {
				Name: "ml",
				Fields: map[string]FieldSpec{
					"architectures": {Type: FieldArray, Items: "string", Required: true},
					"parameter_count": {Type: FieldInteger},
				},
			},
		},
	}
}

func TestDecodeRecord(t *testing.T) {
	raw := map[string]interface{}{
		"title":           "Attention Is All You Need",
		"authors":         []interface{}{"Vaswani", "Shazeer"},
		"summary":         "Introduces the transformer.",
		"key_points":      []interface{}{"self-attention"},
		"tags":            []interface{}{"nlp"},
		"architectures":   []interface{}{"transformer"},
		"parameter_count": float64(65000000),
	}

	record, err := DecodeRecord(raw, mlSchema())
	require.NoError(t, err)

	assert.Equal(t, "Attention Is All You Need", record.Title)
	assert.Equal(t, []string{"Vaswani", "Shazeer"}, record.Authors)
	assert.Equal(t, "ml", record.Preset)
	assert.Equal(t, []interface{}{"transformer"}, record.Extra["architectures"])
}

func TestDecodeRecordMissingRequired(t *testing.T) {
	raw := map[string]interface{}{
		"title":   "Some Paper",
		"summary": "...",
	}

	_, err := DecodeRecord(raw, mlSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "architectures")
}

func TestDecodeRecordWrongType(t *testing.T) {
	raw := map[string]interface{}{
		"title":         "Some Paper",
		"architectures": "transformer", // should be an array
	}

	_, err := DecodeRecord(raw, mlSchema())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected array")
}

func TestValidateAtReadTime(t *testing.T) {
	record := &Record{
		Preset: "ml",
		Title:  "Paper",
		Extra:  map[string]interface{}{"architectures": []interface{}{"cnn"}},
	}
	assert.NoError(t, record.Validate(mlSchema()))

	// A schema change tightening requirements is enforced at read.
	schema := mlSchema()
	preset := schema.Presets["ml"]
	preset.Fields["parameter_count"] = FieldSpec{Type: FieldInteger, Required: true}
	schema.Presets["ml"] = preset

	assert.Error(t, record.Validate(schema))
}
