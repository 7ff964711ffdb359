package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/invopop/jsonschema"
)

// ErrStructuredOutput is returned when a structured call cannot be decoded
// even after the repair attempt.
type ErrStructuredOutput struct {
	Raw string
	Err error
}

func (e *ErrStructuredOutput) Error() string {
	return fmt.Sprintf("structured output decode failed: %v", e.Err)
}

func (e *ErrStructuredOutput) Unwrap() error {
	return e.Err
}

// SchemaFor generates a JSON schema document for a Go type, suitable for
// inlining into a structured-output prompt.
func SchemaFor(v interface{}) (string, error) {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema: %w", err)
	}
	return string(data), nil
}

// CompleteStructured runs a JSON-mode completion and decodes the response
// into target. On decode failure it retries once with a repair prompt that
// includes the invalid output and the decode error; a second failure
// returns ErrStructuredOutput.
func CompleteStructured(ctx context.Context, provider Provider, req Request, target interface{}) error {
	req.JSONMode = true

	raw, _, err := provider.Complete(ctx, req)
	if err != nil {
		return err
	}

	if decodeErr := decodeJSON(raw, target); decodeErr == nil {
		return nil
	} else {
		slog.Warn("Structured output decode failed, attempting repair", "error", decodeErr)

		repair := Request{
			System: req.System,
			Prompt: fmt.Sprintf(
				"Your previous response was not valid for the requested JSON structure.\n\n"+
					"Previous response:\n%s\n\nDecode error: %v\n\n"+
					"Original request:\n%s\n\n"+
					"Respond with ONLY the corrected JSON object. No prose, no code fences.",
				raw, decodeErr, req.Prompt),
			JSONMode: true,
		}

		repaired, _, err := provider.Complete(ctx, repair)
		if err != nil {
			return err
		}
		if decodeErr := decodeJSON(repaired, target); decodeErr != nil {
			return &ErrStructuredOutput{Raw: repaired, Err: decodeErr}
		}
		return nil
	}
}

// decodeJSON unmarshals a model response, tolerating markdown code fences
// and leading prose before the first brace.
func decodeJSON(raw string, target interface{}) error {
	cleaned := ExtractJSON(raw)
	if cleaned == "" {
		return fmt.Errorf("no JSON object found in response")
	}
	return json.Unmarshal([]byte(cleaned), target)
}

// ExtractJSON pulls the first JSON object or array out of a model
// response, stripping code fences and surrounding prose.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}

	open := s[start]
	closing := byte('}')
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == open:
			depth++
		case !inString && c == closing:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return s[start:]
}
