package personalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Draft is the structured result of a generation call.
type Draft struct {
	Subject string `json:"subject" jsonschema:"description=Subject line following the friction plus time-moment formula"`
	Content string `json:"content" jsonschema:"description=Three short paragraphs separated by blank lines ending on a question mark"`
}

// Verdict is the structured result of a validation call.
type Verdict struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty" jsonschema:"description=Checklist items the draft violates"`
}

type outputSchema struct {
	raw       map[string]any
	validator *gojsonschema.Schema
}

func newOutputSchema(v any) (*outputSchema, error) {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	body, err := json.Marshal(r.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	delete(raw, "$schema")
	delete(raw, "$id")

	validator, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &outputSchema{raw: raw, validator: validator}, nil
}

// decode validates text against the schema and unmarshals it into out.
// Schema violations are returned as issues, not as an error.
func (s *outputSchema) decode(text string, out any) (issues []string) {
	doc := stripFences(text)
	result, err := s.validator.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return []string{"output is not valid JSON: " + err.Error()}
	}
	if !result.Valid() {
		for _, e := range result.Errors() {
			issues = append(issues, "output schema: "+e.String())
		}
		return issues
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return []string{"output could not be decoded: " + err.Error()}
	}
	return nil
}

func stripFences(text string) string {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "json")
	t = strings.TrimSuffix(strings.TrimSpace(t), "```")
	return strings.TrimSpace(t)
}
