package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Output statuses. OK and DEGRADED carry an answer; REFUSE and NOOP do not.
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
	StatusRefuse   = "REFUSE"
	StatusNoop     = "NOOP"
)

// Output is the JSON object the model must return.
type Output struct {
	Status          string  `json:"status"`
	Answer          string  `json:"answer"`
	Confidence      float64 `json:"confidence"`
	NeedsEscalation bool    `json:"needs_escalation"`
	Notes           Notes   `json:"notes"`
}

type Notes struct {
	ReasoningBrief   string   `json:"reasoning_brief"`
	Assumptions      []string `json:"assumptions"`
	SafeAlternatives []string `json:"safe_alternatives"`
}

// Answerable reports whether the output carries a usable answer.
func (o Output) Answerable() bool {
	return o.Status == StatusOK || o.Status == StatusDegraded
}

const outputSchemaURL = "https://companion.schemas.local/llm/output.schema.json"

// OutputSchema is the JSON Schema for Output.
const OutputSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["status", "answer", "confidence", "needs_escalation", "notes"],
  "properties": {
    "status": {"enum": ["OK", "DEGRADED", "REFUSE", "NOOP"]},
    "answer": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "needs_escalation": {"type": "boolean"},
    "notes": {
      "type": "object",
      "required": ["reasoning_brief", "assumptions", "safe_alternatives"],
      "properties": {
        "reasoning_brief": {"type": "string"},
        "assumptions": {"type": "array", "items": {"type": "string"}},
        "safe_alternatives": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`

// OutputValidator checks raw model output against OutputSchema.
type OutputValidator struct {
	schema *jsonschema.Schema
}

func NewOutputValidator() (*OutputValidator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(outputSchemaURL, strings.NewReader(OutputSchema)); err != nil {
		return nil, fmt.Errorf("output schema load failed: %w", err)
	}
	compiled, err := c.Compile(outputSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("output schema compile failed: %w", err)
	}
	return &OutputValidator{schema: compiled}, nil
}

// Parse decodes and validates content. Models sometimes wrap JSON in a
// markdown fence, which is stripped first.
func (v *OutputValidator) Parse(content string) (Output, error) {
	raw := stripFence(content)

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Output{}, fmt.Errorf("%w: output is not json: %v", ErrBackend, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Output{}, fmt.Errorf("%w: output schema validation failed: %v", ErrBackend, err)
	}

	var out Output
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Output{}, fmt.Errorf("%w: decode output: %v", ErrBackend, err)
	}
	return out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
