package provider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// reportSchema constrains the JSON a validation provider may return.
// Providers validate raw LLM output against it before unmarshaling, so a
// malformed response surfaces as a parse_error instead of a half-filled
// report slipping through the gate.
const reportSchema = `{
  "type": "object",
  "required": ["fidelity", "readability", "issues"],
  "properties": {
    "fidelity": {"type": "integer", "minimum": 0, "maximum": 100},
    "readability": {"type": "number", "minimum": 0},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "reasoning": {"type": "string"},
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type", "description", "severity"],
        "properties": {
          "type": {"type": "string"},
          "description": {"type": "string"},
          "severity": {"enum": ["low", "medium", "high", "critical"]},
          "suggestion": {"type": "string"}
        }
      }
    }
  }
}`

var compiledReportSchema = jsonschema.MustCompileString("report.json", reportSchema)

// ParseReport extracts a Report from raw model output.
//
// The model is asked for bare JSON but may wrap it in prose or a code
// fence; ParseReport locates the outermost JSON object, validates it
// against the report schema, and unmarshals it.
func ParseReport(raw string) (Report, error) {
	var report Report

	text := strings.TrimSpace(raw)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || start >= end {
		return report, fmt.Errorf("no JSON object found in validator response")
	}
	jsonStr := text[start : end+1]

	var doc any
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return report, fmt.Errorf("failed to parse validator JSON: %w", err)
	}
	if err := compiledReportSchema.Validate(doc); err != nil {
		return report, fmt.Errorf("validator response failed schema validation: %w", err)
	}
	if err := json.Unmarshal([]byte(jsonStr), &report); err != nil {
		return report, fmt.Errorf("failed to decode validator report: %w", err)
	}
	return report, nil
}
