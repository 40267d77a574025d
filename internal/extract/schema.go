package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// responseSchema is the structured-output contract sent to the service and
// used locally to validate what comes back before anything is persisted.
const responseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["items"],
  "properties": {
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["line_type", "confidence"],
        "properties": {
          "line_type": {
            "type": "string",
            "enum": ["medical_service", "incentive_bonus", "adjustment", "summary_total"]
          },
          "patient_name":   {"type": "string"},
          "member_id":      {"type": "string"},
          "service_date":   {"type": "string"},
          "procedure_code": {"type": "string"},
          "claim_number":   {"type": "string"},
          "payer_name":     {"type": "string"},
          "payment_date":   {"type": "string"},
          "check_number":   {"type": "string"},
          "billed_amount":           {"type": ["number", "null"]},
          "allowed_amount":          {"type": ["number", "null"]},
          "paid_amount":             {"type": ["number", "null"]},
          "patient_responsibility":  {"type": ["number", "null"]},
          "adjustment_amount":       {"type": ["number", "null"]},
          "deductible":              {"type": ["number", "null"]},
          "coinsurance":             {"type": ["number", "null"]},
          "copay":                   {"type": ["number", "null"]},
          "contractual_adjustment":  {"type": ["number", "null"]},
          "non_covered":             {"type": ["number", "null"]},
          "confidence": {"type": "number"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("extraction_response.json", responseSchema)

// parseResponse validates and decodes the service's JSON payload. A payload
// with no items (or no JSON at all, for blank pages) decodes to an empty
// result rather than an error.
func parseResponse(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return &Result{Raw: content}, nil
	}

	var loose any
	if err := json.Unmarshal([]byte(content), &loose); err != nil {
		return nil, fmt.Errorf("service returned non-JSON payload: %w", err)
	}
	if err := compiledSchema.Validate(loose); err != nil {
		return nil, fmt.Errorf("service response failed schema validation: %w", err)
	}

	var parsed struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode service response: %w", err)
	}
	return &Result{Items: parsed.Items, Raw: content}, nil
}
