// Package validation checks question, answer and gold records against
// embedded JSON Schemas.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/copilot/pkg/schema"
)

const (
	questionSchemaURL = "https://copilot.local/schemas/question.json"
	answerSchemaURL   = "https://copilot.local/schemas/answer.json"
	goldSchemaURL     = "https://copilot.local/schemas/gold.json"
)

const questionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "question", "format_hint"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "question": { "type": "string", "minLength": 1 },
    "format_hint": { "type": "string", "minLength": 1 }
  }
}`

const answerSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "final_answer", "sql", "confidence", "explanation", "citations"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "final_answer": {},
    "sql": { "type": "string" },
    "confidence": { "type": "number", "minimum": 0, "maximum": 1 },
    "explanation": { "type": "string" },
    "citations": { "type": "array", "items": { "type": "string" } }
  },
  "additionalProperties": false
}`

const goldSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "expected"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "expected": {},
    "extract": { "type": "string", "minLength": 1 },
    "tolerance": { "type": "number", "minimum": 0 }
  }
}`

// RecordValidator validates JSONL records. It is safe for concurrent use.
type RecordValidator struct {
	question *jsonschema.Schema
	answer   *jsonschema.Schema
	gold     *jsonschema.Schema
}

// NewRecordValidator compiles the embedded record schemas.
func NewRecordValidator() (*RecordValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	resources := map[string]string{
		questionSchemaURL: questionSchemaJSON,
		answerSchemaURL:   answerSchemaJSON,
		goldSchemaURL:     goldSchemaJSON,
	}
	for url, doc := range resources {
		parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(doc))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, parsed); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	v := &RecordValidator{}
	for url, dst := range map[string]**jsonschema.Schema{
		questionSchemaURL: &v.question,
		answerSchemaURL:   &v.answer,
		goldSchemaURL:     &v.gold,
	} {
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", url, err)
		}
		*dst = compiled
	}
	return v, nil
}

// ValidateQuestion checks one raw question line.
func (v *RecordValidator) ValidateQuestion(raw []byte) *schema.ValidationResult {
	return validateRaw(v.question, raw)
}

// ValidateGold checks one raw gold line.
func (v *RecordValidator) ValidateGold(raw []byte) *schema.ValidationResult {
	return validateRaw(v.gold, raw)
}

// ValidateAnswer checks an answer record before it is written.
func (v *RecordValidator) ValidateAnswer(a schema.Answer) *schema.ValidationResult {
	b, err := json.Marshal(a)
	if err != nil {
		res := &schema.ValidationResult{}
		res.Add("/", "failed to serialize answer: "+err.Error())
		return res
	}
	return validateRaw(v.answer, b)
}

func validateRaw(s *jsonschema.Schema, raw []byte) *schema.ValidationResult {
	res := &schema.ValidationResult{}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		res.Add("/", "invalid JSON: "+err.Error())
		return res
	}
	if err := s.Validate(doc); err != nil {
		addViolations(res, err)
	}
	return res
}

// addViolations walks a ValidationError tree and records its leaf messages
// with their instance locations.
func addViolations(res *schema.ValidationResult, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		res.Add("/", err.Error())
		return
	}
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		res.Add(loc, verr.Error())
		return
	}
	for _, cause := range verr.Causes {
		addViolations(res, cause)
	}
}
