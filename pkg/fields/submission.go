package fields

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/sle-predictor-server/internal/domain"
)

// Submission is one form submission: the patient name, optional clinician notes
// and the raw field values.
type Submission struct {
	PatientName string               `json:"patient_name"`
	DoctorNotes string               `json:"doctor_notes,omitempty"`
	Fields      domain.PatientRecord `json:"fields"`
}

// Record returns the submitted values with the patient name folded in under
// PatientNameField, as expected by Validate.
func (s *Submission) Record() domain.PatientRecord {
	rec := s.Fields.Clone()
	if rec == nil {
		rec = domain.PatientRecord{}
	}
	rec[PatientNameField] = s.PatientName
	return rec
}

const submissionSchemaJSON = `{
  "type": "object",
  "required": ["fields"],
  "properties": {
    "patient_name": {"type": "string", "maxLength": 200},
    "doctor_notes": {"type": "string", "maxLength": 5000},
    "fields": {
      "type": "object",
      "additionalProperties": {"type": ["number", "string", "null"]}
    }
  }
}`

var submissionSchema = compileSchema("submission.json", submissionSchemaJSON)

func compileSchema(name, raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("adding schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// ParseSubmission decodes a JSON submission and checks its shape. Field values are
// kept as json.Number or string; Validate performs the per-field checks.
func ParseSubmission(r io.Reader) (*Submission, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding submission: %w", err)
	}
	if err := submissionSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("submission shape: %w", err)
	}

	obj := raw.(map[string]any)
	sub := &Submission{Fields: domain.PatientRecord{}}
	if v, ok := obj["patient_name"].(string); ok {
		sub.PatientName = strings.TrimSpace(v)
	}
	if v, ok := obj["doctor_notes"].(string); ok {
		sub.DoctorNotes = strings.TrimSpace(v)
	}
	if f, ok := obj["fields"].(map[string]any); ok {
		for k, v := range f {
			sub.Fields[k] = v
		}
	}
	return sub, nil
}
