package fields

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sle-predictor-server/internal/domain"
)

// ErrValidation is matched by every validation failure via errors.Is.
var ErrValidation = errors.New("validation failed")

// IssueKind classifies a single validation problem.
type IssueKind string

const (
	MissingField    IssueKind = "MissingField"
	OutOfRange      IssueKind = "OutOfRange"
	InvalidCategory IssueKind = "InvalidCategory"
	NotNumeric      IssueKind = "NotNumeric"
)

// Issue is one problem found with one field.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Field   string    `json:"field"`
	Message string    `json:"message"`
	Value   any       `json:"value,omitempty"`
}

// Error implements the error interface
func (i *Issue) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", i.Field, i.Message)
}

// ValidationErrors lists every problem found in a record.
type ValidationErrors struct {
	Issues []Issue `json:"issues"`
}

// Error implements the error interface
func (e *ValidationErrors) Error() string {
	if len(e.Issues) == 0 {
		return ErrValidation.Error()
	}
	var parts []string
	if missing := e.MissingFields(); len(missing) > 0 {
		parts = append(parts, "missing required fields: "+strings.Join(missing, ", "))
	}
	for _, is := range e.Issues {
		if is.Kind != MissingField {
			parts = append(parts, is.Field+": "+is.Message)
		}
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is makes errors.Is(err, ErrValidation) succeed.
func (e *ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// MissingFields returns the names of the required fields that were absent.
func (e *ValidationErrors) MissingFields() []string {
	return e.fieldsOf(MissingField)
}

// FieldsOf returns the names of the fields with an issue of the given kind.
func (e *ValidationErrors) FieldsOf(kind IssueKind) []string {
	return e.fieldsOf(kind)
}

func (e *ValidationErrors) fieldsOf(kind IssueKind) []string {
	var out []string
	for _, is := range e.Issues {
		if is.Kind == kind {
			out = append(out, is.Field)
		}
	}
	return out
}

// HasKind reports whether any issue has the given kind.
func (e *ValidationErrors) HasKind(kind IssueKind) bool {
	return len(e.fieldsOf(kind)) > 0
}

// ValidatedRecord is a record that satisfied the schema, with every field value
// coerced to float64.
type ValidatedRecord struct {
	PatientName string
	Values      map[string]float64
}

// Value returns the value of a field and whether it was present.
func (r *ValidatedRecord) Value(name string) (float64, bool) {
	v, ok := r.Values[name]
	return v, ok
}

// Validate checks record against schema. Every problem is collected before failing;
// the returned error is a *ValidationErrors. record is never modified.
func Validate(record domain.PatientRecord, schema *Schema) (*ValidatedRecord, error) {
	if schema == nil {
		schema = DefaultSchema()
	}

	out := &ValidatedRecord{Values: make(map[string]float64, len(record))}
	var issues []Issue

	for _, spec := range schema.Fields() {
		raw, present := record[spec.Name]
		if !present || isBlank(raw) {
			if spec.Required {
				issues = append(issues, Issue{
					Kind:    MissingField,
					Field:   spec.Name,
					Message: "field is required",
				})
			}
			continue
		}

		v, err := ToFloat(raw)
		if err != nil {
			if spec.Kind == Categorical {
				issues = append(issues, Issue{
					Kind:    InvalidCategory,
					Field:   spec.Name,
					Message: fmt.Sprintf("value must be one of %s", optionList(spec)),
					Value:   raw,
				})
			} else {
				issues = append(issues, Issue{
					Kind:    NotNumeric,
					Field:   spec.Name,
					Message: "value must be a number",
					Value:   raw,
				})
			}
			continue
		}

		switch spec.Kind {
		case Categorical:
			if !spec.Allows(v) {
				issues = append(issues, Issue{
					Kind:    InvalidCategory,
					Field:   spec.Name,
					Message: fmt.Sprintf("value must be one of %s", optionList(spec)),
					Value:   raw,
				})
				continue
			}
		default:
			if !spec.Bounds.Contains(v) {
				issues = append(issues, Issue{
					Kind:    OutOfRange,
					Field:   spec.Name,
					Message: fmt.Sprintf("value must be within %s", spec.Bounds),
					Value:   raw,
				})
				continue
			}
		}

		out.Values[spec.Name] = v
	}

	if len(issues) > 0 {
		return nil, &ValidationErrors{Issues: issues}
	}

	if name, ok := record[PatientNameField]; ok && name != nil {
		out.PatientName = strings.TrimSpace(fmt.Sprint(name))
	}
	return out, nil
}

// ToFloat coerces a submitted value into a float64. Strings are parsed as decimals,
// so "1" and 1 compare equal once coerced.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return parseDecimal(n.String())
	case string:
		return parseDecimal(n)
	case bool:
		return 0, fmt.Errorf("boolean %v is not a number", n)
	default:
		return 0, fmt.Errorf("unsupported value type %T", v)
	}
}

// Limits on submitted numerals. Converting a decimal to float64 costs time
// proportional to its exponent, so magnitudes past the float64 range are refused
// before conversion.
const (
	maxNumeralLength = 64
	maxDecimalMag    = 309
	minDecimalMag    = -330
)

func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if len(s) > maxNumeralLength {
		return 0, fmt.Errorf("numeral longer than %d characters", maxNumeralLength)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q: %w", s, err)
	}
	if d.IsZero() {
		return 0, nil
	}
	if mag := int64(d.Exponent()) + int64(d.NumDigits()); mag > maxDecimalMag || mag < minDecimalMag {
		return 0, fmt.Errorf("%q is outside the float64 range", s)
	}
	f, _ := d.Float64()
	return finite(f)
}

func finite(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite number %v", f)
	}
	return f, nil
}

func isBlank(v any) bool {
	switch s := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(s) == ""
	default:
		return false
	}
}

func optionList(spec *FieldSpec) string {
	values := make([]float64, 0, len(spec.Options))
	for _, o := range spec.Options {
		values = append(values, o.Value)
	}
	sort.Float64s(values)
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
