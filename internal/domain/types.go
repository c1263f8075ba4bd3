// Package domain contains the core entities shared by the SLE prediction pipeline:
// the submitted patient record, the scores produced by the prediction model, the
// risk tiers and treatment plans derived from them, and the final prediction result.
//
// The probabilities produced here support clinical decision making only; they are
// not a diagnosis and every report carries a disclaimer to that effect.
package domain

import (
	"errors"
	"time"
)

// Decision thresholds for the binary calls and risk tiers.
const (
	SLEDiagnosisThreshold = 0.5
	FlareRiskThreshold    = 0.4
	ModerateRiskThreshold = 0.4
	HighRiskThreshold     = 0.7
)

// TimestampLayout is the ISO-8601 layout used for PredictionResult timestamps
// (UTC, millisecond precision).
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// RiskTier represents the risk band a probability falls into.
type RiskTier string

const (
	RiskLow      RiskTier = "Low"
	RiskModerate RiskTier = "Moderate"
	RiskHigh     RiskTier = "High"
)

// Urgency represents how quickly a treatment plan should be acted upon.
type Urgency string

const (
	UrgencyLow    Urgency = "Low"
	UrgencyMedium Urgency = "Medium"
	UrgencyHigh   Urgency = "High"
)

// Sentinel errors for the prediction pipeline.
var (
	ErrNotFound         = errors.New("not found")
	ErrModelUnavailable = errors.New("prediction model unavailable")
)

// IsValid reports whether the tier is one of the known tiers.
func (t RiskTier) IsValid() bool {
	switch t {
	case RiskLow, RiskModerate, RiskHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of the tier.
func (t RiskTier) String() string {
	return string(t)
}

// Label returns the display label used in reports, e.g. "High Risk".
func (t RiskTier) Label() string {
	switch t {
	case RiskLow, RiskModerate, RiskHigh:
		return string(t) + " Risk"
	default:
		return "Unknown Risk"
	}
}

// Description returns the clinical description of the tier.
func (t RiskTier) Description() string {
	switch t {
	case RiskHigh:
		return "High probability requiring immediate attention"
	case RiskModerate:
		return "Moderate probability requiring monitoring"
	case RiskLow:
		return "Low probability based on current clinical indicators"
	default:
		return "Unknown risk level"
	}
}

// rank orders tiers so that callers can compare them.
func (t RiskTier) rank() int {
	switch t {
	case RiskLow:
		return 0
	case RiskModerate:
		return 1
	case RiskHigh:
		return 2
	default:
		return -1
	}
}

// AtLeast reports whether t is the same as or more severe than other.
func (t RiskTier) AtLeast(other RiskTier) bool {
	return t.rank() >= other.rank()
}

// LogFields returns structured logging fields for audit trails.
func (t RiskTier) LogFields() map[string]any {
	return map[string]any{
		"risk_tier":        string(t),
		"risk_label":       t.Label(),
		"is_valid":         t.IsValid(),
		"requires_action":  t == RiskHigh,
		"requires_monitor": t.AtLeast(RiskModerate),
	}
}

// IsValid reports whether the urgency is one of the known values.
func (u Urgency) IsValid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	default:
		return false
	}
}

// PatientRecord maps a field name to the submitted value (a number or a string).
type PatientRecord map[string]any

// Clone returns a shallow copy of the record.
func (r PatientRecord) Clone() PatientRecord {
	if r == nil {
		return nil
	}
	out := make(PatientRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RiskScores holds the two probabilities produced by a prediction model.
type RiskScores struct {
	SLEProbability   float64 `json:"sle_probability"`
	FlareProbability float64 `json:"flare_probability"`
}

// TreatmentPlan is the treatment protocol selected for the overall risk.
type TreatmentPlan struct {
	Level   string   `json:"level"`
	Tier    RiskTier `json:"tier"`
	Urgency Urgency  `json:"urgency"`
	Steps   []string `json:"steps"`
}

// PredictionResult is the immutable outcome of one successful pipeline run.
type PredictionResult struct {
	ID               string        `json:"id"`
	SLEDiagnosis     int           `json:"sle_diagnosis"`
	SLEProbability   float64       `json:"sle_probability"`
	Flare12m         int           `json:"flare_12m"`
	FlareProbability float64       `json:"flare_probability"`
	Timestamp        string        `json:"timestamp"`
	PatientName      string        `json:"patient_name"`
	DoctorNotes      string        `json:"doctor_notes,omitempty"`
	ModelVersion     string        `json:"model_version,omitempty"`
	InputData        PatientRecord `json:"input_data"`
}

// Time parses the result timestamp. A zero time is returned for malformed values.
func (p *PredictionResult) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatTimestamp formats t with TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
