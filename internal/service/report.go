package service

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/pkg/fields"
)

// Report text shared by every rendering.
const (
	ReportTitle  = "SLE Prediction Report"
	ReportFooter = "SLE Predictor - Advanced AI for Medical Diagnosis and Prediction"
	Disclaimer   = "DISCLAIMER: This AI-generated report is for educational and clinical decision support purposes only. " +
		"It should not replace professional medical judgment or definitive diagnostic procedures. " +
		"Always consult with qualified healthcare professionals for final diagnosis and treatment decisions. " +
		"Treatment recommendations are based on AI analysis and should be validated by licensed medical professionals."
)

// SectionID identifies a report section.
type SectionID string

const (
	SectionHeader                   SectionID = "header"
	SectionPatientInfo              SectionID = "patient_info"
	SectionDiagnosisResult          SectionID = "diagnosis_result"
	SectionFlareResult              SectionID = "flare_result"
	SectionClinicalInterpretation   SectionID = "clinical_interpretation"
	SectionTreatmentRecommendations SectionID = "treatment_recommendations"
	SectionDisclaimer               SectionID = "disclaimer"
)

// Field is a labelled value in a report section.
type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Section is one block of report content. Layout is left to the renderer.
type Section struct {
	ID          SectionID `json:"id,omitempty"`
	Title       string    `json:"title"`
	Fields      []Field   `json:"fields,omitempty"`
	Paragraphs  []string  `json:"paragraphs,omitempty"`
	Items       []string  `json:"items,omitempty"`
	Subsections []Section `json:"subsections,omitempty"`
}

// ReportDocument is the ordered content of a prediction report.
type ReportDocument struct {
	Title    string    `json:"title"`
	Footer   string    `json:"footer"`
	Sections []Section `json:"sections"`
}

// Section returns the section with the given id.
func (d *ReportDocument) Section(id SectionID) (*Section, bool) {
	for i := range d.Sections {
		if d.Sections[i].ID == id {
			return &d.Sections[i], true
		}
	}
	return nil, false
}

// Assemble builds a PredictionResult from the submitted record and the model
// scores. The binary calls follow the thresholds; the record is copied.
func Assemble(record domain.PatientRecord, scores domain.RiskScores, timestamp, patientName string) *domain.PredictionResult {
	input := record.Clone()
	if input == nil {
		input = domain.PatientRecord{}
	}
	return &domain.PredictionResult{
		SLEDiagnosis:     DiagnosisCall(scores.SLEProbability),
		SLEProbability:   scores.SLEProbability,
		Flare12m:         FlareCall(scores.FlareProbability),
		FlareProbability: scores.FlareProbability,
		Timestamp:        timestamp,
		PatientName:      patientName,
		InputData:        input,
	}
}

// CSVHeader is the column order of the CSV export.
var CSVHeader = []string{
	"Timestamp", "SLE_Diagnosis", "SLE_Probability", "Flare_12m", "Flare_Probability",
	"Patient_Age", "Patient_Sex", "ANA_Positive", "Symptom_Count",
}

// ToCSV renders the result as a header line and a value line, without a trailing
// newline. Probabilities are percentages with two decimals.
func ToCSV(result *domain.PredictionResult) (string, error) {
	row := []string{
		result.Timestamp,
		strconv.Itoa(result.SLEDiagnosis),
		Percent(result.SLEProbability, 2),
		strconv.Itoa(result.Flare12m),
		Percent(result.FlareProbability, 2),
		inputString(result.InputData, "Age"),
		inputString(result.InputData, "Sex"),
		inputString(result.InputData, "ANA_Positive"),
		strconv.Itoa(inputSymptomCount(result.InputData)),
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll([][]string{CSVHeader, row}); err != nil {
		return "", fmt.Errorf("writing csv: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// CSVSummary is a parsed CSV export. Probabilities are fractions in [0, 1].
type CSVSummary struct {
	Timestamp        string
	SLEDiagnosis     int
	SLEProbability   float64
	Flare12m         int
	FlareProbability float64
	PatientAge       string
	PatientSex       string
	ANAPositive      string
	SymptomCount     int
}

// ParseCSV reads back the output of ToCSV.
func ParseCSV(data string) (*CSVSummary, error) {
	records, err := csv.NewReader(strings.NewReader(data)).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) != 2 {
		return nil, fmt.Errorf("expected 2 csv lines, got %d", len(records))
	}
	if strings.Join(records[0], ",") != strings.Join(CSVHeader, ",") {
		return nil, fmt.Errorf("unexpected csv header %q", strings.Join(records[0], ","))
	}
	row := records[1]

	s := &CSVSummary{
		Timestamp:   row[0],
		PatientAge:  row[5],
		PatientSex:  row[6],
		ANAPositive: row[7],
	}
	if s.SLEDiagnosis, err = strconv.Atoi(row[1]); err != nil {
		return nil, fmt.Errorf("parsing SLE_Diagnosis: %w", err)
	}
	if s.SLEProbability, err = parsePercent(row[2]); err != nil {
		return nil, fmt.Errorf("parsing SLE_Probability: %w", err)
	}
	if s.Flare12m, err = strconv.Atoi(row[3]); err != nil {
		return nil, fmt.Errorf("parsing Flare_12m: %w", err)
	}
	if s.FlareProbability, err = parsePercent(row[4]); err != nil {
		return nil, fmt.Errorf("parsing Flare_Probability: %w", err)
	}
	if s.SymptomCount, err = strconv.Atoi(row[8]); err != nil {
		return nil, fmt.Errorf("parsing Symptom_Count: %w", err)
	}
	return s, nil
}

// Percent formats a probability as a percentage with the given number of decimals,
// e.g. Percent(0.823, 2) == "82.30%".
func Percent(p float64, places int32) string {
	return decimal.NewFromFloat(p).Shift(2).StringFixed(places) + "%"
}

func parsePercent(s string) (float64, error) {
	d, err := decimal.NewFromString(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if err != nil {
		return 0, err
	}
	f, _ := d.Shift(-2).Float64()
	return f, nil
}

// inputString renders a submitted value. Numbers are printed in their shortest
// decimal form; anything else is printed as given.
func inputString(rec domain.PatientRecord, name string) string {
	v, ok := rec[name]
	if !ok || v == nil {
		return ""
	}
	if f, err := fields.ToFloat(v); err == nil {
		return decimal.NewFromFloat(f).String()
	}
	return fmt.Sprint(v)
}

func inputSymptomCount(rec domain.PatientRecord) int {
	values := make(map[string]float64, len(symptomFields))
	for _, name := range symptomFields {
		if f, err := fields.ToFloat(rec[name]); err == nil {
			values[name] = f
		}
	}
	return SymptomCount(values)
}

// Submitted values shown with the patient details, in order.
var patientFields = []string{"Age", "Sex", "ANA_Positive"}

var patientFieldLabels = map[string]string{
	"Age":          "Age",
	"Sex":          "Sex",
	"ANA_Positive": "ANA",
}

// labelledInput renders a submitted value, using the option label for
// categorical fields, e.g. Sex 0 is "Female".
func labelledInput(rec domain.PatientRecord, name string) string {
	value := inputString(rec, name)
	spec, ok := fields.DefaultSchema().Lookup(name)
	if !ok || value == "" {
		return value
	}
	f, err := fields.ToFloat(rec[name])
	if err != nil {
		return value
	}
	if label, ok := spec.OptionLabel(f); ok {
		return label
	}
	return value
}

// ToReportDocument lays out the content of a report in its fixed section order.
func ToReportDocument(result *domain.PredictionResult) *ReportDocument {
	sleTier := Classify(result.SLEProbability)
	flareTier := Classify(result.FlareProbability)
	sleConfidence := Percent(result.SLEProbability, 1)
	flareConfidence := Percent(result.FlareProbability, 1)
	plan := RecommendTreatment(result.SLEProbability, result.FlareProbability)

	header := Section{
		ID:         SectionHeader,
		Title:      ReportTitle,
		Paragraphs: []string{"Generated " + result.Timestamp},
	}

	patient := Section{
		ID:    SectionPatientInfo,
		Title: "Patient Information",
		Fields: []Field{
			{Label: "Patient Name", Value: result.PatientName},
			{Label: "Report Generated", Value: result.Timestamp},
		},
	}
	for _, name := range patientFields {
		if value := labelledInput(result.InputData, name); value != "" {
			patient.Fields = append(patient.Fields, Field{Label: patientFieldLabels[name], Value: value})
		}
	}
	if result.ID != "" {
		patient.Fields = append(patient.Fields, Field{Label: "Report ID", Value: result.ID})
	}
	if result.ModelVersion != "" {
		patient.Fields = append(patient.Fields, Field{Label: "Model Version", Value: result.ModelVersion})
	}

	diagnosis := Section{
		ID:    SectionDiagnosisResult,
		Title: "SLE Diagnosis Prediction",
		Fields: []Field{
			{Label: "Result", Value: positiveNegative(result.SLEDiagnosis)},
			{Label: "Confidence", Value: sleConfidence},
			{Label: "Risk Level", Value: sleTier.String()},
			{Label: "Assessment", Value: sleTier.Description()},
		},
	}

	flare := Section{
		ID:    SectionFlareResult,
		Title: "12-Month Flare Risk Prediction",
		Fields: []Field{
			{Label: "Result", Value: flareLabel(result.Flare12m)},
			{Label: "Confidence", Value: flareConfidence},
			{Label: "Risk Level", Value: flareTier.String()},
			{Label: "Assessment", Value: flareTier.Description()},
		},
	}

	interpretation := Section{
		ID:    SectionClinicalInterpretation,
		Title: "Clinical Interpretation",
		Paragraphs: []string{
			sleInterpretation(result.SLEDiagnosis, sleConfidence),
			flareInterpretation(result.Flare12m, flareConfidence),
		},
	}
	if notes := strings.TrimSpace(result.DoctorNotes); notes != "" {
		interpretation.Subsections = append(interpretation.Subsections, Section{
			Title:      "Clinical Notes",
			Paragraphs: []string{notes},
		})
	}

	treatment := Section{
		ID:    SectionTreatmentRecommendations,
		Title: "Primary Treatment Recommendations",
		Fields: []Field{
			{Label: "Treatment Level", Value: plan.Level},
			{Label: "Urgency", Value: string(plan.Urgency)},
		},
		Items: plan.Steps,
		Subsections: []Section{{
			Title: "Additional Clinical Considerations",
			Items: ClinicalConsiderations(),
		}},
	}

	disclaimer := Section{
		ID:         SectionDisclaimer,
		Title:      "Disclaimer",
		Paragraphs: []string{Disclaimer},
	}

	return &ReportDocument{
		Title:  ReportTitle,
		Footer: ReportFooter,
		Sections: []Section{
			header, patient, diagnosis, flare, interpretation, treatment, disclaimer,
		},
	}
}

func positiveNegative(call int) string {
	if call == 1 {
		return "Positive"
	}
	return "Negative"
}

func flareLabel(call int) string {
	if call == 1 {
		return "High Risk"
	}
	return "Low Risk"
}

func sleInterpretation(call int, confidence string) string {
	if call == 1 {
		return fmt.Sprintf("The AI model predicts a positive SLE diagnosis with %s confidence. "+
			"This suggests the presence of SLE markers warranting further clinical evaluation and "+
			"confirmation through additional diagnostic procedures.", confidence)
	}
	return fmt.Sprintf("The AI model predicts a negative SLE diagnosis with %s confidence. "+
		"This indicates a lower probability of SLE based on current clinical indicators, "+
		"though clinical correlation is advised.", confidence)
}

func flareInterpretation(call int, confidence string) string {
	if call == 1 {
		return fmt.Sprintf("The model indicates a high risk of SLE flare within the next 12 months with %s confidence. "+
			"Close monitoring and preventive measures are strongly recommended.", confidence)
	}
	return fmt.Sprintf("The model suggests a lower risk of SLE flare in the next 12 months with %s confidence. "+
		"Current indicators suggest stable disease management.", confidence)
}
