// Package fields describes the inputs accepted by the SLE prediction pipeline and
// validates submitted records against them.
//
// The schema is the union of four groups: 16 clinical fields, a 64-dimensional
// ultrasound embedding, a 64-dimensional chest X-ray embedding and a 50-dimensional
// omics vector. Embedding and omics vectors are produced by upstream models and are
// treated here as opaque numbers.
package fields

import (
	"fmt"
	"sync"
)

// Kind is the value kind of a field.
type Kind string

const (
	Numeric     Kind = "numeric"
	Categorical Kind = "categorical"
)

// PatientNameField is the key carrying the patient's name in a submitted record.
const PatientNameField = "patient_name"

// Embedding and omics dimensions.
const (
	UltrasoundPrefix = "US_emb"
	UltrasoundCount  = 64
	ChestXRayPrefix  = "CXR_emb"
	ChestXRayCount   = 64
	OmicsPrefix      = "Omic"
	OmicsCount       = 50

	embeddingStep = 0.0001
	embeddingMin  = -10
	embeddingMax  = 10
)

// Bounds are the optional numeric limits of a field. A nil Min or Max is unbounded.
type Bounds struct {
	Min  *float64 `json:"min,omitempty"`
	Max  *float64 `json:"max,omitempty"`
	Step float64  `json:"step,omitempty"`
}

// Contains reports whether v lies within the inclusive bounds.
func (b *Bounds) Contains(v float64) bool {
	if b == nil {
		return true
	}
	if b.Min != nil && v < *b.Min {
		return false
	}
	if b.Max != nil && v > *b.Max {
		return false
	}
	return true
}

// String renders the bounds for error messages, e.g. "[0, 120]" or "[0, +inf)".
func (b *Bounds) String() string {
	if b == nil {
		return "(-inf, +inf)"
	}
	lo, hi := "(-inf", "+inf)"
	if b.Min != nil {
		lo = fmt.Sprintf("[%g", *b.Min)
	}
	if b.Max != nil {
		hi = fmt.Sprintf("%g]", *b.Max)
	}
	return lo + ", " + hi
}

// Option is one allowed value of a categorical field.
type Option struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// FieldSpec describes one input field. FieldSpecs are immutable once the schema is built.
type FieldSpec struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Group       string   `json:"group"`
	Kind        Kind     `json:"kind"`
	Bounds      *Bounds  `json:"bounds,omitempty"`
	Options     []Option `json:"options,omitempty"`
	Required    bool     `json:"required"`
}

// Allows reports whether v is one of the field's categorical options.
func (f *FieldSpec) Allows(v float64) bool {
	for _, o := range f.Options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// OptionLabel returns the label of the option with value v.
func (f *FieldSpec) OptionLabel(v float64) (string, bool) {
	for _, o := range f.Options {
		if o.Value == v {
			return o.Label, true
		}
	}
	return "", false
}

// Group is an ordered set of fields presented together.
type Group struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Fields      []FieldSpec `json:"fields"`
}

// Schema is the full, ordered set of field groups.
type Schema struct {
	groups []Group
	index  map[string]*FieldSpec
	order  []string
}

// NewSchema builds a schema from groups. Field names must be unique across groups.
func NewSchema(groups ...Group) (*Schema, error) {
	s := &Schema{
		groups: groups,
		index:  make(map[string]*FieldSpec),
	}
	for gi := range s.groups {
		g := &s.groups[gi]
		for fi := range g.Fields {
			f := &g.Fields[fi]
			if _, dup := s.index[f.Name]; dup {
				return nil, fmt.Errorf("duplicate field %q in group %q", f.Name, g.ID)
			}
			s.index[f.Name] = f
			s.order = append(s.order, f.Name)
		}
	}
	return s, nil
}

// Groups returns the schema groups in presentation order.
func (s *Schema) Groups() []Group {
	return s.groups
}

// Lookup returns the spec for a field name.
func (s *Schema) Lookup(name string) (*FieldSpec, bool) {
	f, ok := s.index[name]
	return f, ok
}

// Fields returns every field spec in schema order.
func (s *Schema) Fields() []*FieldSpec {
	out := make([]*FieldSpec, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.index[name])
	}
	return out
}

// FieldCount returns the number of input fields, excluding the patient name.
func (s *Schema) FieldCount() int {
	return len(s.order)
}

// Group identifiers.
const (
	GroupClinical   = "clinical"
	GroupUltrasound = "ultrasound"
	GroupChestXRay  = "chest_xray"
	GroupOmics      = "omics"
)

var (
	defaultSchema     *Schema
	defaultSchemaOnce sync.Once
)

// DefaultSchema returns the SLE prediction schema. It is built once and shared.
func DefaultSchema() *Schema {
	defaultSchemaOnce.Do(func() {
		s, err := NewSchema(
			Group{
				ID:          GroupClinical,
				Title:       "Clinical Data",
				Description: "Demographics, symptoms and laboratory findings",
				Fields:      ClinicalFields(),
			},
			Group{
				ID:          GroupUltrasound,
				Title:       "Ultrasound Embeddings",
				Description: "64-dimensional ultrasound feature embeddings from deep learning analysis",
				Fields:      inGroup(GroupUltrasound, GenerateFields(UltrasoundPrefix, UltrasoundCount, embeddingStep)),
			},
			Group{
				ID:          GroupChestXRay,
				Title:       "Chest X-Ray Embeddings",
				Description: "64-dimensional chest X-ray feature embeddings from radiological analysis",
				Fields:      inGroup(GroupChestXRay, GenerateFields(ChestXRayPrefix, ChestXRayCount, embeddingStep)),
			},
			Group{
				ID:          GroupOmics,
				Title:       "Omic Data",
				Description: "50-dimensional omics feature data including genomic and proteomic markers",
				Fields:      inGroup(GroupOmics, GenerateFields(OmicsPrefix, OmicsCount, embeddingStep)),
			},
		)
		if err != nil {
			panic(err)
		}
		defaultSchema = s
	})
	return defaultSchema
}

// GenerateFields produces count numeric fields named {prefix}_{i} for i in [0, count).
// The generated fields are optional and bounded to [-10, 10].
func GenerateFields(prefix string, count int, step float64) []FieldSpec {
	if count <= 0 {
		return nil
	}
	out := make([]FieldSpec, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s_%d", prefix, i)
		out[i] = FieldSpec{
			Name:   name,
			Label:  name,
			Kind:   Numeric,
			Bounds: &Bounds{Min: ptr(embeddingMin), Max: ptr(embeddingMax), Step: step},
		}
	}
	return out
}

func inGroup(group string, specs []FieldSpec) []FieldSpec {
	for i := range specs {
		specs[i].Group = group
	}
	return specs
}

// ptr is a helper to create pointers to float64 literals
func ptr(f float64) *float64 {
	return &f
}

var (
	yesNo = []Option{{Value: 0, Label: "No"}, {Value: 1, Label: "Yes"}}
)

// ClinicalFields returns the 16 clinical fields in form order.
func ClinicalFields() []FieldSpec {
	specs := []FieldSpec{
		{
			Name: "Age", Label: "Age (years)", Description: "Patient age in years",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Max: ptr(120), Step: 1},
		},
		{
			Name: "Sex", Label: "Biological Sex", Description: "Patient biological sex",
			Kind: Categorical, Options: []Option{{Value: 0, Label: "Female"}, {Value: 1, Label: "Male"}},
		},
		{
			Name: "Ethnicity", Label: "Ethnicity", Description: "Patient ethnic background",
			Kind: Categorical, Options: []Option{
				{Value: 0, Label: "Caucasian"},
				{Value: 1, Label: "African American"},
				{Value: 2, Label: "Hispanic/Latino"},
				{Value: 3, Label: "Asian"},
				{Value: 4, Label: "Native American"},
				{Value: 5, Label: "Other/Mixed"},
			},
		},
		{
			Name: "Fatigue", Label: "Fatigue", Description: "Presence of persistent fatigue",
			Kind: Categorical, Options: yesNo,
		},
		{
			Name: "Malar_Rash", Label: "Malar Rash", Description: "Butterfly rash across cheeks and nose bridge",
			Kind: Categorical, Options: yesNo,
		},
		{
			Name: "Arthritis", Label: "Arthritis", Description: "Joint inflammation and pain",
			Kind: Categorical, Options: yesNo,
		},
		{
			Name: "Renal_Disorder", Label: "Renal Disorder", Description: "Kidney involvement or dysfunction",
			Kind: Categorical, Options: yesNo,
		},
		{
			Name: "Fever", Label: "Fever", Description: "Presence of fever episodes",
			Kind: Categorical, Options: yesNo,
		},
		{
			Name: "ANA_Positive", Label: "ANA Test", Description: "Antinuclear antibody test result",
			Kind: Categorical, Options: []Option{{Value: 0, Label: "Negative"}, {Value: 1, Label: "Positive"}},
		},
		{
			Name: "Anti_dsDNA", Label: "Anti-dsDNA (IU/mL)", Description: "Anti-double stranded DNA antibody level",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Step: 0.1},
		},
		{
			Name: "Complement_C3", Label: "Complement C3 (mg/dL)", Description: "Complement component 3 level",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Step: 0.1},
		},
		{
			Name: "Complement_C4", Label: "Complement C4 (mg/dL)", Description: "Complement component 4 level",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Step: 0.1},
		},
		{
			Name: "Creatinine", Label: "Creatinine (mg/dL)", Description: "Serum creatinine level",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Step: 0.01},
		},
		{
			Name: "Fatigue_Score", Label: "Fatigue Score (0-10)", Description: "Patient-reported fatigue severity",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Max: ptr(10), Step: 0.1},
		},
		{
			Name: "QoL", Label: "Quality of Life Score (0-100)", Description: "Patient-reported quality of life",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Max: ptr(100), Step: 0.1},
		},
		{
			Name: "Pain_Score", Label: "Pain Score (0-10)", Description: "Patient-reported pain level",
			Kind: Numeric, Bounds: &Bounds{Min: ptr(0), Max: ptr(10), Step: 0.1},
		},
	}
	for i := range specs {
		specs[i].Group = GroupClinical
		specs[i].Required = true
	}
	return specs
}
