package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateFields(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		count  int
		first  string
		last   string
	}{
		{"Ultrasound", UltrasoundPrefix, UltrasoundCount, "US_emb_0", "US_emb_63"},
		{"Chest X-ray", ChestXRayPrefix, ChestXRayCount, "CXR_emb_0", "CXR_emb_63"},
		{"Omics", OmicsPrefix, OmicsCount, "Omic_0", "Omic_49"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := GenerateFields(tt.prefix, tt.count, 0.0001)

			require.Len(t, specs, tt.count)
			assert.Equal(t, tt.first, specs[0].Name)
			assert.Equal(t, tt.last, specs[tt.count-1].Name)
			for _, s := range specs {
				assert.Equal(t, Numeric, s.Kind)
				assert.False(t, s.Required)
				require.NotNil(t, s.Bounds)
				assert.Equal(t, 0.0001, s.Bounds.Step)
			}
		})
	}
}

func TestGenerateFields_Deterministic(t *testing.T) {
	assert.Equal(t, GenerateFields("Omic", 5, 0.1), GenerateFields("Omic", 5, 0.1))
	assert.Nil(t, GenerateFields("Omic", 0, 0.1))
}

func TestClinicalFields(t *testing.T) {
	specs := ClinicalFields()

	require.Len(t, specs, 16)
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
		assert.True(t, s.Required, "%s should be required", s.Name)
		assert.Equal(t, GroupClinical, s.Group)
	}
	assert.Equal(t, []string{
		"Age", "Sex", "Ethnicity", "Fatigue", "Malar_Rash", "Arthritis", "Renal_Disorder", "Fever",
		"ANA_Positive", "Anti_dsDNA", "Complement_C3", "Complement_C4", "Creatinine",
		"Fatigue_Score", "QoL", "Pain_Score",
	}, names)
}

func TestDefaultSchema(t *testing.T) {
	schema := DefaultSchema()

	assert.Equal(t, 194, schema.FieldCount())
	require.Len(t, schema.Groups(), 4)
	assert.Same(t, schema, DefaultSchema(), "schema should be built once")

	age, ok := schema.Lookup("Age")
	require.True(t, ok)
	assert.True(t, age.Bounds.Contains(0))
	assert.True(t, age.Bounds.Contains(120))
	assert.False(t, age.Bounds.Contains(150))

	sex, ok := schema.Lookup("Sex")
	require.True(t, ok)
	label, ok := sex.OptionLabel(1)
	assert.True(t, ok)
	assert.Equal(t, "Male", label)

	omic, ok := schema.Lookup("Omic_49")
	require.True(t, ok)
	assert.Equal(t, GroupOmics, omic.Group)

	_, ok = schema.Lookup("Omic_50")
	assert.False(t, ok)
}

func TestNewSchema_DuplicateField(t *testing.T) {
	_, err := NewSchema(
		Group{ID: "a", Fields: GenerateFields("X", 2, 1)},
		Group{ID: "b", Fields: GenerateFields("X", 1, 1)},
	)

	assert.Error(t, err)
}

func TestBounds_String(t *testing.T) {
	assert.Equal(t, "[0, 120]", (&Bounds{Min: ptr(0), Max: ptr(120)}).String())
	assert.Equal(t, "[0, +inf)", (&Bounds{Min: ptr(0)}).String())
	assert.Equal(t, "(-inf, +inf)", (*Bounds)(nil).String())
}
