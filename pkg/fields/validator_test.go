package fields

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sle-predictor-server/internal/domain"
)

// validRecord returns a complete clinical record with the given overrides applied.
func validRecord(overrides map[string]any) domain.PatientRecord {
	rec := domain.PatientRecord{
		PatientNameField: "Jane Doe",
		"Age":            45.0,
		"Sex":            0.0,
		"Ethnicity":      2.0,
		"Fatigue":        1.0,
		"Malar_Rash":     1.0,
		"Arthritis":      0.0,
		"Renal_Disorder": 0.0,
		"Fever":          1.0,
		"ANA_Positive":   1.0,
		"Anti_dsDNA":     35.2,
		"Complement_C3":  80.0,
		"Complement_C4":  12.5,
		"Creatinine":     1.1,
		"Fatigue_Score":  6.5,
		"QoL":            55.0,
		"Pain_Score":     4.0,
	}
	for k, v := range overrides {
		if v == nil {
			delete(rec, k)
			continue
		}
		rec[k] = v
	}
	return rec
}

func TestValidate_Valid(t *testing.T) {
	rec, err := Validate(validRecord(nil), DefaultSchema())

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", rec.PatientName)
	assert.Len(t, rec.Values, 16)
	v, ok := rec.Value("Anti_dsDNA")
	assert.True(t, ok)
	assert.Equal(t, 35.2, v)
}

func TestValidate_MissingFieldsCollected(t *testing.T) {
	rec := validRecord(map[string]any{"Age": nil, "ANA_Positive": nil})

	_, err := Validate(rec, DefaultSchema())

	require.Error(t, err)
	var verrs *ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, []string{"Age", "ANA_Positive"}, verrs.MissingFields())
	assert.Len(t, verrs.Issues, 2, "both fields should be reported in a single failure")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.Contains(t, err.Error(), "Age, ANA_Positive")
}

func TestValidate_BlankIsMissing(t *testing.T) {
	_, err := Validate(validRecord(map[string]any{"QoL": "  "}), DefaultSchema())

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"QoL"}, verrs.MissingFields())
}

func TestValidate_AgeBounds(t *testing.T) {
	tests := []struct {
		name    string
		age     any
		wantErr bool
	}{
		{"Lower bound inclusive", 0.0, false},
		{"Upper bound inclusive", 120.0, false},
		{"String within range", "67", false},
		{"Above upper bound", 150.0, true},
		{"Below lower bound", -1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(validRecord(map[string]any{"Age": tt.age}), DefaultSchema())
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var verrs *ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, []string{"Age"}, verrs.FieldsOf(OutOfRange))
		})
	}
}

func TestValidate_Categorical(t *testing.T) {
	tests := []struct {
		name    string
		sex     any
		wantErr bool
	}{
		{"Numeric zero", 0, false},
		{"String one coerces", "1", false},
		{"JSON number", json.Number("1"), false},
		{"Decimal string", "1.0", false},
		{"Unknown category", "2", true},
		{"Not a number", "male", true},
		{"Fractional", 0.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Validate(validRecord(map[string]any{"Sex": tt.sex}), DefaultSchema())
			if !tt.wantErr {
				require.NoError(t, err)
				v, _ := rec.Value("Sex")
				assert.Contains(t, []float64{0, 1}, v)
				return
			}
			var verrs *ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.True(t, verrs.HasKind(InvalidCategory))
			assert.Equal(t, []string{"Sex"}, verrs.FieldsOf(InvalidCategory))
		})
	}
}

func TestValidate_NotNumeric(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"Word", "Creatinine", "high"},
		{"Overflowing string", "Creatinine", "1e400"},
		{"Overflowing JSON number", "Anti_dsDNA", json.Number("1e400")},
		{"Huge exponent", "Complement_C3", "1e100000000"},
		{"Rounds to infinity", "Complement_C4", "9.9e308"},
		{"Infinity", "Anti_dsDNA", math.Inf(1)},
		{"NaN", "Creatinine", math.NaN()},
		{"Long numeral", "Creatinine", strings.Repeat("9", 500)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(validRecord(map[string]any{tt.field: tt.value}), DefaultSchema())

			var verrs *ValidationErrors
			require.ErrorAs(t, err, &verrs)
			assert.Equal(t, []string{tt.field}, verrs.FieldsOf(NotNumeric))
		})
	}
}

func TestValidate_MixedIssues(t *testing.T) {
	rec := validRecord(map[string]any{
		"Age":        nil,
		"Sex":        "2",
		"Pain_Score": 11,
		"US_emb_3":   42.0,
	})

	_, err := Validate(rec, DefaultSchema())

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs.Issues, 4)
	assert.Equal(t, []string{"Age"}, verrs.MissingFields())
	assert.Equal(t, []string{"Sex"}, verrs.FieldsOf(InvalidCategory))
	assert.ElementsMatch(t, []string{"Pain_Score", "US_emb_3"}, verrs.FieldsOf(OutOfRange))
}

func TestValidate_EmbeddingsOptional(t *testing.T) {
	rec := validRecord(map[string]any{"US_emb_0": "0.1234", "CXR_emb_63": -9.5, "Omic_7": json.Number("2.5")})

	out, err := Validate(rec, DefaultSchema())

	require.NoError(t, err)
	assert.Len(t, out.Values, 19)
	assert.Equal(t, 0.1234, out.Values["US_emb_0"])
	assert.Equal(t, 2.5, out.Values["Omic_7"])
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	rec := validRecord(map[string]any{"Age": "45", "Extra": "ignored"})

	_, err := Validate(rec, DefaultSchema())

	require.NoError(t, err)
	assert.Equal(t, "45", rec["Age"])
	assert.Equal(t, "ignored", rec["Extra"])
}

func TestToFloat(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		want    float64
		wantErr bool
	}{
		{"float64", 1.5, 1.5, false},
		{"int", 3, 3, false},
		{"string", " 2.25 ", 2.25, false},
		{"json.Number", json.Number("-0.5"), -0.5, false},
		{"largest finite exponent", "1e308", 1e308, false},
		{"smallest subnormal", "5e-324", 5e-324, false},
		{"zero with huge exponent", "0e100000000", 0, false},
		{"bool", true, 0, true},
		{"garbage", "abc", 0, true},
		{"slice", []int{1}, 0, true},
		{"positive infinity", math.Inf(1), 0, true},
		{"negative infinity", math.Inf(-1), 0, true},
		{"NaN", math.NaN(), 0, true},
		{"overflowing string", "1e400", 0, true},
		{"overflowing json.Number", json.Number("-1e400"), 0, true},
		{"underflowing string", "1e-400", 0, true},
		{"huge exponent", "1e100000000", 0, true},
		{"huge negative exponent", "1e-100000000", 0, true},
		{"rounds to infinity", "1.8e308", 0, true},
		{"long numeral", strings.Repeat("1", 100), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToFloat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ToFloat() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ToFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToFloat_HugeExponentFailsFast(t *testing.T) {
	start := time.Now()
	for i := 0; i < 200; i++ {
		_, err := ToFloat("1e100000000")
		require.Error(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
}
