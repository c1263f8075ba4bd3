package fields

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubmission(t *testing.T) {
	body := `{
		"patient_name": "  Jane Doe ",
		"doctor_notes": "Recurrent joint pain",
		"fields": {"Age": 45, "Sex": "1", "US_emb_0": 0.25, "Omic_1": null}
	}`

	sub, err := ParseSubmission(strings.NewReader(body))

	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", sub.PatientName)
	assert.Equal(t, "Recurrent joint pain", sub.DoctorNotes)
	assert.Equal(t, json.Number("45"), sub.Fields["Age"])
	assert.Equal(t, "1", sub.Fields["Sex"])
	assert.Nil(t, sub.Fields["Omic_1"])

	rec := sub.Record()
	assert.Equal(t, "Jane Doe", rec[PatientNameField])
	_, inFields := sub.Fields[PatientNameField]
	assert.False(t, inFields, "Record should not modify the submission")
}

func TestParseSubmission_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Malformed JSON", `{"fields": `},
		{"Missing fields", `{"patient_name": "Jane"}`},
		{"Fields not an object", `{"fields": [1, 2]}`},
		{"Nested value", `{"fields": {"Age": {"value": 45}}}`},
		{"Boolean value", `{"fields": {"Fever": true}}`},
		{"Name not a string", `{"patient_name": 7, "fields": {}}`},
		{"Top-level array", `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSubmission(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestParseSubmission_ThenValidate(t *testing.T) {
	body := `{"patient_name": "Jane", "fields": {"Age": 150, "Sex": 2}}`

	sub, err := ParseSubmission(strings.NewReader(body))
	require.NoError(t, err)

	_, err = Validate(sub.Record(), nil)

	var verrs *ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"Age"}, verrs.FieldsOf(OutOfRange))
	assert.Equal(t, []string{"Sex"}, verrs.FieldsOf(InvalidCategory))
	assert.Len(t, verrs.MissingFields(), 14)
}
