package slots

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func extracted(s Schema, values map[string]string, negated ...string) Facts {
	f := s.NewFacts()
	for k, v := range values {
		f.Values[k] = v
	}
	f.Negated = negated
	return f
}

func TestMerge_PrimaryAccumulates(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldSymptom: "cough, Headache"})
	got := s.Merge(prior, extracted(s, map[string]string{FieldSymptom: "headache ,  sore throat,cough"}))

	assert.Equal(t, "cough, Headache, sore throat", got.Get(FieldSymptom))
}

func TestMerge_OtherFieldsReplace(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldDuration: "2 days", FieldSeverity: "mild"})
	got := s.Merge(prior, extracted(s, map[string]string{FieldDuration: "3 days"}))

	assert.Equal(t, "3 days", got.Get(FieldDuration))
	assert.Equal(t, "mild", got.Get(FieldSeverity), "unset extracted fields keep prior values")
}

func TestMerge_NegatedUnionPreservesFirstCasing(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, nil, "Fever")
	got := s.Merge(prior, extracted(s, nil, "fever", " chills ", ""))

	assert.Equal(t, []string{"Fever", "chills"}, got.Negated)
}

func TestMerge_NegationRemovedFromPrimary(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldSymptom: "cough, high fever, nausea"})
	got := s.Merge(prior, extracted(s, nil, "FEVER"))

	assert.Equal(t, "cough, nausea", got.Get(FieldSymptom))
}

func TestMerge_NegationSpanningEntries(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldSymptom: "rash, itch, cough"})
	got := s.Merge(prior, extracted(s, nil, "rash, itch"))

	assert.Equal(t, "cough", got.Get(FieldSymptom))
}

func TestMerge_NegationClearsExactOtherField(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldAllergies: "Penicillin", FieldMedications: "penicillin tablets"})
	got := s.Merge(prior, extracted(s, nil, "penicillin"))

	assert.Equal(t, "", got.Get(FieldAllergies))
	assert.Equal(t, "penicillin tablets", got.Get(FieldMedications), "only exact matches clear non-primary fields")
}

func TestMerge_PrimaryNeverContainsNegated(t *testing.T) {
	s := DefaultSchema()
	cases := []struct {
		primary string
		negated []string
	}{
		{"fever", []string{"fever"}},
		{"Feverish chills, cough", []string{"fever"}},
		{"a, b, c", []string{"b, c"}},
		{"sore throat, throat pain", []string{"throat"}},
		{"dizzy, dizziness", []string{"Dizz"}},
		{"cough, fever", []string{",", "fever"}},
		{"cough, fever, rash", []string{", ", "h, f", "rash"}},
	}
	for _, c := range cases {
		got := s.Merge(s.NewFacts(), extracted(s, map[string]string{FieldSymptom: c.primary}, c.negated...))
		lower := strings.ToLower(got.Get(FieldSymptom))
		for _, n := range got.Negated {
			assert.NotContains(t, lower, strings.ToLower(n), "primary %q negated %v", c.primary, c.negated)
		}
	}
}

func TestMerge_PunctuationNegatedIgnored(t *testing.T) {
	s := DefaultSchema()
	got := s.Merge(s.NewFacts(), extracted(s, map[string]string{FieldSymptom: "cough, fever"}, ",", " ; ", "fever"))

	assert.Equal(t, "cough", got.Get(FieldSymptom))
	assert.Equal(t, []string{"fever"}, got.Negated)
}

func TestStripNegated_SeparatorMatchDoesNotStopScan(t *testing.T) {
	assert.Equal(t, "cough", stripNegated("cough, fever", []string{", ", "fever"}))
	assert.Equal(t, "cough", stripNegated("cough, fever, chills", []string{",", "chills", "FEVER"}))
	assert.Equal(t, "cough, fever", stripNegated("cough, fever", []string{",", "  "}))
}

func TestMerge_Idempotent(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldSymptom: "cough", FieldDuration: "3 days"})
	e := extracted(s, map[string]string{FieldSymptom: "cough, wheeze", FieldSeverity: "moderate"}, "fever")

	once := s.Merge(prior, e)
	twice := s.Merge(once, e)
	assert.True(t, once.Equal(twice), "once=%v twice=%v", once, twice)
}

func TestMerge_KeysMatchSchema(t *testing.T) {
	s := DefaultSchema()
	prior := Facts{Values: map[string]string{FieldSymptom: "cough", "medication": "aspirin"}}
	got := s.Merge(prior, s.NewFacts())

	require.Len(t, got.Values, len(s.Fields))
	_, ok := got.Values["medication"]
	assert.False(t, ok)
}

func TestScenario_CoughNeedsDuration(t *testing.T) {
	s := DefaultSchema()
	got := s.Merge(s.NewFacts(), extracted(s, map[string]string{FieldSymptom: "cough"}))

	assert.Equal(t, "cough", got.Get(FieldSymptom))
	assert.Equal(t, "", got.Get(FieldDuration))
	assert.False(t, s.MinimallySufficient(got))
	field, ok := s.NextMissing(got)
	require.True(t, ok)
	assert.Equal(t, FieldDuration, field)
}

func TestScenario_NoFeverKeepsPriorFacts(t *testing.T) {
	s := DefaultSchema()
	prior := extracted(s, map[string]string{FieldSymptom: "cough", FieldDuration: "3 days"})
	got := s.Merge(prior, extracted(s, nil, "fever"))

	assert.Equal(t, "cough", got.Get(FieldSymptom))
	assert.Equal(t, "3 days", got.Get(FieldDuration))
	assert.Equal(t, []string{"fever"}, got.Negated)
	assert.True(t, s.MinimallySufficient(got))
}

func TestAutoFill(t *testing.T) {
	s := DefaultSchema()
	insufficient := extracted(s, map[string]string{FieldSymptom: "cough"})
	assert.True(t, s.AutoFill(insufficient).Equal(insufficient))

	sufficient := extracted(s, map[string]string{FieldSymptom: "cough", FieldDuration: "3 days", FieldMedications: "ibuprofen"})
	filled := s.AutoFill(sufficient)
	assert.Equal(t, "unspecified", filled.Get(FieldSeverity))
	assert.Equal(t, "none reported", filled.Get(FieldMedicalHistory))
	assert.Equal(t, "ibuprofen", filled.Get(FieldMedications))
	assert.Equal(t, "none reported", filled.Get(FieldAllergies))
	assert.True(t, s.Complete(filled))
	assert.Equal(t, "", sufficient.Get(FieldSeverity), "input must not be mutated")
}

func TestAutoFill_UnknownFieldDefault(t *testing.T) {
	s := DefaultSchema()
	s.Fields = append(s.Fields, "occupation")
	f := extracted(s, map[string]string{FieldSymptom: "cough", FieldDuration: "1 week"})
	assert.Equal(t, "not provided", s.AutoFill(f).Get("occupation"))
}

func TestFallbackQuestion(t *testing.T) {
	s := DefaultSchema()
	assert.Equal(t, "How long have you been experiencing this?", s.FallbackQuestion(FieldDuration))
	assert.Equal(t, "Could you provide more details?", s.FallbackQuestion("occupation"))
}
