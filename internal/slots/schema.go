package slots

// NegatedField is the persisted key holding the negated-claims list.
const NegatedField = "negated_symptoms"

const (
	FieldSymptom        = "symptom"
	FieldDuration       = "duration"
	FieldSeverity       = "severity"
	FieldMedicalHistory = "medical_history"
	FieldMedications    = "medications"
	FieldAllergies      = "allergies"
)

const (
	genericDefault  = "not provided"
	genericQuestion = "Could you provide more details?"
)

// Schema describes the required fields collected during intake.
type Schema struct {
	// Fields in declared order; next-question selection walks this order.
	Fields []string
	// Primary is the accumulating complaint field.
	Primary string
	// Duration together with Primary forms the minimal-sufficiency pair.
	Duration string
	// Defaults used by AutoFill. Fields without an entry get "not provided".
	Defaults map[string]string
	// Questions are the deterministic fallback clarifying questions.
	Questions map[string]string
}

// DefaultSchema returns the six-field triage intake schema.
func DefaultSchema() Schema {
	return Schema{
		Fields: []string{
			FieldSymptom,
			FieldDuration,
			FieldSeverity,
			FieldMedicalHistory,
			FieldMedications,
			FieldAllergies,
		},
		Primary:  FieldSymptom,
		Duration: FieldDuration,
		Defaults: map[string]string{
			FieldSeverity:       "unspecified",
			FieldMedicalHistory: "none reported",
			FieldMedications:    "none reported",
			FieldAllergies:      "none reported",
		},
		Questions: map[string]string{
			FieldSymptom:        "Could you describe your main symptom(s)?",
			FieldDuration:       "How long have you been experiencing this?",
			FieldSeverity:       "How severe is it (mild, moderate, severe, or a 1-10 rating)?",
			FieldMedicalHistory: "Do you have any relevant medical history (e.g., diabetes, hypertension)?",
			FieldMedications:    "Are you currently taking any medications? If yes, which ones?",
			FieldAllergies:      "Do you have any allergies to medications or foods?",
		},
	}
}

// Has reports whether field is part of the schema.
func (s Schema) Has(field string) bool {
	for _, f := range s.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// FallbackQuestion returns the fixed clarifying question for field.
func (s Schema) FallbackQuestion(field string) string {
	if q, ok := s.Questions[field]; ok && q != "" {
		return q
	}
	return genericQuestion
}

// DefaultValue returns the auto-fill value for field.
func (s Schema) DefaultValue(field string) string {
	if v, ok := s.Defaults[field]; ok && v != "" {
		return v
	}
	return genericDefault
}
