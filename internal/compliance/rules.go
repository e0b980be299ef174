package compliance

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultDisclaimer is appended verbatim to approved drafts.
const DefaultDisclaimer = "\n\nDisclaimer: This is not a definitive medical diagnosis. See a clinician for confirmation."

// Issue categories.
const (
	CategoryPolicyPhrase = "policy_phrase"
	CategoryPHIExposure  = "phi_exposure"
)

// PatternSpec is a labelled sensitive-content regex as written in rule files.
type PatternSpec struct {
	Label string `yaml:"label"`
	Regex string `yaml:"regex"`
}

// RulesFile is the on-disk YAML layout.
type RulesFile struct {
	BlockPhrases      []string      `yaml:"block_phrases"`
	SensitivePatterns []PatternSpec `yaml:"sensitive_patterns"`
	RedactPatterns    []PatternSpec `yaml:"redact_patterns"`
	Disclaimer        *string       `yaml:"disclaimer"`
}

type pattern struct {
	label string
	re    *regexp.Regexp
}

// Rules is a compiled, immutable rule set.
type Rules struct {
	phrases    []string
	sensitive  []pattern
	redact     []pattern
	disclaimer string
}

// DefaultRules returns the built-in block phrases and sensitive patterns.
func DefaultRules() *Rules {
	r, err := Compile(defaultRulesFile())
	if err != nil {
		panic(fmt.Sprintf("compliance: default rules: %v", err))
	}
	return r
}

func defaultRulesFile() RulesFile {
	disclaimer := DefaultDisclaimer
	return RulesFile{
		BlockPhrases: []string{
			"prescribe", "dosage", "dose", "administer", "stop medication", "do not", "guarantee", "definitely",
		},
		SensitivePatterns: []PatternSpec{
			{Label: "ssn", Regex: `(?i)\bssn\b`},
			{Label: "social_security", Regex: `(?i)\bsocial security\b`},
			{Label: "card_number", Regex: `(?i)\bcard number\b`},
			{Label: "national_id", Regex: `\b\d{3}-\d{2}-\d{4}\b`},
		},
		RedactPatterns: []PatternSpec{
			{Label: "phone", Regex: `\b\d{3}[-.\s]?\d{3}[-.\s]?\d{4}\b`},
			{Label: "ssn", Regex: `\b\d{3}-\d{2}-\d{4}\b`},
			{Label: "email", Regex: `\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`},
			{Label: "patient_id", Regex: `\bPID-\d{4,}\b`},
		},
		Disclaimer: &disclaimer,
	}
}

// Compile validates a rule file. Phrases and patterns match case-insensitively and
// empty phrases are ignored. A nil disclaimer keeps the default.
func Compile(f RulesFile) (*Rules, error) {
	r := &Rules{disclaimer: DefaultDisclaimer}
	if f.Disclaimer != nil {
		r.disclaimer = *f.Disclaimer
	}
	for _, p := range f.BlockPhrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			r.phrases = append(r.phrases, p)
		}
	}
	var err error
	if r.sensitive, err = compilePatterns(f.SensitivePatterns); err != nil {
		return nil, err
	}
	if r.redact, err = compilePatterns(f.RedactPatterns); err != nil {
		return nil, err
	}
	return r, nil
}

// caseInsensitive prefixes expr with (?i) unless it already opens with a
// flag group that sets i.
func caseInsensitive(expr string) string {
	if strings.HasPrefix(expr, "(?") {
		if flags, _, ok := strings.Cut(expr[2:], ")"); ok && !strings.ContainsAny(flags, ":-") && strings.Contains(flags, "i") {
			return expr
		}
	}
	return "(?i)" + expr
}

func compilePatterns(specs []PatternSpec) ([]pattern, error) {
	out := make([]pattern, 0, len(specs))
	for _, s := range specs {
		if s.Label == "" {
			return nil, fmt.Errorf("pattern %q: missing label", s.Regex)
		}
		re, err := regexp.Compile(caseInsensitive(s.Regex))
		if err != nil {
			return nil, fmt.Errorf("pattern %s: %w", s.Label, err)
		}
		out = append(out, pattern{label: s.Label, re: re})
	}
	return out, nil
}

// ParseRules decodes YAML rules. Sections left out of the document keep
// their defaults.
func ParseRules(data []byte) (*Rules, error) {
	f := defaultRulesFile()
	var doc RulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	if doc.BlockPhrases != nil {
		f.BlockPhrases = doc.BlockPhrases
	}
	if doc.SensitivePatterns != nil {
		f.SensitivePatterns = doc.SensitivePatterns
	}
	if doc.RedactPatterns != nil {
		f.RedactPatterns = doc.RedactPatterns
	}
	if doc.Disclaimer != nil {
		f.Disclaimer = doc.Disclaimer
	}
	return Compile(f)
}

// LoadRules reads rules from a YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRules(data)
}

// Check returns the issues raised by text in rule order: block phrases
// first ("policy_phrase:<phrase>"), then sensitive patterns
// ("phi_exposure:<label>").
func (r *Rules) Check(text string) []string {
	var issues []string
	lower := strings.ToLower(text)
	for _, p := range r.phrases {
		if strings.Contains(lower, p) {
			issues = append(issues, CategoryPolicyPhrase+":"+p)
		}
	}
	for _, p := range r.sensitive {
		if p.re.MatchString(text) {
			issues = append(issues, CategoryPHIExposure+":"+p.label)
		}
	}
	return issues
}

// Redact replaces identifier-like spans with [REDACTED-<LABEL>] for logs.
func (r *Rules) Redact(text string) string {
	for _, p := range r.redact {
		text = p.re.ReplaceAllString(text, "[REDACTED-"+strings.ToUpper(p.label)+"]")
	}
	return text
}

// Disclaimer returns the sentence appended to approved drafts.
func (r *Rules) Disclaimer() string { return r.disclaimer }

// Categories returns the distinct issue categories in first-seen order.
func Categories(issues []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, is := range issues {
		cat, _, _ := strings.Cut(is, ":")
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	return out
}
