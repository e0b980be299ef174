package slots

import (
	"strings"
	"unicode"
)

// Merge folds extracted facts into prior facts.
//
// The primary field accumulates comma-separated entries with case-insensitive
// dedupe. Other fields are replaced by any non-empty extracted value. Negated
// entries are unioned across turns, and afterwards no negated entry may appear
// as a substring of the primary field or equal any other field.
func (s Schema) Merge(prior, extracted Facts) Facts {
	out := s.Conform(prior)
	out.Negated = unionFold(out.Negated, extracted.Negated)

	for _, field := range s.Fields {
		nv := strings.TrimSpace(extracted.Values[field])
		if nv == "" || strings.EqualFold(nv, "null") {
			continue
		}
		if field == s.Primary {
			out.Values[field] = accumulate(out.Values[field], nv)
			continue
		}
		out.Values[field] = nv
	}

	s.enforceNegation(&out)
	return out
}

// MinimallySufficient reports whether the primary and duration fields are both set.
func (s Schema) MinimallySufficient(f Facts) bool {
	return strings.TrimSpace(f.Values[s.Primary]) != "" && strings.TrimSpace(f.Values[s.Duration]) != ""
}

// Complete reports whether every schema field is set.
func (s Schema) Complete(f Facts) bool {
	return len(s.Missing(f)) == 0
}

// Missing lists unset fields in declared order.
func (s Schema) Missing(f Facts) []string {
	var missing []string
	for _, field := range s.Fields {
		if strings.TrimSpace(f.Values[field]) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

// NextMissing returns the first unset field in declared order.
func (s Schema) NextMissing(f Facts) (string, bool) {
	missing := s.Missing(f)
	if len(missing) == 0 {
		return "", false
	}
	return missing[0], true
}

// AutoFill fills unset fields with their defaults once minimal sufficiency
// holds. Otherwise f is returned unchanged.
func (s Schema) AutoFill(f Facts) Facts {
	if !s.MinimallySufficient(f) {
		return f
	}
	out := f.Clone()
	for _, field := range s.Fields {
		if strings.TrimSpace(out.Values[field]) == "" {
			out.Values[field] = s.DefaultValue(field)
		}
	}
	return out
}

// SplitPrimary returns the individual entries of the primary field.
func (s Schema) SplitPrimary(f Facts) []string {
	return splitList(f.Values[s.Primary])
}

func (s Schema) enforceNegation(f *Facts) {
	if len(f.Negated) == 0 {
		return
	}
	f.Values[s.Primary] = stripNegated(f.Values[s.Primary], f.Negated)
	for _, field := range s.Fields {
		if field == s.Primary {
			continue
		}
		for _, n := range f.Negated {
			if strings.EqualFold(strings.TrimSpace(f.Values[field]), n) {
				f.Values[field] = ""
				break
			}
		}
	}
}

// stripNegated drops primary entries that overlap any negated entry until the
// joined value contains none of them. Occurrences that fall entirely inside a
// separator overlap no entry and are skipped.
func stripNegated(value string, negated []string) string {
	tokens := splitList(value)
	for {
		drop := overlapping(tokens, negated)
		if len(drop) == 0 {
			return strings.Join(tokens, ", ")
		}
		kept := tokens[:0:0]
		for i, t := range tokens {
			if !drop[i] {
				kept = append(kept, t)
			}
		}
		tokens = kept
	}
}

// overlapping marks the tokens touched by any occurrence of any negated entry
// in the lowercased ", "-joined value.
func overlapping(tokens, negated []string) map[int]bool {
	type span struct{ start, end int }
	spans := make([]span, len(tokens))
	lowered := make([]string, len(tokens))
	pos := 0
	for i, t := range tokens {
		lowered[i] = strings.ToLower(t)
		spans[i] = span{pos, pos + len(lowered[i])}
		pos = spans[i].end + len(", ")
	}
	joined := strings.Join(lowered, ", ")

	drop := make(map[int]bool)
	for _, n := range negated {
		ln := strings.ToLower(strings.TrimSpace(n))
		if ln == "" {
			continue
		}
		for from := 0; from < len(joined); {
			idx := strings.Index(joined[from:], ln)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(ln)
			for i, sp := range spans {
				if sp.start < end && start < sp.end {
					drop[i] = true
				}
			}
			from = start + 1
		}
	}
	return drop
}

func accumulate(prior, incoming string) string {
	return strings.Join(dedupeFold(append(splitList(prior), splitList(incoming)...)), ", ")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func dedupeFold(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		key := strings.ToLower(it)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

func unionFold(a, b []string) []string {
	all := make([]string, 0, len(a)+len(b))
	for _, v := range append(append([]string{}, a...), b...) {
		if t := strings.TrimSpace(v); hasWordChar(t) {
			all = append(all, t)
		}
	}
	return dedupeFold(all)
}

// hasWordChar reports whether v has any letter or digit. Entries made only of
// punctuation would match separators in the primary field.
func hasWordChar(v string) bool {
	return strings.IndexFunc(v, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0
}
