package slots

import (
	"encoding/json"
	"strings"
)

// Facts is the per-thread slot set. An empty value means the field is unset
// and is encoded as JSON null.
type Facts struct {
	Values  map[string]string
	Negated []string
}

// NewFacts returns facts with every schema field present and unset.
func (s Schema) NewFacts() Facts {
	f := Facts{Values: make(map[string]string, len(s.Fields)), Negated: []string{}}
	for _, field := range s.Fields {
		f.Values[field] = ""
	}
	return f
}

// Conform restricts f to the schema's fields, adding missing ones as unset
// and dropping anything else.
func (s Schema) Conform(f Facts) Facts {
	out := s.NewFacts()
	for _, field := range s.Fields {
		out.Values[field] = strings.TrimSpace(f.Values[field])
	}
	out.Negated = unionFold(nil, f.Negated)
	return out
}

// Get returns the value of field, or "" when unset.
func (f Facts) Get(field string) string {
	return f.Values[field]
}

// Clone returns a deep copy.
func (f Facts) Clone() Facts {
	out := Facts{Values: make(map[string]string, len(f.Values)), Negated: append([]string{}, f.Negated...)}
	for k, v := range f.Values {
		out.Values[k] = v
	}
	return out
}

// Equal compares values and negated entries.
func (f Facts) Equal(o Facts) bool {
	if len(f.Values) != len(o.Values) || len(f.Negated) != len(o.Negated) {
		return false
	}
	for k, v := range f.Values {
		if ov, ok := o.Values[k]; !ok || ov != v {
			return false
		}
	}
	for i := range f.Negated {
		if f.Negated[i] != o.Negated[i] {
			return false
		}
	}
	return true
}

func (f Facts) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Values)+1)
	for k, v := range f.Values {
		if v == "" {
			m[k] = nil
			continue
		}
		m[k] = v
	}
	neg := f.Negated
	if neg == nil {
		neg = []string{}
	}
	m[NegatedField] = neg
	return json.Marshal(m)
}

// UnmarshalJSON accepts the persisted record shape. Non-string values are
// treated as unset rather than rejected.
func (f *Facts) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Values = make(map[string]string, len(raw))
	f.Negated = []string{}
	for k, v := range raw {
		if k == NegatedField {
			var neg []string
			if err := json.Unmarshal(v, &neg); err == nil {
				f.Negated = neg
			}
			continue
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil || s == nil {
			f.Values[k] = ""
			continue
		}
		f.Values[k] = *s
	}
	return nil
}
