package slots

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaptinlin/jsonschema"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
)

// ErrNoExtraction is returned when the model output could not be turned into slots.
var ErrNoExtraction = errors.New("slots: no extraction")

const extractSystemPrompt = "You extract structured medical intake information from patient messages. " +
	"Reply with a single JSON object and nothing else."

// Extractor turns a free-text utterance into slot values using a text generator.
type Extractor struct {
	llm      llm.Completer
	schema   Schema
	compiled *jsonschema.Schema
	timeout  time.Duration
	logger   *zap.Logger
}

// NewExtractor compiles the output schema for s and returns an extractor.
func NewExtractor(c llm.Completer, s Schema, timeout time.Duration, logger *zap.Logger) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiled, err := jsonschema.NewCompiler().Compile(outputSchema(s))
	if err != nil {
		return nil, fmt.Errorf("failed to compile extraction schema: %w", err)
	}
	return &Extractor{llm: c, schema: s, compiled: compiled, timeout: timeout, logger: logger}, nil
}

// Extract returns the slots found in utterance. Any generation or parse
// failure yields an all-unset extraction together with the cause.
func (e *Extractor) Extract(ctx context.Context, utterance string) (Facts, error) {
	empty := e.schema.NewFacts()
	raw, err := llm.CompleteWithTimeout(ctx, e.llm, e.timeout, extractSystemPrompt, e.prompt(utterance))
	if err != nil {
		metrics.SlotExtractions.WithLabelValues("generation_error").Inc()
		return empty, fmt.Errorf("%w: %v", ErrNoExtraction, err)
	}
	facts, err := e.Parse(raw)
	if err != nil {
		metrics.SlotExtractions.WithLabelValues("parse_error").Inc()
		e.logger.Debug("Slot extraction output rejected", zap.Error(err))
		return empty, err
	}
	metrics.SlotExtractions.WithLabelValues("ok").Inc()
	return facts, nil
}

// Parse validates model output against the extraction schema and converts it.
func (e *Extractor) Parse(raw string) (Facts, error) {
	empty := e.schema.NewFacts()
	span, err := llm.ExtractJSONObject(raw)
	if err != nil {
		return empty, fmt.Errorf("%w: %v", ErrNoExtraction, err)
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(span), &doc); err != nil {
		return empty, fmt.Errorf("%w: invalid JSON: %v", ErrNoExtraction, err)
	}
	result := e.compiled.Validate(doc)
	if !result.Valid {
		return empty, fmt.Errorf("%w: schema mismatch: %v", ErrNoExtraction, result.Errors)
	}

	out := e.schema.NewFacts()
	for _, field := range e.schema.Fields {
		switch v := doc[field].(type) {
		case string:
			out.Values[field] = cleanValue(v)
		case float64:
			out.Values[field] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	if neg, ok := doc[NegatedField].([]any); ok {
		for _, n := range neg {
			if s, ok := n.(string); ok {
				out.Negated = append(out.Negated, s)
			}
		}
		out.Negated = unionFold(nil, out.Negated)
	}
	return out, nil
}

func (e *Extractor) prompt(utterance string) string {
	keys := append(append([]string{}, e.schema.Fields...), NegatedField)
	var b strings.Builder
	b.WriteString("Extract the following keys from the patient message: ")
	b.WriteString(strings.Join(keys, ", "))
	b.WriteString(".\nUse null for anything not mentioned. ")
	b.WriteString(NegatedField)
	b.WriteString(" is a list of symptoms the patient explicitly denies (for example \"no fever\").\n")
	b.WriteString("Do not guess.\n\nPatient message:\n")
	b.WriteString(utterance)
	return b.String()
}

// outputSchema builds the JSON schema the model output must satisfy.
func outputSchema(s Schema) []byte {
	props := make(map[string]any, len(s.Fields)+1)
	for _, f := range s.Fields {
		props[f] = map[string]any{"type": []string{"string", "number", "null"}}
	}
	props[NegatedField] = map[string]any{
		"type":  []string{"array", "null"},
		"items": map[string]any{"type": "string"},
	}
	doc := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
	}
	buf, _ := json.Marshal(doc)
	return buf
}

func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") {
		return ""
	}
	return v
}
