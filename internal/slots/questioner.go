package slots

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
)

const questionSystemPrompt = "You are a triage nurse. Ask exactly one short, polite question. " +
	"Output only the question."

// Questioner produces the next clarifying question for an unset field.
type Questioner struct {
	llm     llm.Completer
	schema  Schema
	timeout time.Duration
	logger  *zap.Logger
}

// NewQuestioner returns a questioner. A nil Completer always uses fallbacks.
func NewQuestioner(c llm.Completer, s Schema, timeout time.Duration, logger *zap.Logger) *Questioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Questioner{llm: c, schema: s, timeout: timeout, logger: logger}
}

// Next picks the first unset field in declared order and phrases a question
// for it. ok is false when nothing is missing.
func (q *Questioner) Next(ctx context.Context, f Facts) (field, question string, ok bool) {
	field, ok = q.schema.NextMissing(f)
	if !ok {
		return "", "", false
	}
	return field, q.Ask(ctx, field, f), true
}

// Ask phrases a question for field, falling back to the fixed phrase when
// generation fails or returns nothing usable.
func (q *Questioner) Ask(ctx context.Context, field string, f Facts) string {
	if q.llm != nil {
		prompt := fmt.Sprintf("Known so far: %s\nAsk the patient for their %s.",
			knownSummary(q.schema, f), strings.ReplaceAll(field, "_", " "))
		out, err := llm.CompleteWithTimeout(ctx, q.llm, q.timeout, questionSystemPrompt, prompt)
		if err == nil {
			if question := firstLine(out); question != "" {
				metrics.FollowupQuestions.WithLabelValues(field, "generated").Inc()
				return question
			}
		} else {
			q.logger.Debug("Question generation failed, using fallback",
				zap.String("field", field), zap.Error(err))
		}
	}
	metrics.FollowupQuestions.WithLabelValues(field, "fallback").Inc()
	return q.schema.FallbackQuestion(field)
}

func knownSummary(s Schema, f Facts) string {
	var parts []string
	for _, field := range s.Fields {
		if v := f.Values[field]; v != "" {
			parts = append(parts, field+"="+v)
		}
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, "; ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.Trim(strings.TrimSpace(s), `"'`)
}
