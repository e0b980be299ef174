package activities

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

// IntakeResult is the outcome of slot collection for one utterance.
type IntakeResult struct {
	// Record is the merged fact set before auto-fill; this is what gets persisted.
	Record     slots.Facts
	Sufficient bool
	Field      string
	Question   string
}

// Intake extracts slots from the utterance and merges them into st.Facts.
// When the minimal pair is present the working facts are auto-filled;
// otherwise a clarifying question for the first missing field is returned
// and appended to the transcript.
func (a *Activities) Intake(ctx context.Context, st *conversation.State) IntakeResult {
	schema := a.deps.Schema
	extracted := schema.NewFacts()
	if a.deps.Extractor != nil {
		var err error
		extracted, err = a.deps.Extractor.Extract(ctx, st.UserQuery)
		if err != nil && !errors.Is(err, slots.ErrNoExtraction) {
			a.logger.Warn("Slot extraction failed", zap.String("thread_id", st.ThreadID), zap.Error(err))
		}
	}

	merged := schema.Merge(st.Facts, extracted)
	res := IntakeResult{Record: merged}
	if schema.MinimallySufficient(merged) {
		res.Sufficient = true
		st.Facts = schema.AutoFill(merged)
		return res
	}

	st.Facts = merged
	field, question, ok := a.deps.Questioner.Next(ctx, merged)
	if !ok {
		// Unreachable with a schema that lists Primary and Duration.
		field, question = schema.Primary, schema.FallbackQuestion(schema.Primary)
	}
	res.Field, res.Question = field, question
	st.Append(conversation.SenderIntake, question)
	return res
}
