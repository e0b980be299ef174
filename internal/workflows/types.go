package workflows

import (
	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

// Outcome says how a turn terminated.
type Outcome string

const (
	OutcomeFollowup  Outcome = "followup"
	OutcomeFinal     Outcome = "final"
	OutcomeEscalated Outcome = "escalated"
)

// TurnRequest is one user utterance on a thread.
type TurnRequest struct {
	ThreadID  string                    `json:"thread_id"`
	Utterance string                    `json:"utterance"`
	Prior     []conversation.RawMessage `json:"prior,omitempty"`
}

// TurnResult is what a caller renders after a turn. Text is never empty.
type TurnResult struct {
	ThreadID   string                 `json:"thread_id"`
	Text       string                 `json:"text"`
	Outcome    Outcome                `json:"outcome"`
	Routes     []conversation.Route   `json:"routes"`
	Facts      slots.Facts            `json:"facts"`
	Issues     []string               `json:"issues,omitempty"`
	Escalation *compliance.Record     `json:"escalation,omitempty"`
	Transcript []conversation.Message `json:"transcript"`

	// State is the full turn snapshot; not serialized.
	State *conversation.State `json:"-"`
}
