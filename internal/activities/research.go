package activities

import (
	"context"
	"strings"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
)

// Research looks up passages for the utterance and records them as notes.
// Failures yield the empty-notes text.
func (a *Activities) Research(ctx context.Context, st *conversation.State) string {
	notes := joinNotes(a.researchNotes(ctx, st.ThreadID, st.UserQuery))
	st.ResearchNotes = notes
	st.SetDraft(conversation.SenderResearch, notes)
	return notes
}

func (a *Activities) researchNotes(ctx context.Context, threadID, query string) []string {
	hits := a.vectorLookup(ctx, threadID, query, a.cfg.ResearchTopK)
	notes := make([]string, 0, len(hits))
	for _, h := range hits {
		if t := strings.TrimSpace(h.Text); t != "" {
			notes = append(notes, t)
		}
	}
	return notes
}

func joinNotes(notes []string) string {
	if len(notes) == 0 {
		return noResearchText
	}
	return strings.Join(notes, "\n")
}
