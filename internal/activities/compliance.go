package activities

import (
	"context"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
)

// Comply gates the latest draft and finalizes the turn with the gate's text.
func (a *Activities) Comply(ctx context.Context, st *conversation.State) compliance.Result {
	res := a.deps.Gate.Handle(ctx, st.ThreadID, st.UserQuery, st.Draft)
	st.Finalize(res.Text)
	st.Append(conversation.SenderCompliance, res.Text)
	return res
}
