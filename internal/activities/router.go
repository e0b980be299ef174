package activities

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
)

const routerSystemPrompt = "You are a medical triage router. Reply with a JSON list of agent names and nothing else."

// Route picks the stages for this turn and stores them on st. Any failure
// or an answer with no recognizable stage routes to intake.
func (a *Activities) Route(ctx context.Context, st *conversation.State) []conversation.Route {
	routes, err := a.askRouter(ctx, st)
	source := "llm"
	if err != nil || len(routes) == 0 {
		if err != nil {
			a.logger.Debug("Router fell back to intake", zap.String("thread_id", st.ThreadID), zap.Error(err))
		}
		routes = []conversation.Route{conversation.RouteIntake}
		source = "fallback"
	}
	for _, r := range routes {
		metrics.RoutesSelected.WithLabelValues(string(r), source).Inc()
	}
	st.Routes = routes
	return routes
}

func (a *Activities) askRouter(ctx context.Context, st *conversation.State) ([]conversation.Route, error) {
	if a.deps.LLM == nil {
		return nil, nil
	}
	prompt := fmt.Sprintf("Decide which agents should handle this query.\nOptions: [Nurse, Doctor, Research].\nQuery: %s\nContext:\n%s\nReturn a JSON list of agent names.",
		st.UserQuery, conversation.Render(st.Transcript))
	out, err := llm.CompleteWithTimeout(ctx, a.deps.LLM, a.cfg.LLMTimeout, routerSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return ParseRouterOutput(out)
}

// ParseRouterOutput reads a JSON list of labels from model output. A bare
// label string is accepted as a single-element list.
func ParseRouterOutput(out string) ([]conversation.Route, error) {
	span, err := llm.ExtractJSONArray(out)
	if err != nil {
		if r, ok := conversation.ParseRoute(out); ok {
			return []conversation.Route{r}, nil
		}
		return nil, err
	}
	var labels []string
	if err := json.Unmarshal([]byte(span), &labels); err != nil {
		return nil, fmt.Errorf("decode router output: %w", err)
	}
	return conversation.ParseRoutes(labels), nil
}
