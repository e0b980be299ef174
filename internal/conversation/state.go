package conversation

import (
	"strings"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

// Route is a stage the router may select for a turn.
type Route string

const (
	RouteIntake     Route = "intake"
	RouteSpecialist Route = "specialist"
	RouteResearch   Route = "research"
)

var routeAliases = map[string]Route{
	"intake":     RouteIntake,
	"nurse":      RouteIntake,
	"specialist": RouteSpecialist,
	"doctor":     RouteSpecialist,
	"research":   RouteResearch,
}

// ParseRoute maps a router label onto a Route.
func ParseRoute(label string) (Route, bool) {
	r, ok := routeAliases[strings.ToLower(strings.Trim(strings.TrimSpace(label), `"'.`))]
	return r, ok
}

// ParseRoutes maps labels onto routes, dropping unrecognized labels and
// duplicates while keeping first-seen order.
func ParseRoutes(labels []string) []Route {
	var out []Route
	seen := make(map[Route]bool, len(labels))
	for _, l := range labels {
		r, ok := ParseRoute(l)
		if !ok || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

// HasRoute reports whether routes contains r.
func HasRoute(routes []Route, r Route) bool {
	for _, x := range routes {
		if x == r {
			return true
		}
	}
	return false
}

// State is the per-turn conversation snapshot shared by the stages.
type State struct {
	ThreadID   string
	UserQuery  string
	Transcript []Message
	// Facts is the merged fact record. Stages may replace it with an
	// auto-filled copy; the persisted record is tracked by the engine.
	Facts  slots.Facts
	Routes []Route

	GraphHits     []evidence.GraphHit
	Context       *evidence.AssembledContext
	ResearchNotes string
	Draft         string

	finalResponse string
	finalized     bool
}

// NewState starts a turn from prior history and the persisted facts. The
// query is appended as a user message unless history already ends with it.
func NewState(threadID, query string, prior []RawMessage, facts slots.Facts) *State {
	s := &State{
		ThreadID:   threadID,
		UserQuery:  query,
		Transcript: Normalize(prior),
		Facts:      facts,
	}
	if n := len(s.Transcript); n > 0 {
		last := s.Transcript[n-1]
		if last.Sender == SenderUser && strings.TrimSpace(last.Content) == strings.TrimSpace(query) {
			return s
		}
	}
	s.Append(SenderUser, query)
	return s
}

// Append adds a tagged message to the transcript.
func (s *State) Append(sender Sender, content string) {
	s.Transcript = append(s.Transcript, Message{Sender: sender, Content: content})
}

// SetDraft records a stage's candidate text and appends it to the transcript.
func (s *State) SetDraft(sender Sender, draft string) {
	s.Draft = draft
	s.Append(sender, draft)
}

// Finalize sets the turn's response. Only the first call takes effect.
func (s *State) Finalize(text string) bool {
	if s.finalized {
		return false
	}
	s.finalResponse = text
	s.finalized = true
	return true
}

// FinalResponse returns the response and whether it has been set.
func (s *State) FinalResponse() (string, bool) {
	return s.finalResponse, s.finalized
}
