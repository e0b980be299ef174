package activities

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/llm"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

const (
	maxConditions = 5

	synthesisSystemPrompt = "You are a cautious medical reasoning assistant. Use ONLY the provided evidence and patient " +
		"details. Cite evidence IDs for claims. Give a short summary, possible conditions with evidence references " +
		"and suggested next steps. Never give final advice."
)

// SynthesisKind says which branch produced a synthesis draft.
type SynthesisKind string

const (
	SynthesisConditions SynthesisKind = "conditions"
	SynthesisQuestions  SynthesisKind = "questions"
	SynthesisClarify    SynthesisKind = "clarify"
)

// Condition is one candidate disease ranked from graph relations.
type Condition struct {
	Name     string
	Matched  []string
	Evidence []string
}

// Synthesize turns the transcript and facts into the turn's draft.
// With every field known it lists probable conditions, preferring graph
// relations over generation. With fields missing it asks the best
// discriminating question (when graph candidates allow one) followed by a
// question per missing field, or else one clarifying question.
func (a *Activities) Synthesize(ctx context.Context, st *conversation.State) SynthesisKind {
	schema := a.deps.Schema
	var (
		kind  SynthesisKind
		draft string
	)
	switch {
	case schema.Complete(st.Facts):
		kind = SynthesisConditions
		if conds := RankConditions(st.GraphHits, schema.SplitPrimary(st.Facts), st.Facts.Negated, st.Context); len(conds) > 0 {
			draft = ConditionsDraft(conds, schema, st.Facts)
		} else {
			draft = a.generateDraft(ctx, st)
		}
	default:
		if symptom, ok := DiscriminativeSymptom(st.GraphHits, schema.SplitPrimary(st.Facts), st.Facts.Negated); ok {
			kind = SynthesisQuestions
			questions := []string{fmt.Sprintf("Do you also have %s?", strings.ToLower(symptom))}
			for _, field := range schema.Missing(st.Facts) {
				questions = append(questions, a.deps.Questioner.Ask(ctx, field, st.Facts))
			}
			draft = strings.Join(questions, "\n")
		} else {
			kind = SynthesisClarify
			if _, q, ok := a.deps.Questioner.Next(ctx, st.Facts); ok {
				draft = q
			} else {
				draft = schema.FallbackQuestion("")
			}
		}
	}

	if strings.TrimSpace(draft) == "" {
		// Keep the previous stage's draft.
		return kind
	}
	st.SetDraft(conversation.SenderSynthesis, draft)
	return kind
}

func (a *Activities) generateDraft(ctx context.Context, st *conversation.State) string {
	if a.deps.LLM == nil {
		return ""
	}
	var ev []evidence.Evidence
	question := st.UserQuery
	if st.Context != nil {
		ev = st.Context.Evidence
		question = st.Context.Question
	}
	prompt := fmt.Sprintf("Question: %s\nPatient:\n%s\nEVIDENCE:\n%s\nPrior notes:\n%s\nAnswer succinctly and cite evidence IDs.",
		question, patientBlock(a.deps.Schema, st.Facts), evidenceBlock(ev), conversation.Render(st.Transcript))
	out, err := llm.CompleteWithTimeout(ctx, a.deps.LLM, a.cfg.LLMTimeout, synthesisSystemPrompt, prompt)
	if err != nil {
		a.logger.Warn("Synthesis generation failed, passing draft through",
			zap.String("thread_id", st.ThreadID), zap.Error(err))
		return ""
	}
	return out
}

// RankConditions groups relations by disease and orders diseases by how
// many reported symptoms they explain, then by relation count, then by
// first appearance. Diseases whose only relations point at negated
// symptoms are dropped.
func RankConditions(hits []evidence.GraphHit, reported, negated []string, ctx *evidence.AssembledContext) []Condition {
	type acc struct {
		cond  Condition
		total int
		order int
		seen  map[string]bool
	}
	byName := map[string]*acc{}
	var order []string
	for _, h := range hits {
		name := strings.TrimSpace(h.Subject)
		if name == "" || mentions(negated, h.Object) {
			continue
		}
		key := strings.ToLower(name)
		c, ok := byName[key]
		if !ok {
			c = &acc{cond: Condition{Name: name}, order: len(order), seen: map[string]bool{}}
			byName[key] = c
			order = append(order, key)
		}
		c.total++
		obj := strings.ToLower(strings.TrimSpace(h.Object))
		if mentions(reported, obj) && !c.seen[obj] {
			c.seen[obj] = true
			c.cond.Matched = append(c.cond.Matched, h.Object)
		}
	}

	out := make([]*acc, 0, len(order))
	for _, k := range order {
		out = append(out, byName[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].cond.Matched) != len(out[j].cond.Matched) {
			return len(out[i].cond.Matched) > len(out[j].cond.Matched)
		}
		if out[i].total != out[j].total {
			return out[i].total > out[j].total
		}
		return out[i].order < out[j].order
	})
	if len(out) > maxConditions {
		out = out[:maxConditions]
	}

	conds := make([]Condition, len(out))
	for i, c := range out {
		conds[i] = c.cond
		if ctx == nil {
			continue
		}
		prefix := "(" + strings.ToLower(c.cond.Name) + ")"
		for _, ev := range ctx.Evidence {
			if ev.Kind == evidence.KindGraph && strings.HasPrefix(strings.ToLower(ev.Content), prefix) {
				conds[i].Evidence = append(conds[i].Evidence, ev.ID)
			}
		}
	}
	return conds
}

// ConditionsDraft renders ranked conditions with the known patient details.
func ConditionsDraft(conds []Condition, schema slots.Schema, f slots.Facts) string {
	var b strings.Builder
	b.WriteString("Possible conditions based on the knowledge graph:")
	for i, c := range conds {
		fmt.Fprintf(&b, "\n%d. %s", i+1, c.Name)
		if len(c.Matched) > 0 {
			fmt.Fprintf(&b, " (matches: %s)", strings.Join(c.Matched, ", "))
		}
		if len(c.Evidence) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(c.Evidence, ", "))
		}
	}
	b.WriteString("\n\nPatient details:\n")
	b.WriteString(patientBlock(schema, f))
	return b.String()
}

// DiscriminativeSymptom picks, among graph symptoms the patient has neither
// reported nor denied, the one whose disease coverage is closest to half of
// the candidate diseases. Ties keep the first seen.
func DiscriminativeSymptom(hits []evidence.GraphHit, reported, negated []string) (string, bool) {
	diseases := map[string]bool{}
	coverage := map[string]map[string]bool{}
	var order []string
	display := map[string]string{}
	for _, h := range hits {
		d := strings.ToLower(strings.TrimSpace(h.Subject))
		s := strings.ToLower(strings.TrimSpace(h.Object))
		if d == "" || s == "" {
			continue
		}
		diseases[d] = true
		if mentions(reported, s) || mentions(negated, s) {
			continue
		}
		if _, ok := coverage[s]; !ok {
			coverage[s] = map[string]bool{}
			order = append(order, s)
			display[s] = strings.TrimSpace(h.Object)
		}
		coverage[s][d] = true
	}
	if len(order) == 0 {
		return "", false
	}
	half := float64(len(diseases)) / 2
	best, bestDist := "", math.Inf(1)
	for _, s := range order {
		if d := math.Abs(float64(len(coverage[s])) - half); d < bestDist {
			best, bestDist = s, d
		}
	}
	return display[best], true
}

// mentions reports whether any entry and value contain one another, case-insensitively.
func mentions(list []string, value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, e := range list {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && (strings.Contains(v, e) || strings.Contains(e, v)) {
			return true
		}
	}
	return false
}

func patientBlock(schema slots.Schema, f slots.Facts) string {
	var lines []string
	for _, field := range schema.Fields {
		if v := f.Get(field); v != "" {
			lines = append(lines, field+": "+v)
		}
	}
	if len(f.Negated) > 0 {
		lines = append(lines, "denies: "+strings.Join(f.Negated, ", "))
	}
	if len(lines) == 0 {
		return "<none>"
	}
	return strings.Join(lines, "\n")
}

func evidenceBlock(ev []evidence.Evidence) string {
	if len(ev) == 0 {
		return "<none>"
	}
	lines := make([]string, len(ev))
	for i, e := range ev {
		lines[i] = fmt.Sprintf("[%s | %s] %s", e.ID, e.Source, e.Content)
	}
	return strings.Join(lines, "\n")
}
