package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
)

const (
	noTriples      = "<no KG triples found>"
	noResearchText = "No research notes found."
)

// Specialist retrieves graph relations and passages for the primary
// complaint, fuses them and sets a draft built only from what was retrieved.
// Research notes are fetched alongside when the router selected research.
func (a *Activities) Specialist(ctx context.Context, st *conversation.State) error {
	query := a.searchQuery(st)
	symptoms := a.deps.Schema.SplitPrimary(st.Facts)
	withResearch := conversation.HasRoute(st.Routes, conversation.RouteResearch)

	var (
		graphHits  []evidence.GraphHit
		vectorHits []evidence.VectorHit
		notes      []string
	)
	g, gctx := errgroup.WithContext(ctx)
	a.goRecover(g, st.ThreadID, "graph", func() {
		graphHits = a.graphLookup(gctx, st.ThreadID, query, symptoms)
	})
	a.goRecover(g, st.ThreadID, "vector", func() {
		vectorHits = a.vectorLookup(gctx, st.ThreadID, query, a.cfg.VectorTopK)
	})
	if withResearch {
		a.goRecover(g, st.ThreadID, "research", func() {
			notes = a.researchNotes(gctx, st.ThreadID, st.UserQuery)
		})
	}
	_ = g.Wait()

	assembled := a.deps.Fusion.Assemble(query, graphHits, vectorHits)
	metrics.RecordEvidenceMetrics(assembled.Stats.ItemCount, assembled.Stats.ConsumedTokens)
	st.GraphHits = graphHits
	st.Context = &assembled

	draft := SpecialistDraft(query, graphHits, assembled)
	if withResearch {
		st.ResearchNotes = joinNotes(notes)
		draft += "\n\nResearch notes:\n" + st.ResearchNotes
	}
	st.SetDraft(conversation.SenderSpecialist, draft)
	return nil
}

// goRecover runs fn on g. A panicking lookup counts as an empty result so
// the other lookups still complete.
func (a *Activities) goRecover(g *errgroup.Group, threadID, what string, fn func()) {
	g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Retrieval panicked",
					zap.String("thread_id", threadID),
					zap.String("lookup", what),
					zap.Any("panic", r))
			}
		}()
		fn()
		return nil
	})
}

// searchQuery is the primary complaint, or every known value when the
// complaint is unset, or the utterance as a last resort.
func (a *Activities) searchQuery(st *conversation.State) string {
	schema := a.deps.Schema
	if q := strings.TrimSpace(st.Facts.Get(schema.Primary)); q != "" {
		return q
	}
	var parts []string
	for _, f := range schema.Fields {
		if v := strings.TrimSpace(st.Facts.Get(f)); v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, " ")
	}
	return st.UserQuery
}

// graphLookup queries diseases sharing every symptom when more than one is
// reported, aggregating per-symptom lookups when that fails or is empty.
func (a *Activities) graphLookup(ctx context.Context, threadID, query string, symptoms []string) []evidence.GraphHit {
	if a.deps.Graph == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.GraphTimeout)
	defer cancel()

	if len(symptoms) > 1 {
		hits, err := a.deps.Graph.QueryByAllSymptoms(ctx, symptoms, a.cfg.GraphLimit)
		if err == nil && len(hits) > 0 {
			return hits
		}
		if err != nil {
			a.logger.Warn("Multi-symptom graph lookup failed", zap.String("thread_id", threadID), zap.Error(err))
		}
		var out []evidence.GraphHit
		seen := make(map[evidence.GraphHit]bool)
		for _, s := range symptoms {
			hits, err := a.deps.Graph.QueryBySymptom(ctx, s, a.cfg.GraphLimit)
			if err != nil {
				a.logger.Warn("Graph lookup failed", zap.String("thread_id", threadID), zap.String("symptom", s), zap.Error(err))
				continue
			}
			for _, h := range hits {
				if !seen[h] {
					seen[h] = true
					out = append(out, h)
				}
			}
		}
		return out
	}

	hits, err := a.deps.Graph.QueryBySymptom(ctx, query, a.cfg.GraphLimit)
	if err != nil {
		a.logger.Warn("Graph lookup failed", zap.String("thread_id", threadID), zap.Error(err))
		return nil
	}
	return hits
}

func (a *Activities) vectorLookup(ctx context.Context, threadID, query string, topK int) []evidence.VectorHit {
	if a.deps.Vector == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.VectorTimeout)
	defer cancel()
	start := time.Now()
	hits, err := a.deps.Vector.Query(ctx, query, topK)
	if err != nil {
		a.logger.Warn("Vector lookup failed",
			zap.String("thread_id", threadID),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil
	}
	return hits
}

// SpecialistDraft renders the retrieved relations and the cited evidence.
func SpecialistDraft(query string, hits []evidence.GraphHit, assembled evidence.AssembledContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KG findings for symptom '%s':\n", query)
	if len(hits) == 0 {
		b.WriteString(noTriples)
	}
	for i, h := range hits {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(h.String())
	}
	if len(assembled.Evidence) > 0 {
		b.WriteString("\n\nEvidence:")
		for _, ev := range assembled.Evidence {
			fmt.Fprintf(&b, "\n[%s | %s] %s", ev.ID, ev.Source, ev.Content)
		}
	}
	return b.String()
}
