package compliance

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
)

// Status is the gate outcome.
type Status string

const (
	StatusApproved  Status = "approved"
	StatusEscalated Status = "escalated"
)

const (
	fallbackNotice = "This response has been withheld and escalated for clinician review."
	terseNotice    = "Withheld pending clinician follow-up."
	minimalNotice  = "Escalated."
)

// Result is the user-facing outcome of a gate run.
type Result struct {
	Status Status
	Text   string
	Issues []string
	// Record is set for escalations.
	Record *Record
}

// Gate approves drafts with a disclaimer or withholds them and logs an
// escalation. Rules may be swapped at runtime.
type Gate struct {
	rules       atomic.Pointer[Rules]
	sink        Sink
	sinkTimeout time.Duration
	logger      *zap.Logger
}

// NewGate returns a gate. A nil rules value uses DefaultRules; a nil sink
// skips logging.
func NewGate(rules *Rules, sink Sink, sinkTimeout time.Duration, logger *zap.Logger) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if sinkTimeout <= 0 {
		sinkTimeout = 5 * time.Second
	}
	g := &Gate{sink: sink, sinkTimeout: sinkTimeout, logger: logger}
	g.rules.Store(rules)
	return g
}

// SetRules replaces the active rules.
func (g *Gate) SetRules(r *Rules) {
	if r != nil {
		g.rules.Store(r)
	}
}

// ReloadFrom loads rules from path and swaps them in. The active rules are
// kept when the file is invalid.
func (g *Gate) ReloadFrom(path string) error {
	r, err := LoadRules(path)
	if err != nil {
		g.logger.Warn("Compliance rules reload rejected", zap.String("path", path), zap.Error(err))
		return err
	}
	g.rules.Store(r)
	g.logger.Info("Compliance rules reloaded", zap.String("path", path))
	return nil
}

// Rules returns the active rules.
func (g *Gate) Rules() *Rules { return g.rules.Load() }

// Handle gates draft. On escalation the user-facing text names issue
// categories only and never includes the draft. A failed log write is
// logged and does not change the returned result.
func (g *Gate) Handle(ctx context.Context, threadID, query, draft string) Result {
	rules := g.rules.Load()
	issues := rules.Check(draft)
	categories := Categories(issues)

	if len(issues) == 0 {
		metrics.RecordComplianceDecision(string(StatusApproved), nil)
		return Result{Status: StatusApproved, Text: draft + rules.Disclaimer()}
	}

	metrics.RecordComplianceDecision(string(StatusEscalated), categories)
	g.logger.Info("Draft escalated",
		zap.String("thread_id", threadID),
		zap.Strings("issues", issues))
	g.logger.Debug("Escalated draft", zap.String("draft", rules.Redact(draft)))

	res := Result{Status: StatusEscalated, Text: notice(rules, categories, draft), Issues: issues}

	rec, err := NewRecord(threadID, query, draft, issues)
	if err != nil {
		g.logger.Warn("Escalation digest failed", zap.Error(err))
	}
	res.Record = &rec

	if g.sink != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.sinkTimeout)
		defer cancel()
		if err := g.sink.Append(sctx, rec); err != nil {
			metrics.EscalationSinkErrors.WithLabelValues("escalation_log").Inc()
			g.logger.Error("Failed to write escalation record",
				zap.String("thread_id", threadID),
				zap.String("escalation_id", rec.ID),
				zap.Error(err))
		}
	}
	return res
}

// notice picks the first escalation text that neither echoes the draft nor
// trips the active rules. Configured phrases can collide with the fixed
// wording, so shorter notices are tried in turn.
func notice(rules *Rules, categories []string, draft string) string {
	candidates := []string{
		"This response needs review by a clinician before it can be shared (flagged: " +
			strings.Join(categories, ", ") + "). A member of the care team will follow up.",
		fallbackNotice,
		terseNotice,
	}
	d := strings.ToLower(strings.TrimSpace(draft))
	for _, text := range candidates {
		if d != "" && strings.Contains(strings.ToLower(text), d) {
			continue
		}
		if len(rules.Check(text)) > 0 {
			continue
		}
		return text
	}
	return minimalNotice
}
