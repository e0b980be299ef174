// Package workflows runs the per-turn triage state machine.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/compliance"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/factstore"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
)

// DefaultNoAnswer is returned when a turn produced no text at all.
const DefaultNoAnswer = "I'm sorry, I couldn't produce an answer right now. Please try again or contact a clinician."

// ErrInvalidRequest is returned for requests without a thread id.
var ErrInvalidRequest = errors.New("invalid turn request")

// Options tune the engine.
type Options struct {
	// StageTimeout bounds each stage; zero means no extra bound.
	StageTimeout time.Duration
	// SaveTimeout bounds the facts write at the end of the turn.
	SaveTimeout time.Duration
	NoAnswer    string
}

// Engine sequences the stages for one turn per thread at a time.
type Engine struct {
	acts   *activities.Activities
	store  factstore.Store
	locker *factstore.Locker
	schema slots.Schema
	opts   Options
	logger *zap.Logger
}

// NewEngine wires the stage handlers to a facts store. store may be nil,
// in which case facts live only for the turn.
func NewEngine(acts *activities.Activities, store factstore.Store, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 5 * time.Second
	}
	if opts.NoAnswer == "" {
		opts.NoAnswer = DefaultNoAnswer
	}
	return &Engine{
		acts:   acts,
		store:  store,
		locker: factstore.NewLocker(),
		schema: acts.Schema(),
		opts:   opts,
		logger: logger,
	}
}

// Facts returns the persisted facts for a thread, or empty facts.
func (e *Engine) Facts(ctx context.Context, threadID string) slots.Facts {
	return factstore.LoadOrEmpty(ctx, e.store, e.schema, threadID, e.logger)
}

// RunTurn routes the utterance through the stages and returns the turn's
// text. Stage failures never abort the turn; the only errors are an invalid
// request or ctx ending while waiting for another turn on the same thread.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	req.ThreadID = strings.TrimSpace(req.ThreadID)
	if req.ThreadID == "" {
		return nil, fmt.Errorf("%w: thread_id is required", ErrInvalidRequest)
	}
	unlock, err := e.locker.Lock(ctx, req.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("waiting for thread %s: %w", req.ThreadID, err)
	}
	defer unlock()

	start := time.Now()
	metrics.TurnsStarted.Inc()
	ctx, span := tracing.StartTurnSpan(ctx, req.ThreadID)
	defer span.End()

	logger := e.logger.With(zap.String("thread_id", req.ThreadID))
	record := e.Facts(ctx, req.ThreadID)
	st := conversation.NewState(req.ThreadID, req.Utterance, req.Prior, record.Clone())
	res := &TurnResult{ThreadID: req.ThreadID, Outcome: OutcomeFinal}

	e.stage(ctx, logger, "router", func(ctx context.Context) error {
		e.acts.Route(ctx, st)
		return nil
	})
	if len(st.Routes) == 0 {
		st.Routes = []conversation.Route{conversation.RouteIntake}
	}

	switch {
	case conversation.HasRoute(st.Routes, conversation.RouteIntake):
		var intake activities.IntakeResult
		ok := e.stage(ctx, logger, "intake", func(ctx context.Context) error {
			intake = e.acts.Intake(ctx, st)
			return nil
		})
		if ok {
			record = intake.Record
		}
		if !ok || !intake.Sufficient {
			q := intake.Question
			if q == "" {
				q = e.schema.FallbackQuestion(e.schema.Primary)
			}
			st.Finalize(q)
			res.Outcome = OutcomeFollowup
			break
		}
		e.runSpecialistPath(ctx, logger, st)
	case conversation.HasRoute(st.Routes, conversation.RouteSpecialist):
		e.runSpecialistPath(ctx, logger, st)
	default:
		e.stage(ctx, logger, "research", func(ctx context.Context) error {
			e.acts.Research(ctx, st)
			return nil
		})
	}
	if res.Outcome != OutcomeFollowup {
		e.synthesizeAndGate(ctx, logger, st, res)
	}

	e.save(ctx, logger, req.ThreadID, record)

	text, _ := st.FinalResponse()
	if strings.TrimSpace(text) == "" {
		text = e.opts.NoAnswer
	}
	res.Text = text
	res.Routes = st.Routes
	res.Facts = st.Facts
	res.Transcript = st.Transcript
	res.State = st

	span.SetAttributes(attribute.String("triage.outcome", string(res.Outcome)))
	metrics.RecordTurnMetrics(string(res.Outcome), time.Since(start).Seconds())
	logger.Info("Turn completed",
		zap.String("outcome", string(res.Outcome)),
		zap.Any("routes", st.Routes),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

func (e *Engine) runSpecialistPath(ctx context.Context, logger *zap.Logger, st *conversation.State) {
	e.stage(ctx, logger, "specialist", func(ctx context.Context) error {
		return e.acts.Specialist(ctx, st)
	})
}

func (e *Engine) synthesizeAndGate(ctx context.Context, logger *zap.Logger, st *conversation.State, res *TurnResult) {
	e.stage(ctx, logger, "synthesis", func(ctx context.Context) error {
		e.acts.Synthesize(ctx, st)
		return nil
	})
	var gate compliance.Result
	ok := e.stage(ctx, logger, "compliance", func(ctx context.Context) error {
		gate = e.acts.Comply(ctx, st)
		return nil
	})
	if !ok {
		// Never surface an ungated draft.
		st.Finalize("")
		return
	}
	if gate.Status == compliance.StatusEscalated {
		res.Outcome = OutcomeEscalated
		res.Issues = gate.Issues
		res.Escalation = gate.Record
	}
}

// stage runs fn with a span, a timeout and panic recovery. It reports
// whether fn completed without error.
func (e *Engine) stage(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context) error) (ok bool) {
	start := time.Now()
	ctx, span := tracing.StartStageSpan(ctx, name)
	defer span.End()
	if e.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.StageTimeout)
		defer cancel()
	}

	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			status = "panic"
			ok = false
			err := fmt.Errorf("stage %s panicked: %v", name, r)
			tracing.RecordError(span, err)
			logger.Error("Stage panicked", zap.String("stage", name), zap.Any("panic", r))
		}
		metrics.RecordStageMetrics(name, status, time.Since(start).Seconds())
	}()

	if err := fn(ctx); err != nil {
		status = "error"
		tracing.RecordError(span, err)
		logger.Warn("Stage failed", zap.String("stage", name), zap.Error(err))
		return false
	}
	return true
}

// save persists the pre-auto-fill record even when the caller has gone away.
func (e *Engine) save(ctx context.Context, logger *zap.Logger, threadID string, record slots.Facts) {
	if e.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.SaveTimeout)
	defer cancel()
	if err := e.store.Save(sctx, threadID, record); err != nil {
		logger.Error("Failed to save facts", zap.Error(err))
	}
}
