// Package httpapi exposes triage turns over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/conversation"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/workflows"
)

const maxBodyBytes = 64 << 10

// TurnRunner executes one turn, in-process or through Temporal.
type TurnRunner interface {
	RunTurn(ctx context.Context, req workflows.TurnRequest) (*workflows.TurnResult, error)
}

// FactsReader returns the persisted facts for a thread.
type FactsReader interface {
	Facts(ctx context.Context, threadID string) slots.Facts
}

// TurnHandler serves the turn and facts endpoints.
type TurnHandler struct {
	runner    TurnRunner
	facts     FactsReader
	logger    *zap.Logger
	authToken string
	timeout   time.Duration
}

// NewTurnHandler creates a handler. An empty authToken disables auth; a
// zero timeout leaves the request context unbounded.
func NewTurnHandler(runner TurnRunner, facts FactsReader, logger *zap.Logger, authToken string, timeout time.Duration) *TurnHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TurnHandler{runner: runner, facts: facts, logger: logger, authToken: authToken, timeout: timeout}
}

// RegisterRoutes registers the API routes on mux.
func (h *TurnHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/turns", h.authorized(h.handleTurn))
	mux.HandleFunc("GET /api/v1/threads/{id}/facts", h.authorized(h.handleFacts))
}

type turnRequest struct {
	ThreadID string                    `json:"thread_id,omitempty"`
	Message  string                    `json:"message"`
	History  []conversation.RawMessage `json:"history,omitempty"`
}

type turnResponse struct {
	ThreadID     string      `json:"thread_id"`
	Response     string      `json:"response"`
	Outcome      string      `json:"outcome"`
	Routes       []string    `json:"routes"`
	Facts        slots.Facts `json:"facts"`
	Issues       []string    `json:"issues,omitempty"`
	EscalationID string      `json:"escalation_id,omitempty"`
}

func (h *TurnHandler) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("turn decode error", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ThreadID == "" {
		req.ThreadID = uuid.NewString()
	}

	ctx := tracing.Extract(r.Context(), r.Header)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	res, err := h.runner.RunTurn(ctx, workflows.TurnRequest{ThreadID: req.ThreadID, Utterance: req.Message, Prior: req.History})
	if err != nil {
		switch {
		case errors.Is(err, workflows.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "turn timed out")
		case errors.Is(err, context.Canceled):
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
		default:
			h.logger.Error("turn failed", zap.String("thread_id", req.ThreadID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "turn failed")
		}
		return
	}

	out := turnResponse{
		ThreadID: res.ThreadID,
		Response: res.Text,
		Outcome:  string(res.Outcome),
		Routes:   make([]string, 0, len(res.Routes)),
		Facts:    res.Facts,
		Issues:   res.Issues,
	}
	for _, rt := range res.Routes {
		out.Routes = append(out.Routes, string(rt))
	}
	if res.Escalation != nil {
		out.EscalationID = res.Escalation.ID
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *TurnHandler) handleFacts(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "thread id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"thread_id": id,
		"facts":     h.facts.Facts(r.Context(), id),
	})
}

func (h *TurnHandler) authorized(next http.HandlerFunc) http.HandlerFunc {
	if h.authToken == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != h.authToken {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// NewServer wraps mux in an http.Server with the API's timeouts.
func NewServer(port int, mux http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
