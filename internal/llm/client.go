package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
)

var (
	// ErrEmptyResponse is returned when the backend produced no text.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrNoJSON is returned when no JSON span could be located in a response.
	ErrNoJSON = errors.New("llm: no JSON found in response")
)

// Completer is the prompt-in, text-out generation contract.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// HTTPConfig configures the LLM service client.
type HTTPConfig struct {
	BaseURL     string
	AgentID     string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	// RatePerSecond caps outbound calls; zero disables limiting.
	RatePerSecond float64
	Burst         int
}

// HTTPClient calls the LLM service /agent/query endpoint.
type HTTPClient struct {
	cfg     HTTPConfig
	httpw   *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient builds a client. A nil logger disables logging.
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if cfg.AgentID == "" {
		cfg.AgentID = "triage"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &HTTPClient{
		cfg:     cfg,
		httpw:   circuitbreaker.NewHTTPWrapperWithConfig(httpClient, "llm-service", "llm", circuitbreaker.GetLLMConfig(), logger),
		limiter: limiter,
		logger:  logger,
	}
}

type agentQueryRequest struct {
	Query          string         `json:"query"`
	AgentID        string         `json:"agent_id"`
	Context        map[string]any `json:"context"`
	SessionContext map[string]any `json:"session_context,omitempty"`
}

type agentQueryResponse struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Complete sends one prompt pair and returns the trimmed response text.
func (c *HTTPClient) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			metrics.RecordLLMMetrics("http", "rate_limited", 0)
			return "", fmt.Errorf("llm rate limiter: %w", err)
		}
	}

	url := c.cfg.BaseURL + "/agent/query"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	body := agentQueryRequest{
		Query:   user,
		AgentID: c.cfg.AgentID,
		Context: map[string]any{
			"max_tokens":  c.cfg.MaxTokens,
			"temperature": c.cfg.Temperature,
		},
	}
	if system != "" {
		body.SessionContext = map[string]any{"system_prompt": system}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-ID", c.cfg.AgentID)
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		metrics.RecordLLMMetrics("http", "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return "", fmt.Errorf("LLM service call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordLLMMetrics("http", "error", time.Since(start).Seconds())
		return "", fmt.Errorf("HTTP %d from LLM service", resp.StatusCode)
	}

	var out agentQueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.RecordLLMMetrics("http", "error", time.Since(start).Seconds())
		return "", fmt.Errorf("failed to parse LLM response: %w", err)
	}
	if !out.Success {
		metrics.RecordLLMMetrics("http", "error", time.Since(start).Seconds())
		return "", fmt.Errorf("LLM service returned success=false: %s", out.Error)
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		metrics.RecordLLMMetrics("http", "empty", time.Since(start).Seconds())
		return "", ErrEmptyResponse
	}
	metrics.RecordLLMMetrics("http", "ok", time.Since(start).Seconds())
	return text, nil
}

// IsCircuitBreakerOpen reports whether calls are currently short-circuited.
func (c *HTTPClient) IsCircuitBreakerOpen() bool {
	return c.httpw.IsCircuitBreakerOpen()
}
