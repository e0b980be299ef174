package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GenAIConfig configures the Gemini backend.
type GenAIConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int32
	Temperature float32
}

// GenAIClient generates text through the Google GenAI SDK.
type GenAIClient struct {
	client *genai.Client
	cfg    GenAIConfig
	logger *zap.Logger
}

// NewGenAIClient creates a Gemini-backed Completer.
func NewGenAIClient(ctx context.Context, cfg GenAIConfig, logger *zap.Logger) (*GenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIClient{client: client, cfg: cfg, logger: logger}, nil
}

// Complete implements Completer.
func (g *GenAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "genai.generate_content")
	defer span.End()

	conf := &genai.GenerateContentConfig{}
	if system != "" {
		conf.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if g.cfg.MaxTokens > 0 {
		conf.MaxOutputTokens = g.cfg.MaxTokens
	}
	if g.cfg.Temperature > 0 {
		conf.Temperature = genai.Ptr(g.cfg.Temperature)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, genai.Text(user), conf)
	if err != nil {
		metrics.RecordLLMMetrics("gemini", "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		metrics.RecordLLMMetrics("gemini", "empty", time.Since(start).Seconds())
		return "", ErrEmptyResponse
	}
	metrics.RecordLLMMetrics("gemini", "ok", time.Since(start).Seconds())
	return text, nil
}
