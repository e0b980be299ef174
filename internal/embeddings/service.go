package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
)

const lruTTL = 30 * time.Minute

// Service generates embeddings through the LLM service with a local LRU in
// front of an optional shared cache.
type Service struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	cache Cache
	lru   *LocalLRU
	chunk *Chunker
	log   *zap.Logger
}

// New builds a service. cache may be nil.
func New(cfg Config, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "embeddings", "llm-service", logger)
	return &Service{cfg: cfg, httpw: httpw, cache: cache, lru: NewLocalLRU(cfg.MaxLRU), chunk: NewChunker(cfg.Chunking), log: logger}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch returns one vector per text, fetching only cache misses.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	m := s.cfg.DefaultModel
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		key := MakeKey(m, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.RecordEmbeddingMetrics(m, "lru_hit", 0)
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				metrics.RecordEmbeddingMetrics(m, "cache_hit", 0)
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, m, missing)
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		results[missingIdx[i]] = v
		key := MakeKey(m, missing[i])
		s.lru.Set(ctx, key, v, lruTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, v, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	start := time.Now()
	url := s.cfg.BaseURL + "/embeddings/"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	buf, err := json.Marshal(embedRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	fail := func(err error) ([][]float32, error) {
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return nil, err
	}

	resp, err := s.httpw.Do(req)
	if err != nil {
		return fail(fmt.Errorf("embedding request: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fail(fmt.Errorf("decode embeddings: %w", err))
	}
	if len(er.Embeddings) != len(texts) {
		return fail(fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts)))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, e := range er.Embeddings {
		v := make([]float32, len(e))
		for j, f := range e {
			v[j] = float32(f)
		}
		out[i] = v
	}
	metrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	return out, nil
}

// IsCircuitBreakerOpen reports whether embedding calls are being rejected.
func (s *Service) IsCircuitBreakerOpen() bool { return s.httpw.IsCircuitBreakerOpen() }

// Chunker splits passages using the configured word windows.
func (s *Service) Chunker() *Chunker { return s.chunk }
