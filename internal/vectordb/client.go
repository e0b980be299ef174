// Package vectordb retrieves reference passages from Qdrant.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/embeddings"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/tracing"
)

// passageNamespace seeds deterministic point IDs so reseeding is idempotent.
var passageNamespace = uuid.MustParse("7d4c7a9e-3b1f-4c55-9a2e-6f1d2b8c0e41")

// Searcher is the read surface used by the specialist and research stages.
type Searcher interface {
	Query(ctx context.Context, text string, topK int) ([]evidence.VectorHit, error)
}

// Store is a minimal Qdrant HTTP client over one collection.
type Store struct {
	cfg   Config
	base  string
	emb   embeddings.Embedder
	chunk *embeddings.Chunker
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// New builds a store. Texts are embedded with emb before search and upsert.
func New(cfg Config, emb embeddings.Embedder, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "medical_passages"
	}
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	chunk := embeddings.NewChunker(embeddings.DefaultChunkingConfig())
	if cp, ok := emb.(interface{ Chunker() *embeddings.Chunker }); ok {
		chunk = cp.Chunker()
	}
	httpw := circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "qdrant", "vectordb", logger)
	return &Store{cfg: cfg, base: base, emb: emb, chunk: chunk, httpw: httpw, log: logger}
}

// Config returns the effective configuration.
func (s *Store) Config() Config { return s.cfg }

type qdrantQueryRequest struct {
	Query          []float32 `json:"query"`
	Limit          int       `json:"limit"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
	WithPayload    bool      `json:"with_payload"`
}

type qdrantPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

type qdrantSearchResponse struct {
	Result []qdrantPoint `json:"result"`
	Status string        `json:"status"`
}

// qdrantQueryResponse for /points/query, which nests points under result.
type qdrantQueryResponse struct {
	Result struct {
		Points []qdrantPoint `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// Query embeds text and returns the closest passages with their similarity
// scores. topK <= 0 uses the configured default.
func (s *Store) Query(ctx context.Context, text string, topK int) ([]evidence.VectorHit, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	if topK <= 0 {
		topK = s.cfg.TopK
	}
	start := time.Now()
	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		metrics.RecordRetrievalMetrics("vector", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("embed query: %w", err)
	}
	points, err := s.search(ctx, vec, topK)
	if err != nil {
		metrics.RecordRetrievalMetrics("vector", "error", time.Since(start).Seconds())
		return nil, err
	}
	hits := make([]evidence.VectorHit, 0, len(points))
	for _, p := range points {
		t, _ := p.Payload["text"].(string)
		if strings.TrimSpace(t) == "" {
			continue
		}
		hits = append(hits, evidence.VectorHit{Text: t, Score: p.Score})
	}
	metrics.RecordRetrievalMetrics("vector", "ok", time.Since(start).Seconds())
	return hits, nil
}

func (s *Store) post(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)
	return s.httpw.Do(req)
}

func (s *Store) search(ctx context.Context, vec []float32, limit int) ([]qdrantPoint, error) {
	collection := s.cfg.Collection
	start := time.Now()
	urlQuery := fmt.Sprintf("%s/collections/%s/points/query", s.base, collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, urlQuery)
	defer span.End()

	fail := func(err error) ([]qdrantPoint, error) {
		metrics.RecordVectorSearchMetrics(collection, "error", time.Since(start).Seconds())
		tracing.RecordError(span, err)
		return nil, err
	}

	var thr *float64
	if s.cfg.Threshold > 0 {
		t := s.cfg.Threshold
		thr = &t
	}
	buf, err := json.Marshal(qdrantQueryRequest{Query: vec, Limit: limit, ScoreThreshold: thr, WithPayload: true})
	if err != nil {
		return fail(err)
	}
	resp, err := s.post(ctx, http.MethodPost, urlQuery, buf)
	if err != nil {
		return fail(fmt.Errorf("qdrant query: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var qr qdrantQueryResponse
		if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
			return fail(fmt.Errorf("decode qdrant query: %w", err))
		}
		metrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
		return qr.Result.Points, nil
	}

	// Older servers only expose /points/search.
	legacy := map[string]interface{}{"vector": vec, "limit": limit, "with_payload": true}
	if thr != nil {
		legacy["score_threshold"] = *thr
	}
	buf, err = json.Marshal(legacy)
	if err != nil {
		return fail(err)
	}
	resp2, err := s.post(ctx, http.MethodPost, fmt.Sprintf("%s/collections/%s/points/search", s.base, collection), buf)
	if err != nil {
		return fail(fmt.Errorf("qdrant query/search failed: %w", err))
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("qdrant status %d", resp2.StatusCode))
	}
	var sr qdrantSearchResponse
	if err := json.NewDecoder(resp2.Body).Decode(&sr); err != nil {
		return fail(fmt.Errorf("decode qdrant search: %w", err))
	}
	metrics.RecordVectorSearchMetrics(collection, "ok", time.Since(start).Seconds())
	return sr.Result, nil
}

// Upsert inserts or updates points in the collection.
func (s *Store) Upsert(ctx context.Context, points []UpsertItem) (*UpsertResponse, error) {
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.base, s.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPut, url)
	defer span.End()

	buf, err := json.Marshal(map[string]interface{}{"points": points})
	if err != nil {
		return nil, err
	}
	resp, err := s.post(ctx, http.MethodPut, url, buf)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	var r UpsertResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AddPassages chunks, embeds and upserts reference passages. It returns the
// number of points written. Point IDs derive from chunk text, so adding the
// same passage twice overwrites rather than duplicates.
func (s *Store) AddPassages(ctx context.Context, texts []string) (int, error) {
	var chunks []string
	for _, t := range texts {
		chunks = append(chunks, s.chunk.Split(t)...)
	}
	if len(chunks) == 0 {
		return 0, nil
	}
	vecs, err := s.emb.EmbedBatch(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embed passages: %w", err)
	}
	points := make([]UpsertItem, len(chunks))
	for i, c := range chunks {
		points[i] = UpsertItem{
			ID:      uuid.NewSHA1(passageNamespace, []byte(c)).String(),
			Vector:  vecs[i],
			Payload: map[string]interface{}{"text": c},
		}
	}
	if _, err := s.Upsert(ctx, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// IsCircuitBreakerOpen reports whether Qdrant calls are being rejected.
func (s *Store) IsCircuitBreakerOpen() bool { return s.httpw.IsCircuitBreakerOpen() }
