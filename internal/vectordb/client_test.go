package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/evidence"
)

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 0.5}, nil
}

func (f fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type qdrantFake struct {
	mu        sync.Mutex
	legacy    bool
	paths     []string
	upserted  []UpsertItem
	points    []qdrantPoint
	collected bool
}

func (q *qdrantFake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.paths = append(q.paths, r.Method+" "+r.URL.Path)
	switch {
	case strings.HasSuffix(r.URL.Path, "/points/query"):
		if q.legacy {
			http.NotFound(w, r)
			return
		}
		var resp qdrantQueryResponse
		resp.Result.Points = q.points
		_ = json.NewEncoder(w).Encode(resp)
	case strings.HasSuffix(r.URL.Path, "/points/search"):
		_ = json.NewEncoder(w).Encode(qdrantSearchResponse{Result: q.points, Status: "ok"})
	case strings.HasSuffix(r.URL.Path, "/points") && r.Method == http.MethodPut:
		var body struct {
			Points []UpsertItem `json:"points"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		q.upserted = append(q.upserted, body.Points...)
		_, _ = w.Write([]byte(`{"status":"ok","time":0.01}`))
	case r.Method == http.MethodGet:
		if !q.collected {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"result":{"points_count":3,"config":{"params":{"vectors":{"size":2}}}}}`))
	case r.Method == http.MethodPut:
		q.collected = true
		_, _ = w.Write([]byte(`{"result":true}`))
	default:
		http.Error(w, "unexpected", http.StatusTeapot)
	}
}

func newTestStore(t *testing.T, fake *qdrantFake, cfg Config) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	cfg.URL = srv.URL
	return New(cfg, fakeEmbedder{}, zaptest.NewLogger(t))
}

func TestQuery_ReturnsPassageText(t *testing.T) {
	fake := &qdrantFake{points: []qdrantPoint{
		{ID: 1, Score: 0.91, Payload: map[string]interface{}{"text": "Influenza often presents with fever."}},
		{ID: 2, Score: 0.50, Payload: map[string]interface{}{"title": "no text"}},
	}}
	s := newTestStore(t, fake, Config{Collection: "passages"})

	hits, err := s.Query(context.Background(), "fever", 3)
	require.NoError(t, err)
	assert.Equal(t, []evidence.VectorHit{{Text: "Influenza often presents with fever.", Score: 0.91}}, hits)
	assert.Equal(t, []string{"POST /collections/passages/points/query"}, fake.paths)
}

func TestQuery_FallsBackToLegacySearch(t *testing.T) {
	fake := &qdrantFake{legacy: true, points: []qdrantPoint{
		{Score: 0.7, Payload: map[string]interface{}{"text": "Rest and fluids."}},
	}}
	s := newTestStore(t, fake, Config{})

	hits, err := s.Query(context.Background(), "flu care", 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Len(t, fake.paths, 2)
	assert.Contains(t, fake.paths[1], "/points/search")
}

func TestQuery_EmptyTextAndEmbedError(t *testing.T) {
	fake := &qdrantFake{}
	s := newTestStore(t, fake, Config{})
	hits, err := s.Query(context.Background(), "  ", 3)
	require.NoError(t, err)
	assert.Nil(t, hits)

	s.emb = fakeEmbedder{err: errors.New("llm down")}
	_, err = s.Query(context.Background(), "fever", 3)
	require.Error(t, err)
	assert.Empty(t, fake.paths)
}

func TestAddPassages_ChunksAndUsesStableIDs(t *testing.T) {
	fake := &qdrantFake{}
	s := newTestStore(t, fake, Config{})

	n, err := s.AddPassages(context.Background(), []string{"Fever is a rise in body temperature.", "  "})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.AddPassages(context.Background(), []string{"Fever is a rise in body temperature."})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, fake.upserted, 2)
	assert.Equal(t, fake.upserted[0].ID, fake.upserted[1].ID)
	assert.Equal(t, "Fever is a rise in body temperature.", fake.upserted[0].Payload["text"])

	n, err = s.AddPassages(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureCollectionAndValidate(t *testing.T) {
	fake := &qdrantFake{}
	s := newTestStore(t, fake, Config{ExpectedEmbeddingDim: 2})

	_, err := s.CollectionInfo(context.Background())
	require.ErrorIs(t, err, ErrCollectionMissing)

	require.NoError(t, s.EnsureCollection(context.Background(), 2))
	require.NoError(t, s.EnsureCollection(context.Background(), 2))
	require.NoError(t, s.ValidateEmbeddingDimensions(context.Background()))

	s.cfg.ExpectedEmbeddingDim = 1536
	var dm DimensionMismatchError
	require.ErrorAs(t, s.ValidateEmbeddingDimensions(context.Background()), &dm)
	assert.Equal(t, 2, dm.ReceivedDimension)
}

func TestEnsureCollectionForEmbedder_ProbesDimension(t *testing.T) {
	fake := &qdrantFake{}
	s := newTestStore(t, fake, Config{})

	require.NoError(t, s.EnsureCollectionForEmbedder(context.Background()))
	info, err := s.CollectionInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, info.VectorSize)
}
