package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// DimensionMismatchError is returned when the collection was created for a
// different embedding size than the configured model produces.
type DimensionMismatchError struct {
	Collection        string
	ExpectedDimension int
	ReceivedDimension int
}

func (e DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch for collection %s: expected %d, got %d; recreate the collection or change the embedding model",
		e.Collection, e.ExpectedDimension, e.ReceivedDimension)
}

// CollectionInfo holds basic information about a Qdrant collection.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}

// ErrCollectionMissing is returned by CollectionInfo on 404.
var ErrCollectionMissing = errors.New("collection does not exist")

// ValidateEmbeddingDimensions checks the collection's vector size against
// ExpectedEmbeddingDim. A zero expectation always passes.
func (s *Store) ValidateEmbeddingDimensions(ctx context.Context) error {
	expected := s.cfg.ExpectedEmbeddingDim
	if expected <= 0 {
		return nil
	}
	info, err := s.CollectionInfo(ctx)
	if err != nil {
		return err
	}
	if info.VectorSize != expected {
		return DimensionMismatchError{Collection: info.Name, ExpectedDimension: expected, ReceivedDimension: info.VectorSize}
	}
	s.log.Info("Collection dimension validated",
		zap.String("collection", info.Name),
		zap.Int("dimension", info.VectorSize))
	return nil
}

// CollectionInfo fetches size and point count for the configured collection.
func (s *Store) CollectionInfo(ctx context.Context) (*CollectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", s.base, s.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrCollectionMissing
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get collection info: status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        s.cfg.Collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// EnsureCollection creates the collection with cosine distance when it does
// not exist yet.
func (s *Store) EnsureCollection(ctx context.Context, dim int) error {
	if _, err := s.CollectionInfo(ctx); err == nil {
		return nil
	} else if !errors.Is(err, ErrCollectionMissing) {
		return err
	}
	body, err := json.Marshal(map[string]any{
		"vectors": map[string]any{"size": dim, "distance": "Cosine"},
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/collections/%s", s.base, s.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("create collection: status %d", resp.StatusCode)
	}
	s.log.Info("Created collection", zap.String("collection", s.cfg.Collection), zap.Int("dimension", dim))
	return nil
}

// EnsureCollectionForEmbedder creates the collection sized to the embedder's
// output, probing it once when no expected dimension is configured.
func (s *Store) EnsureCollectionForEmbedder(ctx context.Context) error {
	dim := s.cfg.ExpectedEmbeddingDim
	if dim <= 0 {
		v, err := s.emb.Embed(ctx, "dimension probe")
		if err != nil {
			return fmt.Errorf("probe embedding dimension: %w", err)
		}
		dim = len(v)
	}
	return s.EnsureCollection(ctx, dim)
}
