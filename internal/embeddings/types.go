package embeddings

import (
	"context"
	"time"
)

// Config controls the embedding client.
type Config struct {
	// BaseURL points to the LLM service exposing /embeddings/.
	BaseURL      string        `mapstructure:"base_url"`
	DefaultModel string        `mapstructure:"model"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// RedisAddr enables the shared Redis cache when set.
	RedisAddr string         `mapstructure:"redis_addr"`
	CacheTTL  time.Duration  `mapstructure:"cache_ttl"`
	MaxLRU    int            `mapstructure:"max_lru"`
	Chunking  ChunkingConfig `mapstructure:"chunking"`
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
