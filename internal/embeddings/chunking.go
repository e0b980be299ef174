package embeddings

import "strings"

// ChunkingConfig bounds passage length in words.
type ChunkingConfig struct {
	MaxWords     int `mapstructure:"max_words"`
	OverlapWords int `mapstructure:"overlap_words"`
}

// DefaultChunkingConfig keeps passages short enough for the fusion budget.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{MaxWords: 200, OverlapWords: 20}
}

// Chunker splits long passages into overlapping word windows.
type Chunker struct {
	max     int
	overlap int
}

func NewChunker(cfg ChunkingConfig) *Chunker {
	def := DefaultChunkingConfig()
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = def.MaxWords
	}
	if cfg.OverlapWords < 0 || cfg.OverlapWords >= cfg.MaxWords {
		cfg.OverlapWords = cfg.MaxWords / 10
	}
	return &Chunker{max: cfg.MaxWords, overlap: cfg.OverlapWords}
}

// Split returns text unchanged (trimmed) when it fits, otherwise windows of
// at most MaxWords words that overlap by OverlapWords.
func (c *Chunker) Split(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= c.max {
		return []string{strings.Join(words, " ")}
	}
	step := c.max - c.overlap
	var out []string
	for i := 0; i < len(words); i += step {
		end := min(i+c.max, len(words))
		out = append(out, strings.Join(words[i:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}
