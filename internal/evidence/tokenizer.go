package evidence

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is the tiktoken encoding used for budget estimates.
const DefaultEncoding = "cl100k_base"

// Tokenizer estimates token counts. Counts are at least 1.
type Tokenizer interface {
	Count(text string) int
}

// CharEstimator approximates tokens as ceil(runes/4).
type CharEstimator struct{}

func (CharEstimator) Count(text string) int {
	n := (utf8.RuneCountInString(text) + 3) / 4
	if n < 1 {
		return 1
	}
	return n
}

// TiktokenCounter counts BPE tokens with tiktoken-go.
type TiktokenCounter struct {
	mu  sync.Mutex
	tke *tiktoken.Tiktoken
}

func (t *TiktokenCounter) Count(text string) int {
	t.mu.Lock()
	n := len(t.tke.Encode(text, nil, nil))
	t.mu.Unlock()
	if n < 1 {
		return 1
	}
	return n
}

// NewTokenizer loads the named encoding and falls back to CharEstimator when
// the encoding cannot be loaded (for example when offline).
func NewTokenizer(encoding string, logger *zap.Logger) Tokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if encoding == "" {
		encoding = DefaultEncoding
	}
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		logger.Warn("Tokenizer unavailable, using character estimate",
			zap.String("encoding", encoding), zap.Error(err))
		return CharEstimator{}
	}
	return &TiktokenCounter{tke: tke}
}
