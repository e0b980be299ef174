package factstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/triage/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/triage/internal/slots"
)

// ErrNotFound is returned by Load when a thread has no record.
var ErrNotFound = errors.New("facts not found")

// Store persists one fact record per thread.
type Store interface {
	Load(ctx context.Context, threadID string) (slots.Facts, error)
	Save(ctx context.Context, threadID string, facts slots.Facts) error
}

// Backend names used in metrics and configuration.
const (
	BackendRedis  = "redis"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// singular aliases written alongside the canonical fields for readers of the
// older record layout. They are dropped on load.
var recordAliases = map[string]string{
	"medication": slots.FieldMedications,
	"allergy":    slots.FieldAllergies,
}

func encodeRecord(f slots.Facts) ([]byte, error) {
	base, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	var rec map[string]any
	if err := json.Unmarshal(base, &rec); err != nil {
		return nil, err
	}
	for alias, field := range recordAliases {
		if v, ok := rec[field]; ok {
			if _, taken := rec[alias]; !taken {
				rec[alias] = v
			}
		}
	}
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (slots.Facts, error) {
	var f slots.Facts
	if err := json.Unmarshal(data, &f); err != nil {
		return slots.Facts{}, fmt.Errorf("decode facts: %w", err)
	}
	return f, nil
}

// LoadOrEmpty loads a thread's facts conformed to schema. Missing, unreadable
// or corrupt records yield empty facts; only unexpected errors are logged.
func LoadOrEmpty(ctx context.Context, store Store, schema slots.Schema, threadID string, logger *zap.Logger) slots.Facts {
	if store == nil {
		return schema.NewFacts()
	}
	f, err := store.Load(ctx, threadID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) && logger != nil {
			logger.Warn("Failed to load facts, starting empty",
				zap.String("thread_id", threadID), zap.Error(err))
		}
		return schema.NewFacts()
	}
	return schema.Conform(f)
}

func record(backend, op string, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrNotFound):
		status = "not_found"
	case err != nil:
		status = "error"
	}
	metrics.RecordFactsStoreOp(backend, op, status)
}
